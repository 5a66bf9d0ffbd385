package domain

import "context"

// EndSessionRequest targets the active session either directly or through
// its seat. Exactly one of the fields must be set.
type EndSessionRequest struct {
	SessionID string
	SeatID    string
}

type Service interface {
	// StartSession atomically occupies the seat and opens a session.
	StartSession(ctx context.Context, memberID, seatID string) (Session, error)
	// EndSession closes the session, computes billable hour blocks,
	// releases the seat and enqueues the usage-record billing task, all
	// in one transaction.
	EndSession(ctx context.Context, req EndSessionRequest) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	ListSeats(ctx context.Context) ([]Seat, error)
}
