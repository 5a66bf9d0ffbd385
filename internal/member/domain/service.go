package domain

import "context"

type Service interface {
	GetByID(ctx context.Context, id string) (Member, error)
	// ListRegistered returns members with completed registration, the
	// population billed by the monthly aggregation.
	ListRegistered(ctx context.Context) ([]Member, error)
}
