package domain

import "context"

// AnchorReceipt is the confirmation returned by the public ledger.
type AnchorReceipt struct {
	TxID        string
	BlockNumber int64
}

// ChainClient submits a usage-record digest to the public ledger and waits
// for one confirmation. Implementations carry their own network timeouts; a
// timeout surfaces as an error and the proof is marked errored.
type ChainClient interface {
	SubmitAnchor(ctx context.Context, payload []byte) (AnchorReceipt, error)
	ChainID() int64
}

// AnchorResult reports what one anchor dispatch did.
type AnchorResult struct {
	Proof     Proof
	Submitted bool
}

type Service interface {
	// Anchor runs the proof pipeline for one ended session: canonical
	// blob to object storage, proof row, ledger submission, confirmation.
	// Safe under redelivery: once the session's anchor fields leave the
	// pending state the call is a no-op.
	Anchor(ctx context.Context, sessionID string) (AnchorResult, error)
	GetBySessionID(ctx context.Context, sessionID string) (Proof, error)
}
