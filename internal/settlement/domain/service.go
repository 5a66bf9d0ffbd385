package domain

import (
	"context"
	"net/http"
	"time"

	invoicedomain "github.com/hunnyEscape/gaming-cafe-billing/internal/invoice/domain"
)

// PaymentLedger is the external billing provider. Draft, line item, finalize
// and pay mirror the provider's invoice lifecycle; implementations must be
// safe for concurrent use.
type PaymentLedger interface {
	CreateDraft(ctx context.Context, customerRef string, metadata map[string]string) (DraftInvoice, error)
	AddLineItem(ctx context.Context, customerRef, providerRef string, item LineItem) error
	Finalize(ctx context.Context, providerRef string) error
	Pay(ctx context.Context, providerRef string) error
}

// WebhookDecoder verifies and decodes provider webhook deliveries.
type WebhookDecoder interface {
	// VerifySignature returns ErrInvalidSignature unless the payload was
	// signed with the shared webhook secret.
	VerifySignature(payload []byte, headers http.Header) error
	// ParseEvent returns ErrEventIgnored for event types the settlement
	// flow does not track.
	ParseEvent(payload []byte) (WebhookEvent, error)
}

type Service interface {
	// Settle pushes a pending invoice to the external ledger. It returns
	// the invoice in its post-submission state; the paid transition only
	// ever happens through HandleWebhook.
	Settle(ctx context.Context, invoiceID string) (invoicedomain.Invoice, error)
	// HandleWebhook verifies, records and applies one provider event.
	// Events for unknown invoices are recorded and swallowed.
	HandleWebhook(ctx context.Context, payload []byte, headers http.Header) error
	// ListPending returns invoices awaiting settlement, oldest first.
	ListPending(ctx context.Context, limit int) ([]invoicedomain.Invoice, error)
	// RequeueStuck returns invoices stranded in settling with no external
	// ref for longer than olderThan back to pending_settlement.
	RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error)
}
