// Package domain defines the payment-ledger boundary for invoice settlement.
package domain

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// MetadataInvoiceKey is the provider metadata key carrying our invoice id
// through the external ledger and back on webhook events.
const MetadataInvoiceKey = "app_invoice_id"

// DraftInvoice identifies an invoice created on the external ledger but not
// yet finalized.
type DraftInvoice struct {
	ProviderRef string
}

// LineItem is one charge added to a draft.
type LineItem struct {
	Description string
	Amount      int64
	Currency    string
}

// ProviderError classifies a ledger failure. Transient failures are retried;
// permanent ones fail the invoice immediately.
type ProviderError struct {
	Code      string
	Message   string
	Transient bool
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsTransient reports whether err is a provider error worth retrying.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// Webhook event types surfaced by the decoder. Anything else is ignored.
const (
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// WebhookEvent is a decoded, signature-verified provider notification.
type WebhookEvent struct {
	Type               string
	ProviderEventID    string
	ProviderInvoiceRef string
	// InvoiceID is our id recovered from provider metadata; empty when the
	// event belongs to an invoice this system never issued.
	InvoiceID  string
	Amount     int64
	Currency   string
	OccurredAt time.Time
}

// WebhookRecord persists every decoded event for reconciliation audits.
// The provider event id is unique so redelivered events insert exactly once.
type WebhookRecord struct {
	ID                 int64          `gorm:"primaryKey;autoIncrement"`
	ProviderEventID    string         `gorm:"type:text;not null;uniqueIndex"`
	EventType          string         `gorm:"type:text;not null"`
	InvoiceID          string         `gorm:"type:text;index"`
	ProviderInvoiceRef string         `gorm:"type:text"`
	Payload            datatypes.JSON `gorm:"type:jsonb"`
	ReceivedAt         time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (WebhookRecord) TableName() string { return "webhook_events" }

var (
	ErrMissingPaymentSetup = errors.New("missing_payment_setup")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrEventIgnored        = errors.New("event_ignored")
	ErrNotSettleable       = errors.New("invoice_not_settleable")
)
