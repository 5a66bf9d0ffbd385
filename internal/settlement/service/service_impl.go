package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hunnyEscape/gaming-cafe-billing/internal/clock"
	invoicedomain "github.com/hunnyEscape/gaming-cafe-billing/internal/invoice/domain"
	memberdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/member/domain"
	settlementdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/settlement/domain"
	"github.com/hunnyEscape/gaming-cafe-billing/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxProviderAttempts  = 3
	providerRetryBackoff = time.Second
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	MemberSvc memberdomain.Service
	Ledger    settlementdomain.PaymentLedger
	Decoder   settlementdomain.WebhookDecoder
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	memberSvc memberdomain.Service
	ledger    settlementdomain.PaymentLedger
	decoder   settlementdomain.WebhookDecoder
	backoff   time.Duration
}

func NewService(p ServiceParam) settlementdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("settlement.service"),
		clock:     p.Clock,
		memberSvc: p.MemberSvc,
		ledger:    p.Ledger,
		decoder:   p.Decoder,
		backoff:   providerRetryBackoff,
	}
}

func (s *Service) Settle(ctx context.Context, invoiceID string) (invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).First(&invoice, "id = ?", invoiceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invoicedomain.Invoice{}, invoicedomain.ErrNotFound
		}
		return invoicedomain.Invoice{}, err
	}

	// Claim the invoice. Losing this race means another worker is already
	// settling it, or a webhook resolved it first.
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("id = ? AND status = ?", invoice.ID, invoicedomain.InvoiceStatusPendingSettlement).
		Updates(map[string]any{
			"status":     invoicedomain.InvoiceStatusSettling,
			"updated_at": now,
		})
	if res.Error != nil {
		return invoicedomain.Invoice{}, res.Error
	}
	if res.RowsAffected != 1 {
		return invoice, settlementdomain.ErrNotSettleable
	}
	invoice.Status = invoicedomain.InvoiceStatusSettling

	if invoice.FinalAmount <= 0 {
		// Nothing to charge; coupons covered the whole month.
		return s.markPaid(ctx, invoice.ID, now)
	}

	member, err := s.memberSvc.GetByID(ctx, invoice.MemberID)
	if err != nil {
		if ferr := s.markFailed(ctx, invoice, err.Error()); ferr != nil {
			return invoice, ferr
		}
		return invoice, err
	}
	if !member.HasPaymentSetup() {
		if ferr := s.markFailed(ctx, invoice, settlementdomain.ErrMissingPaymentSetup.Error()); ferr != nil {
			return invoice, ferr
		}
		return invoice, settlementdomain.ErrMissingPaymentSetup
	}

	draft, err := s.pushToLedger(ctx, invoice, member)
	if err != nil {
		s.log.Error("settlement submission failed",
			zap.String("invoice_id", invoice.ID),
			zap.Error(err),
		)
		if ferr := s.markFailed(ctx, invoice, err.Error()); ferr != nil {
			return invoice, ferr
		}
		invoice.Status = invoicedomain.InvoiceStatusFailed
		invoice.ErrorMessage = err.Error()
		return invoice, nil
	}

	if err := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("id = ?", invoice.ID).
		Updates(map[string]any{
			"external_ref": draft.ProviderRef,
			"updated_at":   s.clock.Now(),
		}).Error; err != nil {
		return invoice, err
	}
	invoice.ExternalRef = draft.ProviderRef

	s.log.Info("invoice submitted for settlement",
		zap.String("invoice_id", invoice.ID),
		zap.String("provider_ref", draft.ProviderRef),
		zap.Int64("amount", invoice.FinalAmount),
	)
	return invoice, nil
}

// pushToLedger walks the provider invoice lifecycle: draft, one aggregate
// line, finalize, pay. Each step retries transient failures.
func (s *Service) pushToLedger(ctx context.Context, invoice invoicedomain.Invoice, member memberdomain.Member) (settlementdomain.DraftInvoice, error) {
	metadata := map[string]string{
		settlementdomain.MetadataInvoiceKey: invoice.ID,
	}

	var draft settlementdomain.DraftInvoice
	err := s.withRetry(ctx, func() error {
		var err error
		draft, err = s.ledger.CreateDraft(ctx, member.PaymentCustomerRef, metadata)
		return err
	})
	if err != nil {
		return settlementdomain.DraftInvoice{}, fmt.Errorf("create draft: %w", err)
	}

	item := settlementdomain.LineItem{
		Description: fmt.Sprintf("Gaming cafe usage %s", invoice.PeriodString),
		Amount:      invoice.FinalAmount,
		Currency:    invoice.Currency,
	}
	if err := s.withRetry(ctx, func() error {
		return s.ledger.AddLineItem(ctx, member.PaymentCustomerRef, draft.ProviderRef, item)
	}); err != nil {
		return draft, fmt.Errorf("add line item: %w", err)
	}

	if err := s.withRetry(ctx, func() error {
		return s.ledger.Finalize(ctx, draft.ProviderRef)
	}); err != nil {
		return draft, fmt.Errorf("finalize: %w", err)
	}

	if err := s.withRetry(ctx, func() error {
		return s.ledger.Pay(ctx, draft.ProviderRef)
	}); err != nil {
		return draft, fmt.Errorf("pay: %w", err)
	}
	return draft, nil
}

func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	delay := s.backoff
	var lastErr error
	for attempt := 1; attempt <= maxProviderAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !settlementdomain.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == maxProviderAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

func (s *Service) markPaid(ctx context.Context, invoiceID string, now time.Time) (invoicedomain.Invoice, error) {
	if err := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("id = ? AND status <> ?", invoiceID, invoicedomain.InvoiceStatusPaid).
		Updates(map[string]any{
			"status":     invoicedomain.InvoiceStatusPaid,
			"paid_at":    now,
			"updated_at": now,
		}).Error; err != nil {
		return invoicedomain.Invoice{}, err
	}
	var invoice invoicedomain.Invoice
	if err := s.db.WithContext(ctx).First(&invoice, "id = ?", invoiceID).Error; err != nil {
		return invoicedomain.Invoice{}, err
	}
	return invoice, nil
}

func (s *Service) markFailed(ctx context.Context, invoice invoicedomain.Invoice, message string) error {
	return s.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("id = ?", invoice.ID).
		Updates(map[string]any{
			"status":        invoicedomain.InvoiceStatusFailed,
			"error_message": message,
			"updated_at":    s.clock.Now(),
		}).Error
}

func (s *Service) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	if err := s.decoder.VerifySignature(payload, headers); err != nil {
		return err
	}

	event, err := s.decoder.ParseEvent(payload)
	if err != nil {
		if errors.Is(err, settlementdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}

	record := settlementdomain.WebhookRecord{
		ProviderEventID:    event.ProviderEventID,
		EventType:          event.Type,
		InvoiceID:          event.InvoiceID,
		ProviderInvoiceRef: event.ProviderInvoiceRef,
		Payload:            datatypes.JSON(payload),
		ReceivedAt:         s.clock.Now(),
	}

	// The dedup record and the invoice transition commit together: a
	// delivery that fails mid-apply rolls back its record, so the
	// provider's retry is not short-circuited by a half-applied event.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		if event.InvoiceID == "" {
			s.log.Warn("webhook event without invoice metadata",
				zap.String("event_id", event.ProviderEventID),
				zap.String("type", event.Type),
			)
			return nil
		}

		switch event.Type {
		case settlementdomain.EventInvoicePaid:
			return s.applyPaid(tx, event)
		case settlementdomain.EventInvoicePaymentFailed:
			return s.applyFailed(tx, event)
		default:
			return nil
		}
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Redelivered event; the first delivery already applied it.
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) applyPaid(tx *gorm.DB, event settlementdomain.WebhookEvent) error {
	now := s.clock.Now()
	res := tx.Model(&invoicedomain.Invoice{}).
		Where("id = ? AND status <> ?", event.InvoiceID, invoicedomain.InvoiceStatusPaid).
		Updates(map[string]any{
			"status":        invoicedomain.InvoiceStatusPaid,
			"paid_at":       now,
			"error_message": "",
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Unknown invoice or already paid; either way nothing to apply.
		s.log.Info("paid event had no effect",
			zap.String("invoice_id", event.InvoiceID),
			zap.String("event_id", event.ProviderEventID),
		)
		return nil
	}
	s.log.Info("invoice paid",
		zap.String("invoice_id", event.InvoiceID),
		zap.Int64("amount", event.Amount),
	)
	return nil
}

func (s *Service) applyFailed(tx *gorm.DB, event settlementdomain.WebhookEvent) error {
	res := tx.Model(&invoicedomain.Invoice{}).
		Where("id = ? AND status <> ?", event.InvoiceID, invoicedomain.InvoiceStatusPaid).
		Updates(map[string]any{
			"status":        invoicedomain.InvoiceStatusFailed,
			"error_message": "payment failed",
			"updated_at":    s.clock.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Warn("invoice payment failed",
			zap.String("invoice_id", event.InvoiceID),
			zap.String("event_id", event.ProviderEventID),
		)
	}
	return nil
}

// RequeueStuck recovers invoices claimed by a worker that died before the
// provider draft was recorded. Rows that already carry an external ref are
// left alone; their provider invoice exists and the webhook resolves them.
func (s *Service) RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("status = ? AND external_ref = ? AND updated_at < ?",
			invoicedomain.InvoiceStatusSettling, "", now.Add(-olderThan)).
		Updates(map[string]any{
			"status":     invoicedomain.InvoiceStatusPendingSettlement,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Warn("requeued stuck settling invoices",
			zap.Int64("count", res.RowsAffected),
		)
	}
	return int(res.RowsAffected), nil
}

func (s *Service) ListPending(ctx context.Context, limit int) ([]invoicedomain.Invoice, error) {
	q := s.db.WithContext(ctx).
		Where("status = ?", invoicedomain.InvoiceStatusPendingSettlement).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var invoices []invoicedomain.Invoice
	if err := q.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}
