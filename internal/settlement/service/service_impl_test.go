package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/clock"
	invoicedomain "github.com/hunnyEscape/gaming-cafe-billing/internal/invoice/domain"
	memberdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/member/domain"
	settlementdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/settlement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type memberMock struct {
	mock.Mock
}

func (m *memberMock) GetByID(ctx context.Context, id string) (memberdomain.Member, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(memberdomain.Member), args.Error(1)
}

func (m *memberMock) ListRegistered(ctx context.Context) ([]memberdomain.Member, error) {
	return nil, nil
}

// ledgerStub records provider calls and fails each step a configured number
// of times before succeeding.
type ledgerStub struct {
	draftCalls    int
	lineCalls     int
	finalizeCalls int
	payCalls      int

	lastMetadata map[string]string
	lastItem     settlementdomain.LineItem

	payFailures int
	payErr      error
	draftErr    error
}

func (l *ledgerStub) CreateDraft(ctx context.Context, customerRef string, metadata map[string]string) (settlementdomain.DraftInvoice, error) {
	l.draftCalls++
	l.lastMetadata = metadata
	if l.draftErr != nil {
		return settlementdomain.DraftInvoice{}, l.draftErr
	}
	return settlementdomain.DraftInvoice{ProviderRef: "in_stripe_1"}, nil
}

func (l *ledgerStub) AddLineItem(ctx context.Context, customerRef, providerRef string, item settlementdomain.LineItem) error {
	l.lineCalls++
	l.lastItem = item
	return nil
}

func (l *ledgerStub) Finalize(ctx context.Context, providerRef string) error {
	l.finalizeCalls++
	return nil
}

func (l *ledgerStub) Pay(ctx context.Context, providerRef string) error {
	l.payCalls++
	if l.payFailures > 0 {
		l.payFailures--
		return &settlementdomain.ProviderError{Code: "rate_limit", Message: "slow down", Transient: true}
	}
	return l.payErr
}

type decoderStub struct {
	verifyErr error
	event     settlementdomain.WebhookEvent
	parseErr  error
}

func (d *decoderStub) VerifySignature(payload []byte, headers http.Header) error {
	return d.verifyErr
}

func (d *decoderStub) ParseEvent(payload []byte) (settlementdomain.WebhookEvent, error) {
	return d.event, d.parseErr
}

func newTestService(t *testing.T, dsn string, clk clock.Clock, members memberdomain.Service, ledger settlementdomain.PaymentLedger, decoder settlementdomain.WebhookDecoder) (*Service, *gorm.DB) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&invoicedomain.Invoice{},
		&settlementdomain.WebhookRecord{},
	))

	svc := &Service{
		db:        conn,
		log:       zap.NewNop(),
		clock:     clk,
		memberSvc: members,
		ledger:    ledger,
		decoder:   decoder,
		backoff:   time.Millisecond,
	}
	return svc, conn
}

func seedInvoice(t *testing.T, conn *gorm.DB, id, memberID string, amount int64, status invoicedomain.InvoiceStatus) {
	t.Helper()
	require.NoError(t, conn.Create(&invoicedomain.Invoice{
		ID:             id,
		MemberID:       memberID,
		PeriodString:   "2025-07",
		PeriodStart:    time.Date(2025, 6, 30, 15, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2025, 7, 31, 15, 0, 0, 0, time.UTC),
		SubtotalAmount: amount,
		FinalAmount:    amount,
		Currency:       "jpy",
		Status:         status,
	}).Error)
}

func payingMember(id string) memberdomain.Member {
	return memberdomain.Member{
		ID:                    id,
		RegistrationCompleted: true,
		PaymentCustomerRef:    "cus_" + id,
		PaymentMethodRef:      "pm_" + id,
	}
}

func TestSettleSubmitsInvoice(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 5, 4, 0, 0, 0, time.UTC))
	members := &memberMock{}
	members.On("GetByID", mock.Anything, "member_a").Return(payingMember("member_a"), nil)
	ledger := &ledgerStub{}

	svc, conn := newTestService(t, "file:settle_ok?mode=memory&cache=shared", clk, members, ledger, &decoderStub{})
	seedInvoice(t, conn, "inv_2025-07_member_a", "member_a", 550, invoicedomain.InvoiceStatusPendingSettlement)

	invoice, err := svc.Settle(context.Background(), "inv_2025-07_member_a")
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusSettling, invoice.Status)
	assert.Equal(t, "in_stripe_1", invoice.ExternalRef)

	assert.Equal(t, 1, ledger.draftCalls)
	assert.Equal(t, 1, ledger.lineCalls)
	assert.Equal(t, 1, ledger.finalizeCalls)
	assert.Equal(t, 1, ledger.payCalls)
	assert.Equal(t, "inv_2025-07_member_a", ledger.lastMetadata[settlementdomain.MetadataInvoiceKey])
	assert.Equal(t, int64(550), ledger.lastItem.Amount)
	assert.Equal(t, "jpy", ledger.lastItem.Currency)

	var stored invoicedomain.Invoice
	require.NoError(t, conn.First(&stored, "id = ?", invoice.ID).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusSettling, stored.Status)
	assert.Nil(t, stored.PaidAt)
}

func TestSettleRetriesTransientFailures(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 5, 4, 0, 0, 0, time.UTC))
	members := &memberMock{}
	members.On("GetByID", mock.Anything, "member_a").Return(payingMember("member_a"), nil)
	ledger := &ledgerStub{payFailures: 2}

	svc, conn := newTestService(t, "file:settle_retry?mode=memory&cache=shared", clk, members, ledger, &decoderStub{})
	seedInvoice(t, conn, "inv_2025-07_member_a", "member_a", 550, invoicedomain.InvoiceStatusPendingSettlement)

	invoice, err := svc.Settle(context.Background(), "inv_2025-07_member_a")
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusSettling, invoice.Status)
	assert.Equal(t, 3, ledger.payCalls)
}

func TestSettlePermanentFailureMarksFailed(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 5, 4, 0, 0, 0, time.UTC))
	members := &memberMock{}
	members.On("GetByID", mock.Anything, "member_a").Return(payingMember("member_a"), nil)
	ledger := &ledgerStub{payErr: &settlementdomain.ProviderError{Code: "card_declined", Message: "card declined"}}

	svc, conn := newTestService(t, "file:settle_fail?mode=memory&cache=shared", clk, members, ledger, &decoderStub{})
	seedInvoice(t, conn, "inv_2025-07_member_a", "member_a", 550, invoicedomain.InvoiceStatusPendingSettlement)

	invoice, err := svc.Settle(context.Background(), "inv_2025-07_member_a")
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusFailed, invoice.Status)
	assert.Contains(t, invoice.ErrorMessage, "card declined")
	// Permanent errors are not retried.
	assert.Equal(t, 1, ledger.payCalls)

	var stored invoicedomain.Invoice
	require.NoError(t, conn.First(&stored, "id = ?", invoice.ID).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusFailed, stored.Status)
}

func TestSettleRequiresPaymentSetup(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 5, 4, 0, 0, 0, time.UTC))
	members := &memberMock{}
	members.On("GetByID", mock.Anything, "member_a").
		Return(memberdomain.Member{ID: "member_a", RegistrationCompleted: true}, nil)
	ledger := &ledgerStub{}

	svc, conn := newTestService(t, "file:settle_nosetup?mode=memory&cache=shared", clk, members, ledger, &decoderStub{})
	seedInvoice(t, conn, "inv_2025-07_member_a", "member_a", 550, invoicedomain.InvoiceStatusPendingSettlement)

	_, err := svc.Settle(context.Background(), "inv_2025-07_member_a")
	assert.ErrorIs(t, err, settlementdomain.ErrMissingPaymentSetup)
	assert.Equal(t, 0, ledger.draftCalls)

	var stored invoicedomain.Invoice
	require.NoError(t, conn.First(&stored, "id = ?", "inv_2025-07_member_a").Error)
	assert.Equal(t, invoicedomain.InvoiceStatusFailed, stored.Status)
}

func TestSettleZeroAmountPaysLocally(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 5, 4, 0, 0, 0, time.UTC))
	ledger := &ledgerStub{}

	svc, conn := newTestService(t, "file:settle_zero?mode=memory&cache=shared", clk, &memberMock{}, ledger, &decoderStub{})
	seedInvoice(t, conn, "inv_2025-07_member_a", "member_a", 0, invoicedomain.InvoiceStatusPendingSettlement)

	invoice, err := svc.Settle(context.Background(), "inv_2025-07_member_a")
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, invoice.Status)
	require.NotNil(t, invoice.PaidAt)
	assert.Equal(t, 0, ledger.draftCalls)
}

func TestSettleRejectsNonPendingInvoice(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 5, 4, 0, 0, 0, time.UTC))
	svc, conn := newTestService(t, "file:settle_claimed?mode=memory&cache=shared", clk, &memberMock{}, &ledgerStub{}, &decoderStub{})
	seedInvoice(t, conn, "inv_2025-07_member_a", "member_a", 550, invoicedomain.InvoiceStatusSettling)

	_, err := svc.Settle(context.Background(), "inv_2025-07_member_a")
	assert.ErrorIs(t, err, settlementdomain.ErrNotSettleable)

	_, err = svc.Settle(context.Background(), "inv_missing")
	assert.ErrorIs(t, err, invoicedomain.ErrNotFound)
}

func TestHandleWebhookPaid(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 6, 0, 0, 0, 0, time.UTC))
	decoder := &decoderStub{event: settlementdomain.WebhookEvent{
		Type:               settlementdomain.EventInvoicePaid,
		ProviderEventID:    "evt_1",
		ProviderInvoiceRef: "in_stripe_1",
		InvoiceID:          "inv_2025-07_member_a",
		Amount:             550,
		Currency:           "JPY",
	}}

	svc, conn := newTestService(t, "file:webhook_paid?mode=memory&cache=shared", clk, &memberMock{}, &ledgerStub{}, decoder)
	seedInvoice(t, conn, "inv_2025-07_member_a", "member_a", 550, invoicedomain.InvoiceStatusSettling)

	payload := []byte(`{"id":"evt_1"}`)
	require.NoError(t, svc.HandleWebhook(context.Background(), payload, http.Header{}))

	var invoice invoicedomain.Invoice
	require.NoError(t, conn.First(&invoice, "id = ?", "inv_2025-07_member_a").Error)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, invoice.Status)
	require.NotNil(t, invoice.PaidAt)

	// Redelivery of the same event is a no-op.
	require.NoError(t, svc.HandleWebhook(context.Background(), payload, http.Header{}))

	var records int64
	require.NoError(t, conn.Model(&settlementdomain.WebhookRecord{}).Count(&records).Error)
	assert.Equal(t, int64(1), records)
}

func TestHandleWebhookRedeliveryAfterFailedApply(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 6, 0, 0, 0, 0, time.UTC))
	decoder := &decoderStub{event: settlementdomain.WebhookEvent{
		Type:               settlementdomain.EventInvoicePaid,
		ProviderEventID:    "evt_retry",
		ProviderInvoiceRef: "in_stripe_1",
		InvoiceID:          "inv_2025-07_member_a",
		Amount:             550,
	}}

	svc, conn := newTestService(t, "file:webhook_retry?mode=memory&cache=shared", clk, &memberMock{}, &ledgerStub{}, decoder)

	payload := []byte(`{"id":"evt_retry"}`)

	// First delivery hits a DB fault while applying the transition.
	require.NoError(t, conn.Migrator().DropTable(&invoicedomain.Invoice{}))
	require.Error(t, svc.HandleWebhook(context.Background(), payload, http.Header{}))

	// The failed delivery must not leave a dedup record behind.
	var records int64
	require.NoError(t, conn.Model(&settlementdomain.WebhookRecord{}).Count(&records).Error)
	assert.Equal(t, int64(0), records)

	// Fault cleared; the provider redelivers the same event.
	require.NoError(t, conn.AutoMigrate(&invoicedomain.Invoice{}))
	seedInvoice(t, conn, "inv_2025-07_member_a", "member_a", 550, invoicedomain.InvoiceStatusSettling)

	require.NoError(t, svc.HandleWebhook(context.Background(), payload, http.Header{}))

	var invoice invoicedomain.Invoice
	require.NoError(t, conn.First(&invoice, "id = ?", "inv_2025-07_member_a").Error)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, invoice.Status)

	require.NoError(t, conn.Model(&settlementdomain.WebhookRecord{}).Count(&records).Error)
	assert.Equal(t, int64(1), records)
}

func TestHandleWebhookPaymentFailed(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 6, 0, 0, 0, 0, time.UTC))
	decoder := &decoderStub{event: settlementdomain.WebhookEvent{
		Type:               settlementdomain.EventInvoicePaymentFailed,
		ProviderEventID:    "evt_2",
		ProviderInvoiceRef: "in_stripe_1",
		InvoiceID:          "inv_2025-07_member_a",
	}}

	svc, conn := newTestService(t, "file:webhook_failed?mode=memory&cache=shared", clk, &memberMock{}, &ledgerStub{}, decoder)
	seedInvoice(t, conn, "inv_2025-07_member_a", "member_a", 550, invoicedomain.InvoiceStatusSettling)

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{"id":"evt_2"}`), http.Header{}))

	var invoice invoicedomain.Invoice
	require.NoError(t, conn.First(&invoice, "id = ?", "inv_2025-07_member_a").Error)
	assert.Equal(t, invoicedomain.InvoiceStatusFailed, invoice.Status)
}

func TestHandleWebhookPaidIsTerminal(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 6, 0, 0, 0, 0, time.UTC))
	decoder := &decoderStub{event: settlementdomain.WebhookEvent{
		Type:            settlementdomain.EventInvoicePaymentFailed,
		ProviderEventID: "evt_3",
		InvoiceID:       "inv_2025-07_member_a",
	}}

	svc, conn := newTestService(t, "file:webhook_terminal?mode=memory&cache=shared", clk, &memberMock{}, &ledgerStub{}, decoder)
	paidAt := time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC)
	require.NoError(t, conn.Create(&invoicedomain.Invoice{
		ID:           "inv_2025-07_member_a",
		MemberID:     "member_a",
		PeriodString: "2025-07",
		FinalAmount:  550,
		Currency:     "jpy",
		Status:       invoicedomain.InvoiceStatusPaid,
		PaidAt:       &paidAt,
	}).Error)

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{"id":"evt_3"}`), http.Header{}))

	var invoice invoicedomain.Invoice
	require.NoError(t, conn.First(&invoice, "id = ?", "inv_2025-07_member_a").Error)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, invoice.Status)
}

func TestHandleWebhookUnknownInvoice(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 6, 0, 0, 0, 0, time.UTC))
	decoder := &decoderStub{event: settlementdomain.WebhookEvent{
		Type:            settlementdomain.EventInvoicePaid,
		ProviderEventID: "evt_4",
		InvoiceID:       "inv_never_issued",
	}}

	svc, conn := newTestService(t, "file:webhook_unknown?mode=memory&cache=shared", clk, &memberMock{}, &ledgerStub{}, decoder)

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{"id":"evt_4"}`), http.Header{}))

	var records int64
	require.NoError(t, conn.Model(&settlementdomain.WebhookRecord{}).Count(&records).Error)
	assert.Equal(t, int64(1), records)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 6, 0, 0, 0, 0, time.UTC))
	decoder := &decoderStub{verifyErr: settlementdomain.ErrInvalidSignature}

	svc, _ := newTestService(t, "file:webhook_badsig?mode=memory&cache=shared", clk, &memberMock{}, &ledgerStub{}, decoder)

	err := svc.HandleWebhook(context.Background(), []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, settlementdomain.ErrInvalidSignature)
}

func TestRequeueStuck(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 6, 0, 0, 0, 0, time.UTC))
	svc, conn := newTestService(t, "file:requeue_stuck?mode=memory&cache=shared", clk, &memberMock{}, &ledgerStub{}, &decoderStub{})

	stale := clk.Now().Add(-time.Hour)
	// Claimed but the worker died before the provider draft was recorded.
	require.NoError(t, conn.Create(&invoicedomain.Invoice{
		ID: "inv_stuck", MemberID: "member_a", PeriodString: "2025-07",
		FinalAmount: 550, Currency: "jpy",
		Status: invoicedomain.InvoiceStatusSettling, UpdatedAt: stale,
	}).Error)
	// Submitted to the provider; the webhook resolves it.
	require.NoError(t, conn.Create(&invoicedomain.Invoice{
		ID: "inv_submitted", MemberID: "member_b", PeriodString: "2025-07",
		FinalAmount: 600, Currency: "jpy", ExternalRef: "in_stripe_9",
		Status: invoicedomain.InvoiceStatusSettling, UpdatedAt: stale,
	}).Error)
	// Freshly claimed by a live worker.
	require.NoError(t, conn.Create(&invoicedomain.Invoice{
		ID: "inv_fresh", MemberID: "member_c", PeriodString: "2025-07",
		FinalAmount: 700, Currency: "jpy",
		Status: invoicedomain.InvoiceStatusSettling, UpdatedAt: clk.Now(),
	}).Error)

	requeued, err := svc.RequeueStuck(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	var stuck, submitted, fresh invoicedomain.Invoice
	require.NoError(t, conn.First(&stuck, "id = ?", "inv_stuck").Error)
	require.NoError(t, conn.First(&submitted, "id = ?", "inv_submitted").Error)
	require.NoError(t, conn.First(&fresh, "id = ?", "inv_fresh").Error)
	assert.Equal(t, invoicedomain.InvoiceStatusPendingSettlement, stuck.Status)
	assert.Equal(t, invoicedomain.InvoiceStatusSettling, submitted.Status)
	assert.Equal(t, invoicedomain.InvoiceStatusSettling, fresh.Status)
}

func TestListPending(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 8, 6, 0, 0, 0, 0, time.UTC))
	svc, conn := newTestService(t, "file:list_pending?mode=memory&cache=shared", clk, &memberMock{}, &ledgerStub{}, &decoderStub{})

	seedInvoice(t, conn, "inv_2025-07_member_a", "member_a", 550, invoicedomain.InvoiceStatusPendingSettlement)
	seedInvoice(t, conn, "inv_2025-07_member_b", "member_b", 600, invoicedomain.InvoiceStatusPaid)
	seedInvoice(t, conn, "inv_2025-07_member_c", "member_c", 700, invoicedomain.InvoiceStatusPendingSettlement)

	pending, err := svc.ListPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	limited, err := svc.ListPending(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
