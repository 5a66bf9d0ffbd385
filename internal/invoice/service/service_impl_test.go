package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/clock"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/config"
	coupondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/coupon/domain"
	couponservice "github.com/hunnyEscape/gaming-cafe-billing/internal/coupon/service"
	invoicedomain "github.com/hunnyEscape/gaming-cafe-billing/internal/invoice/domain"
	memberdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/member/domain"
	sessiondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/session/domain"
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
	args := m.Called(ctx)
	return args.Get(0).([]memberdomain.Member), args.Error(1)
}

func newTestService(t *testing.T, dsn string, clk clock.Clock, members memberdomain.Service) (*Service, *gorm.DB) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&sessiondomain.Seat{},
		&sessiondomain.Session{},
		&coupondomain.Coupon{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&invoicedomain.InvoiceCoupon{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	coupons := couponservice.NewService(couponservice.ServiceParam{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})

	svc := &Service{
		cfg: config.BillingConfig{
			Timezone:          "Asia/Tokyo",
			Currency:          "jpy",
			DefaultHourlyRate: 600,
		},
		db:        conn,
		log:       zap.NewNop(),
		memberSvc: members,
		couponSvc: coupons,
	}
	return svc, conn
}

func seedEndedSession(t *testing.T, conn *gorm.DB, id, memberID, seatID string, end time.Time, hourBlocks, rate int64) {
	t.Helper()
	endTime := end
	require.NoError(t, conn.Create(&sessiondomain.Session{
		ID:              id,
		MemberID:        memberID,
		SeatID:          seatID,
		StartTime:       end.Add(-time.Duration(hourBlocks) * time.Hour),
		EndTime:         &endTime,
		DurationSeconds: hourBlocks * 3600,
		HourBlocks:      hourBlocks,
		Active:          false,
		RatePerHour:     rate,
		AnchorStatus:    sessiondomain.AnchorStatusConfirmed,
		AnchorTxID:      "0xtx_" + id,
	}).Error)
}

func seedCoupon(t *testing.T, conn *gorm.DB, id, memberID string, value int64, validUntil time.Time) {
	t.Helper()
	require.NoError(t, conn.Create(&coupondomain.Coupon{
		ID:            id,
		MemberID:      memberID,
		Code:          "CODE_" + id,
		Name:          "Coupon " + id,
		DiscountValue: value,
		Status:        coupondomain.CouponStatusAvailable,
		ValidUntil:    validUntil,
	}).Error)
}

func TestGenerateMonthlyAppliesCoupons(t *testing.T) {
	// Aug 5 in Asia/Tokyo bills the July 2025 period.
	now := time.Date(2025, 8, 5, 3, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	members := &memberMock{}
	members.On("ListRegistered", mock.Anything).
		Return([]memberdomain.Member{{ID: "member_a", RegistrationCompleted: true}}, nil)

	svc, conn := newTestService(t, "file:invoice_coupons?mode=memory&cache=shared", clk, members)

	require.NoError(t, conn.Create(&sessiondomain.Seat{
		ID: "pc01", Name: "PC 01", BranchName: "Shibuya", RatePerHour: 500,
	}).Error)
	seedEndedSession(t, conn, "sess_1", "member_a", "pc01",
		time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC), 2, 500)
	seedCoupon(t, conn, "cpn_big", "member_a", 300, now.AddDate(0, 6, 0))
	seedCoupon(t, conn, "cpn_small", "member_a", 150, now.AddDate(0, 6, 0))

	report, err := svc.GenerateMonthly(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, "2025-07", report.Period)
	assert.False(t, report.AlreadyGenerated)
	assert.Equal(t, 1, report.Invoiced)
	assert.Equal(t, 0, report.Failed)

	invoice, err := svc.GetByID(context.Background(), "inv_2025-07_member_a")
	require.NoError(t, err)
	assert.Equal(t, "member_a", invoice.MemberID)
	assert.Equal(t, int64(1000), invoice.SubtotalAmount)
	assert.Equal(t, int64(450), invoice.DiscountAmount)
	assert.Equal(t, int64(550), invoice.FinalAmount)
	assert.Equal(t, "jpy", invoice.Currency)
	assert.Equal(t, invoicedomain.InvoiceStatusPendingSettlement, invoice.Status)

	lines, err := svc.Lines(context.Background(), invoice.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "sess_1", lines[0].SessionID)
	assert.Equal(t, int64(1000), lines[0].Amount)
	assert.Equal(t, "PC 01", lines[0].SeatName)
	assert.Equal(t, "0xtx_sess_1", lines[0].AnchorTxID)

	var links []invoicedomain.InvoiceCoupon
	require.NoError(t, conn.Where("invoice_id = ?", invoice.ID).Find(&links).Error)
	assert.Len(t, links, 2)

	var used coupondomain.Coupon
	require.NoError(t, conn.First(&used, "id = ?", "cpn_big").Error)
	assert.Equal(t, coupondomain.CouponStatusUsed, used.Status)
	assert.Equal(t, "2025-07", used.AppliedMonthPeriod)
}

func TestGenerateMonthlyIdempotent(t *testing.T) {
	now := time.Date(2025, 8, 5, 3, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	members := &memberMock{}
	members.On("ListRegistered", mock.Anything).
		Return([]memberdomain.Member{{ID: "member_a", RegistrationCompleted: true}}, nil)

	svc, conn := newTestService(t, "file:invoice_idempotent?mode=memory&cache=shared", clk, members)
	seedEndedSession(t, conn, "sess_1", "member_a", "pc01",
		time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC), 1, 600)

	first, err := svc.GenerateMonthly(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Invoiced)

	second, err := svc.GenerateMonthly(context.Background(), now)
	require.NoError(t, err)
	assert.True(t, second.AlreadyGenerated)
	assert.Equal(t, 0, second.Invoiced)

	var count int64
	require.NoError(t, conn.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGenerateMonthlySkipsMembersWithoutSessions(t *testing.T) {
	now := time.Date(2025, 8, 5, 3, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	members := &memberMock{}
	members.On("ListRegistered", mock.Anything).
		Return([]memberdomain.Member{
			{ID: "member_a", RegistrationCompleted: true},
			{ID: "member_idle", RegistrationCompleted: true},
		}, nil)

	svc, conn := newTestService(t, "file:invoice_skip?mode=memory&cache=shared", clk, members)
	seedEndedSession(t, conn, "sess_1", "member_a", "pc01",
		time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC), 1, 600)

	report, err := svc.GenerateMonthly(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Invoiced)
	assert.Equal(t, 1, report.Skipped)

	_, err = svc.GetByID(context.Background(), "inv_2025-07_member_idle")
	assert.ErrorIs(t, err, invoicedomain.ErrNotFound)
}

func TestGenerateMonthlyPeriodBoundary(t *testing.T) {
	now := time.Date(2025, 8, 5, 3, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	members := &memberMock{}
	members.On("ListRegistered", mock.Anything).
		Return([]memberdomain.Member{{ID: "member_a", RegistrationCompleted: true}}, nil)

	svc, conn := newTestService(t, "file:invoice_boundary?mode=memory&cache=shared", clk, members)

	// 23:30 July 31 in Tokyo is still July; 00:30 August 1 is not.
	seedEndedSession(t, conn, "sess_july", "member_a", "pc01",
		time.Date(2025, 7, 31, 14, 30, 0, 0, time.UTC), 1, 600)
	seedEndedSession(t, conn, "sess_august", "member_a", "pc01",
		time.Date(2025, 7, 31, 15, 30, 0, 0, time.UTC), 1, 600)
	// Active sessions never bill.
	require.NoError(t, conn.Create(&sessiondomain.Session{
		ID: "sess_open", MemberID: "member_a", SeatID: "pc02",
		StartTime: time.Date(2025, 7, 20, 10, 0, 0, 0, time.UTC),
		Active:    true, RatePerHour: 600,
	}).Error)

	report, err := svc.GenerateMonthly(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Invoiced)

	lines, err := svc.Lines(context.Background(), "inv_2025-07_member_a")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "sess_july", lines[0].SessionID)
}

func TestGenerateMonthlyRateFallback(t *testing.T) {
	now := time.Date(2025, 8, 5, 3, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	members := &memberMock{}
	members.On("ListRegistered", mock.Anything).
		Return([]memberdomain.Member{{ID: "member_a", RegistrationCompleted: true}}, nil)

	svc, conn := newTestService(t, "file:invoice_rate?mode=memory&cache=shared", clk, members)
	// No seat row and no session rate: the configured default applies.
	seedEndedSession(t, conn, "sess_1", "member_a", "pc_gone",
		time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC), 3, 0)

	report, err := svc.GenerateMonthly(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, report.Invoiced)

	invoice, err := svc.GetByID(context.Background(), "inv_2025-07_member_a")
	require.NoError(t, err)
	assert.Equal(t, int64(3*600), invoice.SubtotalAmount)
	assert.Equal(t, int64(3*600), invoice.FinalAmount)
}

func TestListInvoices(t *testing.T) {
	now := time.Date(2025, 8, 5, 3, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	members := &memberMock{}
	members.On("ListRegistered", mock.Anything).
		Return([]memberdomain.Member{
			{ID: "member_a", RegistrationCompleted: true},
			{ID: "member_b", RegistrationCompleted: true},
		}, nil)

	svc, conn := newTestService(t, "file:invoice_list?mode=memory&cache=shared", clk, members)
	seedEndedSession(t, conn, "sess_1", "member_a", "pc01",
		time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC), 1, 600)
	seedEndedSession(t, conn, "sess_2", "member_b", "pc02",
		time.Date(2025, 7, 11, 12, 0, 0, 0, time.UTC), 2, 600)

	_, err := svc.GenerateMonthly(context.Background(), now)
	require.NoError(t, err)

	all, err := svc.List(context.Background(), invoicedomain.ListInvoiceRequest{Period: "2025-07"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := svc.List(context.Background(), invoicedomain.ListInvoiceRequest{MemberID: "member_b"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, int64(1200), mine[0].FinalAmount)

	_, err = svc.List(context.Background(), invoicedomain.ListInvoiceRequest{Period: "bogus"})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidPeriod)
}
