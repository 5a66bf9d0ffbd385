package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hunnyEscape/gaming-cafe-billing/internal/config"
	coupondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/coupon/domain"
	invoicedomain "github.com/hunnyEscape/gaming-cafe-billing/internal/invoice/domain"
	memberdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/member/domain"
	sessiondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/session/domain"
	"github.com/hunnyEscape/gaming-cafe-billing/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	Config    config.Config
	DB        *gorm.DB
	Log       *zap.Logger
	MemberSvc memberdomain.Service
	CouponSvc coupondomain.Service
}

type Service struct {
	cfg       config.BillingConfig
	db        *gorm.DB
	log       *zap.Logger
	memberSvc memberdomain.Service
	couponSvc coupondomain.Service
	retry     db.RetryConfig
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		cfg:       p.Config.Billing,
		db:        p.DB,
		log:       p.Log.Named("invoice.service"),
		memberSvc: p.MemberSvc,
		couponSvc: p.CouponSvc,
		retry:     db.DefaultRetryConfig(),
	}
}

// periodBounds returns the calendar month preceding now in the billing
// timezone, plus its YYYY-MM label. Bounds come back in UTC for querying.
func (s *Service) periodBounds(now time.Time) (start, end time.Time, period string) {
	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	startLocal := monthStart.AddDate(0, -1, 0)
	return startLocal.UTC(), monthStart.UTC(), startLocal.Format("2006-01")
}

func (s *Service) GenerateMonthly(ctx context.Context, now time.Time) (invoicedomain.RunReport, error) {
	start, end, period := s.periodBounds(now)
	report := invoicedomain.RunReport{Period: period}

	// One invoice batch per period. Any existing invoice for the period
	// means a prior run got here first; redelivered triggers become no-ops.
	var existing int64
	if err := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("period_string = ?", period).
		Count(&existing).Error; err != nil {
		return report, err
	}
	if existing > 0 {
		report.AlreadyGenerated = true
		s.log.Info("invoices already generated for period", zap.String("period", period))
		return report, nil
	}

	members, err := s.memberSvc.ListRegistered(ctx)
	if err != nil {
		return report, err
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, member := range members {
		wg.Add(1)
		go func(m memberdomain.Member) {
			defer wg.Done()
			created, err := s.generateForMember(ctx, m, start, end, period)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				s.log.Error("invoice generation failed for member",
					zap.String("member_id", m.ID),
					zap.String("period", period),
					zap.Error(err),
				)
			case created:
				report.Invoiced++
			default:
				report.Skipped++
			}
		}(member)
	}
	wg.Wait()

	s.log.Info("monthly invoice run finished",
		zap.String("period", period),
		zap.Int("invoiced", report.Invoiced),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *Service) generateForMember(ctx context.Context, member memberdomain.Member, start, end time.Time, period string) (bool, error) {
	var sessions []sessiondomain.Session
	err := s.db.WithContext(ctx).
		Where("member_id = ? AND active = ? AND end_time >= ? AND end_time < ?",
			member.ID, false, start, end).
		Order("end_time ASC").
		Find(&sessions).Error
	if err != nil {
		return false, err
	}
	if len(sessions) == 0 {
		return false, nil
	}

	seats, err := s.seatsFor(ctx, sessions)
	if err != nil {
		return false, err
	}

	var (
		lines    []invoicedomain.InvoiceLine
		subtotal int64
	)
	invoiceID := invoicedomain.InvoiceID(period, member.ID)
	for _, sess := range sessions {
		seat := seats[sess.SeatID]
		rate := sess.RatePerHour
		if rate <= 0 {
			rate = seat.RatePerHour
		}
		if rate <= 0 {
			rate = s.cfg.DefaultHourlyRate
		}
		amount := sess.HourBlocks * rate
		subtotal += amount
		lines = append(lines, invoicedomain.InvoiceLine{
			InvoiceID:  invoiceID,
			SessionID:  sess.ID,
			StartTime:  sess.StartTime,
			EndTime:    *sess.EndTime,
			HourBlocks: sess.HourBlocks,
			Amount:     amount,
			SeatID:     sess.SeatID,
			SeatName:   seat.Name,
			BranchName: seat.BranchName,
			AnchorTxID: sess.AnchorTxID,
		})
	}

	err = db.RunInTxWithRetry(ctx, s.db, s.retry, func(tx *gorm.DB) error {
		applied, discount, err := s.couponSvc.ApplyDiscounts(ctx, tx, member.ID, subtotal, period)
		if err != nil {
			return err
		}

		invoice := invoicedomain.Invoice{
			ID:             invoiceID,
			MemberID:       member.ID,
			PeriodString:   period,
			PeriodStart:    start,
			PeriodEnd:      end,
			SubtotalAmount: subtotal,
			DiscountAmount: discount,
			FinalAmount:    subtotal - discount,
			Currency:       s.cfg.Currency,
			Status:         invoicedomain.InvoiceStatusPendingSettlement,
		}
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}
		if err := tx.Create(&lines).Error; err != nil {
			return err
		}
		for _, c := range applied {
			link := invoicedomain.InvoiceCoupon{
				InvoiceID:     invoiceID,
				CouponID:      c.CouponID,
				Code:          c.Code,
				Name:          c.Name,
				DiscountValue: c.DiscountValue,
			}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// A duplicate invoice id means another run already billed this
		// member for the period.
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}

	s.log.Info("invoice generated",
		zap.String("invoice_id", invoiceID),
		zap.String("member_id", member.ID),
		zap.Int64("subtotal", subtotal),
	)
	return true, nil
}

func (s *Service) seatsFor(ctx context.Context, sessions []sessiondomain.Session) (map[string]sessiondomain.Seat, error) {
	ids := make([]string, 0, len(sessions))
	seen := make(map[string]struct{}, len(sessions))
	for _, sess := range sessions {
		if _, ok := seen[sess.SeatID]; ok {
			continue
		}
		seen[sess.SeatID] = struct{}{}
		ids = append(ids, sess.SeatID)
	}

	var seats []sessiondomain.Seat
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&seats).Error; err != nil {
		return nil, err
	}
	out := make(map[string]sessiondomain.Seat, len(seats))
	for _, seat := range seats {
		out[seat.ID] = seat
	}
	return out, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).First(&invoice, "id = ?", strings.TrimSpace(id)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invoicedomain.Invoice{}, invoicedomain.ErrNotFound
		}
		return invoicedomain.Invoice{}, err
	}
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) ([]invoicedomain.Invoice, error) {
	q := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{})
	if memberID := strings.TrimSpace(req.MemberID); memberID != "" {
		q = q.Where("member_id = ?", memberID)
	}
	if period := strings.TrimSpace(req.Period); period != "" {
		if _, err := time.Parse("2006-01", period); err != nil {
			return nil, fmt.Errorf("%w: %s", invoicedomain.ErrInvalidPeriod, period)
		}
		q = q.Where("period_string = ?", period)
	}

	var invoices []invoicedomain.Invoice
	if err := q.Order("created_at DESC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Service) Lines(ctx context.Context, invoiceID string) ([]invoicedomain.InvoiceLine, error) {
	var lines []invoicedomain.InvoiceLine
	err := s.db.WithContext(ctx).
		Where("invoice_id = ?", strings.TrimSpace(invoiceID)).
		Order("end_time ASC").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}
