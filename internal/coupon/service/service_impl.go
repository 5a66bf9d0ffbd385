package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/clock"
	coupondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/coupon/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p ServiceParam) coupondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("coupon.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) ApplyDiscounts(ctx context.Context, tx *gorm.DB, memberID string, chargeAmount int64, period string) ([]coupondomain.AppliedCoupon, int64, error) {
	if chargeAmount <= 0 {
		return nil, 0, nil
	}
	now := s.clock.Now()

	var coupons []coupondomain.Coupon
	err := tx.WithContext(ctx).
		Where("member_id = ? AND status = ? AND valid_until > ?",
			memberID, coupondomain.CouponStatusAvailable, now).
		Order("discount_value DESC").
		Find(&coupons).Error
	if err != nil {
		return nil, 0, err
	}
	if len(coupons) == 0 {
		return nil, 0, nil
	}

	applied := make([]coupondomain.AppliedCoupon, 0, len(coupons))
	remaining := chargeAmount
	var totalDiscount int64

	for _, coupon := range coupons {
		if remaining <= 0 {
			break
		}

		discountToApply := coupon.DiscountValue
		if discountToApply > remaining {
			discountToApply = remaining
		}

		// Guarded flip: status in the WHERE clause means a coupon raced
		// by a concurrent run is skipped, never consumed twice. The
		// coupon is consumed for its full value even when only part
		// offset the charge (inherited billing policy).
		res := tx.WithContext(ctx).Model(&coupondomain.Coupon{}).
			Where("id = ? AND status = ?", coupon.ID, coupondomain.CouponStatusAvailable).
			Updates(map[string]any{
				"status":               coupondomain.CouponStatusUsed,
				"applied_month_period": period,
				"updated_at":           now,
			})
		if res.Error != nil {
			return nil, 0, res.Error
		}
		if res.RowsAffected != 1 {
			continue
		}

		applied = append(applied, coupondomain.AppliedCoupon{
			CouponID:      coupon.ID,
			Code:          coupon.Code,
			Name:          coupon.Name,
			DiscountValue: discountToApply,
		})
		remaining -= discountToApply
		totalDiscount += discountToApply
	}

	if len(applied) > 0 {
		s.log.Info("coupons applied",
			zap.String("member_id", memberID),
			zap.String("period", period),
			zap.Int("count", len(applied)),
			zap.Int64("total_discount", totalDiscount),
		)
	}
	return applied, totalDiscount, nil
}

func (s *Service) IssueCoupon(ctx context.Context, req coupondomain.IssueCouponRequest) (coupondomain.Coupon, error) {
	if req.DiscountValue <= 0 {
		return coupondomain.Coupon{}, coupondomain.ErrInvalidDiscount
	}
	memberID := strings.TrimSpace(req.MemberID)
	if memberID == "" {
		return coupondomain.Coupon{}, coupondomain.ErrNotFound
	}

	now := s.clock.Now()
	coupon := coupondomain.Coupon{
		ID:            "cpn_" + s.genID.Generate().String(),
		MemberID:      memberID,
		Code:          req.Code,
		Name:          req.Name,
		Description:   req.Description,
		DiscountValue: req.DiscountValue,
		Status:        coupondomain.CouponStatusAvailable,
		ValidUntil:    req.ValidUntil.UTC(),
		IssuedAt:      now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(&coupon).Error; err != nil {
		return coupondomain.Coupon{}, err
	}
	return coupon, nil
}

func (s *Service) ListByMember(ctx context.Context, memberID string) ([]coupondomain.Coupon, error) {
	var coupons []coupondomain.Coupon
	err := s.db.WithContext(ctx).
		Where("member_id = ?", strings.TrimSpace(memberID)).
		Order("issued_at DESC").
		Find(&coupons).Error
	if err != nil {
		return nil, err
	}
	return coupons, nil
}
