package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type IssueCouponRequest struct {
	MemberID      string
	Code          string
	Name          string
	Description   string
	DiscountValue int64
	ValidUntil    time.Time
}

type Service interface {
	// ApplyDiscounts greedily consumes the member's available coupons
	// (largest discount first) against chargeAmount. It runs inside the
	// caller's transaction so consumption commits or rolls back together
	// with the invoice that motivated it.
	ApplyDiscounts(ctx context.Context, tx *gorm.DB, memberID string, chargeAmount int64, period string) ([]AppliedCoupon, int64, error)
	IssueCoupon(ctx context.Context, req IssueCouponRequest) (Coupon, error)
	ListByMember(ctx context.Context, memberID string) ([]Coupon, error)
}
