// Package domain contains persistence models for member coupons.
package domain

import (
	"errors"
	"time"
)

// CouponStatus is the consumption state. A coupon flips available -> used
// exactly once and never reverts.
type CouponStatus string

const (
	CouponStatusAvailable CouponStatus = "available"
	CouponStatusUsed      CouponStatus = "used"
)

// Coupon is a discount issued to one member.
type Coupon struct {
	ID            string       `gorm:"primaryKey;type:text"`
	MemberID      string       `gorm:"type:text;not null;index"`
	Code          string       `gorm:"type:text;not null"`
	Name          string       `gorm:"type:text;not null"`
	Description   string       `gorm:"type:text"`
	DiscountValue int64        `gorm:"not null"`
	Status        CouponStatus `gorm:"type:text;not null;default:'available';index"`
	ValidUntil    time.Time    `gorm:"not null"`
	// Billing period (YYYY-MM) the coupon was consumed against.
	AppliedMonthPeriod string    `gorm:"type:text"`
	IssuedAt           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Coupon) TableName() string { return "coupons" }

// AppliedCoupon reports one consumed coupon and the portion of its value
// that offset the charge. The coupon itself is always consumed for its full
// DiscountValue even when only part was useful.
type AppliedCoupon struct {
	CouponID      string
	Code          string
	Name          string
	DiscountValue int64
}

var (
	ErrNotFound        = errors.New("coupon_not_found")
	ErrInvalidDiscount = errors.New("invalid_discount_value")
)
