// Package domain contains persistence models for monthly invoices.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// InvoiceStatus is the settlement lifecycle. Generation creates invoices in
// PendingSettlement; every later transition belongs to the settlement bridge,
// and only the payment webhook ever sets Paid.
type InvoiceStatus string

const (
	InvoiceStatusPendingSettlement InvoiceStatus = "pending_settlement"
	InvoiceStatusSettling          InvoiceStatus = "settling"
	InvoiceStatusPaid              InvoiceStatus = "paid"
	InvoiceStatusFailed            InvoiceStatus = "failed"
)

// Invoice aggregates one member's completed sessions for one calendar month.
type Invoice struct {
	ID             string        `gorm:"primaryKey;type:text"`
	MemberID       string        `gorm:"type:text;not null;index"`
	PeriodString   string        `gorm:"type:text;not null;index"`
	PeriodStart    time.Time     `gorm:"not null"`
	PeriodEnd      time.Time     `gorm:"not null"`
	SubtotalAmount int64         `gorm:"not null;default:0"`
	DiscountAmount int64         `gorm:"not null;default:0"`
	FinalAmount    int64         `gorm:"not null;default:0"`
	Currency       string        `gorm:"type:text;not null"`
	Status         InvoiceStatus `gorm:"type:text;not null;default:'pending_settlement';index"`
	ExternalRef    string        `gorm:"type:text;index"`
	ErrorMessage   string        `gorm:"type:text"`
	PaidAt         *time.Time    `gorm:""`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLine is one session charge on an invoice.
type InvoiceLine struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	InvoiceID  string    `gorm:"type:text;not null;index"`
	SessionID  string    `gorm:"type:text;not null"`
	StartTime  time.Time `gorm:"not null"`
	EndTime    time.Time `gorm:"not null"`
	HourBlocks int64     `gorm:"not null"`
	Amount     int64     `gorm:"not null"`
	SeatID     string    `gorm:"type:text;not null"`
	SeatName   string    `gorm:"type:text"`
	BranchName string    `gorm:"type:text"`
	AnchorTxID string    `gorm:"type:text"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

// InvoiceCoupon links a consumed coupon to the invoice it discounted.
// DiscountValue is the useful portion that offset the charge.
type InvoiceCoupon struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	InvoiceID     string `gorm:"type:text;not null;index"`
	CouponID      string `gorm:"type:text;not null"`
	Code          string `gorm:"type:text"`
	Name          string `gorm:"type:text"`
	DiscountValue int64  `gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceCoupon) TableName() string { return "invoice_coupons" }

// InvoiceID derives the deterministic invoice identity so regeneration for
// the same member and period can never produce a second row.
func InvoiceID(period, memberID string) string {
	return fmt.Sprintf("inv_%s_%s", period, memberID)
}

var (
	ErrNotFound      = errors.New("invoice_not_found")
	ErrInvalidPeriod = errors.New("invalid_period")
)
