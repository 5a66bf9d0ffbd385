// Package domain contains persistence models for registered patrons.
package domain

import (
	"errors"
	"time"
)

// Member is a registered patron. Payment refs point at the external
// payment ledger and stay empty until the patron completes payment setup.
type Member struct {
	ID                    string    `gorm:"primaryKey;type:text"`
	Email                 string    `gorm:"type:text;not null"`
	DisplayName           string    `gorm:"type:text"`
	RegistrationCompleted bool      `gorm:"not null;default:false;index"`
	PaymentCustomerRef    string    `gorm:"type:text"`
	PaymentMethodRef      string    `gorm:"type:text"`
	CreatedAt             time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "members" }

var ErrNotFound = errors.New("member_not_found")

// HasPaymentSetup reports whether settlement can charge this member.
func (m Member) HasPaymentSetup() bool {
	return m.PaymentCustomerRef != "" && m.PaymentMethodRef != ""
}
