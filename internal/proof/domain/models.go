// Package domain contains the tamper-evidence models for usage records.
package domain

import (
	"errors"
	"time"
)

// ProofStatus tracks the anchoring lifecycle. A proof transitions
// pending -> confirmed|error exactly once; there is no automatic retry.
type ProofStatus string

const (
	ProofStatusPending   ProofStatus = "pending"
	ProofStatusConfirmed ProofStatus = "confirmed"
	ProofStatusError     ProofStatus = "error"
)

// Proof records the content hash of one usage record and its public-ledger
// confirmation state. ID equals the session ID: one proof per usage record.
type Proof struct {
	ID           string      `gorm:"primaryKey;type:text"`
	MemberID     string      `gorm:"type:text;not null;index"`
	SeatID       string      `gorm:"type:text;not null"`
	Hash         string      `gorm:"type:text;not null"`
	StoragePath  string      `gorm:"type:text;not null"`
	ChainID      int64       `gorm:"not null;default:0"`
	Status       ProofStatus `gorm:"type:text;not null;default:'pending';index"`
	TxID         string      `gorm:"type:text"`
	BlockNumber  int64       `gorm:"not null;default:0"`
	ErrorMessage string      `gorm:"type:text"`
	CreatedAt    time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ConfirmedAt  *time.Time  `gorm:""`
}

// TableName sets the database table name.
func (Proof) TableName() string { return "proofs" }

var (
	ErrNotFound        = errors.New("proof_not_found")
	ErrAlreadyAnchored = errors.New("proof_already_anchored")
)
