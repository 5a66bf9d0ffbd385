// Package domain contains persistence models for seats and sessions.
package domain

import (
	"errors"
	"time"
)

// SeatStatus represents seat occupancy states.
type SeatStatus string

const (
	SeatStatusAvailable   SeatStatus = "available"
	SeatStatusInUse       SeatStatus = "in-use"
	SeatStatusMaintenance SeatStatus = "maintenance"
)

// Seat is a billable, exclusively-occupiable resource unit.
type Seat struct {
	ID          string     `gorm:"primaryKey;type:text"`
	Name        string     `gorm:"type:text;not null"`
	BranchName  string     `gorm:"type:text"`
	RatePerHour int64      `gorm:"not null;default:0"`
	Status      SeatStatus `gorm:"type:text;not null;default:'available'"`
	CreatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Seat) TableName() string { return "seats" }

// AnchorStatus tracks the tamper-evidence pipeline on a session. Empty until
// the session ends; transitions pending -> confirmed|error exactly once.
type AnchorStatus string

const (
	AnchorStatusPending   AnchorStatus = "pending"
	AnchorStatusConfirmed AnchorStatus = "confirmed"
	AnchorStatusError     AnchorStatus = "error"
)

// Session is one occupancy interval of a seat by a member. Rows are never
// deleted; ending a session flips Active exactly once.
type Session struct {
	ID              string       `gorm:"primaryKey;type:text"`
	MemberID        string       `gorm:"type:text;not null;index"`
	SeatID          string       `gorm:"type:text;not null;index"`
	StartTime       time.Time    `gorm:"not null"`
	EndTime         *time.Time   `gorm:"index"`
	DurationSeconds int64        `gorm:"not null;default:0"`
	HourBlocks      int64        `gorm:"not null;default:0"`
	Active          bool         `gorm:"not null;default:true;index:idx_sessions_seat_active,priority:2"`
	RatePerHour     int64        `gorm:"not null;default:0"`
	AnchorStatus    AnchorStatus `gorm:"type:text"`
	AnchorTxID      string       `gorm:"type:text"`
	AnchorBlock     int64        `gorm:"not null;default:0"`
	AnchorError     string       `gorm:"type:text"`
	AnchorAt        *time.Time   `gorm:""`
	StoragePath     string       `gorm:"type:text"`
	JSONHash        string       `gorm:"type:text"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }

// TaskStatus represents billing outbox states.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusProcessed TaskStatus = "processed"
	TaskStatusError     TaskStatus = "error"
)

// BillingTask is the outbox row written in the end-session transaction. It
// carries the session into the usage-record pipeline with at-least-once
// delivery; the anchor entry guard makes redelivery harmless.
type BillingTask struct {
	ID           string     `gorm:"primaryKey;type:text"`
	SessionID    string     `gorm:"type:text;not null;index"`
	MemberID     string     `gorm:"type:text;not null"`
	SeatID       string     `gorm:"type:text;not null"`
	Status       TaskStatus `gorm:"type:text;not null;default:'pending';index"`
	ErrorMessage string     `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingTask) TableName() string { return "billing_tasks" }

var (
	ErrSeatNotFound        = errors.New("seat_not_found")
	ErrSessionNotFound     = errors.New("session_not_found")
	ErrSeatUnavailable     = errors.New("seat_unavailable")
	ErrSessionAlreadyEnded = errors.New("session_already_ended")
	ErrActiveSessionExists = errors.New("active_session_exists")
)
