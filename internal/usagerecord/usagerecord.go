// Package usagerecord builds the canonical, content-addressed summary of a
// finished session. The canonical bytes are the hash input anchored to the
// public ledger, so the serialization must be reproducible bit-for-bit by
// any external verifier: keys in ascending lexicographic order, no
// insignificant whitespace, timestamps as ISO-8601 UTC with millisecond
// precision.
package usagerecord

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrSessionNotEnded = errors.New("session_not_ended")

// isoMillis matches Date.prototype.toISOString: UTC, three fractional digits.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Record is the immutable usage summary of one ended session.
type Record struct {
	SessionID  string
	UserID     string
	SeatID     string
	StartTime  time.Time
	EndTime    time.Time
	HourBlocks int64
}

// New validates the inputs and normalizes timestamps to UTC.
func New(sessionID, userID, seatID string, startTime, endTime time.Time, hourBlocks int64) (Record, error) {
	if endTime.IsZero() {
		return Record{}, ErrSessionNotEnded
	}
	return Record{
		SessionID:  sessionID,
		UserID:     userID,
		SeatID:     seatID,
		StartTime:  startTime.UTC(),
		EndTime:    endTime.UTC(),
		HourBlocks: hourBlocks,
	}, nil
}

// canonicalRecord fixes the key order of the serialized form. Field order is
// the ascending sort of the JSON key names; encoding/json emits struct
// fields in declaration order with no extra whitespace.
type canonicalRecord struct {
	EndTime    string `json:"endTime"`
	HourBlocks int64  `json:"hourBlocks"`
	SeatID     string `json:"seatId"`
	SessionID  string `json:"sessionId"`
	StartTime  string `json:"startTime"`
	UserID     string `json:"userId"`
}

// Canonical returns the canonical JSON bytes of the record.
func (r Record) Canonical() ([]byte, error) {
	return json.Marshal(canonicalRecord{
		EndTime:    r.EndTime.UTC().Format(isoMillis),
		HourBlocks: r.HourBlocks,
		SeatID:     r.SeatID,
		SessionID:  r.SessionID,
		StartTime:  r.StartTime.UTC().Format(isoMillis),
		UserID:     r.UserID,
	})
}

// Hash returns the lowercase hex SHA-256 digest of the canonical bytes.
func (r Record) Hash() (string, error) {
	canonical, err := r.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// StoragePath places the canonical blob under the per-user session log. The
// timestamp component is the end time in unix milliseconds so regenerating
// the record always lands on the same path.
func (r Record) StoragePath() string {
	return fmt.Sprintf("sessionLog/%s/%d_%s.json", r.UserID, r.EndTime.UTC().UnixMilli(), r.SessionID)
}

// Verify recomputes the digest and compares it with the expected value.
func Verify(canonical []byte, expectedHash string) bool {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]) == expectedHash
}
