package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrTxConflict is returned when a transactional read-modify-write keeps
// conflicting after RetryConfig.MaxAttempts.
var ErrTxConflict = errors.New("tx_conflict")

// RetryConfig bounds the optimistic transaction retry loop.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	defaults := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaults.BaseDelay
	}
	return c
}

// RunInTxWithRetry executes fn inside a transaction, retrying write conflicts
// with a doubling delay. Non-conflict errors abort immediately. When every
// attempt conflicts the caller receives ErrTxConflict so the conflict can be
// surfaced as a domain-level 409 rather than an internal error.
func RunInTxWithRetry(ctx context.Context, conn *gorm.DB, cfg RetryConfig, fn func(tx *gorm.DB) error) error {
	cfg = cfg.withDefaults()
	delay := cfg.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := conn.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if !IsWriteConflictErr(err) {
			return err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return errors.Join(ErrTxConflict, lastErr)
}
