package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hunnyEscape/gaming-cafe-billing/internal/blob"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/clock"
	proofdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/proof/domain"
	sessiondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/session/domain"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/usagerecord"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Blobs blob.Store
	Chain proofdomain.ChainClient
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	blobs blob.Store
	chain proofdomain.ChainClient
}

func NewService(p ServiceParam) proofdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("proof.service"),
		clock: p.Clock,
		blobs: p.Blobs,
		chain: p.Chain,
	}
}

// Anchor persists the canonical usage record and anchors its digest. Chain
// failures are terminal for the attempt: they are recorded on the proof and
// the session, and the method still returns nil so the delivery that
// triggered it is consumed. Only infrastructure errors propagate.
func (s *Service) Anchor(ctx context.Context, sessionID string) (proofdomain.AnchorResult, error) {
	sessionID = strings.TrimSpace(sessionID)

	var session sessiondomain.Session
	if err := s.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return proofdomain.AnchorResult{}, sessiondomain.ErrSessionNotFound
		}
		return proofdomain.AnchorResult{}, err
	}
	if session.Active || session.EndTime == nil {
		return proofdomain.AnchorResult{}, fmt.Errorf("session %s has not ended", sessionID)
	}

	// Entry guard: act only while the session is pending with no ledger
	// transaction attached. Redelivered triggers land here and no-op.
	if session.AnchorStatus != sessiondomain.AnchorStatusPending || session.AnchorTxID != "" {
		existing, err := s.GetBySessionID(ctx, sessionID)
		if err != nil && !errors.Is(err, proofdomain.ErrNotFound) {
			return proofdomain.AnchorResult{}, err
		}
		return proofdomain.AnchorResult{Proof: existing, Submitted: false}, nil
	}

	record, err := usagerecord.New(
		session.ID,
		session.MemberID,
		session.SeatID,
		session.StartTime,
		*session.EndTime,
		session.HourBlocks,
	)
	if err != nil {
		return proofdomain.AnchorResult{}, err
	}

	canonical, err := record.Canonical()
	if err != nil {
		return proofdomain.AnchorResult{}, err
	}
	hash, err := record.Hash()
	if err != nil {
		return proofdomain.AnchorResult{}, err
	}
	storagePath := record.StoragePath()

	if err := s.blobs.Put(ctx, storagePath, canonical, "application/json"); err != nil {
		return proofdomain.AnchorResult{}, fmt.Errorf("store usage record: %w", err)
	}

	now := s.clock.Now()
	proof := proofdomain.Proof{
		ID:          session.ID,
		MemberID:    session.MemberID,
		SeatID:      session.SeatID,
		Hash:        hash,
		StoragePath: storagePath,
		ChainID:     s.chain.ChainID(),
		Status:      proofdomain.ProofStatusPending,
		CreatedAt:   now,
	}
	if err := s.ensurePendingProof(ctx, &proof); err != nil {
		return proofdomain.AnchorResult{}, err
	}

	if err := s.db.WithContext(ctx).Model(&sessiondomain.Session{}).
		Where("id = ?", session.ID).
		Updates(map[string]any{
			"storage_path": storagePath,
			"json_hash":    hash,
			"updated_at":   now,
		}).Error; err != nil {
		return proofdomain.AnchorResult{}, err
	}

	// The ledger payload is the 0x-prefixed hex digest as UTF-8 bytes, the
	// form external verifiers decode from the transaction data.
	payload := []byte("0x" + hash)
	receipt, submitErr := s.chain.SubmitAnchor(ctx, payload)
	if submitErr != nil {
		if err := s.markError(ctx, &proof, session.ID, submitErr); err != nil {
			return proofdomain.AnchorResult{}, err
		}
		s.log.Warn("anchor submission failed",
			zap.String("session_id", session.ID),
			zap.Error(submitErr),
		)
		return proofdomain.AnchorResult{Proof: proof, Submitted: true}, nil
	}

	if err := s.markConfirmed(ctx, &proof, session.ID, receipt); err != nil {
		return proofdomain.AnchorResult{}, err
	}
	s.log.Info("usage record anchored",
		zap.String("session_id", session.ID),
		zap.String("tx_id", receipt.TxID),
		zap.Int64("block_number", receipt.BlockNumber),
	)
	return proofdomain.AnchorResult{Proof: proof, Submitted: true}, nil
}

func (s *Service) ensurePendingProof(ctx context.Context, proof *proofdomain.Proof) error {
	var existing proofdomain.Proof
	err := s.db.WithContext(ctx).First(&existing, "id = ?", proof.ID).Error
	if err == nil {
		if existing.Status != proofdomain.ProofStatusPending {
			return proofdomain.ErrAlreadyAnchored
		}
		*proof = existing
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.db.WithContext(ctx).Create(proof).Error
}

func (s *Service) markConfirmed(ctx context.Context, proof *proofdomain.Proof, sessionID string, receipt proofdomain.AnchorReceipt) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&proofdomain.Proof{}).
			Where("id = ? AND status = ?", proof.ID, proofdomain.ProofStatusPending).
			Updates(map[string]any{
				"status":       proofdomain.ProofStatusConfirmed,
				"tx_id":        receipt.TxID,
				"block_number": receipt.BlockNumber,
				"confirmed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return proofdomain.ErrAlreadyAnchored
		}

		if err := tx.Model(&sessiondomain.Session{}).
			Where("id = ?", sessionID).
			Updates(map[string]any{
				"anchor_status": sessiondomain.AnchorStatusConfirmed,
				"anchor_tx_id":  receipt.TxID,
				"anchor_block":  receipt.BlockNumber,
				"anchor_at":     now,
				"updated_at":    now,
			}).Error; err != nil {
			return err
		}

		proof.Status = proofdomain.ProofStatusConfirmed
		proof.TxID = receipt.TxID
		proof.BlockNumber = receipt.BlockNumber
		proof.ConfirmedAt = &now
		return nil
	})
}

func (s *Service) markError(ctx context.Context, proof *proofdomain.Proof, sessionID string, cause error) error {
	now := s.clock.Now()
	message := cause.Error()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&proofdomain.Proof{}).
			Where("id = ? AND status = ?", proof.ID, proofdomain.ProofStatusPending).
			Updates(map[string]any{
				"status":        proofdomain.ProofStatusError,
				"error_message": message,
			}).Error; err != nil {
			return err
		}

		if err := tx.Model(&sessiondomain.Session{}).
			Where("id = ?", sessionID).
			Updates(map[string]any{
				"anchor_status": sessiondomain.AnchorStatusError,
				"anchor_error":  message,
				"anchor_at":     now,
				"updated_at":    now,
			}).Error; err != nil {
			return err
		}

		proof.Status = proofdomain.ProofStatusError
		proof.ErrorMessage = message
		return nil
	})
}

func (s *Service) GetBySessionID(ctx context.Context, sessionID string) (proofdomain.Proof, error) {
	var proof proofdomain.Proof
	err := s.db.WithContext(ctx).First(&proof, "id = ?", strings.TrimSpace(sessionID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return proofdomain.Proof{}, proofdomain.ErrNotFound
		}
		return proofdomain.Proof{}, err
	}
	return proof, nil
}
