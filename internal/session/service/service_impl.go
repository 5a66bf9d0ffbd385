package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/clock"
	memberdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/member/domain"
	sessiondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/session/domain"
	"github.com/hunnyEscape/gaming-cafe-billing/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	MemberSvc memberdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	memberSvc memberdomain.Service
	retry     db.RetryConfig
}

func NewService(p ServiceParam) sessiondomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("session.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		memberSvc: p.MemberSvc,
		retry:     db.DefaultRetryConfig(),
	}
}

func (s *Service) StartSession(ctx context.Context, memberID, seatID string) (sessiondomain.Session, error) {
	memberID = strings.TrimSpace(memberID)
	seatID = strings.TrimSpace(seatID)
	if memberID == "" || seatID == "" {
		return sessiondomain.Session{}, fmt.Errorf("%w: member and seat are required", sessiondomain.ErrSessionNotFound)
	}

	member, err := s.memberSvc.GetByID(ctx, memberID)
	if err != nil {
		return sessiondomain.Session{}, err
	}

	now := s.clock.Now()
	session := sessiondomain.Session{
		ID:        "sess_" + s.genID.Generate().String(),
		MemberID:  member.ID,
		SeatID:    seatID,
		StartTime: now,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = db.RunInTxWithRetry(ctx, s.db, s.retry, func(tx *gorm.DB) error {
		var seat sessiondomain.Seat
		if err := tx.First(&seat, "id = ?", seatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return sessiondomain.ErrSeatNotFound
			}
			return err
		}
		if seat.Status != sessiondomain.SeatStatusAvailable {
			return sessiondomain.ErrSeatUnavailable
		}

		var activeCount int64
		if err := tx.Model(&sessiondomain.Session{}).
			Where("seat_id = ? AND active = ?", seatID, true).
			Count(&activeCount).Error; err != nil {
			return err
		}
		if activeCount > 0 {
			return sessiondomain.ErrActiveSessionExists
		}

		session.RatePerHour = seat.RatePerHour
		if err := tx.Create(&session).Error; err != nil {
			return err
		}

		// Conditional write: a concurrent start on the same seat loses the
		// race here and surfaces as a conflict instead of double-booking.
		res := tx.Model(&sessiondomain.Seat{}).
			Where("id = ? AND status = ?", seatID, sessiondomain.SeatStatusAvailable).
			Updates(map[string]any{
				"status":     sessiondomain.SeatStatusInUse,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return sessiondomain.ErrSeatUnavailable
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrTxConflict) {
			return sessiondomain.Session{}, sessiondomain.ErrSeatUnavailable
		}
		return sessiondomain.Session{}, err
	}

	s.log.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("member_id", member.ID),
		zap.String("seat_id", seatID),
	)
	return session, nil
}

func (s *Service) EndSession(ctx context.Context, req sessiondomain.EndSessionRequest) (sessiondomain.Session, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	seatID := strings.TrimSpace(req.SeatID)
	if sessionID == "" && seatID == "" {
		return sessiondomain.Session{}, fmt.Errorf("%w: session or seat is required", sessiondomain.ErrSessionNotFound)
	}

	var ended sessiondomain.Session
	err := db.RunInTxWithRetry(ctx, s.db, s.retry, func(tx *gorm.DB) error {
		session, err := s.resolveSession(tx, sessionID, seatID)
		if err != nil {
			return err
		}
		if !session.Active {
			return sessiondomain.ErrSessionAlreadyEnded
		}

		now := s.clock.Now()
		duration := int64(now.Sub(session.StartTime) / time.Second)
		if duration < 0 {
			duration = 0
		}
		hourBlocks := (duration + 3599) / 3600

		endTime := now
		// Guarded update: active=true in the WHERE clause makes a
		// redelivered end request a conflict, not a second mutation.
		res := tx.Model(&sessiondomain.Session{}).
			Where("id = ? AND active = ?", session.ID, true).
			Updates(map[string]any{
				"active":           false,
				"end_time":         endTime,
				"duration_seconds": duration,
				"hour_blocks":      hourBlocks,
				"anchor_status":    sessiondomain.AnchorStatusPending,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return sessiondomain.ErrSessionAlreadyEnded
		}

		if err := tx.Model(&sessiondomain.Seat{}).
			Where("id = ?", session.SeatID).
			Updates(map[string]any{
				"status":     sessiondomain.SeatStatusAvailable,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		task := sessiondomain.BillingTask{
			ID:        "task_" + s.genID.Generate().String(),
			SessionID: session.ID,
			MemberID:  session.MemberID,
			SeatID:    session.SeatID,
			Status:    sessiondomain.TaskStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&task).Error; err != nil {
			return err
		}

		ended = session
		ended.Active = false
		ended.EndTime = &endTime
		ended.DurationSeconds = duration
		ended.HourBlocks = hourBlocks
		ended.AnchorStatus = sessiondomain.AnchorStatusPending
		ended.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrTxConflict) {
			return sessiondomain.Session{}, sessiondomain.ErrSessionAlreadyEnded
		}
		return sessiondomain.Session{}, err
	}

	s.log.Info("session ended",
		zap.String("session_id", ended.ID),
		zap.Int64("duration_seconds", ended.DurationSeconds),
		zap.Int64("hour_blocks", ended.HourBlocks),
	)
	return ended, nil
}

func (s *Service) resolveSession(tx *gorm.DB, sessionID, seatID string) (sessiondomain.Session, error) {
	var session sessiondomain.Session
	if sessionID != "" {
		err := tx.First(&session, "id = ?", sessionID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return sessiondomain.Session{}, sessiondomain.ErrSessionNotFound
			}
			return sessiondomain.Session{}, err
		}
		return session, nil
	}

	err := tx.Where("seat_id = ? AND active = ?", seatID, true).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sessiondomain.Session{}, sessiondomain.ErrSessionNotFound
		}
		return sessiondomain.Session{}, err
	}
	return session, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (sessiondomain.Session, error) {
	var session sessiondomain.Session
	err := s.db.WithContext(ctx).First(&session, "id = ?", strings.TrimSpace(id)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sessiondomain.Session{}, sessiondomain.ErrSessionNotFound
		}
		return sessiondomain.Session{}, err
	}
	return session, nil
}

func (s *Service) ListSeats(ctx context.Context) ([]sessiondomain.Seat, error) {
	var seats []sessiondomain.Seat
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&seats).Error; err != nil {
		return nil, err
	}
	return seats, nil
}
