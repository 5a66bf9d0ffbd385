package service

import (
	"context"
	"errors"
	"strings"

	memberdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/member/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p ServiceParam) memberdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("member.service"),
	}
}

func (s *Service) GetByID(ctx context.Context, id string) (memberdomain.Member, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return memberdomain.Member{}, memberdomain.ErrNotFound
	}

	var member memberdomain.Member
	err := s.db.WithContext(ctx).First(&member, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return memberdomain.Member{}, memberdomain.ErrNotFound
		}
		return memberdomain.Member{}, err
	}
	return member, nil
}

func (s *Service) ListRegistered(ctx context.Context) ([]memberdomain.Member, error) {
	var members []memberdomain.Member
	err := s.db.WithContext(ctx).
		Where("registration_completed = ?", true).
		Order("id ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}
