package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/pagequota/internal/clock"
	"github.com/smallbiznis/pagequota/internal/config"
	profiledomain "github.com/smallbiznis/pagequota/internal/profile/domain"
	"github.com/smallbiznis/pagequota/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	profiles repository.Repository[profiledomain.Profile]
}

func NewService(p ServiceParam) profiledomain.Service {
	return &Service{
		log:      p.Log.Named("profile.service"),
		clock:    p.Clock,
		profiles: repository.ProvideStore[profiledomain.Profile](p.DB),
	}
}

func (s *Service) GetMembership(ctx context.Context, userID string) (string, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", false, profiledomain.ErrInvalidUser
	}

	profile, err := s.profiles.FindOne(ctx, &profiledomain.Profile{UserID: userID})
	if err != nil {
		return "", false, err
	}
	if profile == nil {
		return "", false, nil
	}

	membership := config.NormalizeTier(profile.Membership)
	if membership == "" {
		return "", false, nil
	}
	return membership, true, nil
}

func (s *Service) SetMembership(ctx context.Context, userID, membership string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return profiledomain.ErrInvalidUser
	}

	now := s.clock.Now().UTC()
	existing, err := s.profiles.FindOne(ctx, &profiledomain.Profile{UserID: userID})
	if err != nil {
		return err
	}

	profile := profiledomain.Profile{
		UserID:     userID,
		Membership: config.NormalizeTier(membership),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing != nil {
		profile.CreatedAt = existing.CreatedAt
		if err := s.profiles.Save(ctx, &profile); err != nil {
			return err
		}
	} else if err := s.profiles.Create(ctx, &profile); err != nil {
		return err
	}

	s.log.Info("membership updated",
		zap.String("user_id", userID),
		zap.String("membership", profile.Membership),
	)
	return nil
}
