package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/pagequota/internal/cache"
	"github.com/smallbiznis/pagequota/internal/clock"
	subscriptiondomain "github.com/smallbiznis/pagequota/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  subscriptiondomain.Repository
	Cache cache.SnapshotCache `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  subscriptiondomain.Repository
	cache cache.SnapshotCache
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		clock: p.Clock,
		repo:  p.Repo,
		cache: p.Cache,
	}
}

func (s *Service) GetSnapshot(ctx context.Context, userID string) (*subscriptiondomain.Snapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}

	if s.cache != nil {
		if cached, ok := s.cache.GetSnapshot(ctx, userID); ok {
			return cached, nil
		}
	}

	snapshot, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", subscriptiondomain.ErrSnapshotFetch, err)
	}

	if s.cache != nil {
		s.cache.SetSnapshot(ctx, userID, snapshot)
	}
	return snapshot, nil
}

func (s *Service) Apply(ctx context.Context, snapshot subscriptiondomain.Snapshot) error {
	snapshot.UserID = strings.TrimSpace(snapshot.UserID)
	if snapshot.UserID == "" {
		return subscriptiondomain.ErrInvalidUser
	}
	snapshot.Status = subscriptiondomain.SubscriptionStatus(strings.ToLower(strings.TrimSpace(string(snapshot.Status))))
	if snapshot.Status == "" {
		return subscriptiondomain.ErrInvalidStatus
	}
	if snapshot.CurrentPeriodStart < 0 || snapshot.CurrentPeriodEnd < 0 {
		return subscriptiondomain.ErrInvalidPeriod
	}
	if snapshot.CurrentPeriodStart > 0 && snapshot.CurrentPeriodEnd > 0 &&
		snapshot.CurrentPeriodStart > snapshot.CurrentPeriodEnd {
		return subscriptiondomain.ErrInvalidPeriod
	}
	snapshot.PlanID = strings.TrimSpace(snapshot.PlanID)
	snapshot.UpdatedAt = s.clock.Now().UTC()

	if err := s.repo.Upsert(ctx, s.db, &snapshot); err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.DeleteSnapshot(ctx, snapshot.UserID)
	}

	s.log.Info("subscription snapshot applied",
		zap.String("user_id", snapshot.UserID),
		zap.String("status", string(snapshot.Status)),
		zap.String("plan_id", snapshot.PlanID),
	)
	return nil
}
