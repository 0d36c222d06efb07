package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pagequota/internal/clock"
	"github.com/smallbiznis/pagequota/internal/config"
	obsmetrics "github.com/smallbiznis/pagequota/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/pagequota/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Config  config.Config
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    usagedomain.Repository
	Deriver usagedomain.PeriodDeriver
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	repo    usagedomain.Repository
	deriver usagedomain.PeriodDeriver
	metrics *obsmetrics.Metrics
	bypass  bool
}

func NewService(p ServiceParam) usagedomain.Service {
	svc := &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		deriver: p.Deriver,
		metrics: p.Metrics,
		bypass:  p.Config.Quota.Bypass,
	}
	if svc.bypass {
		svc.log.Warn("page quota bypass enabled, limits are not enforced",
			zap.String("environment", p.Config.Environment),
		)
	}
	return svc
}

func (s *Service) Reconcile(ctx context.Context, userID string, referenceDate time.Time) (*usagedomain.UsageRecord, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	referenceDate = referenceDate.UTC()

	authoritative, err := s.deriver.Derive(ctx, userID, referenceDate)
	if err != nil {
		return s.reconcileFallback(ctx, userID, referenceDate, err)
	}
	return s.reconcile(ctx, userID, authoritative)
}

// reconcile applies an already-derived period to the record for the calendar
// month containing its start.
func (s *Service) reconcile(ctx context.Context, userID string, authoritative usagedomain.Period) (*usagedomain.UsageRecord, error) {
	source := string(authoritative.Source)

	existing, err := s.repo.FindByCalendarMonth(ctx, s.db, userID, authoritative.Start)
	if err != nil {
		s.metrics.RecordReconciliation(ctx, obsmetrics.OutcomeFailed, source)
		return nil, err
	}

	now := s.clock.Now().UTC()
	if existing == nil {
		record := &usagedomain.UsageRecord{
			ID:                 s.genID.Generate(),
			UserID:             userID,
			BillingPeriodStart: authoritative.Start,
			BillingPeriodEnd:   authoritative.End,
			PagesProcessed:     0,
			PagesLimit:         authoritative.PagesLimit,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.repo.Insert(ctx, s.db, record); err != nil {
			s.metrics.RecordReconciliation(ctx, obsmetrics.OutcomeFailed, source)
			return nil, err
		}
		s.metrics.RecordReconciliation(ctx, obsmetrics.OutcomeCreated, source)
		s.log.Info("usage record created",
			zap.String("user_id", userID),
			zap.String("record_id", record.ID.String()),
			zap.String("tier", authoritative.Tier),
			zap.String("source", source),
			zap.Time("period_start", record.BillingPeriodStart),
			zap.Time("period_end", record.BillingPeriodEnd),
			zap.Int64("pages_limit", record.PagesLimit),
		)
		return record, nil
	}

	update := diffPeriod(existing, authoritative)
	if update.Empty() {
		s.metrics.RecordReconciliation(ctx, obsmetrics.OutcomeUnchanged, source)
		return existing, nil
	}
	update.UpdatedAt = now

	if err := s.repo.UpdatePeriod(ctx, s.db, update); err != nil {
		s.metrics.RecordReconciliation(ctx, obsmetrics.OutcomeFailed, source)
		return nil, err
	}
	s.metrics.RecordReconciliation(ctx, obsmetrics.OutcomeUpdated, source)

	if update.PagesLimit != nil && *update.PagesLimit < existing.PagesProcessed {
		s.log.Warn("usage record over limit after reconcile",
			zap.String("user_id", userID),
			zap.String("record_id", existing.ID.String()),
			zap.Int64("pages_processed", existing.PagesProcessed),
			zap.Int64("pages_limit", *update.PagesLimit),
		)
	}
	s.log.Info("usage record reconciled",
		zap.String("user_id", userID),
		zap.String("record_id", existing.ID.String()),
		zap.String("tier", authoritative.Tier),
		zap.String("source", source),
		zap.Time("period_start", authoritative.Start),
		zap.Time("period_end", authoritative.End),
		zap.Int64("pages_limit", authoritative.PagesLimit),
	)

	updated, err := s.repo.FindByID(ctx, s.db, existing.ID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, usagedomain.ErrUsageRecordNotFound
	}
	return updated, nil
}

// reconcileFallback serves a stored record when the authoritative period
// cannot be derived.
func (s *Service) reconcileFallback(ctx context.Context, userID string, referenceDate time.Time, deriveErr error) (*usagedomain.UsageRecord, error) {
	record, err := s.repo.FindByCalendarMonth(ctx, s.db, userID, referenceDate)
	if err == nil && record == nil {
		record, err = s.repo.FindCovering(ctx, s.db, userID, referenceDate)
	}
	if err != nil {
		s.log.Error("reconcile fallback lookup failed", zap.String("user_id", userID), zap.Error(err))
	}
	if record == nil {
		s.metrics.RecordReconciliation(ctx, obsmetrics.OutcomeFailed, "")
		return nil, fmt.Errorf("%w: %w", usagedomain.ErrReconciliationFailed, deriveErr)
	}

	s.metrics.RecordReconciliation(ctx, obsmetrics.OutcomeFallback, "")
	s.metrics.RecordDegradedRead(ctx, reasonOf(deriveErr))
	s.log.Warn("reconcile degraded, serving stored record",
		zap.String("user_id", userID),
		zap.String("record_id", record.ID.String()),
		zap.Error(deriveErr),
	)
	return record, nil
}

func (s *Service) GetCurrent(ctx context.Context, userID string) (*usagedomain.UsageRecord, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()

	covering, err := s.repo.FindCovering(ctx, s.db, userID, now)
	if err != nil {
		return nil, err
	}

	authoritative, err := s.deriver.Derive(ctx, userID, now)
	if err != nil {
		if covering == nil {
			return nil, fmt.Errorf("%w: %w", usagedomain.ErrUsageUnavailable, err)
		}
		s.metrics.RecordDegradedRead(ctx, reasonOf(err))
		s.log.Warn("usage read degraded, serving stored record",
			zap.String("user_id", userID),
			zap.String("record_id", covering.ID.String()),
			zap.Error(err),
		)
		return covering, nil
	}

	if authoritative.Matches(covering) {
		return covering, nil
	}
	return s.reconcile(ctx, userID, authoritative)
}

func (s *Service) CheckQuota(ctx context.Context, userID string, requestedPages int64) (usagedomain.QuotaResult, error) {
	if requestedPages < 0 {
		return usagedomain.QuotaResult{}, usagedomain.ErrInvalidPageCount
	}

	record, err := s.GetCurrent(ctx, userID)
	if err != nil {
		return usagedomain.QuotaResult{}, err
	}

	if s.bypass {
		s.metrics.RecordQuotaCheck(ctx, obsmetrics.OutcomeBypassed)
		return usagedomain.QuotaResult{
			HasQuota:  true,
			Remaining: math.MaxInt64,
			Bypassed:  true,
			Usage:     record,
		}, nil
	}

	remaining := record.Remaining()
	result := usagedomain.QuotaResult{
		HasQuota:  remaining >= requestedPages,
		Remaining: remaining,
		Usage:     record,
	}
	if result.HasQuota {
		s.metrics.RecordQuotaCheck(ctx, obsmetrics.OutcomeAllowed)
	} else {
		s.metrics.RecordQuotaCheck(ctx, obsmetrics.OutcomeDenied)
	}
	return result, nil
}

func (s *Service) Increment(ctx context.Context, userID string, pages int64) (*usagedomain.UsageRecord, error) {
	if pages <= 0 {
		return nil, usagedomain.ErrInvalidPageCount
	}

	record, err := s.GetCurrent(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !s.admits(record, pages) {
		s.metrics.RecordIncrementDenied(ctx, usagedomain.ErrPageLimitExceeded.Error())
		return nil, usagedomain.ErrPageLimitExceeded
	}

	now := s.clock.Now().UTC()
	matched, err := s.repo.IncrementPages(ctx, s.db, usagedomain.IncrementParams{
		ID:           record.ID,
		UserID:       record.UserID,
		Pages:        pages,
		At:           now,
		EnforceLimit: !s.bypass,
	})
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, s.classifyMissedIncrement(ctx, record, pages, now)
	}

	updated, err := s.repo.FindByID(ctx, s.db, record.ID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, usagedomain.ErrUsageRecordNotFound
	}

	s.metrics.RecordPagesConsumed(ctx, pages)
	s.log.Debug("pages recorded",
		zap.String("user_id", updated.UserID),
		zap.String("record_id", updated.ID.String()),
		zap.Int64("pages", pages),
		zap.Int64("pages_processed", updated.PagesProcessed),
		zap.Int64("pages_limit", updated.PagesLimit),
	)
	return updated, nil
}

// admits applies the page ceiling, or in bypass mode only the counter's
// int64 range.
func (s *Service) admits(record *usagedomain.UsageRecord, pages int64) bool {
	if s.bypass {
		return pages <= record.CounterRoom()
	}
	return record.Admits(pages)
}

// classifyMissedIncrement tells a concurrent increment that used up the
// allowance apart from a period that rolled over under the caller.
func (s *Service) classifyMissedIncrement(ctx context.Context, record *usagedomain.UsageRecord, pages int64, now time.Time) error {
	latest, err := s.repo.FindByID(ctx, s.db, record.ID)
	if err != nil {
		return err
	}
	if latest != nil && latest.Covers(now) && !s.admits(latest, pages) {
		s.metrics.RecordIncrementDenied(ctx, usagedomain.ErrPageLimitExceeded.Error())
		return usagedomain.ErrPageLimitExceeded
	}

	s.metrics.RecordIncrementDenied(ctx, usagedomain.ErrUsageRecordNotFound.Error())
	s.log.Info("usage record no longer current",
		zap.String("user_id", record.UserID),
		zap.String("record_id", record.ID.String()),
	)
	return usagedomain.ErrUsageRecordNotFound
}

func diffPeriod(record *usagedomain.UsageRecord, authoritative usagedomain.Period) usagedomain.PeriodUpdate {
	update := usagedomain.PeriodUpdate{ID: record.ID}
	if !record.BillingPeriodStart.Equal(authoritative.Start) {
		start := authoritative.Start
		update.BillingPeriodStart = &start
	}
	if !record.BillingPeriodEnd.Equal(authoritative.End) {
		end := authoritative.End
		update.BillingPeriodEnd = &end
	}
	if record.PagesLimit != authoritative.PagesLimit {
		limit := authoritative.PagesLimit
		update.PagesLimit = &limit
	}
	return update
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", usagedomain.ErrInvalidUser
	}
	return userID, nil
}

func reasonOf(err error) string {
	if errors.Is(err, usagedomain.ErrSnapshotUnavailable) {
		return usagedomain.ErrSnapshotUnavailable.Error()
	}
	return "derive_failed"
}
