package repository

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/pagequota/internal/usage/domain"
	"github.com/smallbiznis/pagequota/internal/usage/period"
	"gorm.io/gorm"
)

// Duplicate rows for the same window are tolerated; the newest period,
// then the most recently touched row, wins.
const latestFirst = "billing_period_start DESC, updated_at DESC, id DESC"

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*usagedomain.UsageRecord, error) {
	var record usagedomain.UsageRecord
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Take(&record).Error
	return found(&record, err)
}

func (r *repo) FindCovering(ctx context.Context, db *gorm.DB, userID string, at time.Time) (*usagedomain.UsageRecord, error) {
	at = at.UTC()
	var record usagedomain.UsageRecord
	err := db.WithContext(ctx).
		Where("user_id = ? AND billing_period_start <= ? AND billing_period_end >= ?", userID, at, at).
		Order(latestFirst).
		First(&record).Error
	return found(&record, err)
}

func (r *repo) FindByCalendarMonth(ctx context.Context, db *gorm.DB, userID string, ref time.Time) (*usagedomain.UsageRecord, error) {
	monthStart, monthEnd := period.CalendarMonth(ref)
	var record usagedomain.UsageRecord
	err := db.WithContext(ctx).
		Where("user_id = ? AND billing_period_start >= ? AND billing_period_start <= ?", userID, monthStart, monthEnd).
		Order(latestFirst).
		First(&record).Error
	return found(&record, err)
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) error {
	if record == nil {
		return errors.New("missing_usage_record")
	}
	normalize(record)
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) UpdatePeriod(ctx context.Context, db *gorm.DB, update usagedomain.PeriodUpdate) error {
	if update.Empty() {
		return nil
	}

	fields := map[string]any{
		"updated_at": update.UpdatedAt.UTC(),
	}
	if update.BillingPeriodStart != nil {
		fields["billing_period_start"] = update.BillingPeriodStart.UTC()
	}
	if update.BillingPeriodEnd != nil {
		fields["billing_period_end"] = update.BillingPeriodEnd.UTC()
	}
	if update.PagesLimit != nil {
		fields["pages_limit"] = *update.PagesLimit
	}

	result := db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Where("id = ?", update.ID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return usagedomain.ErrUsageRecordNotFound
	}
	return nil
}

// IncrementPages adds to the counter in a single statement so concurrent
// increments cannot overshoot the limit. It reports whether a row matched.
func (r *repo) IncrementPages(ctx context.Context, db *gorm.DB, params usagedomain.IncrementParams) (bool, error) {
	at := params.At.UTC()
	query := `UPDATE page_usage
		 SET pages_processed = pages_processed + ?,
		     updated_at = ?
		 WHERE id = ?
		   AND user_id = ?
		   AND billing_period_start <= ?
		   AND billing_period_end >= ?`
	args := []any{params.Pages, at, params.ID, params.UserID, at, at}
	if params.EnforceLimit {
		query += `
		   AND pages_processed <= pages_limit - ?`
		args = append(args, params.Pages)
	} else {
		query += `
		   AND pages_processed <= ?`
		args = append(args, int64(math.MaxInt64)-params.Pages)
	}

	result := db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func found(record *usagedomain.UsageRecord, err error) (*usagedomain.UsageRecord, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	normalize(record)
	return record, nil
}

func normalize(record *usagedomain.UsageRecord) {
	record.BillingPeriodStart = record.BillingPeriodStart.UTC()
	record.BillingPeriodEnd = record.BillingPeriodEnd.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
}
