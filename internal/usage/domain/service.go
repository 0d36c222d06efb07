package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// Reconcile brings the user's ledger record for the period containing
	// referenceDate in line with the authoritative period, creating it when
	// missing. The page counter is never modified.
	Reconcile(ctx context.Context, userID string, referenceDate time.Time) (*UsageRecord, error)
	// GetCurrent returns the record for the period covering now.
	GetCurrent(ctx context.Context, userID string) (*UsageRecord, error)
	CheckQuota(ctx context.Context, userID string, requestedPages int64) (QuotaResult, error)
	Increment(ctx context.Context, userID string, pages int64) (*UsageRecord, error)
}

// PeriodDeriver computes the authoritative period for a user at now.
type PeriodDeriver interface {
	Derive(ctx context.Context, userID string, now time.Time) (Period, error)
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UsageRecord, error)
	FindCovering(ctx context.Context, db *gorm.DB, userID string, at time.Time) (*UsageRecord, error)
	FindByCalendarMonth(ctx context.Context, db *gorm.DB, userID string, ref time.Time) (*UsageRecord, error)
	Insert(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	UpdatePeriod(ctx context.Context, db *gorm.DB, update PeriodUpdate) error
	IncrementPages(ctx context.Context, db *gorm.DB, params IncrementParams) (bool, error)
}

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidPageCount     = errors.New("invalid_page_count")
	ErrSnapshotUnavailable  = errors.New("snapshot_unavailable")
	ErrReconciliationFailed = errors.New("reconciliation_failed")
	ErrUsageUnavailable     = errors.New("usage_unavailable")
	ErrPageLimitExceeded    = errors.New("page_limit_exceeded")
	ErrUsageRecordNotFound  = errors.New("usage_record_not_found")
)
