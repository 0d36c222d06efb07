package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Service answers snapshot reads for the usage engine.
type Service interface {
	// GetSnapshot returns nil, nil when the user has no subscription.
	GetSnapshot(ctx context.Context, userID string) (*Snapshot, error)
	// Apply stores a provider update and drops any cached copy.
	Apply(ctx context.Context, snapshot Snapshot) error
}

type Repository interface {
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Snapshot, error)
	Upsert(ctx context.Context, db *gorm.DB, snapshot *Snapshot) error
}

var (
	ErrInvalidUser   = errors.New("invalid_user")
	ErrInvalidStatus = errors.New("invalid_status")
	ErrInvalidPeriod = errors.New("invalid_period")
	ErrSnapshotFetch = errors.New("snapshot_fetch_failed")
)
