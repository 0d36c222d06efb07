package repository

import (
	"context"
	"errors"

	subscriptiondomain "github.com/smallbiznis/pagequota/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*subscriptiondomain.Snapshot, error) {
	var snapshot subscriptiondomain.Snapshot
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	snapshot.UpdatedAt = snapshot.UpdatedAt.UTC()
	return &snapshot, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, snapshot *subscriptiondomain.Snapshot) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"customer_id",
				"status",
				"plan_id",
				"current_period_start",
				"current_period_end",
				"updated_at",
			}),
		}).
		Create(snapshot).Error
}
