package repository

import (
	"context"

	"github.com/smallbiznis/pagequota/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a minimal generic gorm store keyed by struct filters.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	// Save inserts or replaces resource by primary key.
	Save(ctx context.Context, resource *T) error
}
