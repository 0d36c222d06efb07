package domain

import (
	"context"
	"errors"
	"time"
)

// Profile carries the membership tier assigned to a user outside of billing,
// e.g. by support or a promotion.
type Profile struct {
	UserID     string    `gorm:"primaryKey;type:text" json:"user_id"`
	Membership string    `gorm:"type:text" json:"membership"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

type Service interface {
	// GetMembership returns the stored tier and whether one is set.
	GetMembership(ctx context.Context, userID string) (string, bool, error)
	SetMembership(ctx context.Context, userID, membership string) error
}

var ErrInvalidUser = errors.New("invalid_user")
