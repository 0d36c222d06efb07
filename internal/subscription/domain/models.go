// Package domain contains the subscription snapshot read model.
package domain

import (
	"strings"
	"time"
)

// SubscriptionStatus mirrors the status reported by the billing provider.
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusNone       SubscriptionStatus = "none"
)

// Snapshot is the latest known subscription state for a user, as written by
// the billing webhook consumer. Period bounds are epoch seconds; zero means
// the provider did not send them.
type Snapshot struct {
	UserID             string             `gorm:"primaryKey;type:text" json:"user_id"`
	CustomerID         string             `gorm:"type:text" json:"customer_id"`
	Status             SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	PlanID             string             `gorm:"type:text" json:"plan_id"`
	CurrentPeriodStart int64              `gorm:"not null;default:0" json:"current_period_start"`
	CurrentPeriodEnd   int64              `gorm:"not null;default:0" json:"current_period_end"`
	UpdatedAt          time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Snapshot) TableName() string { return "subscription_snapshots" }

// IsActive reports whether the status grants plan benefits.
func (s *Snapshot) IsActive() bool {
	if s == nil {
		return false
	}
	switch SubscriptionStatus(strings.ToLower(strings.TrimSpace(string(s.Status)))) {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		return true
	default:
		return false
	}
}

// Period returns the provider billing window in UTC when both bounds are set.
func (s *Snapshot) Period() (time.Time, time.Time, bool) {
	if s == nil || s.CurrentPeriodStart <= 0 || s.CurrentPeriodEnd <= 0 {
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(s.CurrentPeriodStart, 0).UTC(), time.Unix(s.CurrentPeriodEnd, 0).UTC(), true
}
