// Package domain contains the page usage ledger model.
package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageRecord tracks page consumption for one user over one billing period.
// Period bounds are inclusive.
type UsageRecord struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID             string       `gorm:"type:text;not null;index:idx_page_usage_user_period,priority:1" json:"user_id"`
	BillingPeriodStart time.Time    `gorm:"not null;index:idx_page_usage_user_period,priority:2,sort:desc" json:"billing_period_start"`
	BillingPeriodEnd   time.Time    `gorm:"not null" json:"billing_period_end"`
	PagesProcessed     int64        `gorm:"not null;default:0" json:"pages_processed"`
	PagesLimit         int64        `gorm:"not null" json:"pages_limit"`
	CreatedAt          time.Time    `gorm:"not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;autoUpdateTime:false;index:idx_page_usage_user_period,priority:3,sort:desc" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "page_usage" }

// Covers reports whether t falls inside the record's billing period.
func (r *UsageRecord) Covers(t time.Time) bool {
	if r == nil {
		return false
	}
	return !t.Before(r.BillingPeriodStart) && !t.After(r.BillingPeriodEnd)
}

// Remaining may be negative when a downgrade lowered the limit below what
// was already consumed.
func (r *UsageRecord) Remaining() int64 {
	return r.PagesLimit - r.PagesProcessed
}

// Admits reports whether pages more fit under the limit. The comparison is
// done against Remaining so very large page counts cannot wrap around.
func (r *UsageRecord) Admits(pages int64) bool {
	return pages <= r.Remaining()
}

// CounterRoom is how many pages the counter can still take before int64
// overflow.
func (r *UsageRecord) CounterRoom() int64 {
	return math.MaxInt64 - r.PagesProcessed
}

type PeriodSource string

const (
	PeriodSourceSubscription  PeriodSource = "subscription"
	PeriodSourceCalendarMonth PeriodSource = "calendar_month"
)

// Period is the authoritative billing window and allowance for a user at a
// reference instant.
type Period struct {
	Start      time.Time
	End        time.Time
	Tier       string
	PagesLimit int64
	Source     PeriodSource
}

// Matches reports whether record already carries this period and limit.
func (p Period) Matches(record *UsageRecord) bool {
	if record == nil {
		return false
	}
	return record.BillingPeriodStart.Equal(p.Start) &&
		record.BillingPeriodEnd.Equal(p.End) &&
		record.PagesLimit == p.PagesLimit
}

// QuotaResult answers whether a job of the requested size fits the remaining
// allowance.
type QuotaResult struct {
	HasQuota  bool         `json:"has_quota"`
	Remaining int64        `json:"remaining"`
	Bypassed  bool         `json:"bypassed"`
	Usage     *UsageRecord `json:"usage"`
}

// PeriodUpdate carries the reconcilable fields of a record. Nil fields are
// left untouched. The page counter is deliberately absent.
type PeriodUpdate struct {
	ID                 snowflake.ID
	BillingPeriodStart *time.Time
	BillingPeriodEnd   *time.Time
	PagesLimit         *int64
	UpdatedAt          time.Time
}

// Empty reports whether the update changes nothing.
func (u PeriodUpdate) Empty() bool {
	return u.BillingPeriodStart == nil && u.BillingPeriodEnd == nil && u.PagesLimit == nil
}

// IncrementParams describes a conditional counter increase. The row must
// belong to UserID and cover At; with EnforceLimit the result must also stay
// within pages_limit.
type IncrementParams struct {
	ID           snowflake.ID
	UserID       string
	Pages        int64
	At           time.Time
	EnforceLimit bool
}
