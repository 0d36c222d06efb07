// Package period derives the authoritative billing period for a user.
package period

import (
	"strings"
	"time"

	"github.com/smallbiznis/pagequota/internal/plan"
	subscriptiondomain "github.com/smallbiznis/pagequota/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/pagequota/internal/usage/domain"
)

// CalendarMonth returns the UTC month containing t, from its first instant
// to its last millisecond.
func CalendarMonth(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Millisecond)
	return start, end
}

// Resolve applies the precedence rules to already-fetched inputs:
// an active subscription whose period covers now wins outright; otherwise
// the calendar month of now applies, billed at the subscription plan when
// the subscription is active, else at the membership tier, else at the
// default tier. membership may be empty.
func Resolve(now time.Time, snapshot *subscriptiondomain.Snapshot, membership string, catalog plan.Catalog) usagedomain.Period {
	now = now.UTC()

	if start, end, ok := subscriptionPeriod(now, snapshot); ok {
		tier, limit := catalog.Resolve(snapshot.PlanID)
		return usagedomain.Period{
			Start:      start,
			End:        end,
			Tier:       tier,
			PagesLimit: limit,
			Source:     usagedomain.PeriodSourceSubscription,
		}
	}

	tier := membership
	if planID, ok := activePlan(snapshot); ok {
		tier = planID
	}
	tier, limit := catalog.Resolve(tier)

	start, end := CalendarMonth(now)
	return usagedomain.Period{
		Start:      start,
		End:        end,
		Tier:       tier,
		PagesLimit: limit,
		Source:     usagedomain.PeriodSourceCalendarMonth,
	}
}

// NeedsMembership reports whether Resolve would consult the membership tier.
func NeedsMembership(now time.Time, snapshot *subscriptiondomain.Snapshot) bool {
	if _, _, ok := subscriptionPeriod(now.UTC(), snapshot); ok {
		return false
	}
	_, ok := activePlan(snapshot)
	return !ok
}

func subscriptionPeriod(now time.Time, snapshot *subscriptiondomain.Snapshot) (time.Time, time.Time, bool) {
	if !snapshot.IsActive() {
		return time.Time{}, time.Time{}, false
	}
	start, end, ok := snapshot.Period()
	if !ok || now.Before(start) || now.After(end) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func activePlan(snapshot *subscriptiondomain.Snapshot) (string, bool) {
	if !snapshot.IsActive() {
		return "", false
	}
	planID := strings.TrimSpace(snapshot.PlanID)
	if planID == "" {
		return "", false
	}
	return planID, true
}
