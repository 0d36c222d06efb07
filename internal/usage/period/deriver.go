package period

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/pagequota/internal/plan"
	profiledomain "github.com/smallbiznis/pagequota/internal/profile/domain"
	subscriptiondomain "github.com/smallbiznis/pagequota/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/pagequota/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type DeriverParam struct {
	fx.In

	Log           *zap.Logger
	Subscriptions subscriptiondomain.Service
	Profiles      profiledomain.Service
	Catalog       plan.Catalog
}

type Deriver struct {
	log           *zap.Logger
	subscriptions subscriptiondomain.Service
	profiles      profiledomain.Service
	catalog       plan.Catalog
}

func NewDeriver(p DeriverParam) usagedomain.PeriodDeriver {
	return &Deriver{
		log:           p.Log.Named("usage.period"),
		subscriptions: p.Subscriptions,
		profiles:      p.Profiles,
		catalog:       p.Catalog,
	}
}

// Derive fetches the user's subscription snapshot and, when needed, their
// membership tier, then resolves the period at now. A snapshot fetch
// failure is returned as ErrSnapshotUnavailable. A membership lookup
// failure falls back to the default tier.
func (d *Deriver) Derive(ctx context.Context, userID string, now time.Time) (usagedomain.Period, error) {
	snapshot, err := d.subscriptions.GetSnapshot(ctx, userID)
	if err != nil {
		return usagedomain.Period{}, fmt.Errorf("%w: %w", usagedomain.ErrSnapshotUnavailable, err)
	}

	var membership string
	if NeedsMembership(now, snapshot) && d.profiles != nil {
		tier, ok, err := d.profiles.GetMembership(ctx, userID)
		switch {
		case err != nil:
			d.log.Warn("membership lookup failed, using default tier",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		case ok:
			membership = tier
		}
	}

	return Resolve(now, snapshot, membership, d.catalog), nil
}
