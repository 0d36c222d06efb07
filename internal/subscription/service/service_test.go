package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/pagequota/internal/cache"
	"github.com/smallbiznis/pagequota/internal/clock"
	subscriptiondomain "github.com/smallbiznis/pagequota/internal/subscription/domain"
	"github.com/smallbiznis/pagequota/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&subscriptiondomain.Snapshot{}))

	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := &Service{
		db:    db,
		log:   zaptest.NewLogger(t),
		clock: clk,
		repo:  repository.Provide(),
		cache: cache.NewMemorySnapshotCache(100, time.Minute),
	}
	return svc, db, clk
}

func TestGetSnapshotNoSubscription(t *testing.T) {
	svc, _, _ := setupService(t)

	snap, err := svc.GetSnapshot(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestGetSnapshotRejectsBlankUser(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.GetSnapshot(context.Background(), "  ")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidUser)
}

func TestApplyThenGetSnapshot(t *testing.T) {
	svc, _, clk := setupService(t)
	ctx := context.Background()

	err := svc.Apply(ctx, subscriptiondomain.Snapshot{
		UserID:             "user-1",
		Status:             "Active",
		PlanID:             " starter ",
		CurrentPeriodStart: 1741046400,
		CurrentPeriodEnd:   1743724800,
	})
	require.NoError(t, err)

	snap, err := svc.GetSnapshot(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, snap.Status)
	assert.Equal(t, "starter", snap.PlanID)
	assert.True(t, snap.IsActive())
	assert.True(t, snap.UpdatedAt.Equal(clk.Now()))

	start, end, ok := snap.Period()
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 4, 4, 0, 0, 0, 0, time.UTC), end)
}

func TestApplyInvalidatesCachedSnapshot(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	// Cache a negative read first.
	snap, err := svc.GetSnapshot(ctx, "user-1")
	require.NoError(t, err)
	require.Nil(t, snap)

	require.NoError(t, svc.Apply(ctx, subscriptiondomain.Snapshot{
		UserID: "user-1",
		Status: subscriptiondomain.SubscriptionStatusTrialing,
		PlanID: "growth",
	}))

	snap, err = svc.GetSnapshot(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "growth", snap.PlanID)

	require.NoError(t, svc.Apply(ctx, subscriptiondomain.Snapshot{
		UserID: "user-1",
		Status: subscriptiondomain.SubscriptionStatusCanceled,
		PlanID: "growth",
	}))
	snap, err = svc.GetSnapshot(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, snap.IsActive())
}

func TestApplyValidation(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		snapshot subscriptiondomain.Snapshot
		want     error
	}{
		{"missing user", subscriptiondomain.Snapshot{Status: "active"}, subscriptiondomain.ErrInvalidUser},
		{"missing status", subscriptiondomain.Snapshot{UserID: "u"}, subscriptiondomain.ErrInvalidStatus},
		{"negative bound", subscriptiondomain.Snapshot{UserID: "u", Status: "active", CurrentPeriodStart: -1}, subscriptiondomain.ErrInvalidPeriod},
		{"inverted window", subscriptiondomain.Snapshot{UserID: "u", Status: "active", CurrentPeriodStart: 200, CurrentPeriodEnd: 100}, subscriptiondomain.ErrInvalidPeriod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Apply(ctx, tc.snapshot)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGetSnapshotStoreFailure(t *testing.T) {
	svc, db, _ := setupService(t)
	require.NoError(t, db.Migrator().DropTable(&subscriptiondomain.Snapshot{}))

	_, err := svc.GetSnapshot(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, subscriptiondomain.ErrSnapshotFetch))
}
