package repository

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	usagedomain "github.com/smallbiznis/pagequota/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageRecord{}))
	return db
}

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func march(day, hour int) time.Time {
	return time.Date(2025, 3, day, hour, 0, 0, 0, time.UTC)
}

var (
	marchStart = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	marchEnd   = time.Date(2025, 3, 31, 23, 59, 59, 999_000_000, time.UTC)
)

func seed(t *testing.T, db *gorm.DB, node *snowflake.Node, userID string, start, end time.Time, processed, limit int64, updatedAt time.Time) *usagedomain.UsageRecord {
	t.Helper()
	record := &usagedomain.UsageRecord{
		ID:                 node.Generate(),
		UserID:             userID,
		BillingPeriodStart: start,
		BillingPeriodEnd:   end,
		PagesProcessed:     processed,
		PagesLimit:         limit,
		CreatedAt:          updatedAt,
		UpdatedAt:          updatedAt,
	}
	require.NoError(t, Provide().Insert(context.Background(), db, record))
	return record
}

func TestFindCovering(t *testing.T) {
	db := setupDB(t)
	node := newNode(t)
	r := Provide()
	ctx := context.Background()

	seed(t, db, node, "user-1", marchStart, marchEnd, 3, 100, march(1, 0))
	seed(t, db, node, "user-2", marchStart, marchEnd, 9, 100, march(1, 0))

	got, err := r.FindCovering(ctx, db, "user-1", march(15, 12))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, int64(3), got.PagesProcessed)
	assert.Equal(t, time.UTC, got.BillingPeriodStart.Location())

	// Inclusive bounds.
	got, err = r.FindCovering(ctx, db, "user-1", marchEnd)
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = r.FindCovering(ctx, db, "user-1", marchEnd.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = r.FindCovering(ctx, db, "user-3", march(15, 12))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindCoveringPrefersLatestDuplicate(t *testing.T) {
	db := setupDB(t)
	node := newNode(t)
	ctx := context.Background()

	seed(t, db, node, "user-1", marchStart, marchEnd, 1, 100, march(2, 0))
	newer := seed(t, db, node, "user-1", marchStart, marchEnd, 2, 100, march(5, 0))
	seed(t, db, node, "user-1", march(4, 0), march(4, 0).AddDate(0, 1, 0), 7, 500, march(3, 0))

	got, err := Provide().FindCovering(ctx, db, "user-1", march(10, 0))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.PagesProcessed, "most recently started period wins")

	got, err = Provide().FindCovering(ctx, db, "user-1", march(3, 0))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID, "same start falls back to most recently updated")
}

func TestFindByCalendarMonth(t *testing.T) {
	db := setupDB(t)
	node := newNode(t)
	r := Provide()
	ctx := context.Background()

	feb := seed(t, db, node, "user-1", time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), 4, 100, march(1, 0))
	mar := seed(t, db, node, "user-1", march(20, 0), time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC), 0, 100, march(20, 0))

	got, err := r.FindByCalendarMonth(ctx, db, "user-1", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, feb.ID, got.ID)

	got, err = r.FindByCalendarMonth(ctx, db, "user-1", march(31, 23))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, mar.ID, got.ID)

	got, err = r.FindByCalendarMonth(ctx, db, "user-1", time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdatePeriodLeavesCounter(t *testing.T) {
	db := setupDB(t)
	node := newNode(t)
	r := Provide()
	ctx := context.Background()

	record := seed(t, db, node, "user-1", marchStart, marchEnd, 80, 100, march(1, 0))
	limit := int64(500)
	require.NoError(t, r.UpdatePeriod(ctx, db, usagedomain.PeriodUpdate{
		ID:         record.ID,
		PagesLimit: &limit,
		UpdatedAt:  march(10, 0),
	}))

	got, err := r.FindByID(ctx, db, record.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.PagesLimit)
	assert.Equal(t, int64(80), got.PagesProcessed)
	assert.True(t, got.BillingPeriodStart.Equal(marchStart))
	assert.True(t, got.UpdatedAt.Equal(march(10, 0)))
}

func TestUpdatePeriodMissingRecord(t *testing.T) {
	db := setupDB(t)
	limit := int64(10)
	err := Provide().UpdatePeriod(context.Background(), db, usagedomain.PeriodUpdate{
		ID:         snowflake.ID(42),
		PagesLimit: &limit,
		UpdatedAt:  march(1, 0),
	})
	assert.ErrorIs(t, err, usagedomain.ErrUsageRecordNotFound)
}

func TestIncrementPages(t *testing.T) {
	db := setupDB(t)
	node := newNode(t)
	r := Provide()
	ctx := context.Background()

	record := seed(t, db, node, "user-1", marchStart, marchEnd, 95, 100, march(1, 0))
	params := usagedomain.IncrementParams{ID: record.ID, UserID: "user-1", Pages: 5, At: march(10, 0), EnforceLimit: true}

	ok, err := r.IncrementPages(ctx, db, params)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IncrementPages(ctx, db, usagedomain.IncrementParams{ID: record.ID, UserID: "user-1", Pages: 1, At: march(10, 0), EnforceLimit: true})
	require.NoError(t, err)
	assert.False(t, ok, "ceiling reached")

	ok, err = r.IncrementPages(ctx, db, usagedomain.IncrementParams{ID: record.ID, UserID: "user-2", Pages: 1, At: march(10, 0)})
	require.NoError(t, err)
	assert.False(t, ok, "wrong owner")

	ok, err = r.IncrementPages(ctx, db, usagedomain.IncrementParams{ID: record.ID, UserID: "user-1", Pages: 1, At: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.False(t, ok, "period rolled over")

	ok, err = r.IncrementPages(ctx, db, usagedomain.IncrementParams{ID: record.ID, UserID: "user-1", Pages: 3, At: march(10, 0)})
	require.NoError(t, err)
	assert.True(t, ok, "limit not enforced")

	got, err := r.FindByID(ctx, db, record.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(103), got.PagesProcessed)
}

func TestIncrementPagesHugeCountLeavesCounter(t *testing.T) {
	db := setupDB(t)
	node := newNode(t)
	r := Provide()
	ctx := context.Background()

	record := seed(t, db, node, "user-1", marchStart, marchEnd, 5, 100, march(1, 0))

	for _, enforce := range []bool{true, false} {
		ok, err := r.IncrementPages(ctx, db, usagedomain.IncrementParams{
			ID:           record.ID,
			UserID:       "user-1",
			Pages:        math.MaxInt64,
			At:           march(10, 0),
			EnforceLimit: enforce,
		})
		require.NoError(t, err)
		assert.False(t, ok, "enforce=%v", enforce)
	}

	got, err := r.FindByID(ctx, db, record.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.PagesProcessed)
}

func TestIncrementPagesConcurrentCeiling(t *testing.T) {
	db := setupDB(t)
	node := newNode(t)
	r := Provide()
	ctx := context.Background()

	record := seed(t, db, node, "user-1", marchStart, marchEnd, 90, 100, march(1, 0))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matched int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.IncrementPages(ctx, db, usagedomain.IncrementParams{
				ID: record.ID, UserID: "user-1", Pages: 1, At: march(10, 0), EnforceLimit: true,
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				matched++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, matched)
	got, err := r.FindByID(ctx, db, record.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.PagesProcessed)
}
