package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/pagequota/internal/cache"
	"github.com/smallbiznis/pagequota/internal/clock"
	"github.com/smallbiznis/pagequota/internal/config"
	"github.com/smallbiznis/pagequota/internal/migration"
	"github.com/smallbiznis/pagequota/internal/observability"
	"github.com/smallbiznis/pagequota/internal/plan"
	"github.com/smallbiznis/pagequota/internal/profile"
	profiledomain "github.com/smallbiznis/pagequota/internal/profile/domain"
	"github.com/smallbiznis/pagequota/internal/server"
	"github.com/smallbiznis/pagequota/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/pagequota/internal/subscription/domain"
	"github.com/smallbiznis/pagequota/internal/usage"
	"github.com/smallbiznis/pagequota/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type testEnv struct {
	app      *fx.App
	db       *gorm.DB
	redis    *miniredis.Miniredis
	subs     subscriptiondomain.Service
	profiles profiledomain.Service
	baseURL  string
	httpSrv  *httptest.Server
	tmpDir   string
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func startEnv() (*testEnv, error) {
	tmpDir, err := os.MkdirTemp("", "pagequota-e2e")
	if err != nil {
		return nil, err
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, err
	}

	setDefaultEnv(map[string]string{
		"ENVIRONMENT":    "test",
		"LOG_LEVEL":      "error",
		"OTEL_ENABLED":   "false",
		"HTTP_ADDR":      "127.0.0.1:0",
		"DATABASE_TYPE":  db.DialectSQLite,
		"DATABASE_NAME":  filepath.Join(tmpDir, "pagequota.db"),
		"CACHE_DRIVER":   config.CacheDriverRedis,
		"REDIS_ADDR":     mr.Addr(),
		"SNOWFLAKE_NODE": "7",
	})

	var (
		engine   *gin.Engine
		dbConn   *gorm.DB
		subs     subscriptiondomain.Service
		profiles profiledomain.Service
	)

	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.SnowflakeNode)
		}),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		plan.Module,
		subscription.Module,
		profile.Module,
		usage.Module,
		server.Module,
		fx.Populate(&engine, &dbConn, &subs, &profiles),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		mr.Close()
		return nil, err
	}

	httpSrv := httptest.NewServer(engine)

	return &testEnv{
		app:      app,
		db:       dbConn,
		redis:    mr,
		subs:     subs,
		profiles: profiles,
		baseURL:  httpSrv.URL,
		httpSrv:  httpSrv,
		tmpDir:   tmpDir,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
	if e.redis != nil {
		e.redis.Close()
	}
	_ = os.RemoveAll(e.tmpDir)
}

func setDefaultEnv(values map[string]string) {
	for key, value := range values {
		if strings.TrimSpace(os.Getenv(key)) != "" {
			continue
		}
		_ = os.Setenv(key, value)
	}
}

func resetState(t *testing.T) {
	t.Helper()
	for _, table := range []string{"page_usage", "subscription_snapshots", "profiles"} {
		if err := env.db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
	env.redis.FlushAll()
}

type usageBody struct {
	Data struct {
		ID                 string    `json:"id"`
		PagesProcessed     int64     `json:"pages_processed"`
		PagesLimit         int64     `json:"pages_limit"`
		BillingPeriodStart time.Time `json:"billing_period_start"`
		BillingPeriodEnd   time.Time `json:"billing_period_end"`
	} `json:"data"`
}

type quotaBody struct {
	Data struct {
		HasQuota  bool  `json:"has_quota"`
		Remaining int64 `json:"remaining"`
		Bypassed  bool  `json:"bypassed"`
	} `json:"data"`
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_ProfileTierQuotaLifecycle(t *testing.T) {
	resetState(t)
	userID := "e2e-starter"
	if err := env.profiles.SetMembership(context.Background(), userID, "starter"); err != nil {
		t.Fatalf("set membership: %v", err)
	}

	var quota quotaBody
	resp := doJSON(t, http.MethodPost, usageURL(userID, "/check"), map[string]any{"pages": 5}, &quota)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for check, got %d", resp.StatusCode)
	}
	if !quota.Data.HasQuota || quota.Data.Remaining != 100 {
		t.Fatalf("expected quota with 100 remaining, got %+v", quota.Data)
	}

	resp = doJSON(t, http.MethodPost, usageURL(userID, "/increment"), map[string]any{"pages": 5}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for increment, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, usageURL(userID, "/increment"), map[string]any{"pages": 96}, nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected status 402 for over-limit increment, got %d", resp.StatusCode)
	}

	var current usageBody
	resp = doJSON(t, http.MethodGet, usageURL(userID, ""), nil, &current)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for usage, got %d", resp.StatusCode)
	}
	if current.Data.PagesProcessed != 5 || current.Data.PagesLimit != 100 {
		t.Fatalf("expected 5/100 pages, got %d/%d", current.Data.PagesProcessed, current.Data.PagesLimit)
	}
	if count := countRows(t, "page_usage", "user_id = ?", userID); count != 1 {
		t.Fatalf("expected one usage record, got %d", count)
	}
}

func TestE2E_SubscriptionUpgradeKeepsCounter(t *testing.T) {
	resetState(t)
	userID := "e2e-upgrade"

	resp := doJSON(t, http.MethodPost, usageURL(userID, "/increment"), map[string]any{"pages": 20}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for increment, got %d", resp.StatusCode)
	}

	now := time.Now().UTC()
	start := now.Add(-72 * time.Hour).Truncate(time.Second)
	end := now.Add(27 * 24 * time.Hour).Truncate(time.Second)
	if err := env.subs.Apply(context.Background(), subscriptiondomain.Snapshot{
		UserID:             userID,
		CustomerID:         "cus_e2e",
		Status:             subscriptiondomain.SubscriptionStatusActive,
		PlanID:             "growth",
		CurrentPeriodStart: start.Unix(),
		CurrentPeriodEnd:   end.Unix(),
	}); err != nil {
		t.Fatalf("apply snapshot: %v", err)
	}

	var current usageBody
	resp = doJSON(t, http.MethodGet, usageURL(userID, ""), nil, &current)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for usage, got %d", resp.StatusCode)
	}
	if current.Data.PagesLimit != 500 {
		t.Fatalf("expected growth allowance 500, got %d", current.Data.PagesLimit)
	}
	if !current.Data.BillingPeriodEnd.Equal(end) {
		t.Fatalf("expected period end %s, got %s", end, current.Data.BillingPeriodEnd)
	}

	// A period starting in the previous month opens a new record; otherwise
	// the counter carries over.
	wantPages := int64(20)
	if start.Month() != now.Month() {
		wantPages = 0
	}
	if current.Data.PagesProcessed != wantPages {
		t.Fatalf("expected %d pages after upgrade, got %d", wantPages, current.Data.PagesProcessed)
	}
}

func TestE2E_ValidationErrors(t *testing.T) {
	resetState(t)

	resp := doJSON(t, http.MethodPost, usageURL("e2e-invalid", "/increment"), map[string]any{"pages": 0}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for zero pages, got %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, usageURL("e2e-invalid", "/check"), map[string]any{"pages": -3}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for negative pages, got %d", resp.StatusCode)
	}
}

func usageURL(userID, suffix string) string {
	return env.baseURL + "/api/v1/users/" + userID + "/usage" + suffix
}

func countRows(t *testing.T, table, where string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := env.db.Table(table).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func doJSON(t *testing.T, method, reqURL string, payload any, out any) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if out != nil && resp.StatusCode < http.StatusBadRequest {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode response: %v: %s", err, string(data))
		}
	}
	return resp
}
