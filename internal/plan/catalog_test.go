package plan

import (
	"testing"

	"github.com/smallbiznis/pagequota/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogResolve(t *testing.T) {
	holder, err := config.NewStaticPlanConfigHolder(config.DefaultPlanConfig())
	require.NoError(t, err)
	c := NewCatalog(holder)

	tests := []struct {
		tier      string
		wantTier  string
		allowance int64
	}{
		{"starter", "starter", 100},
		{" Growth ", "growth", 500},
		{"BUSINESS", "business", 2500},
		{"free", "free", 25},
		{"", "free", 25},
		{"enterprise", "free", 25},
	}
	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			name, allowance := c.Resolve(tt.tier)
			assert.Equal(t, tt.wantTier, name)
			assert.Equal(t, tt.allowance, allowance)
			assert.Equal(t, tt.allowance, c.PageAllowance(tt.tier))
		})
	}
	assert.Equal(t, "free", c.DefaultTier())
}

func TestCatalogCustomDefault(t *testing.T) {
	holder, err := config.NewStaticPlanConfigHolder(config.PlanConfig{
		DefaultTier: "basic",
		Tiers:       map[string]int64{"basic": 10, "pro": 1000},
	})
	require.NoError(t, err)
	c := NewCatalog(holder)

	assert.Equal(t, int64(10), c.PageAllowance("unknown"))
	assert.Equal(t, int64(1000), c.PageAllowance("pro"))
	assert.Equal(t, "basic", c.DefaultTier())
}
