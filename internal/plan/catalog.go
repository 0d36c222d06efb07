// Package plan resolves membership tiers to monthly page allowances.
package plan

import (
	"github.com/smallbiznis/pagequota/internal/config"
)

// Catalog answers allowance lookups against the live plan config.
type Catalog interface {
	// PageAllowance returns the tier's allowance, falling back to the
	// default tier for unknown or empty names.
	PageAllowance(tier string) int64
	// Resolve returns the canonical tier name and its allowance.
	Resolve(tier string) (string, int64)
	DefaultTier() string
}

type catalog struct {
	plans *config.PlanConfigHolder
}

func NewCatalog(plans *config.PlanConfigHolder) Catalog {
	return &catalog{plans: plans}
}

func (c *catalog) PageAllowance(tier string) int64 {
	_, allowance := c.Resolve(tier)
	return allowance
}

func (c *catalog) Resolve(tier string) (string, int64) {
	cfg := c.plans.Get()
	name := config.NormalizeTier(tier)
	if allowance, ok := cfg.Tiers[name]; ok && name != "" {
		return name, allowance
	}
	return cfg.DefaultTier, cfg.Tiers[cfg.DefaultTier]
}

func (c *catalog) DefaultTier() string {
	return c.plans.Get().DefaultTier
}
