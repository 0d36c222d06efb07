package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PlanConfig maps membership tiers to their monthly page allowance.
type PlanConfig struct {
	DefaultTier string           `mapstructure:"defaultTier"`
	Tiers       map[string]int64 `mapstructure:"tiers"`
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		DefaultTier: "free",
		Tiers: map[string]int64{
			"free":     25,
			"starter":  100,
			"growth":   500,
			"business": 2500,
		},
	}
}

type PlanConfigHolder struct {
	current atomic.Value // holds PlanConfig
}

// NewStaticPlanConfigHolder wraps a fixed plan config without file watching.
func NewStaticPlanConfigHolder(cfg PlanConfig) (*PlanConfigHolder, error) {
	cfg = normalizePlanConfig(cfg)
	if err := validatePlanConfig(cfg); err != nil {
		return nil, err
	}
	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewPlanConfigHolder(appCfg Config, log *zap.Logger) (*PlanConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.plans")

	v := viper.New()

	if appCfg.PlansConfigPath != "" {
		v.SetConfigFile(appCfg.PlansConfigPath)
	} else {
		v.SetConfigName("plans")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/pagequota")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PAGEQUOTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPlanConfig()
	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
		v.SetDefault("plans.defaultTier", defaults.DefaultTier)
		v.SetDefault("plans.tiers", defaults.Tiers)
		log.Info("plans config not found, using built-in allowances")
	}

	cfg, err := readPlanConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)

	if fileLoaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := readPlanConfig(v)
			if err != nil {
				log.Warn("plans config reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("plans config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *PlanConfigHolder) Get() PlanConfig {
	return h.current.Load().(PlanConfig)
}

func readPlanConfig(v *viper.Viper) (PlanConfig, error) {
	var cfg PlanConfig
	if err := v.UnmarshalKey("plans", &cfg); err != nil {
		return PlanConfig{}, err
	}
	cfg = normalizePlanConfig(cfg)
	if err := validatePlanConfig(cfg); err != nil {
		return PlanConfig{}, err
	}
	return cfg, nil
}

func normalizePlanConfig(cfg PlanConfig) PlanConfig {
	tiers := make(map[string]int64, len(cfg.Tiers))
	for name, allowance := range cfg.Tiers {
		tiers[NormalizeTier(name)] = allowance
	}
	return PlanConfig{
		DefaultTier: NormalizeTier(cfg.DefaultTier),
		Tiers:       tiers,
	}
}

// NormalizeTier canonicalizes a tier name for lookups.
func NormalizeTier(tier string) string {
	return strings.ToLower(strings.TrimSpace(tier))
}

func validatePlanConfig(cfg PlanConfig) error {
	if cfg.DefaultTier == "" {
		return errors.New("plans.defaultTier cannot be empty")
	}
	if len(cfg.Tiers) == 0 {
		return errors.New("plans.tiers cannot be empty")
	}
	if _, ok := cfg.Tiers[cfg.DefaultTier]; !ok {
		return fmt.Errorf("plans.defaultTier %q has no allowance", cfg.DefaultTier)
	}
	for name, allowance := range cfg.Tiers {
		if name == "" {
			return errors.New("plans.tiers contains an empty tier name")
		}
		if allowance <= 0 {
			return fmt.Errorf("plans.tiers.%s must be positive", name)
		}
	}
	return nil
}
