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

// Pricing is the per-mode cost table the coordinator consults before
// every charge. Costs are whole credits.
type Pricing struct {
	Costs map[string]int64 `mapstructure:"costs"`
}

func DefaultPricing() Pricing {
	return Pricing{
		Costs: map[string]int64{
			"exact": 1,
			"fuzzy": 2,
		},
	}
}

// CostFor returns the configured cost for a search mode.
func (p Pricing) CostFor(mode string) (int64, bool) {
	cost, ok := p.Costs[strings.ToLower(strings.TrimSpace(mode))]
	return cost, ok
}

// PricingHolder serves the current pricing table and hot-reloads it when
// pricing.yml changes on disk. Invalid reloads are ignored.
type PricingHolder struct {
	current atomic.Value // holds Pricing
}

// NewPricingHolder loads pricing.yml from the usual config locations and
// watches it for changes. A missing file falls back to defaults.
func NewPricingHolder(log *zap.Logger) (*PricingHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.pricing")

	v := viper.New()
	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/bloxscout/config")
	v.AddConfigPath("/etc/bloxscout")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BLOXSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	usingDefaults := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		usingDefaults = true
		defaults := DefaultPricing()
		v.SetDefault("pricing.costs", defaults.Costs)
	}

	var cfg Pricing
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePricing(cfg); err != nil {
		return nil, err
	}

	holder := &PricingHolder{}
	holder.current.Store(cfg)

	if !usingDefaults {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated Pricing
			if err := v.UnmarshalKey("pricing", &updated); err != nil {
				log.Warn("pricing reload failed", zap.Error(err))
				return
			}
			if err := validatePricing(updated); err != nil {
				log.Warn("invalid pricing ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("pricing reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

// NewStaticPricingHolder wraps a fixed table, for tests.
func NewStaticPricingHolder(p Pricing) (*PricingHolder, error) {
	if err := validatePricing(p); err != nil {
		return nil, err
	}
	holder := &PricingHolder{}
	holder.current.Store(p)
	return holder, nil
}

func (h *PricingHolder) Get() Pricing {
	return h.current.Load().(Pricing)
}

func validatePricing(cfg Pricing) error {
	if len(cfg.Costs) == 0 {
		return errors.New("pricing.costs cannot be empty")
	}
	for mode, cost := range cfg.Costs {
		if strings.TrimSpace(mode) == "" {
			return errors.New("pricing.costs contains an empty mode")
		}
		if cost < 1 {
			return fmt.Errorf("pricing.costs.%s must be at least 1 credit", mode)
		}
	}
	return nil
}
