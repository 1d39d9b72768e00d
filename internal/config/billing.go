package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingPolicy is the hot-reloadable billing behaviour read from billing.yml.
type BillingPolicy struct {
	CancelAtPeriodEnd bool         `mapstructure:"cancelAtPeriodEnd"`
	Prorate           bool         `mapstructure:"prorate"`
	DefaultPlan       string       `mapstructure:"defaultPlan"`
	DefaultTrialDays  *int64       `mapstructure:"defaultTrialDays"`
	SendReceipts      bool         `mapstructure:"sendReceipts"`
	Plans             []PlanConfig `mapstructure:"plans"`
}

// PlanConfig is one entry of the plan catalog pushed by the admin CLI.
type PlanConfig struct {
	ID              string `mapstructure:"id"`
	Name            string `mapstructure:"name"`
	Currency        string `mapstructure:"currency"`
	Interval        string `mapstructure:"interval"`
	IntervalCount   int64  `mapstructure:"intervalCount"`
	Amount          string `mapstructure:"amount"`
	TrialPeriodDays *int64 `mapstructure:"trialPeriodDays"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		CancelAtPeriodEnd: true,
		Prorate:           true,
		SendReceipts:      true,
	}
}

type PolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(policy BillingPolicy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/billmirror")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BILLMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingPolicy()
	v.SetDefault("billing.cancelAtPeriodEnd", defaults.CancelAtPeriodEnd)
	v.SetDefault("billing.prorate", defaults.Prorate)
	v.SetDefault("billing.sendReceipts", defaults.SendReceipts)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var policy BillingPolicy
	if err := v.UnmarshalKey("billing", &policy); err != nil {
		return nil, err
	}
	if err := validateBillingPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingPolicy
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-policy] reload failed: %v", err)
			return
		}
		if err := validateBillingPolicy(updated); err != nil {
			log.Printf("[billing-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PolicyHolder) Get() BillingPolicy {
	return h.current.Load().(BillingPolicy)
}

func validateBillingPolicy(policy BillingPolicy) error {
	if policy.DefaultTrialDays != nil && *policy.DefaultTrialDays < 0 {
		return errors.New("billing.defaultTrialDays cannot be negative")
	}
	seen := make(map[string]struct{}, len(policy.Plans))
	for i, plan := range policy.Plans {
		if strings.TrimSpace(plan.Name) == "" {
			return fmt.Errorf("billing.plans[%d].name is required", i)
		}
		if strings.TrimSpace(plan.Amount) == "" {
			return fmt.Errorf("billing.plans[%d].amount is required", i)
		}
		switch plan.Interval {
		case "day", "week", "month", "year":
		default:
			return fmt.Errorf("billing.plans[%d].interval %q is invalid", i, plan.Interval)
		}
		key := plan.ID
		if key == "" {
			key = plan.Name
		}
		if _, ok := seen[key]; ok {
			return fmt.Errorf("billing.plans[%d] duplicates %q", i, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
