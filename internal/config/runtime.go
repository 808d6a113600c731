package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Runtime holds the settings that operators tune without a restart.
// A loaded Runtime is never mutated; Reload swaps in a new one.
type Runtime struct {
	FreeQuota int64           `yaml:"free_quota"`
	Pricing   PricingTable    `yaml:"pricing"`
	Plans     map[string]Plan `yaml:"plans"`
	DraftTTL  time.Duration   `yaml:"draft_ttl"`
	Tone      string          `yaml:"tone"`
}

type PricingTable struct {
	DefaultBase int64            `yaml:"default_base"`
	Base        map[string]int64 `yaml:"base"`
	// keyed "flow/subtype"
	Subtypes   map[string]int64 `yaml:"subtypes"`
	Multiplier int64            `yaml:"multiplier"`
	Min        int64            `yaml:"min"`
	Max        int64            `yaml:"max"`
}

// Plan is a purchasable product that is not tied to a specific request.
type Plan struct {
	Title    string `yaml:"title"`
	Price    int64  `yaml:"price"`
	Days     int    `yaml:"days"`
	Lifetime bool   `yaml:"lifetime"`
	Credits  int64  `yaml:"credits"`
}

// IsSubscription reports whether the plan grants time-bound access.
func (p Plan) IsSubscription() bool { return p.Days > 0 || p.Lifetime }

func DefaultRuntime() *Runtime {
	return &Runtime{
		FreeQuota: 3,
		Pricing: PricingTable{
			DefaultBase: 2,
			Base: map[string]int64{
				"today-forecast": 1,
				"horoscope":      3,
				"tarot":          2,
				"numerology":     2,
				"compatibility":  4,
			},
			Subtypes: map[string]int64{
				"horoscope/natal": 4,
			},
			Multiplier: 3,
			Min:        2,
			Max:        50,
		},
		Plans: map[string]Plan{
			"day":     {Title: "1 day", Price: 25, Days: 1},
			"week":    {Title: "7 days", Price: 99, Days: 7},
			"month":   {Title: "30 days", Price: 299, Days: 30},
			"life":    {Title: "Forever", Price: 999, Lifetime: true},
			"stars50": {Title: "50 credits", Price: 50, Credits: 50},
		},
		DraftTTL: 72 * time.Hour,
	}
}

// LoadRuntime reads the override file on top of the defaults.
// A missing file is not an error. Environment variables in the form ${VAR} are expanded.
func LoadRuntime(path string) (*Runtime, error) {
	rt := DefaultRuntime()
	if path == "" {
		return rt, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rt, nil
		}
		return nil, fmt.Errorf("config: read overrides: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), rt); err != nil {
		return nil, fmt.Errorf("config: parse overrides: %w", err)
	}
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) Validate() error {
	if r.FreeQuota < 0 {
		return fmt.Errorf("config: free_quota must be >= 0")
	}
	p := r.Pricing
	if p.Multiplier <= 0 {
		return fmt.Errorf("config: pricing.multiplier must be > 0")
	}
	if p.Min <= 0 || p.Max < p.Min {
		return fmt.Errorf("config: pricing band [%d, %d] is invalid", p.Min, p.Max)
	}
	for name, plan := range r.Plans {
		if plan.Price <= 0 {
			return fmt.Errorf("config: plan %q: price must be > 0", name)
		}
		if !plan.IsSubscription() && plan.Credits <= 0 {
			return fmt.Errorf("config: plan %q: grants neither days nor credits", name)
		}
	}
	if r.DraftTTL <= 0 {
		return fmt.Errorf("config: draft_ttl must be > 0")
	}
	return nil
}

// RuntimeStore hands out the current snapshot and replaces it on Reload.
// In-flight requests keep whatever snapshot they already read.
type RuntimeStore struct {
	path    string
	current atomic.Pointer[Runtime]
}

func NewRuntimeStore(path string) (*RuntimeStore, error) {
	rt, err := LoadRuntime(path)
	if err != nil {
		return nil, err
	}
	s := &RuntimeStore{path: path}
	s.current.Store(rt)
	return s, nil
}

// StaticRuntime wraps a fixed snapshot, mostly for tests.
func StaticRuntime(rt *Runtime) *RuntimeStore {
	s := &RuntimeStore{}
	s.current.Store(rt)
	return s
}

func (s *RuntimeStore) Current() *Runtime {
	return s.current.Load()
}

// Reload re-reads the override file. On error the previous snapshot stays active.
func (s *RuntimeStore) Reload() (*Runtime, error) {
	rt, err := LoadRuntime(s.path)
	if err != nil {
		return nil, err
	}
	s.current.Store(rt)
	return rt, nil
}
