package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
)

const (
	specsRedisKey    = "gateway:indicator_specs"
	configChannel    = "config:indicators"
	configPublishTTL = 2 * time.Second
)

// ConfigStore tracks the indicator set the engine computes. Clients that
// request an unknown indicator extend the set; the whole set is persisted
// and published on the engine's config channel.
type ConfigStore struct {
	rdb *goredis.Client

	mu    sync.RWMutex
	specs []indicator.IndicatorConfig
}

// NewConfigStore creates a ConfigStore seeded with the engine's startup
// indicators.
func NewConfigStore(rdb *goredis.Client, initial []indicator.IndicatorConfig) *ConfigStore {
	return &ConfigStore{rdb: rdb, specs: append([]indicator.IndicatorConfig(nil), initial...)}
}

// Load restores a previously published set from Redis.
// Returns true if a set was restored.
func (cs *ConfigStore) Load(ctx context.Context) bool {
	if cs.rdb == nil {
		return false
	}
	data, err := cs.rdb.Get(ctx, specsRedisKey).Bytes()
	if err != nil {
		return false
	}
	var specs []indicator.IndicatorConfig
	if json.Unmarshal(data, &specs) != nil || validate(specs) != nil {
		return false
	}
	cs.mu.Lock()
	cs.specs = specs
	cs.mu.Unlock()
	slog.Info("restored indicator set", "indicators", len(specs))
	return true
}

// Get returns a copy of the current indicator set.
func (cs *ConfigStore) Get() []indicator.IndicatorConfig {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return append([]indicator.IndicatorConfig(nil), cs.specs...)
}

// Names returns the published names of the current set.
func (cs *ConfigStore) Names() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	names := make([]string, len(cs.specs))
	for i, s := range cs.specs {
		names[i] = s.Name()
	}
	return names
}

// Add appends the configs not yet in the set, in order, and publishes the
// result. It reports whether anything was added. An addition that would
// make the set invalid (unknown type, chaining from an undeclared source)
// is rejected as a whole.
func (cs *ConfigStore) Add(ctx context.Context, configs []indicator.IndicatorConfig) (bool, error) {
	cs.mu.Lock()
	known := make(map[string]bool, len(cs.specs))
	for _, s := range cs.specs {
		known[s.Name()] = true
	}
	next := append([]indicator.IndicatorConfig(nil), cs.specs...)
	for _, c := range configs {
		if !known[c.Name()] {
			known[c.Name()] = true
			next = append(next, c)
		}
	}
	if len(next) == len(cs.specs) {
		cs.mu.Unlock()
		return false, nil
	}
	if err := validate(next); err != nil {
		cs.mu.Unlock()
		return false, err
	}
	cs.specs = next
	cs.mu.Unlock()

	cs.publish(ctx, next)
	return true, nil
}

// publish persists the set and announces it to the engine.
func (cs *ConfigStore) publish(ctx context.Context, specs []indicator.IndicatorConfig) {
	if cs.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, configPublishTTL)
	defer cancel()

	if data, err := json.Marshal(specs); err == nil {
		if err := cs.rdb.Set(ctx, specsRedisKey, data, 0).Err(); err != nil {
			slog.Warn("persisting indicator set failed", "error", err)
		}
	}
	payload := SpecList(specs)
	if err := cs.rdb.Publish(ctx, configChannel, payload).Err(); err != nil {
		slog.Warn("publishing indicator set failed", "error", err)
		return
	}
	slog.Info("published indicator set", "specs", payload)
}

// validate checks the set as the engine would for a single timeframe.
func validate(specs []indicator.IndicatorConfig) error {
	return indicator.ValidateConfigs([]indicator.TFIndicatorConfig{{TF: 60, Indicators: specs}})
}

// SpecString formats a config in the engine's spec syntax:
// TYPE:PERIOD[:PART][@SOURCE][/EXCHANGE:TOKEN].
func SpecString(c indicator.IndicatorConfig) string {
	var b strings.Builder
	b.WriteString(c.Type)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(c.Period))
	if c.Part != "" {
		b.WriteByte(':')
		b.WriteString(c.Part)
	}
	if c.Source != "" {
		b.WriteByte('@')
		b.WriteString(c.Source)
	}
	if c.Pair != "" {
		b.WriteByte('/')
		b.WriteString(c.Pair)
	}
	return b.String()
}

// SpecList joins configs into a comma-separated spec list.
func SpecList(specs []indicator.IndicatorConfig) string {
	parts := make([]string, len(specs))
	for i, s := range specs {
		parts[i] = SpecString(s)
	}
	return strings.Join(parts, ",")
}
