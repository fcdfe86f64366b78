// Package domaincache persists domain and homepage verdicts between
// runs. Alive verdicts live for days, dead ones for hours so dead
// domains get rechecked sooner. Cache failures degrade to misses and
// never abort a run.
package domaincache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/leadhound/qualifier/internal/domaincheck"
	"github.com/leadhound/qualifier/internal/kv"
	"github.com/leadhound/qualifier/internal/pkg/logger"
)

const (
	// DefaultAliveTTL keeps verdicts for resolving domains.
	DefaultAliveTTL = 7 * 24 * time.Hour
	// DefaultDeadTTL keeps verdicts for dead domains.
	DefaultDeadTTL = 24 * time.Hour
	// DefaultHomepageTTL keeps homepage signal verdicts.
	DefaultHomepageTTL = 72 * time.Hour

	dnsPrefix      = "domaincache:dns:"
	homepagePrefix = "domaincache:homepage:"
)

// Cache stores verdicts keyed by normalized domain through the
// injected kv.Store.
type Cache struct {
	store       kv.Store
	aliveTTL    time.Duration
	deadTTL     time.Duration
	homepageTTL time.Duration
}

// Options override the default TTLs; zero fields keep the defaults.
type Options struct {
	AliveTTL    time.Duration
	DeadTTL     time.Duration
	HomepageTTL time.Duration
}

// New builds a cache over the given store.
func New(store kv.Store, opts Options) *Cache {
	c := &Cache{
		store:       store,
		aliveTTL:    opts.AliveTTL,
		deadTTL:     opts.DeadTTL,
		homepageTTL: opts.HomepageTTL,
	}
	if c.aliveTTL <= 0 {
		c.aliveTTL = DefaultAliveTTL
	}
	if c.deadTTL <= 0 {
		c.deadTTL = DefaultDeadTTL
	}
	if c.homepageTTL <= 0 {
		c.homepageTTL = DefaultHomepageTTL
	}
	return c
}

// Get returns the cached DNS verdict for a domain. A stored entry past
// its TTL (possible with backend clock skew) counts as a miss.
func (c *Cache) Get(ctx context.Context, domain string) (domaincheck.Verdict, bool) {
	key := dnsPrefix + domaincheck.Normalize(domain)
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		logger.Warn("domaincache: get failed, treating as miss", "domain", domain, "error", err)
		return domaincheck.Verdict{}, false
	}
	if !ok {
		return domaincheck.Verdict{}, false
	}
	var v domaincheck.Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return domaincheck.Verdict{}, false
	}
	if c.expired(v) {
		return domaincheck.Verdict{}, false
	}
	return v, true
}

// Put stores a DNS verdict with a TTL based on liveness.
func (c *Cache) Put(ctx context.Context, v domaincheck.Verdict) {
	if v.Domain == "" {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	ttl := c.deadTTL
	if v.Alive() {
		ttl = c.aliveTTL
	}
	key := dnsPrefix + domaincheck.Normalize(v.Domain)
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		logger.Warn("domaincache: put failed", "domain", v.Domain, "error", err)
	}
}

// GetBatch returns cached verdicts for the given domains, keyed by
// normalized domain. Misses are simply absent.
func (c *Cache) GetBatch(ctx context.Context, domains []string) map[string]domaincheck.Verdict {
	out := make(map[string]domaincheck.Verdict, len(domains))
	for _, d := range domains {
		key := domaincheck.Normalize(d)
		if key == "" {
			continue
		}
		if _, seen := out[key]; seen {
			continue
		}
		if v, ok := c.Get(ctx, key); ok {
			out[key] = v
		}
	}
	return out
}

// PutBatch stores many verdicts.
func (c *Cache) PutBatch(ctx context.Context, verdicts map[string]domaincheck.Verdict) {
	for _, v := range verdicts {
		c.Put(ctx, v)
	}
}

// GetHomepage returns the cached homepage verdict for a domain.
func (c *Cache) GetHomepage(ctx context.Context, domain string) (domaincheck.HomepageSignals, bool) {
	key := homepagePrefix + domaincheck.Normalize(domain)
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return domaincheck.HomepageSignals{}, false
	}
	var sig domaincheck.HomepageSignals
	if err := json.Unmarshal(raw, &sig); err != nil {
		return domaincheck.HomepageSignals{}, false
	}
	return sig, true
}

// PutHomepage stores a homepage verdict. Inconclusive fetches are not
// cached so the next run retries them.
func (c *Cache) PutHomepage(ctx context.Context, sig domaincheck.HomepageSignals) {
	if sig.Domain == "" || sig.Inconclusive() {
		return
	}
	raw, err := json.Marshal(sig)
	if err != nil {
		return
	}
	key := homepagePrefix + domaincheck.Normalize(sig.Domain)
	if err := c.store.Set(ctx, key, raw, c.homepageTTL); err != nil {
		logger.Warn("domaincache: homepage put failed", "domain", sig.Domain, "error", err)
	}
}

// Stats summarizes the DNS cache contents.
type Stats struct {
	Total int `json:"total"`
	Alive int `json:"alive"`
	Dead  int `json:"dead"`
}

// Stats scans the DNS cache and counts alive vs dead entries.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	keys, err := c.store.ScanKeys(ctx, dnsPrefix)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{}
	for _, key := range keys {
		raw, ok, err := c.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var v domaincheck.Verdict
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		stats.Total++
		if v.Alive() {
			stats.Alive++
		} else {
			stats.Dead++
		}
	}
	return stats, nil
}

// Clear drops every cached DNS and homepage verdict.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	var all []string
	for _, prefix := range []string{dnsPrefix, homepagePrefix} {
		keys, err := c.store.ScanKeys(ctx, prefix)
		if err != nil {
			return 0, err
		}
		all = append(all, keys...)
	}
	if len(all) == 0 {
		return 0, nil
	}
	if err := c.store.Delete(ctx, all...); err != nil {
		return 0, err
	}
	return len(all), nil
}

// expired guards against entries whose backend TTL did not fire.
func (c *Cache) expired(v domaincheck.Verdict) bool {
	if v.CheckedAt.IsZero() {
		return false
	}
	ttl := c.deadTTL
	if v.Alive() {
		ttl = c.aliveTTL
	}
	return time.Since(v.CheckedAt) > ttl
}
