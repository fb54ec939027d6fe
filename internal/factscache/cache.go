// Package factscache provides a two-tier TTL cache for standardized
// financial facts: a fast in-process tier backed by a durable store tier,
// with the facts provider as the upstream source.
package factscache

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/filing-summary/internal/model"
	"github.com/sells-group/filing-summary/internal/resilience"
	"github.com/sells-group/filing-summary/pkg/facts"
)

// DurableTier is the subset of the store used as the second cache tier.
type DurableTier interface {
	GetFacts(ctx context.Context, key string) ([]byte, bool, error)
	PutFacts(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Expired int64 `json:"expired"`
	Entries int   `json:"entries"`
}

// Options tunes cache behavior.
type Options struct {
	TTL               time.Duration
	InvalidateScanCap int
	InvalidateTimeout time.Duration
}

type entry struct {
	value      *facts.CompanyFacts
	insertedAt time.Time
}

// Cache is safe for use by concurrent pipeline runs. The entry map and the
// hit/miss counters share one mutex; counters are only ever updated inside
// the same critical section that touches the map, so they stay consistent
// under any interleaving.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	stats   Stats

	opts     Options
	durable  DurableTier
	provider facts.Provider
	breaker  *resilience.CircuitBreaker
	group    singleflight.Group
}

// New creates a Cache over the durable tier and upstream provider.
func New(provider facts.Provider, durable DurableTier, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.InvalidateScanCap <= 0 {
		opts.InvalidateScanCap = 10000
	}
	if opts.InvalidateTimeout <= 0 {
		opts.InvalidateTimeout = 5 * time.Second
	}
	return &Cache{
		entries:  make(map[string]entry),
		opts:     opts,
		durable:  durable,
		provider: provider,
		breaker:  resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
}

// Get returns the facts for a CIK, consulting the fast tier, then the
// durable tier, then the upstream provider. Freshness is checked lazily at
// read time; the background sweep is an optimization, never the mechanism
// that enforces TTL. Concurrent cold lookups for the same key coalesce into
// a single upstream fetch.
func (c *Cache) Get(ctx context.Context, cik string) (*facts.CompanyFacts, error) {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.entries[cik]; ok {
		if now.Sub(e.insertedAt) < c.opts.TTL {
			c.stats.Hits++
			c.mu.Unlock()
			return e.value, nil
		}
		delete(c.entries, cik)
		c.stats.Expired++
	}
	c.stats.Misses++
	c.mu.Unlock()

	v, err, _ := c.group.Do(cik, func() (any, error) {
		return c.fill(ctx, cik)
	})
	if err != nil {
		return nil, err
	}
	return v.(*facts.CompanyFacts), nil
}

// fill resolves a miss through the durable tier and, failing that, the
// upstream provider, writing back to both tiers.
func (c *Cache) fill(ctx context.Context, cik string) (*facts.CompanyFacts, error) {
	if data, ok, err := c.durable.GetFacts(ctx, cik); err != nil {
		zap.L().Warn("factscache: durable tier read failed", zap.String("cik", cik), zap.Error(err))
	} else if ok {
		var cf facts.CompanyFacts
		if err := json.Unmarshal(data, &cf); err != nil {
			zap.L().Warn("factscache: corrupt durable entry", zap.String("cik", cik), zap.Error(err))
		} else {
			c.put(cik, &cf)
			return &cf, nil
		}
	}

	cf, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*facts.CompanyFacts, error) {
		return c.provider.CompanyConcepts(ctx, cik)
	})
	if err != nil {
		return nil, eris.Wrap(model.ErrMetricsFetch, err.Error())
	}

	c.put(cik, cf)

	if data, err := json.Marshal(cf); err == nil {
		if err := c.durable.PutFacts(ctx, cik, data, c.opts.TTL); err != nil {
			zap.L().Warn("factscache: durable tier write failed", zap.String("cik", cik), zap.Error(err))
		}
	}

	return cf, nil
}

func (c *Cache) put(cik string, cf *facts.CompanyFacts) {
	c.mu.Lock()
	c.entries[cik] = entry{value: cf, insertedAt: time.Now()}
	c.mu.Unlock()
}

// Set inserts a value directly into the fast tier. Exposed for warm-up and
// tests.
func (c *Cache) Set(cik string, cf *facts.CompanyFacts) {
	c.put(cik, cf)
}

// InvalidatePattern removes fast-tier entries whose key matches the glob
// pattern. The scan is capped and carries its own timeout so a large
// keyspace cannot block callers indefinitely. Returns the number of entries
// removed and whether the scan covered the whole keyspace.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (removed int, complete bool, err error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, false, eris.Wrapf(err, "factscache: bad pattern %q", pattern)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.InvalidateTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	scanned := 0
	complete = true
	for key := range c.entries {
		if scanned >= c.opts.InvalidateScanCap || ctx.Err() != nil {
			complete = false
			break
		}
		scanned++
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, complete, nil
}

// Clear drops every fast-tier entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Stats returns a consistent snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// StartSweeper launches a background goroutine that periodically drops
// expired fast-tier entries. Purely an optimization: Get never trusts an
// entry the sweeper has not yet removed.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	for key, e := range c.entries {
		if now.Sub(e.insertedAt) >= c.opts.TTL {
			delete(c.entries, key)
			c.stats.Expired++
		}
	}
	c.mu.Unlock()
}
