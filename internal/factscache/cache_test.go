package factscache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/filing-summary/internal/model"
	"github.com/sells-group/filing-summary/pkg/facts"
)

// stubProvider counts upstream fetches.
type stubProvider struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (p *stubProvider) CompanyConcepts(ctx context.Context, cik string) (*facts.CompanyFacts, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	return &facts.CompanyFacts{CIK: cik, EntityName: "Stub Corp"}, nil
}

// memTier is an in-memory durable tier. It honors the TTL the way the real
// store does, so an expired entry cannot leak back into the fast tier.
type memTier struct {
	mu   sync.Mutex
	data map[string]memEntry
	gets atomic.Int64
}

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

func newMemTier() *memTier {
	return &memTier{data: make(map[string]memEntry)}
}

func (m *memTier) GetFacts(ctx context.Context, key string) ([]byte, bool, error) {
	m.gets.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.data, true, nil
}

func (m *memTier) PutFacts(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memEntry{data: data, expiresAt: time.Now().Add(ttl)}
	return nil
}

func TestGetColdThenWarm(t *testing.T) {
	provider := &stubProvider{}
	tier := newMemTier()
	c := New(provider, tier, Options{TTL: time.Hour})

	cf, err := c.Get(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "Stub Corp", cf.EntityName)

	cf, err = c.Get(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "Stub Corp", cf.EntityName)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, provider.calls.Load())

	// The upstream fetch wrote through to the durable tier.
	_, ok, _ := tier.GetFacts(context.Background(), "123")
	assert.True(t, ok)
}

func TestGetLazyExpiry(t *testing.T) {
	provider := &stubProvider{}
	c := New(provider, newMemTier(), Options{TTL: 10 * time.Millisecond})

	_, err := c.Get(context.Background(), "123")
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	// The sweeper has not run; the read itself must treat the entry as absent.
	_, err = c.Get(context.Background(), "123")
	require.NoError(t, err)

	stats := c.Stats()
	assert.EqualValues(t, 0, stats.Hits)
	assert.EqualValues(t, 2, stats.Misses)
	assert.EqualValues(t, 1, stats.Expired)
	assert.EqualValues(t, 2, provider.calls.Load())
}

func TestDurableTierHitSkipsUpstream(t *testing.T) {
	provider := &stubProvider{}
	tier := newMemTier()
	require.NoError(t, tier.PutFacts(context.Background(), "55", []byte(`{"cik":"55","entityName":"Durable Co"}`), time.Hour))

	c := New(provider, tier, Options{TTL: time.Hour})

	cf, err := c.Get(context.Background(), "55")
	require.NoError(t, err)
	assert.Equal(t, "Durable Co", cf.EntityName)
	assert.EqualValues(t, 0, provider.calls.Load())
}

func TestConcurrentColdLookupsCoalesceAndCountersConsistent(t *testing.T) {
	provider := &stubProvider{delay: 20 * time.Millisecond}
	c := New(provider, newMemTier(), Options{TTL: time.Hour})

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), "coldkey")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// All callers missed the fast tier, but only one upstream fetch happened.
	stats := c.Stats()
	assert.EqualValues(t, n, stats.Hits+stats.Misses)
	assert.EqualValues(t, 1, provider.calls.Load())
}

func TestGetUpstreamFailure(t *testing.T) {
	provider := &stubProvider{err: eris.New("boom")}
	c := New(provider, newMemTier(), Options{TTL: time.Hour})

	_, err := c.Get(context.Background(), "404")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrMetricsFetch))
}

func TestInvalidatePattern(t *testing.T) {
	c := New(&stubProvider{}, newMemTier(), Options{TTL: time.Hour})
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("32%d", i), &facts.CompanyFacts{})
	}
	c.Set("999", &facts.CompanyFacts{})

	removed, complete, err := c.InvalidatePattern(context.Background(), "32*")
	require.NoError(t, err)
	assert.Equal(t, 10, removed)
	assert.True(t, complete)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestInvalidatePatternScanCap(t *testing.T) {
	c := New(&stubProvider{}, newMemTier(), Options{TTL: time.Hour, InvalidateScanCap: 5})
	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("key%d", i), &facts.CompanyFacts{})
	}

	_, complete, err := c.InvalidatePattern(context.Background(), "key*")
	require.NoError(t, err)
	assert.False(t, complete, "capped scan must report an incomplete pass")
}

func TestInvalidatePatternBadGlob(t *testing.T) {
	c := New(&stubProvider{}, newMemTier(), Options{TTL: time.Hour})
	_, _, err := c.InvalidatePattern(context.Background(), "[")
	assert.Error(t, err)
}

func TestSweeperNonPositiveIntervalIsDisabled(t *testing.T) {
	c := New(&stubProvider{}, newMemTier(), Options{TTL: time.Hour})
	c.Set("a", &facts.CompanyFacts{})

	c.StartSweeper(context.Background(), 0)

	assert.Equal(t, 1, c.Stats().Entries)
}

func TestSweeper(t *testing.T) {
	c := New(&stubProvider{}, newMemTier(), Options{TTL: 5 * time.Millisecond})
	c.Set("a", &facts.CompanyFacts{})
	c.Set("b", &facts.CompanyFacts{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartSweeper(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return c.Stats().Entries == 0
	}, time.Second, 10*time.Millisecond)
}
