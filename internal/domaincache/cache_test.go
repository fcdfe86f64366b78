package domaincache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadhound/qualifier/internal/domaincheck"
	"github.com/leadhound/qualifier/internal/kv"
)

func setupCacheTest(t *testing.T) (*Cache, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := New(kv.NewRedisStore(client), Options{})

	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return cache, mr, cleanup
}

func verdict(domain string, status domaincheck.Status) domaincheck.Verdict {
	return domaincheck.Verdict{Domain: domain, Status: status, CheckedAt: time.Now().UTC()}
}

func TestCachePutGetRoundTrip(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	cache.Put(ctx, verdict("acme.com", domaincheck.StatusAlive))

	got, ok := cache.Get(ctx, "https://www.acme.com")
	require.True(t, ok)
	assert.Equal(t, domaincheck.StatusAlive, got.Status)
	assert.Equal(t, "acme.com", got.Domain)

	_, ok = cache.Get(ctx, "unknown.com")
	assert.False(t, ok)
}

func TestCacheTTLByLiveness(t *testing.T) {
	cache, mr, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	cache.Put(ctx, verdict("alive.com", domaincheck.StatusAlive))
	cache.Put(ctx, verdict("dead.com", domaincheck.StatusNXDomain))

	aliveTTL := mr.TTL("domaincache:dns:alive.com")
	deadTTL := mr.TTL("domaincache:dns:dead.com")
	assert.Equal(t, DefaultAliveTTL, aliveTTL)
	assert.Equal(t, DefaultDeadTTL, deadTTL)

	// Dead entries expire first.
	mr.FastForward(DefaultDeadTTL + time.Minute)
	_, ok := cache.Get(ctx, "dead.com")
	assert.False(t, ok)
}

func TestCacheStaleEntryIsMiss(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	// Entry whose stored timestamp predates the TTL window even though
	// the backend never expired it.
	stale := domaincheck.Verdict{
		Domain:    "stale.com",
		Status:    domaincheck.StatusNXDomain,
		CheckedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	cache.Put(ctx, stale)

	_, ok := cache.Get(ctx, "stale.com")
	assert.False(t, ok)
}

func TestCacheBatch(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	cache.PutBatch(ctx, map[string]domaincheck.Verdict{
		"a.com": verdict("a.com", domaincheck.StatusAlive),
		"b.com": verdict("b.com", domaincheck.StatusNXDomain),
	})

	got := cache.GetBatch(ctx, []string{"a.com", "https://b.com", "c.com", "a.com"})
	require.Len(t, got, 2)
	assert.Equal(t, domaincheck.StatusAlive, got["a.com"].Status)
	assert.Equal(t, domaincheck.StatusNXDomain, got["b.com"].Status)
}

func TestCacheHomepage(t *testing.T) {
	cache, mr, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	cache.PutHomepage(ctx, domaincheck.HomepageSignals{
		Domain: "acme.com",
		Status: "eligible",
	})
	got, ok := cache.GetHomepage(ctx, "acme.com")
	require.True(t, ok)
	assert.Equal(t, "eligible", got.Status)
	assert.Equal(t, DefaultHomepageTTL, mr.TTL("domaincache:homepage:acme.com"))

	// Inconclusive fetches are never cached.
	cache.PutHomepage(ctx, domaincheck.HomepageSignals{
		Domain: "flaky.com",
		Status: "inconclusive:fetch_timeout",
	})
	_, ok = cache.GetHomepage(ctx, "flaky.com")
	assert.False(t, ok)
}

func TestCacheStatsAndClear(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	cache.Put(ctx, verdict("a.com", domaincheck.StatusAlive))
	cache.Put(ctx, verdict("b.com", domaincheck.StatusCDNInconclusive))
	cache.Put(ctx, verdict("c.com", domaincheck.StatusNXDomain))
	cache.PutHomepage(ctx, domaincheck.HomepageSignals{Domain: "a.com", Status: "eligible"})

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Alive: 2, Dead: 1}, stats)

	removed, err := cache.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	stats, err = cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestCacheDegradesToMissOnBackendFailure(t *testing.T) {
	cache, mr, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	cache.Put(ctx, verdict("a.com", domaincheck.StatusAlive))
	mr.Close()

	_, ok := cache.Get(ctx, "a.com")
	assert.False(t, ok)

	// Writes fail silently too.
	cache.Put(ctx, verdict("b.com", domaincheck.StatusAlive))
}
