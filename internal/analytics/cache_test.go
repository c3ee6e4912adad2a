package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jailtonjunior94/streamflow/internal/observability/noop"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cache, err := NewCache("redis://"+mr.Addr(), noop.New())
	require.NoError(t, err)
	require.NotNil(t, cache)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	type result struct {
		Total int    `json:"total"`
		Label string `json:"label"`
	}

	var out result
	assert.False(t, cache.Get(ctx, "analytics:test", &out))

	cache.Set(ctx, "analytics:test", result{Total: 42, Label: "ok"})

	require.True(t, cache.Get(ctx, "analytics:test", &out))
	assert.Equal(t, 42, out.Total)
	assert.Equal(t, "ok", out.Label)
}

func TestCacheEntriesExpire(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, "analytics:ttl", map[string]int{"n": 1})

	ttl := mr.TTL("analytics:ttl")
	assert.Equal(t, DefaultCacheTTL, ttl)

	mr.FastForward(DefaultCacheTTL + time.Second)

	var out map[string]int
	assert.False(t, cache.Get(ctx, "analytics:ttl", &out))
}

func TestCacheCorruptEntryReadsAsMiss(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("analytics:bad", "{not json"))

	var out map[string]int
	assert.False(t, cache.Get(ctx, "analytics:bad", &out))
}

func TestNilCacheIsSafe(t *testing.T) {
	cache, err := NewCache("", noop.New())
	require.NoError(t, err)
	require.Nil(t, cache)

	ctx := context.Background()
	var out map[string]int
	assert.False(t, cache.Get(ctx, "k", &out))
	cache.Set(ctx, "k", map[string]int{"n": 1})
	assert.NoError(t, cache.Close())
}

func TestNewCacheRejectsBadURL(t *testing.T) {
	_, err := NewCache("not-a-redis-url", noop.New())
	assert.Error(t, err)
}
