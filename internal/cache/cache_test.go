package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	c := New(&Options{DefaultTTL: time.Minute})
	ctx := context.Background()

	_, err := c.Get(ctx, "absent")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestExpiry(t *testing.T) {
	c := New(&Options{DefaultTTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestDeleteAndPattern(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, ProjectSlugKey("api"), []byte("1"), 0))
	require.NoError(t, c.Set(ctx, ProjectSlugKey("web"), []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "other:key", []byte("3"), 0))

	c.Delete(ctx, ProjectSlugKey("api"))
	_, err := c.Get(ctx, ProjectSlugKey("api"))
	assert.ErrorIs(t, err, ErrMiss)

	c.DeletePattern(ctx, ProjectSlugPattern())
	_, err = c.Get(ctx, ProjectSlugKey("web"))
	assert.ErrorIs(t, err, ErrMiss)

	got, err := c.Get(ctx, "other:key")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func TestJSONRoundTrip(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	in := map[string]string{"slug": "api"}
	require.NoError(t, c.SetJSON(ctx, "j", in, 0))

	var out map[string]string
	require.NoError(t, c.GetJSON(ctx, "j", &out))
	assert.Equal(t, in, out)
}

func TestStatsCountHitsAndMisses(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	_, _ = c.Get(ctx, "missing")
	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "k")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRatio, 1e-9)
	assert.Equal(t, 1, stats.MemoryItems)
}

// brokenClient fails every operation so reads and writes fall through to
// the memory tier.
type brokenClient struct{}

func (brokenClient) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("connection refused")
}

func (brokenClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return errors.New("connection refused")
}

func (brokenClient) Del(ctx context.Context, keys ...string) error {
	return errors.New("connection refused")
}

func (brokenClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	return nil, errors.New("connection refused")
}

func (brokenClient) Close() error { return nil }

func TestRedisFailureFallsBackToMemory(t *testing.T) {
	c := NewWithClient(brokenClient{}, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestProjectCacheGetOrLoad(t *testing.T) {
	pc := NewProjectCache(New(nil))
	ctx := context.Background()

	loads := 0
	loader := func() (*CachedProject, error) {
		loads++
		return &CachedProject{ID: "p1", Slug: "api", Name: "API"}, nil
	}

	first, err := pc.GetOrLoad(ctx, "api", loader)
	require.NoError(t, err)
	assert.Equal(t, "p1", first.ID)
	assert.Equal(t, 1, loads)

	second, err := pc.GetOrLoad(ctx, "api", loader)
	require.NoError(t, err)
	assert.Equal(t, "p1", second.ID)
	assert.Equal(t, 1, loads, "second lookup should hit the cache")
	assert.False(t, second.CachedAt.IsZero())
}

func TestProjectCacheLoaderErrorNotCached(t *testing.T) {
	pc := NewProjectCache(New(nil))
	ctx := context.Background()

	wantErr := errors.New("not found")
	_, err := pc.GetOrLoad(ctx, "ghost", func() (*CachedProject, error) { return nil, wantErr })
	require.ErrorIs(t, err, wantErr)

	loads := 0
	_, err = pc.GetOrLoad(ctx, "ghost", func() (*CachedProject, error) {
		loads++
		return &CachedProject{ID: "p2", Slug: "ghost"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, loads, "failed loads must not be cached")
}

func TestProjectCacheInvalidate(t *testing.T) {
	pc := NewProjectCache(New(nil))
	ctx := context.Background()

	_, err := pc.GetOrLoad(ctx, "api", func() (*CachedProject, error) {
		return &CachedProject{ID: "p1", Slug: "api"}, nil
	})
	require.NoError(t, err)

	pc.Invalidate(ctx, "api")

	loads := 0
	_, err = pc.GetOrLoad(ctx, "api", func() (*CachedProject, error) {
		loads++
		return &CachedProject{ID: "p1", Slug: "api"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, loads)
}
