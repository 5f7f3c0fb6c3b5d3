package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedPost struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func newTestCache(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, New(rdb, ttl)
}

func TestPostKey(t *testing.T) {
	assert.Equal(t, "post:abc", PostKey("abc"))
}

func TestCache_SetGetInvalidate(t *testing.T) {
	mr, c := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, PostKey("1"), cachedPost{ID: "1", Title: "A"}))
	assert.Equal(t, time.Minute, mr.TTL(PostKey("1")))

	var got cachedPost
	found, err := c.GetJSON(ctx, PostKey("1"), &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, cachedPost{ID: "1", Title: "A"}, got)

	require.NoError(t, c.Invalidate(ctx, PostKey("1")))
	found, err = c.GetJSON(ctx, PostKey("1"), &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_Aside(t *testing.T) {
	mr, c := newTestCache(t, time.Minute)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *cachedPost) func() (bool, error) {
		return func() (bool, error) {
			calls++
			*dest = cachedPost{ID: "1", Title: "from store"}
			return true, nil
		}
	}

	var first cachedPost
	found, err := c.Aside(ctx, PostKey("1"), &first, fetch(&first))
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, mr.Exists(PostKey("1")))

	var second cachedPost
	found, err = c.Aside(ctx, PostKey("1"), &second, fetch(&second))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestCache_AsideDoesNotCacheMisses(t *testing.T) {
	mr, c := newTestCache(t, time.Minute)

	var dest cachedPost
	found, err := c.Aside(context.Background(), PostKey("missing"), &dest, func() (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, mr.Exists(PostKey("missing")))
}

func TestCache_AsideFallsThroughWhenRedisDown(t *testing.T) {
	mr, c := newTestCache(t, time.Minute)
	mr.Close()

	var dest cachedPost
	found, err := c.Aside(context.Background(), PostKey("1"), &dest, func() (bool, error) {
		dest = cachedPost{ID: "1"}
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", dest.ID)
}

func TestCache_AsidePropagatesFetchError(t *testing.T) {
	_, c := newTestCache(t, time.Minute)
	boom := errors.New("boom")

	var dest cachedPost
	_, err := c.Aside(context.Background(), PostKey("1"), &dest, func() (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
}

func TestCache_NilClientIsNoop(t *testing.T) {
	c := New(nil, time.Minute)
	ctx := context.Background()
	assert.False(t, c.Enabled())

	var nilCache *Cache
	assert.False(t, nilCache.Enabled())

	assert.NoError(t, c.SetJSON(ctx, "k", 1))
	var v int
	found, err := c.GetJSON(ctx, "k", &v)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, c.Invalidate(ctx, "k"))
}

func TestInitRedis(t *testing.T) {
	assert.Nil(t, InitRedis(""))
	assert.Nil(t, InitRedis("redis://%zz"))

	mr := miniredis.RunT(t)
	client := InitRedis(mr.Addr())
	require.NotNil(t, client)
	defer func() { _ = client.Close() }()

	client = InitRedis("redis://" + mr.Addr())
	require.NotNil(t, client)
	_ = client.Close()
}
