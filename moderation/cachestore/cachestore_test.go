package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scoreEntry struct {
	Score   int    `json:"score"`
	Backend string `json:"backend"`
}

func testCacheStore(t *testing.T, cs CacheStore) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	v, err := cs.Get(ctx, "score", "abc")
	require.NoError(err)
	assert.Empty(v)

	require.NoError(cs.Set(ctx, "score", "abc", "one"))
	v, err = cs.Get(ctx, "score", "abc")
	require.NoError(err)
	assert.Equal("one", v)

	// names are separate keyspaces
	v, err = cs.Get(ctx, "other", "abc")
	require.NoError(err)
	assert.Empty(v)

	require.NoError(cs.Purge(ctx, "score", "abc"))
	v, err = cs.Get(ctx, "score", "abc")
	require.NoError(err)
	assert.Empty(v)
	assert.NoError(cs.Purge(ctx, "score", "missing"))

	var out scoreEntry
	ok, err := GetJSON(ctx, cs, "score", "def", &out)
	require.NoError(err)
	assert.False(ok)
	require.NoError(SetJSON(ctx, cs, "score", "def", scoreEntry{Score: 8123, Backend: "toxic-bert"}))
	ok, err = GetJSON(ctx, cs, "score", "def", &out)
	require.NoError(err)
	assert.True(ok)
	assert.Equal(scoreEntry{Score: 8123, Backend: "toxic-bert"}, out)

	require.NoError(cs.Set(ctx, "score", "bad", "{not json"))
	_, err = GetJSON(ctx, cs, "score", "bad", &out)
	assert.Error(err)
}

func TestMemCacheStore(t *testing.T) {
	testCacheStore(t, NewMemCacheStore(100, time.Minute))
}

func TestMemCacheStoreExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCacheStore(100, 20*time.Millisecond)
	assert.NoError(cs.Set(ctx, "score", "abc", "one"))
	time.Sleep(60 * time.Millisecond)
	v, err := cs.Get(ctx, "score", "abc")
	assert.NoError(err)
	assert.Empty(v)
}

func TestRedisCacheStore(t *testing.T) {
	t.Skip("live test, need redis running locally")

	opt, err := redis.ParseURL("redis://localhost:6379/0")
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()
	testCacheStore(t, NewRedisCacheStore(rdb, "modagent-test/", time.Minute))
}
