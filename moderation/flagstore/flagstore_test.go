package flagstore

import (
	"context"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlagStore(t *testing.T, fs FlagStore) {
	assert := assert.New(t)
	ctx := context.Background()

	ok, err := fs.Contains(ctx, 7)
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(fs.Add(ctx, 7))
	assert.NoError(fs.Add(ctx, 7))
	assert.NoError(fs.Add(ctx, 9))
	ok, err = fs.Contains(ctx, 7)
	assert.NoError(err)
	assert.True(ok)
	n, err := fs.Count(ctx)
	assert.NoError(err)
	assert.Equal(2, n)

	assert.NoError(fs.Clear(ctx))
	ok, err = fs.Contains(ctx, 7)
	assert.NoError(err)
	assert.False(ok)
	n, err = fs.Count(ctx)
	assert.NoError(err)
	assert.Equal(0, n)
}

func TestMemFlagStoreBasics(t *testing.T) {
	testFlagStore(t, NewMemFlagStore())
}

func TestMemFlagStoreConcurrent(t *testing.T) {
	ctx := context.Background()
	fs := NewMemFlagStore()

	var wg sync.WaitGroup
	for i := uint64(1); i <= 50; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			fs.Add(ctx, id)
			fs.Contains(ctx, id)
		}(i)
	}
	wg.Wait()
	n, err := fs.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestRedisFlagStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")

	opt, err := redis.ParseURL("redis://localhost:6379/0")
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()
	testFlagStore(t, NewRedisFlagStore(rdb, "modagent-test/"))
}
