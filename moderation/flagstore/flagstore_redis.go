package flagstore

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Keeps flagged post ids in a single redis set, so several agent replicas
// (or restarts) share the cache.
type RedisFlagStore struct {
	Client *redis.Client
	Key    string
}

var _ FlagStore = (*RedisFlagStore)(nil)

// Shares an existing client; the caller owns its lifecycle.
func NewRedisFlagStore(rdb *redis.Client, prefix string) *RedisFlagStore {
	return &RedisFlagStore{
		Client: rdb,
		Key:    prefix + "flagged",
	}
}

func (s *RedisFlagStore) Contains(ctx context.Context, postID uint64) (bool, error) {
	return s.Client.SIsMember(ctx, s.Key, strconv.FormatUint(postID, 10)).Result()
}

func (s *RedisFlagStore) Add(ctx context.Context, postID uint64) error {
	return s.Client.SAdd(ctx, s.Key, strconv.FormatUint(postID, 10)).Err()
}

func (s *RedisFlagStore) Clear(ctx context.Context) error {
	return s.Client.Del(ctx, s.Key).Err()
}

func (s *RedisFlagStore) Count(ctx context.Context) (int, error) {
	n, err := s.Client.SCard(ctx, s.Key).Result()
	return int(n), err
}
