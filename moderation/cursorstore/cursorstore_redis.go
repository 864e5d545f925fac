package cursorstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCursorStore struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

var _ CursorStore = (*RedisCursorStore)(nil)

func NewRedisCursorStore(rdb *redis.Client, prefix string) *RedisCursorStore {
	return &RedisCursorStore{
		Client: rdb,
		Key:    prefix + "cursor",
		TTL:    14 * 24 * time.Hour,
	}
}

func (s *RedisCursorStore) ReadCursor(ctx context.Context) (uint64, bool, error) {
	val, err := s.Client.Get(ctx, s.Key).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

func (s *RedisCursorStore) WriteCursor(ctx context.Context, cursor uint64) error {
	return s.Client.Set(ctx, s.Key, cursor, s.TTL).Err()
}
