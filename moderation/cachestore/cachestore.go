package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Empty string and nil error is a cache miss.
type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}

// Decodes a cached JSON value into out. Returns false on a miss.
func GetJSON(ctx context.Context, cs CacheStore, name, key string, out any) (bool, error) {
	val, err := cs.Get(ctx, name, key)
	if err != nil {
		return false, err
	}
	if val == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false, fmt.Errorf("decoding cached %s value: %w", name, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, cs CacheStore, name, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return cs.Set(ctx, name, key, string(b))
}
