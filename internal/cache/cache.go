/*
Copyright 2024 Tally Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Cache stores raw encoded values under string keys. An invalidated key holds a tombstone
// for a while: it reads as a miss and Add cannot fill it, so a reader that loaded a row
// before the invalidation cannot put it back.
type Cache interface {
	// Add stores value unless key is already set, tombstones included.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get reports found=false on a miss or a tombstone.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Invalidate replaces whatever key holds with a tombstone that lives for hold.
	Invalidate(ctx context.Context, key string, hold time.Duration) error
}

// RedisCache keeps values in redis only, so an invalidation is seen by every instance.
type RedisCache struct {
	cache *cache.Cache
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{cache: cache.New(&cache.Options{Redis: client})}
}

func (r *RedisCache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: value,
		TTL:   ttl,
		SetNX: true,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := r.cache.Get(ctx, key, &value)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(value) == 0 {
		return nil, false, nil
	}
	return value, true, nil
}

// Invalidate writes the tombstone. go-redis/cache raises TTLs under a second to an hour,
// so hold is kept at one second or more.
func (r *RedisCache) Invalidate(ctx context.Context, key string, hold time.Duration) error {
	if hold < time.Second {
		hold = time.Second
	}
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: []byte{},
		TTL:   hold,
	})
}

func AccountKey(id int64) string {
	return fmt.Sprintf("account:%d", id)
}
