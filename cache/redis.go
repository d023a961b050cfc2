// Copyright 2026 The Exposure Engine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBoolStore backs the edge-existence cache (§4.2, §4.3) with Redis
// instead of an in-process LRU. It is the distributed alternative to the
// per-process cache.LRU: several batch-driver processes across machines can
// share one cache of edge-existence results, at the cost of a network round
// trip per lookup instead of a map access. It only ever stores booleans,
// which is all AdjStore.EdgeExists needs to cache.
//
// It satisfies Store[string, bool]; callers must pre-encode their key (for
// AdjStore that is src/dep/dst/day-bucket, see adjstore.edgeCacheKey) into a
// string before calling Get/Has/Put.
type RedisBoolStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBoolStore wraps an existing *redis.Client. prefix namespaces keys
// so the edge-existence cache does not collide with other uses of the same
// Redis instance; ttl is the expiry applied to every entry (zero means no
// expiry, matching the in-process LRU's behavior of never expiring by
// time, only by recency eviction).
func NewRedisBoolStore(client *redis.Client, prefix string, ttl time.Duration) *RedisBoolStore {
	return &RedisBoolStore{client: client, prefix: prefix, ttl: ttl}
}

// Get reports the cached boolean for key and whether it was present. A
// connection error is treated the same as a cache miss: the cache is
// advisory, never load-bearing for correctness (§3: "Cache entries are
// content-equivalent to a fresh fetch; eviction must not change engine
// output" — a Redis outage is just a very aggressive eviction).
func (s *RedisBoolStore) Get(key string) (bool, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		return false, false
	}
	return v == "1", true
}

// Has reports whether key has a cached entry, irrespective of its value.
func (s *RedisBoolStore) Has(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	return err == nil && n > 0
}

// Put stores the boolean result for key.
func (s *RedisBoolStore) Put(key string, v bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val := "0"
	if v {
		val = "1"
	}
	_ = s.client.Set(ctx, s.prefix+key, val, s.ttl).Err()
}

// Len is not supported by Redis without an expensive key scan; it reports
// -1 to signal "unknown" rather than paying for SCAN on every progress
// line the batch driver logs.
func (s *RedisBoolStore) Len() int {
	return -1
}
