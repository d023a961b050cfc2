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

// Package config loads the engine's tunables from a TOML file, grounded
// on stacktower's use of BurntSushi/toml for manifest and lockfile
// parsing. CLI flags (cmd/exposure) override whatever a config file sets.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ConcurrencyStrategy names §5's two admissible LRU sharing strategies
// plus a Redis-backed edge cache. It is parsed from the config file but
// the CLI does not read it: batch always shares one set of
// cache.Guarded LRUs across its workers, and resolve uses plain LRUs.
type ConcurrencyStrategy string

const (
	// StrategyPerWorker gives each worker goroutine its own LRUs: no
	// contention, a slightly higher aggregate miss rate.
	StrategyPerWorker ConcurrencyStrategy = "per_worker"
	// StrategyShared guards one set of LRUs with a mutex held only
	// across a single get/put.
	StrategyShared ConcurrencyStrategy = "shared"
	// StrategyRedis backs the edge-existence cache with Redis instead
	// of an in-process LRU, for multi-process batch drivers.
	StrategyRedis ConcurrencyStrategy = "redis"
)

// Config is the engine's tunable surface.
type Config struct {
	// Cache capacities, one per C3 cache (§4.2); zero disables that
	// cache rather than defaulting it, matching §4.2's "absent LRU
	// (capacity 0) must still be correct."
	DepsCacheCap   int `toml:"deps_cache_cap"`
	HeaderCacheCap int `toml:"header_cache_cap"`
	ChunkCacheCap  int `toml:"chunk_cache_cap"`
	EdgeCacheCap   int `toml:"edge_cache_cap"`

	// Search budgets (§5's cancellation knobs).
	MaxCandidatesPerDep int `toml:"max_candidates_per_dep"`
	MaxRounds           int `toml:"max_rounds"`

	Concurrency ConcurrencyStrategy `toml:"concurrency"`

	// Redis holds settings for a cache.RedisBoolStore. No driver in this
	// module constructs one, so these values are not used.
	Redis RedisConfig `toml:"redis"`

	// Workers bounds the batch driver's errgroup worker pool.
	Workers int `toml:"workers"`
}

// RedisConfig configures the Redis-backed edge cache (cache.RedisBoolStore).
type RedisConfig struct {
	Addr   string `toml:"addr"`
	Prefix string `toml:"prefix"`
	TTLSec int    `toml:"ttl_seconds"`
}

// Default returns the configuration a fresh process starts with absent a
// config file: modest in-process LRUs, per-worker concurrency, no budget
// caps.
func Default() Config {
	return Config{
		DepsCacheCap:   4096,
		HeaderCacheCap: 4096,
		ChunkCacheCap:  4096,
		EdgeCacheCap:   65536,
		Concurrency:    StrategyPerWorker,
		Workers:        1,
	}
}

// Load reads a TOML config file, starting from Default() and overlaying
// whatever the file sets.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
