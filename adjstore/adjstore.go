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

/*
Package adjstore implements the C3 AdjStore: a time-windowed adjacency
oracle over (src, dep_name) edge groups, backed by chunked, ascending
upload_time arrays and a per-group header of per-chunk min/max/count stats.

It answers two questions the solver and resolver fronts both need:
candidate enumeration ("what could src's dependency named dep_name be,
among catalog entries that existed by time t, newest first") and
edge-existence ("did catalog data say dst was a valid choice for src's
dep_name dependency, by time t").
*/
package adjstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/pypiexposure/engine/cache"
	"github.com/pypiexposure/engine/catalog"
)

// ChunkInfo summarizes one fixed-size partition of a (src, dep_name)
// candidate array: its index, element count, and the min/max upload_time
// observed within it (nil if the chunk's times are entirely absent).
type ChunkInfo struct {
	Chunk int
	N     int
	MinT  *int64
	MaxT  *int64
}

// DepHeader is the list of ChunkInfo for one (src, dep_name) edge group,
// plus the overall min/max upload_time across all of its chunks. Absence
// of a DepHeader means "no dependency of this name from this source".
type DepHeader struct {
	Chunks   []ChunkInfo
	MinT     *int64
	MaxT     *int64
}

// Backend is the read-only catalog surface AdjStore consults on a cache
// miss: adj_deps, adj_headers and adj_chunks from §6. A concrete backend
// (see the mongocatalog package) need only answer these three point
// queries; AdjStore handles all caching, windowing and ordering on top.
type Backend interface {
	// DepNames returns the ordered list of dependency-name ids src
	// depends on (AdjDeps in §3). Order is stable and is the constraint
	// ordering the solver iterates in.
	DepNames(ctx context.Context, src catalog.NodeId) ([]catalog.NameId, error)
	// Header returns the raw per-chunk min/max/count arrays for one
	// (src, dep_name) edge group, or ok=false if there is none. The
	// three arrays need not already be validated for equal length;
	// Header below does that.
	Header(ctx context.Context, src catalog.NodeId, dep catalog.NameId) (mi, ma []*int64, n []int, ok bool, err error)
	// ChunkDstIDs returns the candidate NodeIds stored in one chunk,
	// sorted by upload_time ascending.
	ChunkDstIDs(ctx context.Context, src catalog.NodeId, dep catalog.NameId, chunk int) ([]catalog.NodeId, error)
}

// Store is the C3 AdjStore. It is safe for concurrent use: its own state
// is read-only catalog.Arrays plus cache.Store instances, and cache.Store
// implementations are documented as to their own concurrency safety (an
// in-process cache.LRU is not safe for concurrent use on its own and
// should be wrapped in cache.Guarded or used one-per-worker, per §5).
type Store struct {
	backend Backend
	arrays  *catalog.Arrays

	depNames cache.Store[catalog.NodeId, []catalog.NameId]
	headers  cache.Store[headerKey, *DepHeader]
	chunks   cache.Store[chunkKey, []catalog.NodeId]
	edges    cache.Store[string, bool]
}

type headerKey struct {
	src catalog.NodeId
	dep catalog.NameId
}

type chunkKey struct {
	src   catalog.NodeId
	dep   catalog.NameId
	chunk int
}

// Caches bundles the four cache.Store instances a Store needs. Any field
// may be a cache.New[...](0) (or left nil, which New treats the same way)
// to disable that particular cache; correctness must not depend on any of
// them (§3, §5, §8's cache-equivalence property). Edges is typed
// cache.Store[string, bool] specifically so it can be backed by
// cache.RedisBoolStore for the distributed strategy of §5, instead of
// only an in-process cache.LRU.
type Caches struct {
	DepNames cache.Store[catalog.NodeId, []catalog.NameId]
	Headers  cache.Store[headerKey, *DepHeader]
	Chunks   cache.Store[chunkKey, []catalog.NodeId]
	Edges    cache.Store[string, bool]
}

// HeaderKey and ChunkKey are the key types used by the Headers and Chunks
// caches in Caches, exported so callers can build matching cache.LRU
// instances (cache.New[adjstore.HeaderKey, *adjstore.DepHeader](cap)).
type HeaderKey = headerKey
type ChunkKey = chunkKey

// NewHeaderKey and NewChunkKey construct cache keys for callers assembling
// their own Caches value.
func NewHeaderKey(src catalog.NodeId, dep catalog.NameId) HeaderKey {
	return headerKey{src: src, dep: dep}
}

func NewChunkKey(src catalog.NodeId, dep catalog.NameId, chunk int) ChunkKey {
	return chunkKey{src: src, dep: dep, chunk: chunk}
}

type disabledStore[K comparable, V any] struct{}

func (disabledStore[K, V]) Get(K) (V, bool) { var z V; return z, false }
func (disabledStore[K, V]) Has(K) bool      { return false }
func (disabledStore[K, V]) Put(K, V)        {}
func (disabledStore[K, V]) Len() int        { return 0 }

// New builds a Store from a Backend, the loaded catalog.Arrays, and a set
// of caches. Nil fields in c are replaced with disabled (always-miss)
// stores.
func New(backend Backend, arrays *catalog.Arrays, c Caches) *Store {
	if c.DepNames == nil {
		c.DepNames = disabledStore[catalog.NodeId, []catalog.NameId]{}
	}
	if c.Headers == nil {
		c.Headers = disabledStore[headerKey, *DepHeader]{}
	}
	if c.Chunks == nil {
		c.Chunks = disabledStore[chunkKey, []catalog.NodeId]{}
	}
	if c.Edges == nil {
		c.Edges = disabledStore[string, bool]{}
	}
	return &Store{
		backend:  backend,
		arrays:   arrays,
		depNames: c.DepNames,
		headers:  c.Headers,
		chunks:   c.Chunks,
		edges:    c.Edges,
	}
}

// DepNames returns the ordered dependency-name list for src, the
// constraint ordering C4 iterates in.
func (s *Store) DepNames(ctx context.Context, src catalog.NodeId) ([]catalog.NameId, error) {
	if v, ok := s.depNames.Get(src); ok {
		return v, nil
	}
	v, err := s.backend.DepNames(ctx, src)
	if err != nil {
		return nil, err
	}
	s.depNames.Put(src, v)
	return v, nil
}

// Header fetches the validated DepHeader for (src, dep), or ok=false if
// none exists, including when the backend's parallel arrays are
// inconsistent — a malformed header is never fabricated into a partial
// one, it is just treated as absent (§4.3, §7).
func (s *Store) Header(ctx context.Context, src catalog.NodeId, dep catalog.NameId) (*DepHeader, bool, error) {
	k := headerKey{src: src, dep: dep}
	if h, ok := s.headers.Get(k); ok {
		return h, h != nil, nil
	}
	mi, ma, n, ok, err := s.backend.Header(ctx, src, dep)
	if err != nil {
		return nil, false, err
	}
	if !ok || len(mi) != len(n) || len(ma) != len(n) {
		s.headers.Put(k, nil)
		return nil, false, nil
	}
	h := &DepHeader{Chunks: make([]ChunkInfo, len(n))}
	for i := range n {
		h.Chunks[i] = ChunkInfo{Chunk: i, N: n[i], MinT: mi[i], MaxT: ma[i]}
		if mi[i] != nil && (h.MinT == nil || *mi[i] < *h.MinT) {
			h.MinT = mi[i]
		}
		if ma[i] != nil && (h.MaxT == nil || *ma[i] > *h.MaxT) {
			h.MaxT = ma[i]
		}
	}
	s.headers.Put(k, h)
	return h, true, nil
}

func (s *Store) chunkDstIDs(ctx context.Context, src catalog.NodeId, dep catalog.NameId, chunk int) ([]catalog.NodeId, error) {
	k := chunkKey{src: src, dep: dep, chunk: chunk}
	if v, ok := s.chunks.Get(k); ok {
		return v, nil
	}
	v, err := s.backend.ChunkDstIDs(ctx, src, dep, chunk)
	if err != nil {
		return nil, err
	}
	s.chunks.Put(k, v)
	return v, nil
}

// bisectRightByTime returns i such that ids[:i] all have upload_time <= t,
// given ids sorted by upload_time ascending. A missing upload_time is
// treated as disqualifying, the same as a time greater than t.
func bisectRightByTime(arrays *catalog.Arrays, ids []catalog.NodeId, t int64) int {
	return sort.Search(len(ids), func(i int) bool {
		tm, ok := arrays.UploadTime(ids[i])
		return !ok || tm > t
	})
}

// Candidates enumerates the candidate NodeIds for (src, dep) with
// upload_time <= t, newest first. maxCandidates, if non-zero, caps the
// number of entries yielded (the incompleteness knob of §9). The returned
// iterator is usable with range-over-func: for id := range
// store.Candidates(ctx, src, dep, t, 0) { ... }.
func (s *Store) Candidates(ctx context.Context, src catalog.NodeId, dep catalog.NameId, t int64, maxCandidates int) func(yield func(catalog.NodeId) bool) {
	return func(yield func(catalog.NodeId) bool) {
		h, ok, err := s.Header(ctx, src, dep)
		if err != nil || !ok || len(h.Chunks) == 0 {
			return
		}
		if h.MinT != nil && *h.MinT > t {
			return
		}
		yielded := 0
		for i := len(h.Chunks) - 1; i >= 0; i-- {
			ci := h.Chunks[i]
			if ci.MinT != nil && *ci.MinT > t {
				continue
			}
			ids, err := s.chunkDstIDs(ctx, src, dep, ci.Chunk)
			if err != nil || len(ids) == 0 {
				continue
			}
			var cut int
			if ci.MaxT != nil && *ci.MaxT <= t {
				cut = len(ids)
			} else {
				cut = bisectRightByTime(s.arrays, ids, t)
			}
			for j := cut - 1; j >= 0; j-- {
				id := ids[j]
				tm, ok := s.arrays.UploadTime(id)
				if !ok || tm > t {
					continue
				}
				if !yield(id) {
					return
				}
				yielded++
				if maxCandidates > 0 && yielded >= maxCandidates {
					return
				}
			}
		}
	}
}

// dayBucket is the coarse time bucket used to key the edge-existence
// cache: it trades a small recomputation window for a far higher hit rate
// on bursty repeated checks at nearby cutoffs (§4.3).
func dayBucket(t int64) int64 {
	return t / 86400
}

func edgeCacheKey(src catalog.NodeId, dep catalog.NameId, dst catalog.NodeId, t int64) string {
	return fmt.Sprintf("%d|%d|%d|%d", src, dep, dst, dayBucket(t))
}

// EdgeExists reports whether dst is among the time-windowed candidates of
// (src, dep) at cutoff t: a forward scan of eligible chunk prefixes,
// cached (including negative results) by (src, dep, dst, day bucket).
func (s *Store) EdgeExists(ctx context.Context, src catalog.NodeId, dep catalog.NameId, dst catalog.NodeId, t int64) (bool, error) {
	key := edgeCacheKey(src, dep, dst, t)
	if v, ok := s.edges.Get(key); ok {
		return v, nil
	}

	found, err := s.computeEdgeExists(ctx, src, dep, dst, t)
	if err != nil {
		return false, err
	}
	s.edges.Put(key, found)
	return found, nil
}

func (s *Store) computeEdgeExists(ctx context.Context, src catalog.NodeId, dep catalog.NameId, dst catalog.NodeId, t int64) (bool, error) {
	h, ok, err := s.Header(ctx, src, dep)
	if err != nil || !ok || len(h.Chunks) == 0 {
		return false, err
	}
	if h.MinT != nil && *h.MinT > t {
		return false, nil
	}
	for _, ci := range h.Chunks {
		if ci.MinT != nil && *ci.MinT > t {
			break
		}
		ids, err := s.chunkDstIDs(ctx, src, dep, ci.Chunk)
		if err != nil {
			return false, err
		}
		if len(ids) == 0 {
			continue
		}
		var cut int
		if ci.MaxT != nil && *ci.MaxT <= t {
			cut = len(ids)
		} else {
			cut = bisectRightByTime(s.arrays, ids, t)
		}
		for i := 0; i < cut; i++ {
			if ids[i] == dst {
				return true, nil
			}
		}
	}
	return false, nil
}
