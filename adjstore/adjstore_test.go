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

package adjstore

import (
	"context"
	"testing"

	"github.com/pypiexposure/engine/cache"
	"github.com/pypiexposure/engine/catalog"
)

// fakeBackend is a small in-memory Backend, grounded on the teacher's
// resolve.LocalClient test double: a table-driven fixture instead of a
// live catalog connection.
type fakeBackend struct {
	deps    map[catalog.NodeId][]catalog.NameId
	headers map[headerKey]struct {
		mi, ma []*int64
		n      []int
	}
	chunks map[chunkKey][]catalog.NodeId
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		deps: make(map[catalog.NodeId][]catalog.NameId),
		headers: make(map[headerKey]struct {
			mi, ma []*int64
			n      []int
		}),
		chunks: make(map[chunkKey][]catalog.NodeId),
	}
}

func ptr(v int64) *int64 { return &v }

func (b *fakeBackend) DepNames(ctx context.Context, src catalog.NodeId) ([]catalog.NameId, error) {
	return b.deps[src], nil
}

func (b *fakeBackend) Header(ctx context.Context, src catalog.NodeId, dep catalog.NameId) (mi, ma []*int64, n []int, ok bool, err error) {
	h, ok := b.headers[headerKey{src: src, dep: dep}]
	if !ok {
		return nil, nil, nil, false, nil
	}
	return h.mi, h.ma, h.n, true, nil
}

func (b *fakeBackend) ChunkDstIDs(ctx context.Context, src catalog.NodeId, dep catalog.NameId, chunk int) ([]catalog.NodeId, error) {
	return b.chunks[chunkKey{src: src, dep: dep, chunk: chunk}], nil
}

// addSingleChunkEdge registers a single-chunk header with the given
// ascending-by-time candidate list for (src, dep).
func (b *fakeBackend) addSingleChunkEdge(src catalog.NodeId, dep catalog.NameId, times []int64, ids []catalog.NodeId) {
	minT, maxT := times[0], times[len(times)-1]
	b.headers[headerKey{src: src, dep: dep}] = struct {
		mi, ma []*int64
		n      []int
	}{mi: []*int64{&minT}, ma: []*int64{&maxT}, n: []int{len(ids)}}
	b.chunks[chunkKey{src: src, dep: dep, chunk: 0}] = ids
}

func newArrays(t *testing.T, times map[catalog.NodeId]int64) *catalog.Arrays {
	t.Helper()
	var maxID catalog.NodeId
	for id := range times {
		if id > maxID {
			maxID = id
		}
	}
	src := testSource{times: times, maxID: maxID}
	arrays, err := catalog.Load(context.Background(), src)
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	return arrays
}

type testSource struct {
	times map[catalog.NodeId]int64
	maxID catalog.NodeId
}

func (s testSource) NameIDs(ctx context.Context, yield func(string, catalog.NameId) error) error {
	return nil
}

func (s testSource) NodeIDs(ctx context.Context, yield func(catalog.NodeId, string) error) error {
	return nil
}

func (s testSource) RequiresPython(ctx context.Context, yield func(catalog.NodeId, *int32, *int64) error) error {
	for id := catalog.NodeId(0); id <= s.maxID; id++ {
		t, ok := s.times[id]
		if !ok {
			if err := yield(id, nil, nil); err != nil {
				return err
			}
			continue
		}
		tc := t
		if err := yield(id, nil, &tc); err != nil {
			return err
		}
	}
	return nil
}

func newStore(backend Backend, arrays *catalog.Arrays) *Store {
	return New(backend, arrays, Caches{
		Headers: cache.New[HeaderKey, *DepHeader](100),
		Chunks:  cache.New[ChunkKey, []catalog.NodeId](100),
		Edges:   cache.New[string, bool](100),
	})
}

func collect(it func(yield func(catalog.NodeId) bool)) []catalog.NodeId {
	var out []catalog.NodeId
	it(func(id catalog.NodeId) bool {
		out = append(out, id)
		return true
	})
	return out
}

func TestCandidatesNewestFirst(t *testing.T) {
	backend := newFakeBackend()
	// B1(t=5), B2(t=15), ascending by time as stored.
	backend.addSingleChunkEdge(0, 1, []int64{5, 15}, []catalog.NodeId{10, 11})
	arrays := newArrays(t, map[catalog.NodeId]int64{10: 5, 11: 15})
	store := newStore(backend, arrays)

	got := collect(store.Candidates(context.Background(), 0, 1, 20, 0))
	want := []catalog.NodeId{11, 10}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Candidates() = %v, want %v", got, want)
	}
}

func TestCandidatesRespectsCutoff(t *testing.T) {
	backend := newFakeBackend()
	backend.addSingleChunkEdge(0, 1, []int64{5, 15}, []catalog.NodeId{10, 11})
	arrays := newArrays(t, map[catalog.NodeId]int64{10: 5, 11: 15})
	store := newStore(backend, arrays)

	got := collect(store.Candidates(context.Background(), 0, 1, 10, 0))
	if len(got) != 1 || got[0] != 10 {
		t.Fatalf("Candidates() at t=10 = %v, want [10]", got)
	}
}

func TestCandidatesMaxCap(t *testing.T) {
	backend := newFakeBackend()
	backend.addSingleChunkEdge(0, 1, []int64{5, 15}, []catalog.NodeId{10, 11})
	arrays := newArrays(t, map[catalog.NodeId]int64{10: 5, 11: 15})
	store := newStore(backend, arrays)

	got := collect(store.Candidates(context.Background(), 0, 1, 20, 1))
	if len(got) != 1 || got[0] != 11 {
		t.Fatalf("Candidates() capped = %v, want [11]", got)
	}
}

func TestEdgeExistsAgreesWithCandidates(t *testing.T) {
	backend := newFakeBackend()
	backend.addSingleChunkEdge(0, 1, []int64{5, 15}, []catalog.NodeId{10, 11})
	arrays := newArrays(t, map[catalog.NodeId]int64{10: 5, 11: 15})
	store := newStore(backend, arrays)
	ctx := context.Background()

	for _, dst := range []catalog.NodeId{10, 11} {
		ok, err := store.EdgeExists(ctx, 0, 1, dst, 20)
		if err != nil || !ok {
			t.Fatalf("EdgeExists(%d) = %v, %v, want true", dst, ok, err)
		}
	}
	ok, err := store.EdgeExists(ctx, 0, 1, 99, 20)
	if err != nil || ok {
		t.Fatalf("EdgeExists(99) = %v, %v, want false", ok, err)
	}
}

func TestHeaderAbsentOnMismatchedArrays(t *testing.T) {
	backend := newFakeBackend()
	minT := ptr(5)
	backend.headers[headerKey{src: 0, dep: 1}] = struct {
		mi, ma []*int64
		n      []int
	}{mi: []*int64{minT}, ma: []*int64{}, n: []int{1}} // ma too short
	arrays := newArrays(t, map[catalog.NodeId]int64{})
	store := newStore(backend, arrays)

	_, ok, err := store.Header(context.Background(), 0, 1)
	if err != nil || ok {
		t.Fatalf("Header() with mismatched arrays = ok=%v err=%v, want ok=false", ok, err)
	}
}

func TestCacheDisabledStillCorrect(t *testing.T) {
	backend := newFakeBackend()
	backend.addSingleChunkEdge(0, 1, []int64{5, 15}, []catalog.NodeId{10, 11})
	arrays := newArrays(t, map[catalog.NodeId]int64{10: 5, 11: 15})
	store := New(backend, arrays, Caches{})

	got := collect(store.Candidates(context.Background(), 0, 1, 20, 0))
	if len(got) != 2 || got[0] != 11 || got[1] != 10 {
		t.Fatalf("Candidates() with no caches = %v, want [11 10]", got)
	}
}
