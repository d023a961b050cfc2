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

package solver_test

import (
	"context"
	"testing"

	"github.com/pypiexposure/engine/adjstore"
	"github.com/pypiexposure/engine/cache"
	"github.com/pypiexposure/engine/catalog"
	"github.com/pypiexposure/engine/internal/testutil"
	"github.com/pypiexposure/engine/solver"
)

func newSolver(t *testing.T, f *testutil.Fixture, rootID catalog.NodeId, rootName string, maxCandidatesPerDep int) *solver.Solver {
	t.Helper()
	ctx := context.Background()
	arrays, err := f.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	adj := adjstore.New(f, arrays, adjstore.Caches{
		Headers: cache.New[adjstore.HeaderKey, *adjstore.DepHeader](0),
		Chunks:  cache.New[adjstore.ChunkKey, []catalog.NodeId](0),
		Edges:   cache.New[string, bool](0),
	})
	if _, ok := arrays.NameID(rootName); !ok {
		t.Fatalf("root name %q not found", rootName)
	}
	return solver.New(adj, arrays, rootID, nameIDFor(arrays, rootName), maxCandidatesPerDep)
}

func nameIDFor(arrays *catalog.Arrays, name string) catalog.NameId {
	id, _ := arrays.NameID(name)
	return id
}

// Scenario 1: Identity.
func TestIdentity(t *testing.T) {
	f := testutil.New()
	f.AddNode(0, "A", testutil.I64(10), testutil.I32(0b11))
	s := newSolver(t, f, 0, "A", 0)

	res, err := s.Exposure(context.Background(), 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Depth != 0 {
		t.Fatalf("Exposure() = %+v, want ok depth=0", res)
	}
}

// Scenario 2: direct dependency, single candidate.
func TestDirectDepSingleCandidate(t *testing.T) {
	f := testutil.New()
	f.AddNode(0, "A", testutil.I64(1), testutil.I32(0b11))
	f.AddNode(1, "B", testutil.I64(5), testutil.I32(0b11))
	f.AddEdge(0, "B", 1)
	s := newSolver(t, f, 1, "B", 0)

	res, err := s.Exposure(context.Background(), 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Depth != 1 {
		t.Fatalf("Exposure() = %+v, want ok depth=1", res)
	}
}

// Scenario 3: root pinning prefers the root's version over a newer one.
func TestRootPinningOverridesNewer(t *testing.T) {
	f := testutil.New()
	f.AddNode(0, "A", testutil.I64(1), testutil.I32(0b11))
	f.AddNode(1, "B", testutil.I64(5), testutil.I32(0b11))
	f.AddNode(2, "B", testutil.I64(15), testutil.I32(0b11))
	f.AddEdge(0, "B", 1, 2)
	s := newSolver(t, f, 1, "B", 0)

	res, err := s.Exposure(context.Background(), 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Depth != 1 {
		t.Fatalf("Exposure() = %+v, want ok depth=1", res)
	}
}

// Scenario 4: Python-mask conflict.
func TestPythonMaskConflict(t *testing.T) {
	f := testutil.New()
	f.AddNode(0, "A", testutil.I64(1), testutil.I32(0b10))
	f.AddNode(1, "B", testutil.I64(5), testutil.I32(0b01))
	f.AddEdge(0, "B", 1)
	s := newSolver(t, f, 1, "B", 0)

	res, err := s.Exposure(context.Background(), 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.FailReason != solver.FailPythonConflictWithChosen {
		t.Fatalf("Exposure() = %+v, want fail python_conflict_with_chosen", res)
	}
}

// Scenario 5: time cutoff excludes the root.
func TestTimeCutoff(t *testing.T) {
	f := testutil.New()
	f.AddNode(0, "A", testutil.I64(10), testutil.I32(0b11))
	f.AddNode(1, "B", testutil.I64(30), testutil.I32(0b11))
	f.AddEdge(0, "B", 1)
	s := newSolver(t, f, 1, "B", 0)

	res, err := s.Exposure(context.Background(), 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatalf("Exposure() = %+v, want failure", res)
	}
}

// Scenario 6: unreachable root.
func TestUnreachableRoot(t *testing.T) {
	f := testutil.New()
	f.AddNode(0, "A", testutil.I64(1), testutil.I32(0b11))
	f.AddNode(1, "C", testutil.I64(1), testutil.I32(0b11))
	f.AddNode(2, "R", testutil.I64(1), testutil.I32(0b11))
	f.AddEdge(0, "C", 1)
	s := newSolver(t, f, 2, "R", 0)

	res, err := s.Exposure(context.Background(), 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatalf("Exposure() = %+v, want failure (root never required)", res)
	}
}

// Trivial missingness: a node with no upload time always fails fast.
func TestTrivialMissingness(t *testing.T) {
	f := testutil.New()
	f.AddNode(0, "A", nil, testutil.I32(0b11))
	f.AddNode(1, "B", testutil.I64(5), testutil.I32(0b11))
	s := newSolver(t, f, 1, "B", 0)

	res, err := s.Exposure(context.Background(), 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Depth != -1 || res.FailReason != solver.FailStartTimeMissing {
		t.Fatalf("Exposure() = %+v, want start_time_missing", res)
	}
}

// Cache equivalence: capacity-0 caches must not change the verdict.
func TestCacheEquivalence(t *testing.T) {
	f := testutil.New()
	f.AddNode(0, "A", testutil.I64(1), testutil.I32(0b11))
	f.AddNode(1, "B", testutil.I64(5), testutil.I32(0b11))
	f.AddEdge(0, "B", 1)
	ctx := context.Background()
	arrays, err := f.Build(ctx)
	if err != nil {
		t.Fatal(err)
	}

	withCache := adjstore.New(f, arrays, adjstore.Caches{
		Headers: cache.New[adjstore.HeaderKey, *adjstore.DepHeader](100),
		Chunks:  cache.New[adjstore.ChunkKey, []catalog.NodeId](100),
		Edges:   cache.New[string, bool](100),
	})
	withoutCache := adjstore.New(f, arrays, adjstore.Caches{})

	rootName := nameIDFor(arrays, "B")
	r1, err := solver.New(withCache, arrays, 1, rootName, 0).Exposure(ctx, 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := solver.New(withoutCache, arrays, 1, rootName, 0).Exposure(ctx, 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	if r1 != r2 {
		t.Fatalf("cached result %+v != uncached result %+v", r1, r2)
	}
}
