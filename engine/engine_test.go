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

package engine_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pypiexposure/engine/adjstore"
	"github.com/pypiexposure/engine/cache"
	"github.com/pypiexposure/engine/catalog"
	"github.com/pypiexposure/engine/engine"
	"github.com/pypiexposure/engine/internal/testutil"
)

func newContext(t *testing.T, f *testutil.Fixture, cfg engine.Config) *engine.Context {
	t.Helper()
	ctx := context.Background()
	c, err := engine.LoadContext(ctx, f, f, adjstore.Caches{
		Headers: cache.New[adjstore.HeaderKey, *adjstore.DepHeader](100),
		Chunks:  cache.New[adjstore.ChunkKey, []catalog.NodeId](100),
		Edges:   cache.New[string, bool](100),
	}, cfg)
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}
	return c
}

func nameID(t *testing.T, c *engine.Context, name string) catalog.NameId {
	t.Helper()
	id, ok := c.Arrays().NameID(name)
	if !ok {
		t.Fatalf("name %q not found", name)
	}
	return id
}

func TestResolveDefaultsCutoffFromUploadTimes(t *testing.T) {
	f := testutil.New()
	f.AddNode(0, "A", testutil.I64(10), testutil.I32(0b11))
	f.AddNode(1, "B", testutil.I64(5), testutil.I32(0b11))
	f.AddEdge(0, "B", 1)

	c := newContext(t, f, engine.Config{})
	res, err := c.Resolve(context.Background(), 0, 1, nameID(t, c, "B"), nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Depth != 1 {
		t.Fatalf("Resolve() = %+v, want ok depth=1", res)
	}
}

func TestResolveFailsFastWhenUploadTimeMissing(t *testing.T) {
	f := testutil.New()
	f.AddNode(0, "A", nil, testutil.I32(0b11))
	f.AddNode(1, "B", testutil.I64(5), testutil.I32(0b11))

	c := newContext(t, f, engine.Config{})
	res, err := c.Resolve(context.Background(), 0, 1, nameID(t, c, "B"), nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Depth != -1 {
		t.Fatalf("Resolve() = %+v, want ok=false depth=-1", res)
	}
}

func TestResolveBothFrontsAgreeOnVerdict(t *testing.T) {
	f := testutil.New()
	f.AddNode(0, "A", testutil.I64(1), testutil.I32(0b11))
	f.AddNode(1, "B", testutil.I64(5), testutil.I32(0b11))
	f.AddNode(2, "B", testutil.I64(15), testutil.I32(0b11))
	f.AddEdge(0, "B", 1, 2)

	solverCtx := newContext(t, f, engine.Config{Front: engine.FrontSolver})
	resolverCtx := newContext(t, f, engine.Config{Front: engine.FrontResolver})

	cutoff := int64(20)
	rn := nameID(t, solverCtx, "B")
	r1, err := solverCtx.Resolve(context.Background(), 0, 1, rn, &cutoff, false)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := resolverCtx.Resolve(context.Background(), 0, 1, rn, &cutoff, false)
	if err != nil {
		t.Fatal(err)
	}
	if r1.OK != r2.OK {
		t.Fatalf("fronts disagree on verdict: solver=%+v resolver=%+v", r1, r2)
	}
}

func TestResolveWithTreeReturnsWitnessPinSet(t *testing.T) {
	f := testutil.New()
	f.AddNode(0, "A", testutil.I64(1), testutil.I32(0b11))
	f.AddNode(1, "B", testutil.I64(5), testutil.I32(0b11))
	f.AddEdge(0, "B", 1)

	c := newContext(t, f, engine.Config{Front: engine.FrontResolver})
	res, err := c.Resolve(context.Background(), 0, 1, nameID(t, c, "B"), nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Tree == nil {
		t.Fatalf("Resolve() = %+v, want ok with a tree", res)
	}
	wantPins := map[catalog.NameId]catalog.NodeId{
		nameID(t, c, "A"): 0,
		nameID(t, c, "B"): 1,
	}
	if diff := cmp.Diff(wantPins, res.Tree.Pins); diff != "" {
		t.Fatalf("tree pin set mismatch (-want +got):\n%s", diff)
	}
	wantEdges := []engine.Edge{{Parent: 0, Child: 1}}
	if diff := cmp.Diff(wantEdges, res.Tree.Edges); diff != "" {
		t.Fatalf("tree edge set mismatch (-want +got):\n%s", diff)
	}
}
