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

// Package testutil provides a small in-memory fixture standing in for the
// external catalog of §6, grounded on the teacher's resolve.LocalClient:
// a hand-built table of nodes and edges rather than a live database
// connection, used by the solver, resolver and engine tests.
package testutil

import (
	"context"

	"github.com/pypiexposure/engine/catalog"
)

// Node describes one fixture catalog row.
type Node struct {
	ID      catalog.NodeId
	Name    string
	Time    *int64
	PyMask  *int32
}

// edgeKey identifies one (src, dep name) edge group.
type edgeKey struct {
	src catalog.NodeId
	dep catalog.NameId
}

// Fixture is an in-memory catalog.Source and adjstore.Backend, built up
// with AddNode and AddEdge. It requires no network or database and is
// cheap enough to rebuild per test case.
type Fixture struct {
	nodes    []Node
	nameToID map[string]catalog.NameId
	nextName catalog.NameId

	// depOrder tracks the stable AdjDeps ordering per src (§3).
	depOrder map[catalog.NodeId][]catalog.NameId
	edges    map[edgeKey][]catalog.NodeId // sorted by upload_time ascending
}

// New creates an empty Fixture.
func New() *Fixture {
	return &Fixture{
		nameToID: make(map[string]catalog.NameId),
		depOrder: make(map[catalog.NodeId][]catalog.NameId),
		edges:    make(map[edgeKey][]catalog.NodeId),
	}
}

// NameID returns (creating if necessary) the dense id for a package name.
func (f *Fixture) NameID(name string) catalog.NameId {
	if id, ok := f.nameToID[name]; ok {
		return id
	}
	id := f.nextName
	f.nextName++
	f.nameToID[name] = id
	return id
}

// AddNode registers a node. time and mask may be nil to simulate a
// missing upload time or Python mask.
func (f *Fixture) AddNode(id catalog.NodeId, name string, time *int64, mask *int32) {
	f.NameID(name)
	f.nodes = append(f.nodes, Node{ID: id, Name: name, Time: time, PyMask: mask})
}

// AddEdge registers src's dependency on dstIDs under dep name depName.
// dstIDs must already be in upload_time ascending order, matching the
// catalog's chunk invariant; AddEdge stores them as a single chunk.
func (f *Fixture) AddEdge(src catalog.NodeId, depName string, dstIDs ...catalog.NodeId) {
	depID := f.NameID(depName)
	f.depOrder[src] = append(f.depOrder[src], depID)
	f.edges[edgeKey{src: src, dep: depID}] = dstIDs
}

func (f *Fixture) timeOf(id catalog.NodeId) *int64 {
	for _, n := range f.nodes {
		if n.ID == id {
			return n.Time
		}
	}
	return nil
}

// --- catalog.Source ---

func (f *Fixture) NameIDs(ctx context.Context, yield func(name string, id catalog.NameId) error) error {
	for name, id := range f.nameToID {
		if err := yield(name, id); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fixture) NodeIDs(ctx context.Context, yield func(id catalog.NodeId, name string) error) error {
	for _, n := range f.nodes {
		if err := yield(n.ID, n.Name); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fixture) RequiresPython(ctx context.Context, yield func(id catalog.NodeId, pyMask *int32, uploadTime *int64) error) error {
	for _, n := range f.nodes {
		if err := yield(n.ID, n.PyMask, n.Time); err != nil {
			return err
		}
	}
	return nil
}

// --- adjstore.Backend ---

func (f *Fixture) DepNames(ctx context.Context, src catalog.NodeId) ([]catalog.NameId, error) {
	return f.depOrder[src], nil
}

func (f *Fixture) Header(ctx context.Context, src catalog.NodeId, dep catalog.NameId) (mi, ma []*int64, n []int, ok bool, err error) {
	ids, exists := f.edges[edgeKey{src: src, dep: dep}]
	if !exists {
		return nil, nil, nil, false, nil
	}
	var minT, maxT *int64
	for _, id := range ids {
		tm := f.timeOf(id)
		if tm == nil {
			continue
		}
		if minT == nil || *tm < *minT {
			minT = tm
		}
		if maxT == nil || *tm > *maxT {
			maxT = tm
		}
	}
	return []*int64{minT}, []*int64{maxT}, []int{len(ids)}, true, nil
}

func (f *Fixture) ChunkDstIDs(ctx context.Context, src catalog.NodeId, dep catalog.NameId, chunk int) ([]catalog.NodeId, error) {
	if chunk != 0 {
		return nil, nil
	}
	return f.edges[edgeKey{src: src, dep: dep}], nil
}

// Build finalizes the fixture into a loaded catalog.Arrays, ready to pass
// to adjstore.New alongside the Fixture itself as the Backend.
func (f *Fixture) Build(ctx context.Context) (*catalog.Arrays, error) {
	return catalog.Load(ctx, f)
}

// I64 is a convenience for building *int64 literals inline in test tables.
func I64(v int64) *int64 { return &v }

// I32 is a convenience for building *int32 literals inline in test tables.
func I32(v int32) *int32 { return &v }
