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

// Package engine is the C6 entry point: it loads a query Context once per
// process from a read-only catalog, then answers individual Resolve
// calls against either front (the backtracking solver or the criteria
// resolver), deriving t when the caller omits it and optionally
// returning a diagnostic dependency tree.
package engine

import (
	"context"
	"fmt"

	"github.com/pypiexposure/engine/adjstore"
	"github.com/pypiexposure/engine/catalog"
	"github.com/pypiexposure/engine/resolver"
	"github.com/pypiexposure/engine/solver"
)

// Front selects which of C4/C5 a Context uses to answer Resolve calls.
type Front int

const (
	// FrontSolver uses the backtracking CSP search (C4). This is the
	// default: it is the cheaper of the two fronts for the common case
	// of a shallow, mostly-linear dependency chain.
	FrontSolver Front = iota
	// FrontResolver uses the criteria/provider search (C5).
	FrontResolver
)

// Config bounds a Context's search, mirroring §5's cancellation budgets.
type Config struct {
	// MaxCandidatesPerDep caps how many time-windowed candidates C4
	// considers per dependency edge before giving up on that edge.
	// Zero means unbounded.
	MaxCandidatesPerDep int
	// MaxRounds caps C5's round loop. Zero uses the resolver package's
	// own default (200000, matching pip's resolvelib bound).
	MaxRounds int
	// Front selects which search strategy Resolve uses.
	Front Front
}

// Context is a loaded catalog plus the shared AdjStore caches, built once
// per process and shared read-only across concurrent Resolve calls (§5).
type Context struct {
	arrays *catalog.Arrays
	adj    *adjstore.Store
	cfg    Config
}

// LoadContext builds a Context from a bulk catalog source and an adjacency
// backend, the way a process would at startup: one pass to build the
// flat catalog arrays (C1), then hand the same backend to AdjStore (C3)
// along with whatever caches the caller wants to share across queries.
func LoadContext(ctx context.Context, src catalog.Source, backend adjstore.Backend, caches adjstore.Caches, cfg Config) (*Context, error) {
	arrays, err := catalog.Load(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("engine: load catalog: %w", err)
	}
	adj := adjstore.New(backend, arrays, caches)
	return &Context{arrays: arrays, adj: adj, cfg: cfg}, nil
}

// Arrays exposes the loaded catalog arrays, e.g. for a driver that needs
// upload_time directly to build batch CSV rows.
func (c *Context) Arrays() *catalog.Arrays { return c.arrays }

// Tree is the optional diagnostic payload from §4.6: the witness pin set
// plus explicit parent→child edges reconstructed from it (see buildTree).
type Tree struct {
	Pins  map[catalog.NameId]catalog.NodeId
	Edges []Edge
}

// Edge is one parent→child step recorded for diagnostics.
type Edge struct {
	Parent catalog.NodeId
	Child  catalog.NodeId
}

// Result is the C6 public contract: ok, depth, and an optional
// diagnostic tree.
type Result struct {
	OK         bool
	Depth      int
	FailReason string
	Tree       *Tree
}

// Resolve answers one exposure query for (nodeID, rootID, rootNameID).
// If t is nil, it defaults to max(upload_time[nodeID], upload_time[rootID])
// per §4.6; if either is missing, Resolve fails fast with ok=false,
// depth=-1 without dispatching to either front.
func (c *Context) Resolve(ctx context.Context, nodeID, rootID catalog.NodeId, rootNameID catalog.NameId, t *int64, withTree bool) (Result, error) {
	cutoff, ok := c.resolveCutoff(nodeID, rootID, t)
	if !ok {
		return Result{OK: false, Depth: -1, FailReason: "start_time_missing"}, nil
	}

	switch c.cfg.Front {
	case FrontResolver:
		return c.resolveWithResolver(ctx, nodeID, rootID, rootNameID, cutoff, withTree)
	default:
		return c.resolveWithSolver(ctx, nodeID, rootID, rootNameID, cutoff, withTree)
	}
}

// resolveCutoff implements the t-defaulting rule of §4.6.
func (c *Context) resolveCutoff(nodeID, rootID catalog.NodeId, t *int64) (int64, bool) {
	if t != nil {
		return *t, true
	}
	nodeTime, ok := c.arrays.UploadTime(nodeID)
	if !ok {
		return 0, false
	}
	rootTime, ok := c.arrays.UploadTime(rootID)
	if !ok {
		return 0, false
	}
	if nodeTime > rootTime {
		return nodeTime, true
	}
	return rootTime, true
}

func (c *Context) resolveWithSolver(ctx context.Context, nodeID, rootID catalog.NodeId, rootNameID catalog.NameId, t int64, withTree bool) (Result, error) {
	s := solver.New(c.adj, c.arrays, rootID, rootNameID, c.cfg.MaxCandidatesPerDep)
	res, err := s.Exposure(ctx, nodeID, t)
	if err != nil {
		return Result{}, err
	}
	out := Result{OK: res.OK, Depth: res.Depth, FailReason: string(res.FailReason)}
	if withTree && res.OK {
		// The backtracking solver does not retain its pin set past
		// return; a diagnostic tree from this front requires re-running
		// the resolver front, which does retain one (§4.6's tree is
		// "optional" precisely because reconstructing it from C4 costs
		// a second pass).
		treeRes, err := c.resolveWithResolver(ctx, nodeID, rootID, rootNameID, t, true)
		if err == nil && treeRes.OK {
			out.Tree = treeRes.Tree
		}
	}
	return out, nil
}

func (c *Context) resolveWithResolver(ctx context.Context, nodeID, rootID catalog.NodeId, rootNameID catalog.NameId, t int64, withTree bool) (Result, error) {
	r := resolver.New(c.adj, c.arrays, rootID, rootNameID, c.cfg.MaxRounds)
	res, err := r.Resolve(ctx, nodeID, t)
	if err != nil {
		return Result{}, err
	}
	out := Result{OK: res.OK, Depth: res.Depth, FailReason: string(res.FailReason)}
	if withTree && res.OK {
		out.Tree = buildTree(ctx, c.adj, res.Pins)
	}
	return out, nil
}

// buildTree reconstructs explicit parent→child edges from a witness pin
// set by re-querying each pinned node's dependency names and adding an
// edge to whichever node is pinned for each of those names. It does not
// re-check the catalog edge or its time window; the search has already
// done that. Edge order follows map iteration and is not stable.
func buildTree(ctx context.Context, adj *adjstore.Store, pins map[catalog.NameId]catalog.NodeId) *Tree {
	tree := &Tree{Pins: pins}
	for _, parent := range pins {
		names, err := adj.DepNames(ctx, parent)
		if err != nil {
			continue
		}
		for _, name := range names {
			child, ok := pins[name]
			if !ok {
				continue
			}
			tree.Edges = append(tree.Edges, Edge{Parent: parent, Child: child})
		}
	}
	return tree
}
