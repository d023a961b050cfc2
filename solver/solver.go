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
Package solver implements the C4 backtracking solver: a depth-first search
over a global, single-copy pin set (one NodeId per NameId), narrowing a
running Python-compatibility mask and testing every parent->child edge
against AdjStore, as it was translated from the original
ExposureSolverCSP backtracker.
*/
package solver

import (
	"context"

	"github.com/pypiexposure/engine/adjstore"
	"github.com/pypiexposure/engine/catalog"
)

// FailReason is the closed vocabulary of structural and search failures a
// query can end in (§7). It is a string enum rather than a freeform error
// message so a driver can exhaustively switch on it.
type FailReason string

const (
	FailNone FailReason = ""

	// Structural failures: the query cannot begin.
	FailStartTimeMissing          FailReason = "start_time_missing"
	FailStartAfterT               FailReason = "start_after_t"
	FailStartPymaskZero           FailReason = "start_pymask_zero"
	FailStartNameMissing          FailReason = "start_name_missing"
	FailRootPymaskConflictAtStart FailReason = "root_pymask_conflict_at_start"

	// Search failures: counted across the DFS, the most frequent is
	// surfaced as the query's fail reason.
	FailNoCandidatesForDep        FailReason = "no_candidates_for_dep"
	FailAllCandidatesFailedForDep FailReason = "all_candidates_failed_for_dep"
	FailEdgeMissingForChosen      FailReason = "edge_missing_for_chosen"
	FailPythonConflictWithChosen  FailReason = "python_conflict_with_chosen"
	FailChosenDstTimeInvalid      FailReason = "chosen_dst_time_invalid"
	FailChildUnsatWithChosen      FailReason = "child_unsat_with_chosen"

	// FailUnsat is the fallback reason when the DFS failed but no
	// sub-reason was ever recorded (should not normally happen, but is
	// not treated as a programming error: it just means "unsat").
	FailUnsat FailReason = "unsat"
)

// Result is the outcome of one exposure query: whether a satisfying pin
// set exists, and if so the minimum depth from start to root discovered
// during the search.
type Result struct {
	OK         bool
	Depth      int // -1 when not applicable (OK is false)
	FailReason FailReason
}

// infiniteDepth stands in for "no depth discovered yet"; Python used None.
const infiniteDepth = -1

// Solver is the C4 engine front. It holds only read-only collaborators
// (AdjStore, catalog.Arrays) and the query parameters that are fixed for
// the lifetime of a batch run (the root), so a single Solver can be
// shared across concurrently-running queries: all of the actually mutable
// state (pin set, call-stack set, fail counters) lives in a query value
// created fresh by Exposure.
type Solver struct {
	adj    *adjstore.Store
	arrays *catalog.Arrays

	rootID              catalog.NodeId
	rootName            catalog.NameId
	maxCandidatesPerDep int
}

// New builds a Solver for a fixed root. maxCandidatesPerDep, if non-zero,
// caps how many candidates are tried per unpinned dependency — an
// incompleteness knob (§9): a capped run may report false for inputs that
// are actually exposed, and must not be compared for equality against an
// uncapped run.
func New(adj *adjstore.Store, arrays *catalog.Arrays, rootID catalog.NodeId, rootName catalog.NameId, maxCandidatesPerDep int) *Solver {
	return &Solver{adj: adj, arrays: arrays, rootID: rootID, rootName: rootName, maxCandidatesPerDep: maxCandidatesPerDep}
}

// query holds the per-call mutable state of one Exposure invocation: the
// global pin set, the DFS call-stack cycle guard, and fail-reason tally.
// A fresh query is created per call to Exposure and discarded on return
// (§3's lifecycle: "No query state is retained between queries").
type query struct {
	s *Solver

	chosen  map[catalog.NameId]catalog.NodeId
	inStack map[catalog.NodeId]bool

	failCounts map[FailReason]int

	// rootRequired and bestDepth are write-only monotonic across the
	// whole DFS: backtracking never reverts them, per §9 — success of
	// any branch that sets them is permanent for the query.
	rootRequired bool
	bestDepth    int
}

// Exposure is the C4 public contract: exposure(start, t) -> {ok, depth?,
// fail_reason?}.
func (s *Solver) Exposure(ctx context.Context, start catalog.NodeId, t int64) (Result, error) {
	if start == s.rootID {
		return Result{OK: true, Depth: 0}, nil
	}

	startTime, ok := s.arrays.UploadTime(start)
	if !ok {
		return Result{OK: false, Depth: infiniteDepth, FailReason: FailStartTimeMissing}, nil
	}
	if startTime > t {
		return Result{OK: false, Depth: infiniteDepth, FailReason: FailStartAfterT}, nil
	}

	startMask := s.arrays.PyMask(start)
	if startMask == 0 {
		return Result{OK: false, Depth: infiniteDepth, FailReason: FailStartPymaskZero}, nil
	}

	startName, ok := s.arrays.NameOf(start)
	if !ok {
		return Result{OK: false, Depth: infiniteDepth, FailReason: FailStartNameMissing}, nil
	}

	q := &query{
		s:          s,
		chosen:     map[catalog.NameId]catalog.NodeId{startName: start, s.rootName: s.rootID},
		inStack:    map[catalog.NodeId]bool{start: true},
		failCounts: make(map[FailReason]int),
		bestDepth:  infiniteDepth,
	}

	allowedPy := startMask & s.arrays.PyMask(s.rootID)
	if allowedPy == 0 {
		return Result{OK: false, Depth: infiniteDepth, FailReason: FailRootPymaskConflictAtStart}, nil
	}

	ok, err := q.solveNode(ctx, start, t, allowedPy, 0)
	if err != nil {
		return Result{}, err
	}

	if ok && q.rootRequired && q.bestDepth != infiniteDepth {
		return Result{OK: true, Depth: q.bestDepth}, nil
	}
	return Result{OK: false, Depth: infiniteDepth, FailReason: q.mostFrequentFailure()}, nil
}

func (q *query) mostFrequentFailure() FailReason {
	var best FailReason
	bestCount := 0
	for r, c := range q.failCounts {
		if c > bestCount {
			best, bestCount = r, c
		}
	}
	if bestCount == 0 {
		return FailUnsat
	}
	return best
}

// solveNode ensures node's dependencies are satisfiable under the global
// pin set, recursing into each one. It returns whether the node's
// dependency closure is satisfiable; root-requiredness and best-depth are
// recorded as side effects on q, never reverted by a failing branch.
func (q *query) solveNode(ctx context.Context, node catalog.NodeId, t int64, allowedPy int32, depth int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	depNames, err := q.s.adj.DepNames(ctx, node)
	if err != nil {
		return false, err
	}
	if len(depNames) == 0 {
		return true, nil
	}
	return q.backtrack(ctx, node, depNames, 0, t, allowedPy, depth)
}

// backtrack tries to satisfy depNames[i:] for node, given the narrowed
// allowedPy mask accumulated so far.
func (q *query) backtrack(ctx context.Context, node catalog.NodeId, depNames []catalog.NameId, i int, t int64, allowedPy int32, depth int) (bool, error) {
	if i == len(depNames) {
		return true, nil
	}
	depName := depNames[i]

	if depName == q.s.rootName {
		q.rootRequired = true
	}

	if chosen, already := q.chosen[depName]; already {
		return q.backtrackChosen(ctx, node, depName, chosen, depNames, i, t, allowedPy, depth)
	}
	return q.backtrackUnpinned(ctx, node, depName, depNames, i, t, allowedPy, depth)
}

// backtrackChosen handles a dependency name that is already globally
// pinned: the pin must be validated (time, edge, python mask) rather than
// chosen anew.
func (q *query) backtrackChosen(ctx context.Context, node catalog.NodeId, depName catalog.NameId, dst catalog.NodeId, depNames []catalog.NameId, i int, t int64, allowedPy int32, depth int) (bool, error) {
	dstTime, ok := q.s.arrays.UploadTime(dst)
	if !ok || dstTime > t {
		q.failCounts[FailChosenDstTimeInvalid]++
		return false, nil
	}

	exists, err := q.s.adj.EdgeExists(ctx, node, depName, dst, t)
	if err != nil {
		return false, err
	}
	if !exists {
		q.failCounts[FailEdgeMissingForChosen]++
		return false, nil
	}

	newAllowed := allowedPy & q.s.arrays.PyMask(dst)
	if newAllowed == 0 {
		q.failCounts[FailPythonConflictWithChosen]++
		return false, nil
	}

	if q.inStack[dst] {
		// Cycle through an already-pinned node is benign: satisfied by
		// construction (§3, §9).
		return q.backtrack(ctx, node, depNames, i+1, t, newAllowed, depth)
	}

	q.inStack[dst] = true
	ok, err = q.solveNode(ctx, dst, t, newAllowed, depth+1)
	delete(q.inStack, dst)
	if err != nil {
		return false, err
	}
	if !ok {
		q.failCounts[FailChildUnsatWithChosen]++
		return false, nil
	}

	q.recordDepthIfRoot(dst, depth+1)
	return q.backtrack(ctx, node, depNames, i+1, t, newAllowed, depth)
}

// backtrackUnpinned handles a dependency name with no global pin yet: try
// each candidate newest-first, committing and undoing the global pin
// around each attempt.
func (q *query) backtrackUnpinned(ctx context.Context, node catalog.NodeId, depName catalog.NameId, depNames []catalog.NameId, i int, t int64, allowedPy int32, depth int) (bool, error) {
	anyTried := false

	// Root forcing: the only candidate for the root's NameId is the
	// root NodeId itself (§4.4 step 3).
	if depName == q.s.rootName {
		ok, err := q.tryCandidate(ctx, node, depName, q.s.rootID, depNames, i, t, allowedPy, depth)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		anyTried = true
	} else {
		var iterErr error
		for dst := range q.s.adj.Candidates(ctx, node, depName, t, q.s.maxCandidatesPerDep) {
			anyTried = true
			ok, err := q.tryCandidate(ctx, node, depName, dst, depNames, i, t, allowedPy, depth)
			if err != nil {
				iterErr = err
				break
			}
			if ok {
				return true, nil
			}
		}
		if iterErr != nil {
			return false, iterErr
		}
	}

	if !anyTried {
		q.failCounts[FailNoCandidatesForDep]++
	} else {
		q.failCounts[FailAllCandidatesFailedForDep]++
	}
	return false, nil
}

// tryCandidate commits dst as the pin for depName, recurses into it and
// the remaining dependency names, and undoes the pin on any failure.
func (q *query) tryCandidate(ctx context.Context, node catalog.NodeId, depName catalog.NameId, dst catalog.NodeId, depNames []catalog.NameId, i int, t int64, allowedPy int32, depth int) (bool, error) {
	dstTime, ok := q.s.arrays.UploadTime(dst)
	if !ok || dstTime > t {
		return false, nil
	}
	newAllowed := allowedPy & q.s.arrays.PyMask(dst)
	if newAllowed == 0 {
		return false, nil
	}
	if q.inStack[dst] {
		// An in-progress cycle cannot be satisfied from this branch
		// yet; skip it (§4.4 step 3).
		return false, nil
	}

	q.chosen[depName] = dst
	q.inStack[dst] = true

	ok, err := q.solveNode(ctx, dst, t, newAllowed, depth+1)

	delete(q.inStack, dst)

	if err != nil {
		return false, err
	}
	if !ok {
		delete(q.chosen, depName)
		return false, nil
	}

	q.recordDepthIfRoot(dst, depth+1)

	if satisfied, err := q.backtrack(ctx, node, depNames, i+1, t, newAllowed, depth); err != nil {
		return false, err
	} else if satisfied {
		return true, nil
	}
	delete(q.chosen, depName)
	return false, nil
}

func (q *query) recordDepthIfRoot(dst catalog.NodeId, depth int) {
	if dst != q.s.rootID {
		return
	}
	if q.bestDepth == infiniteDepth || depth < q.bestDepth {
		q.bestDepth = depth
	}
}
