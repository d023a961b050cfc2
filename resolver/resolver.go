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
Package resolver implements the C5 alternative front: the same exposure
question expressed as a pip-resolvelib-style criteria/provider search
instead of a raw backtracking DFS. It is translated from
deps.dev/util/resolve/pypi's port of resolvelib, substituting Candidate
for catalog.NodeId and Requirement for a (NameId, parent NodeId) pair, and
consulting adjstore.Store instead of a version-specifier matching client.

It shares C4's contracts (§8): same pin-set invariants, same depth
semantics modulo the diamond caveat of §9, same inputs. It differs only in
search strategy: conflict-driven backjumping over criteria instead of a
plain DFS.
*/
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pypiexposure/engine/adjstore"
	"github.com/pypiexposure/engine/catalog"
)

// noParent is the sentinel recorded for a synthetic, unparented
// requirement: the initial requirement for start, and the forced
// requirement for root (§4.5: "A parent of none is the synthetic 'user'
// requirement for start").
const noParent = catalog.NodeId(-1)

// requirement is (name_id, parent) from §4.5.
type requirement struct {
	name   catalog.NameId
	parent catalog.NodeId
}

// FailReason mirrors the resolver-front failure vocabulary of §7.
type FailReason string

const (
	FailNone              FailReason = ""
	FailImpossible        FailReason = "impossible"
	FailTooDeep           FailReason = "too_deep"
	FailInconsistentCand  FailReason = "inconsistent_candidate"
	FailRootUnreachable   FailReason = "root_unreachable"
)

// Result is the outcome of one resolution: whether a pin set was found,
// and the BFS depth from start's name to root's name over the resolved
// dependency graph (§4.5), or -1 if root is unreachable or no pin set
// exists.
type Result struct {
	OK         bool
	Depth      int
	FailReason FailReason
	// Pins is the witness pin set, NameId -> NodeId, present only when OK.
	Pins map[catalog.NameId]catalog.NodeId
}

// Resolver is the C5 engine front.
type Resolver struct {
	adj       *adjstore.Store
	arrays    *catalog.Arrays
	rootID    catalog.NodeId
	rootName  catalog.NameId
	maxRounds int
}

// New builds a Resolver for a fixed root. maxRounds bounds the search the
// way pip itself bounds resolvelib at 200000 rounds; exceeding it reports
// FailTooDeep rather than running forever.
func New(adj *adjstore.Store, arrays *catalog.Arrays, rootID catalog.NodeId, rootName catalog.NameId, maxRounds int) *Resolver {
	if maxRounds <= 0 {
		maxRounds = 200000
	}
	return &Resolver{adj: adj, arrays: arrays, rootID: rootID, rootName: rootName, maxRounds: maxRounds}
}

// Resolve is the C5 public contract.
func (r *Resolver) Resolve(ctx context.Context, start catalog.NodeId, t int64) (Result, error) {
	if start == r.rootID {
		return Result{OK: true, Depth: 0, Pins: map[catalog.NameId]catalog.NodeId{}}, nil
	}

	startTime, ok := r.arrays.UploadTime(start)
	if !ok || startTime > t {
		return Result{Depth: -1, FailReason: FailImpossible}, nil
	}
	startName, ok := r.arrays.NameOf(start)
	if !ok {
		return Result{Depth: -1, FailReason: FailImpossible}, nil
	}
	if p := r.arrays.PyMask(start) & r.arrays.PyMask(r.rootID); p == 0 {
		return Result{Depth: -1, FailReason: FailImpossible}, nil
	}

	p := &provider{r: r, t: t, startID: start, startName: startName}
	res := &resolution{p: p}

	st, err := res.resolve(ctx, r.maxRounds)
	if err != nil {
		var tooDeep errTooDeep
		if errors.As(err, &tooDeep) {
			return Result{Depth: -1, FailReason: FailTooDeep}, nil
		}
		var impossible resolutionImpossibleError
		if errors.As(err, &impossible) {
			return Result{Depth: -1, FailReason: FailImpossible}, nil
		}
		return Result{}, err
	}

	pins := make(map[catalog.NameId]catalog.NodeId, len(st.mapping))
	for name, id := range st.mapping {
		pins[name] = id
	}

	depth, reachable := bfsDepth(st, startName, r.rootName)
	if !reachable {
		return Result{OK: false, Depth: -1, FailReason: FailRootUnreachable, Pins: pins}, nil
	}
	return Result{OK: true, Depth: depth, Pins: pins}, nil
}

// bfsDepth builds the directed NameId graph implied by get_dependencies
// edges recorded on each criterion (parent's name -> name, for every
// non-synthetic requirement that contributed to the final pin set) and
// BFS's from startName to rootName (§4.5).
func bfsDepth(st *state, startName, rootName catalog.NameId) (int, bool) {
	if startName == rootName {
		return 0, true
	}
	adjNames := make(map[catalog.NameId][]catalog.NameId)
	for name, crit := range st.criteria {
		for _, req := range crit.reqs {
			if req.parent == noParent {
				continue
			}
			parentName, ok := st.nameOfPinned(req.parent)
			if !ok {
				continue
			}
			adjNames[parentName] = append(adjNames[parentName], name)
		}
	}

	visited := map[catalog.NameId]bool{startName: true}
	queue := []catalog.NameId{startName}
	depth := map[catalog.NameId]int{startName: 0}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == rootName {
			return depth[cur], true
		}
		for _, next := range adjNames[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			depth[next] = depth[cur] + 1
			queue = append(queue, next)
		}
	}
	return -1, false
}

// nameOfPinned looks up the NameId of a pinned NodeId by scanning the
// mapping; state keeps mapping keyed by NameId so this is the inverse.
func (s *state) nameOfPinned(id catalog.NodeId) (catalog.NameId, bool) {
	for name, pinned := range s.mapping {
		if pinned == id {
			return name, true
		}
	}
	return 0, false
}

// provider is the resolvelib-style provider: it answers find_matches and
// get_dependencies against AdjStore instead of a version-specifier
// matching client.
type provider struct {
	r         *Resolver
	t         int64
	startID   catalog.NodeId
	startName catalog.NameId
}

// findMatches implements §4.5's find_matches: every requirement on name
// contributes its own candidate set, and the result is their
// intersection. A requirement with no parent contributes exactly one
// candidate — root if name is the root's name, start otherwise — so that
// a real edge requirement from an actual parent (handled by
// candidatesFor, which only returns ids adjstore actually has an edge
// to) still has to agree with the forced pin. Without this intersection
// a pin forced by identity could be accepted even when no catalog edge
// to it exists.
func (p *provider) findMatches(ctx context.Context, name catalog.NameId, reqs []requirement, incompat map[catalog.NodeId]bool, allowedPy int32) ([]catalog.NodeId, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	matches, err := p.candidateSetFor(ctx, name, reqs[0], incompat, allowedPy)
	if err != nil {
		return nil, err
	}
	for _, req := range reqs[1:] {
		if len(matches) == 0 {
			break
		}
		next, err := p.candidateSetFor(ctx, name, req, incompat, allowedPy)
		if err != nil {
			return nil, err
		}
		matches = intersect(matches, next)
	}
	return matches, nil
}

// candidateSetFor computes the candidate set contributed by a single
// requirement, before intersection with any sibling requirements on the
// same name.
func (p *provider) candidateSetFor(ctx context.Context, name catalog.NameId, req requirement, incompat map[catalog.NodeId]bool, allowedPy int32) ([]catalog.NodeId, error) {
	if req.parent == noParent {
		if name == p.r.rootName {
			rootTime, ok := p.r.arrays.UploadTime(p.r.rootID)
			if !ok || rootTime > p.t || incompat[p.r.rootID] {
				return nil, nil
			}
			return []catalog.NodeId{p.r.rootID}, nil
		}
		if incompat[p.startID] {
			return nil, nil
		}
		return []catalog.NodeId{p.startID}, nil
	}
	return p.candidatesFor(ctx, req, incompat, allowedPy)
}

func (p *provider) candidatesFor(ctx context.Context, req requirement, incompat map[catalog.NodeId]bool, allowedPy int32) ([]catalog.NodeId, error) {
	var out []catalog.NodeId
	for id := range p.r.adj.Candidates(ctx, req.parent, req.name, p.t, 0) {
		if incompat[id] {
			continue
		}
		if allowedPy&p.r.arrays.PyMask(id) == 0 {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// getDependencies implements §4.5's get_dependencies: one requirement per
// entry of dep_names(cand), each with cand as its parent.
func (p *provider) getDependencies(ctx context.Context, cand catalog.NodeId) ([]requirement, error) {
	names, err := p.r.adj.DepNames(ctx, cand)
	if err != nil {
		return nil, err
	}
	reqs := make([]requirement, len(names))
	for i, n := range names {
		reqs[i] = requirement{name: n, parent: cand}
	}
	return reqs, nil
}

// intersect keeps only elements present in both a and b. It may reuse a's
// backing array.
func intersect(a, b []catalog.NodeId) []catalog.NodeId {
	w := 0
	for _, av := range a {
		for _, bv := range b {
			if av == bv {
				a[w] = av
				w++
				break
			}
		}
	}
	return a[:w]
}

// criterion mirrors resolvelib's Criterion object, re-keyed to our
// integer domain: the requirements seen so far for a NameId, the
// candidates that satisfy all of them, and candidates known not to work
// (populated during backtracking).
type criterion struct {
	reqs              []requirement
	incompatibilities map[catalog.NodeId]bool
	candidates        []catalog.NodeId
}

func (c criterion) copy() criterion {
	incompat := make(map[catalog.NodeId]bool, len(c.incompatibilities))
	for k, v := range c.incompatibilities {
		incompat[k] = v
	}
	return criterion{reqs: c.reqs, incompatibilities: incompat, candidates: c.candidates}
}

// state is one point in the resolution's state stack: the pin mapping
// (name -> candidate), the order pins were added (for backtracking), the
// criteria collected so far, and the running allowed_py mask as of this
// state.
type state struct {
	mapping   map[catalog.NameId]catalog.NodeId
	pinOrder  []catalog.NameId
	criteria  map[catalog.NameId]criterion
	allowedPy int32
}

func newState(allowedPy int32) *state {
	return &state{
		mapping:   make(map[catalog.NameId]catalog.NodeId),
		criteria:  make(map[catalog.NameId]criterion),
		allowedPy: allowedPy,
	}
}

func (s *state) clone() *state {
	c := &state{
		mapping:   make(map[catalog.NameId]catalog.NodeId, len(s.mapping)),
		pinOrder:  append([]catalog.NameId(nil), s.pinOrder...),
		criteria:  make(map[catalog.NameId]criterion, len(s.criteria)),
		allowedPy: s.allowedPy,
	}
	for k, v := range s.mapping {
		c.mapping[k] = v
	}
	for k, v := range s.criteria {
		c.criteria[k] = v
	}
	return c
}

func (s *state) pin(name catalog.NameId, cand catalog.NodeId, newAllowedPy int32) {
	if _, already := s.mapping[name]; !already {
		s.pinOrder = append(s.pinOrder, name)
	}
	s.mapping[name] = cand
	s.allowedPy = newAllowedPy
}

// popLastPin removes the most recently pinned name/candidate pair,
// mirroring versionMap.Pop in the teacher's pypi resolver.
func (s *state) popLastPin() (catalog.NameId, catalog.NodeId, bool) {
	if len(s.pinOrder) == 0 {
		return 0, 0, false
	}
	name := s.pinOrder[len(s.pinOrder)-1]
	s.pinOrder = s.pinOrder[:len(s.pinOrder)-1]
	cand := s.mapping[name]
	delete(s.mapping, name)
	return name, cand, true
}

// resolution drives the state stack, mirroring resolvelib.Resolution.
type resolution struct {
	states []*state
	p      *provider
}

func (r *resolution) state() *state {
	if len(r.states) == 0 {
		return nil
	}
	return r.states[len(r.states)-1]
}

func (r *resolution) pushClone() {
	r.states = append(r.states, r.state().clone())
}

// mergeIntoCriterion merges a new requirement into the criterion for its
// name, recomputing candidates. It does not mutate the current state;
// the caller installs the result.
func (r *resolution) mergeIntoCriterion(ctx context.Context, req requirement, allowedPy int32) (catalog.NameId, criterion, error) {
	name := req.name
	crit, _ := r.state().criteria[name]
	for _, old := range crit.reqs {
		if old == req {
			return name, crit, nil
		}
	}
	reqs := append(append([]requirement(nil), crit.reqs...), req)
	matches, err := r.p.findMatches(ctx, name, reqs, crit.incompatibilities, allowedPy)
	if err != nil {
		return 0, criterion{}, err
	}
	if len(matches) == 0 {
		return 0, criterion{}, requirementsConflictedError{name: name}
	}
	newCrit := crit.copy()
	newCrit.reqs = reqs
	newCrit.candidates = matches
	return name, newCrit, nil
}

// isCurrentPinSatisfying mirrors the teacher's simplification: rather
// than re-running is_satisfied_by against the catalog, it is enough that
// the current pin still appears among the criterion's candidates, since
// candidates are always kept in sync with the criterion's requirements.
func (r *resolution) isCurrentPinSatisfying(name catalog.NameId, crit criterion) bool {
	pin, ok := r.state().mapping[name]
	if !ok {
		return false
	}
	for _, c := range crit.candidates {
		if c == pin {
			return true
		}
	}
	return false
}

func (r *resolution) getCriteriaToUpdate(ctx context.Context, cand catalog.NodeId, allowedPy int32) (map[catalog.NameId]criterion, error) {
	deps, err := r.p.getDependencies(ctx, cand)
	if err != nil {
		return nil, err
	}
	out := make(map[catalog.NameId]criterion, len(deps))
	for _, d := range deps {
		name, crit, err := r.mergeIntoCriterion(ctx, d, allowedPy)
		if err != nil {
			return nil, err
		}
		out[name] = crit
	}
	return out, nil
}

// attemptToPinCriterion tries each candidate of name's criterion, newest
// first, narrowing allowed_py by the candidate's own mask before
// attempting to pull in its dependencies.
func (r *resolution) attemptToPinCriterion(ctx context.Context, name catalog.NameId) ([]requirementsConflictedError, error) {
	crit := r.state().criteria[name]
	var causes []requirementsConflictedError
	for _, cand := range crit.candidates {
		newAllowedPy := r.state().allowedPy & r.p.r.arrays.PyMask(cand)
		if newAllowedPy == 0 {
			causes = append(causes, requirementsConflictedError{name: name})
			continue
		}
		updates, err := r.getCriteriaToUpdate(ctx, cand, newAllowedPy)
		if err != nil {
			var rce requirementsConflictedError
			if errors.As(err, &rce) {
				causes = append(causes, rce)
				continue
			}
			return nil, err
		}
		s := r.state()
		s.pin(name, cand, newAllowedPy)
		for n, c := range updates {
			s.criteria[n] = c
		}
		return nil, nil
	}
	return causes, nil
}

// backtrack winds the state stack back to a point where the newly
// discovered incompatibility can be absorbed, mirroring the teacher's
// resolution.backtrack.
func (r *resolution) backtrack(ctx context.Context) (bool, error) {
	for len(r.states) >= 3 {
		r.states = r.states[:len(r.states)-1]
		broken := r.state()
		r.states = r.states[:len(r.states)-1]

		name, cand, ok := broken.popLastPin()
		if !ok {
			return false, nil
		}

		type incompat struct {
			name catalog.NameId
			bad  map[catalog.NodeId]bool
		}
		var gathered []incompat
		for n, c := range broken.criteria {
			if len(c.incompatibilities) > 0 {
				gathered = append(gathered, incompat{name: n, bad: c.incompatibilities})
			}
		}
		gathered = append(gathered, incompat{name: name, bad: map[catalog.NodeId]bool{cand: true}})

		r.pushClone()
		ok2 := true
		for _, g := range gathered {
			crit, exists := r.state().criteria[g.name]
			if !exists {
				continue
			}
			merged := make(map[catalog.NodeId]bool, len(g.bad)+len(crit.incompatibilities))
			for k := range g.bad {
				merged[k] = true
			}
			for k := range crit.incompatibilities {
				merged[k] = true
			}
			var kept []catalog.NodeId
			for _, c := range crit.candidates {
				if !merged[c] {
					kept = append(kept, c)
				}
			}
			if len(kept) == 0 {
				ok2 = false
				break
			}
			newCrit := crit.copy()
			newCrit.incompatibilities = merged
			newCrit.candidates = kept
			r.state().criteria[g.name] = newCrit
		}
		if ok2 {
			return true, nil
		}
	}
	return false, nil
}

// resolve runs the round loop described in §4.5, mirroring the teacher's
// resolution.resolve.
func (r *resolution) resolve(ctx context.Context, maxRounds int) (*state, error) {
	allowedPy := r.p.r.arrays.PyMask(r.p.startID) & r.p.r.arrays.PyMask(r.p.r.rootID)

	r.states = []*state{newState(allowedPy)}
	initial := []requirement{
		{name: r.p.startName, parent: noParent},
		{name: r.p.r.rootName, parent: noParent},
	}
	for _, req := range initial {
		name, crit, err := r.mergeIntoCriterion(ctx, req, allowedPy)
		if err != nil {
			var rce requirementsConflictedError
			if errors.As(err, &rce) {
				return nil, resolutionImpossibleError{}
			}
			return nil, err
		}
		r.state().criteria[name] = crit
	}
	r.pushClone()

	for round := 0; round < maxRounds; round++ {
		if round%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		st := r.state()
		var unsatisfied []catalog.NameId
		for name, crit := range st.criteria {
			if !r.isCurrentPinSatisfying(name, crit) {
				unsatisfied = append(unsatisfied, name)
			}
		}
		if len(unsatisfied) == 0 {
			return st, nil
		}
		sort.Slice(unsatisfied, func(i, j int) bool { return unsatisfied[i] < unsatisfied[j] })
		pick := unsatisfied[0]

		causes, err := r.attemptToPinCriterion(ctx, pick)
		if err != nil {
			return nil, err
		}
		if len(causes) != 0 {
			ok, err := r.backtrack(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, resolutionImpossibleError{}
			}
		} else {
			r.pushClone()
		}
	}
	return nil, errTooDeep{}
}

// requirementsConflictedError signals a set of requirements has no
// satisfying candidate.
type requirementsConflictedError struct {
	name catalog.NameId
}

func (e requirementsConflictedError) Error() string {
	return fmt.Sprintf("requirements conflict for name %d", e.name)
}

// resolutionImpossibleError signals the round loop exhausted every
// backtrack option.
type resolutionImpossibleError struct{}

func (resolutionImpossibleError) Error() string { return "resolution impossible" }

// errTooDeep signals the round budget was exceeded.
type errTooDeep struct{}

func (errTooDeep) Error() string { return "resolution aborted after too many rounds" }
