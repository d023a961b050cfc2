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
Package catalog holds the flat, node-indexed arrays the exposure engine reads
in its innermost loop: upload time, Python-compatibility bitmask, and owning
package-name id, one entry per NodeId.

Everything in this package is read-only once built and safe to share across
goroutines without synchronization.
*/
package catalog

import "context"

// NodeId identifies a specific (package name, version) row. Dense,
// array-indexed, never negative.
type NodeId int32

// NameId identifies a canonicalized package name. Dense, array-indexed,
// never negative.
type NameId int32

// AllMask is used in place of a node's Python-compatibility mask when the
// catalog has no mask on file for it, per §3: "Missing -> treated as the
// observed OR of all known masks". Building an Arrays value computes the
// true observed OR; AllMask is only the fallback for an entirely empty
// catalog.
const AllMask = (1 << 26) - 1

// Source is the read-only bulk-load surface described in §6 of the
// specification: name_ids, node_ids and
// requires_python_with_timestamps. A concrete backend (see the
// mongocatalog package) only has to answer these three bulk queries; the
// engine never issues point lookups against it directly, it always goes
// through an Arrays built once from a Source.
type Source interface {
	// NameIDs streams the canonical-name <-> id bijection.
	NameIDs(ctx context.Context, yield func(name string, id NameId) error) error
	// NodeIDs streams every node's owning package name, keyed by NodeId.
	NodeIDs(ctx context.Context, yield func(id NodeId, name string) error) error
	// RequiresPython streams every node's Python mask and first-upload
	// time. A nil time or nil mask means the field is absent in the
	// catalog for that node.
	RequiresPython(ctx context.Context, yield func(id NodeId, pyMask *int32, uploadTime *int64) error) error
}

// Arrays is the C1 component: three flat arrays indexed by NodeId, loaded
// once per process from a Source. Lookups are O(1) and infallible: an
// out-of-range NodeId is defined to return the documented
// "missing" sentinel rather than a bounds error.
type Arrays struct {
	uploadTime []int64 // seconds since epoch; noUploadTime means missing
	pyMask     []int32
	nameID     []NameId // -1 means missing

	allMask int32

	// nameToID and idToName hold the canonical-name <-> NameId bijection,
	// used to translate between CLI/driver inputs (package names) and
	// the dense ids the engine operates on.
	nameToID map[string]NameId
	idToName []string
}

// noUploadTime is the sentinel stored for a node with no catalog upload
// time. It can never collide with a real epoch-seconds timestamp.
const noUploadTime = int64(-1) << 62

// noNameID is the sentinel stored for a node with no resolvable package
// name.
const noNameID = NameId(-1)

// Load builds an Arrays by exhausting a Source's bulk streams. The
// resulting value is immutable and safe for concurrent reads.
func Load(ctx context.Context, src Source) (*Arrays, error) {
	a := &Arrays{
		nameToID: make(map[string]NameId),
	}

	if err := src.NameIDs(ctx, func(name string, id NameId) error {
		if int(id) >= len(a.idToName) {
			grown := make([]string, id+1)
			copy(grown, a.idToName)
			a.idToName = grown
		}
		a.idToName[id] = name
		a.nameToID[name] = id
		return nil
	}); err != nil {
		return nil, err
	}

	// First pass over requires_python_with_timestamps: size the arrays
	// and compute the observed OR of all known masks, mirroring the
	// original loader's two-pass approach (it needs the final all_mask
	// before it can fill in the default for nodes with no mask).
	var maxID NodeId
	var observedMask int32
	type rpEntry struct {
		id   NodeId
		mask *int32
		t    *int64
	}
	var entries []rpEntry
	if err := src.RequiresPython(ctx, func(id NodeId, pyMask *int32, uploadTime *int64) error {
		if id > maxID {
			maxID = id
		}
		if pyMask != nil {
			observedMask |= *pyMask
		}
		entries = append(entries, rpEntry{id: id, mask: pyMask, t: uploadTime})
		return nil
	}); err != nil {
		return nil, err
	}
	if observedMask == 0 {
		observedMask = AllMask
	}
	a.allMask = observedMask

	size := int(maxID) + 1
	a.uploadTime = make([]int64, size)
	a.pyMask = make([]int32, size)
	a.nameID = make([]NameId, size)
	for i := range a.uploadTime {
		a.uploadTime[i] = noUploadTime
		a.pyMask[i] = observedMask
		a.nameID[i] = noNameID
	}
	for _, e := range entries {
		if e.mask != nil {
			a.pyMask[e.id] = *e.mask
		}
		if e.t != nil {
			a.uploadTime[e.id] = *e.t
		}
	}

	if err := src.NodeIDs(ctx, func(id NodeId, name string) error {
		if int(id) >= len(a.nameID) {
			// The node has no requires_python_with_timestamps entry
			// at all; grow to fit so its name is still recorded.
			growTime := make([]int64, id+1)
			growMask := make([]int32, id+1)
			growName := make([]NameId, id+1)
			copy(growTime, a.uploadTime)
			copy(growMask, a.pyMask)
			copy(growName, a.nameID)
			for i := len(a.uploadTime); i < len(growTime); i++ {
				growTime[i] = noUploadTime
				growMask[i] = observedMask
				growName[i] = noNameID
			}
			a.uploadTime, a.pyMask, a.nameID = growTime, growMask, growName
		}
		if nid, ok := a.nameToID[name]; ok {
			a.nameID[id] = nid
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return a, nil
}

// UploadTime returns the node's upload time and whether it is present. A
// NodeId outside the loaded range is treated as missing, never an error.
func (a *Arrays) UploadTime(id NodeId) (int64, bool) {
	if id < 0 || int(id) >= len(a.uploadTime) {
		return 0, false
	}
	t := a.uploadTime[id]
	return t, t != noUploadTime
}

// PyMask returns the node's Python-compatibility bitmask, or the catalog's
// observed all-mask if the node is out of range or has no mask on file.
func (a *Arrays) PyMask(id NodeId) int32 {
	if id < 0 || int(id) >= len(a.pyMask) {
		return a.allMask
	}
	return a.pyMask[id]
}

// AllMask returns the OR of every py_mask this catalog ever saw, used as
// the fallback value for nodes with no mask of their own.
func (a *Arrays) AllMask() int32 {
	return a.allMask
}

// NameOf returns the node's owning NameId and whether it is known. A node
// with no resolvable name cannot participate in global-consistency
// pinning (§3).
func (a *Arrays) NameOf(id NodeId) (NameId, bool) {
	if id < 0 || int(id) >= len(a.nameID) {
		return 0, false
	}
	n := a.nameID[id]
	return n, n != noNameID
}

// NameID looks up the dense id for a canonical package name.
func (a *Arrays) NameID(name string) (NameId, bool) {
	id, ok := a.nameToID[name]
	return id, ok
}

// Name returns the canonical name for a NameId.
func (a *Arrays) Name(id NameId) (string, bool) {
	if id < 0 || int(id) >= len(a.idToName) {
		return "", false
	}
	return a.idToName[id], true
}

// Len reports the number of NodeId slots loaded (the array size, not the
// count of nodes with complete data).
func (a *Arrays) Len() int {
	return len(a.uploadTime)
}
