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

package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pypiexposure/engine/catalog"
	"github.com/pypiexposure/engine/engine"
)

// renderTree prints an engine.Tree as indented ASCII art, each node
// labeled by its NodeId, in the style of the teacher's Graph.String():
// a single designated root (the node with no parent), its children
// indented one level at a time, and any node reachable by more than one
// parent noted as a cross-reference rather than repeated in full.
func renderTree(t *engine.Tree, arrays *catalog.Arrays) string {
	if t == nil {
		return "(no tree)\n"
	}
	children := make(map[catalog.NodeId][]catalog.NodeId)
	hasParent := make(map[catalog.NodeId]bool)
	for _, e := range t.Edges {
		children[e.Parent] = append(children[e.Parent], e.Child)
		hasParent[e.Child] = true
	}
	var roots []catalog.NodeId
	for _, id := range t.Pins {
		if !hasParent[id] {
			roots = append(roots, id)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	var b strings.Builder
	visited := make(map[catalog.NodeId]bool)
	for _, r := range roots {
		writeNode(&b, arrays, children, visited, r, 0)
	}
	return b.String()
}

func writeNode(b *strings.Builder, arrays *catalog.Arrays, children map[catalog.NodeId][]catalog.NodeId, visited map[catalog.NodeId]bool, id catalog.NodeId, depth int) {
	label := nodeLabel(arrays, id)
	if visited[id] {
		fmt.Fprintf(b, "%s%s (seen above)\n", strings.Repeat("  ", depth), label)
		return
	}
	visited[id] = true
	fmt.Fprintf(b, "%s%s\n", strings.Repeat("  ", depth), label)

	kids := append([]catalog.NodeId(nil), children[id]...)
	sort.Slice(kids, func(i, j int) bool { return kids[i] < kids[j] })
	for _, c := range kids {
		writeNode(b, arrays, children, visited, c, depth+1)
	}
}

func nodeLabel(arrays *catalog.Arrays, id catalog.NodeId) string {
	nameID, ok := arrays.NameOf(id)
	if !ok {
		return fmt.Sprintf("node#%d", id)
	}
	name, ok := arrays.Name(nameID)
	if !ok {
		return fmt.Sprintf("node#%d", id)
	}
	return fmt.Sprintf("%s (node#%d)", name, id)
}
