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

// Package mongocatalog implements catalog.Source and adjstore.Backend
// against MongoDB, with the collection schema of the original ingestion
// pipeline's pymongo writer: global_graph_name_ids, global_graph_node_ids,
// global_graph_requires_python_with_timestamps, global_graph_adj_deps,
// global_graph_adj_headers, global_graph_adj_chunks, plus a per-subgraph
// pair of collections the batch driver reads directly (§6).
package mongocatalog

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pypiexposure/engine/catalog"
)

// Collections names the six core collections; defaults match the
// original loader's argparse defaults.
type Collections struct {
	NameIDs             string
	NodeIDs             string
	RequiresPython      string
	AdjDeps             string
	AdjHeaders          string
	AdjChunks           string
}

// DefaultCollections returns the original ingestion pipeline's collection
// names.
func DefaultCollections() Collections {
	return Collections{
		NameIDs:        "global_graph_name_ids",
		NodeIDs:        "global_graph_node_ids",
		RequiresPython: "global_graph_requires_python_with_timestamps",
		AdjDeps:        "global_graph_adj_deps",
		AdjHeaders:     "global_graph_adj_headers",
		AdjChunks:      "global_graph_adj_chunks",
	}
}

// Client is a catalog.Source and adjstore.Backend backed by a MongoDB
// database. It issues one query per AdjStore miss; the caller is
// expected to wrap it in AdjStore's own LRU caches, the same way the
// original's MongoCatalogClient leans on its Python LRUCache.
type Client struct {
	db   *mongo.Database
	coll Collections
}

// New wraps an already-connected database handle.
func New(db *mongo.Database, coll Collections) *Client {
	return &Client{db: db, coll: coll}
}

// --- catalog.Source ---

type nameIDDoc struct {
	Name string `bson:"name"`
	ID   int32  `bson:"id"`
}

func (c *Client) NameIDs(ctx context.Context, yield func(name string, id catalog.NameId) error) error {
	cur, err := c.db.Collection(c.coll.NameIDs).Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("mongocatalog: find %s: %w", c.coll.NameIDs, err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var d nameIDDoc
		if err := cur.Decode(&d); err != nil {
			return fmt.Errorf("mongocatalog: decode %s: %w", c.coll.NameIDs, err)
		}
		if err := yield(d.Name, catalog.NameId(d.ID)); err != nil {
			return err
		}
	}
	return cur.Err()
}

type nodeIDDoc struct {
	ID   int32  `bson:"id"`
	Name string `bson:"name"`
}

func (c *Client) NodeIDs(ctx context.Context, yield func(id catalog.NodeId, name string) error) error {
	opts := options.Find().SetProjection(bson.D{{Key: "id", Value: 1}, {Key: "name", Value: 1}})
	cur, err := c.db.Collection(c.coll.NodeIDs).Find(ctx, bson.D{}, opts)
	if err != nil {
		return fmt.Errorf("mongocatalog: find %s: %w", c.coll.NodeIDs, err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var d nodeIDDoc
		if err := cur.Decode(&d); err != nil {
			return fmt.Errorf("mongocatalog: decode %s: %w", c.coll.NodeIDs, err)
		}
		if err := yield(catalog.NodeId(d.ID), d.Name); err != nil {
			return err
		}
	}
	return cur.Err()
}

type requiresPythonDoc struct {
	ID              int32  `bson:"_id"`
	PyMask          *int32 `bson:"py_mask"`
	FirstUploadTime *int64 `bson:"first_upload_time"`
}

func (c *Client) RequiresPython(ctx context.Context, yield func(id catalog.NodeId, pyMask *int32, uploadTime *int64) error) error {
	cur, err := c.db.Collection(c.coll.RequiresPython).Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("mongocatalog: find %s: %w", c.coll.RequiresPython, err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var d requiresPythonDoc
		if err := cur.Decode(&d); err != nil {
			return fmt.Errorf("mongocatalog: decode %s: %w", c.coll.RequiresPython, err)
		}
		if err := yield(catalog.NodeId(d.ID), d.PyMask, d.FirstUploadTime); err != nil {
			return err
		}
	}
	return cur.Err()
}

// --- adjstore.Backend ---

type adjDepsDoc struct {
	ID   int32   `bson:"_id"`
	Deps []int32 `bson:"deps"`
}

func (c *Client) DepNames(ctx context.Context, src catalog.NodeId) ([]catalog.NameId, error) {
	var d adjDepsDoc
	err := c.db.Collection(c.coll.AdjDeps).FindOne(ctx, bson.D{{Key: "_id", Value: int32(src)}}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongocatalog: find %s: %w", c.coll.AdjDeps, err)
	}
	out := make([]catalog.NameId, len(d.Deps))
	for i, v := range d.Deps {
		out[i] = catalog.NameId(v)
	}
	return out, nil
}

type adjHeaderDoc struct {
	SrcID     int32   `bson:"src_id"`
	DepNameID int32   `bson:"dep_name_id"`
	Mi        []*int64 `bson:"mi"`
	Ma        []*int64 `bson:"ma"`
	N         []int32  `bson:"n"`
}

func (c *Client) Header(ctx context.Context, src catalog.NodeId, dep catalog.NameId) (mi, ma []*int64, n []int, ok bool, err error) {
	var d adjHeaderDoc
	filter := bson.D{{Key: "src_id", Value: int32(src)}, {Key: "dep_name_id", Value: int32(dep)}}
	e := c.db.Collection(c.coll.AdjHeaders).FindOne(ctx, filter).Decode(&d)
	if e == mongo.ErrNoDocuments {
		return nil, nil, nil, false, nil
	}
	if e != nil {
		return nil, nil, nil, false, fmt.Errorf("mongocatalog: find %s: %w", c.coll.AdjHeaders, e)
	}
	n = make([]int, len(d.N))
	for i, v := range d.N {
		n[i] = int(v)
	}
	return d.Mi, d.Ma, n, true, nil
}

type adjChunkDoc struct {
	DstIDs []int32 `bson:"dst_ids"`
}

func (c *Client) ChunkDstIDs(ctx context.Context, src catalog.NodeId, dep catalog.NameId, chunk int) ([]catalog.NodeId, error) {
	var d adjChunkDoc
	filter := bson.D{
		{Key: "src_id", Value: int32(src)},
		{Key: "dep_name_id", Value: int32(dep)},
		{Key: "chunk", Value: int32(chunk)},
	}
	opts := options.FindOne().SetProjection(bson.D{{Key: "dst_ids", Value: 1}})
	err := c.db.Collection(c.coll.AdjChunks).FindOne(ctx, filter, opts).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongocatalog: find %s: %w", c.coll.AdjChunks, err)
	}
	out := make([]catalog.NodeId, len(d.DstIDs))
	for i, v := range d.DstIDs {
		out[i] = catalog.NodeId(v)
	}
	return out, nil
}

// --- subgraph collections (driver only, §6) ---

// SubgraphMeta mirrors the "<subgraph>__meta" document: the package the
// batch run targets, its candidate root versions, and the number of
// root-selector bits used by the edges collection's bitset.
type SubgraphMeta struct {
	Package      string            `bson:"pkg"`
	RootVersions []string          `bson:"root_versions"`
	RootIDs      []catalog.NodeId  `bson:"root_ids"`
	NBits        int               `bson:"nbits"`
}

type subgraphMetaDoc struct {
	Package      string  `bson:"pkg"`
	RootVersions []string `bson:"root_versions"`
	RootIDs      []int32 `bson:"root_ids"`
	NBits        int32   `bson:"nbits"`
}

// SubgraphMetaOf reads "<subgraph>__meta".
func (c *Client) SubgraphMetaOf(ctx context.Context, subgraph string) (SubgraphMeta, error) {
	var d subgraphMetaDoc
	err := c.db.Collection(subgraph + "__meta").FindOne(ctx, bson.D{}).Decode(&d)
	if err != nil {
		return SubgraphMeta{}, fmt.Errorf("mongocatalog: find %s__meta: %w", subgraph, err)
	}
	rootIDs := make([]catalog.NodeId, len(d.RootIDs))
	for i, v := range d.RootIDs {
		rootIDs[i] = catalog.NodeId(v)
	}
	return SubgraphMeta{Package: d.Package, RootVersions: d.RootVersions, RootIDs: rootIDs, NBits: int(d.NBits)}, nil
}

type subgraphEdgeDoc struct {
	SrcID    int32 `bson:"src_id"`
	DstID    int32 `bson:"dst_id"`
	RootBits int64 `bson:"roots_bits"`
}

// NodesForRootBit collects the set of node ids reachable under
// root_bit_index by filtering the subgraph's edges with $bitsAllSet, the
// way the original driver narrows a batch run to one root version's
// reachable set.
func (c *Client) NodesForRootBit(ctx context.Context, subgraph string, rootBitIndex int) (map[catalog.NodeId]bool, error) {
	mask := int64(1) << uint(rootBitIndex)
	filter := bson.D{{Key: "roots_bits", Value: bson.D{{Key: "$bitsAllSet", Value: mask}}}}
	cur, err := c.db.Collection(subgraph).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongocatalog: find %s: %w", subgraph, err)
	}
	defer cur.Close(ctx)
	nodes := make(map[catalog.NodeId]bool)
	for cur.Next(ctx) {
		var d subgraphEdgeDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("mongocatalog: decode %s: %w", subgraph, err)
		}
		nodes[catalog.NodeId(d.SrcID)] = true
		nodes[catalog.NodeId(d.DstID)] = true
	}
	return nodes, cur.Err()
}
