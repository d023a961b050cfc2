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
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pypiexposure/engine/adjstore"
	"github.com/pypiexposure/engine/cache"
	"github.com/pypiexposure/engine/catalog"
	"github.com/pypiexposure/engine/config"
	"github.com/pypiexposure/engine/engine"
	"github.com/pypiexposure/engine/internal/logging"
	"github.com/pypiexposure/engine/mongocatalog"
)

func newBatchCmd(configPath *string) *cobra.Command {
	var (
		mongoURI     string
		mongoDB      string
		subgraph     string
		rootBitIndex int
		outputDir    string
		chunkCacheCap int
		headerCacheCap int
		debug        bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Stream a subgraph's node set and report exposure for every node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logging.FromContext(ctx)
			runID := uuid.New().String()

			cfg := config.Default()
			if *configPath != "" {
				loaded, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if chunkCacheCap > 0 {
				cfg.ChunkCacheCap = chunkCacheCap
			}
			if headerCacheCap > 0 {
				cfg.HeaderCacheCap = headerCacheCap
			}

			client, db, err := connectMongo(ctx, mongoURI, mongoDB)
			if err != nil {
				return err
			}
			defer client.Disconnect(ctx)

			mc := mongocatalog.New(db, mongocatalog.DefaultCollections())

			meta, err := mc.SubgraphMetaOf(ctx, subgraph)
			if err != nil {
				return err
			}
			if rootBitIndex < 0 {
				rootBitIndex = meta.NBits - 1
			}
			if rootBitIndex < 0 || rootBitIndex >= len(meta.RootIDs) {
				return fmt.Errorf("cli: root-bit-index %d out of range for %d roots", rootBitIndex, len(meta.RootIDs))
			}
			rootID := meta.RootIDs[rootBitIndex]

			logger.Info("loading catalog", "run_id", runID, "subgraph", subgraph)
			progress := logging.NewProgress(logger)

			nodes, err := mc.NodesForRootBit(ctx, subgraph, rootBitIndex)
			if err != nil {
				return err
			}
			progress.Done(fmt.Sprintf("loaded %d nodes for root bit %d", len(nodes), rootBitIndex))

			// One shared context (catalog arrays + AdjStore) across workers,
			// guarded per §5 strategy (b): the LRUs are wrapped in
			// cache.Guarded so a single mutex is held only across one
			// get/put, never across the MongoDB round trip that fills it.
			ectx, err := engine.LoadContext(ctx, mc, mc, adjstore.Caches{
				DepNames: cache.NewGuarded[catalog.NodeId, []catalog.NameId](cache.New[catalog.NodeId, []catalog.NameId](cfg.DepsCacheCap)),
				Headers:  cache.NewGuarded[adjstore.HeaderKey, *adjstore.DepHeader](cache.New[adjstore.HeaderKey, *adjstore.DepHeader](cfg.HeaderCacheCap)),
				Chunks:   cache.NewGuarded[adjstore.ChunkKey, []catalog.NodeId](cache.New[adjstore.ChunkKey, []catalog.NodeId](cfg.ChunkCacheCap)),
				Edges:    cache.NewGuarded[string, bool](cache.New[string, bool](cfg.EdgeCacheCap)),
			}, engine.Config{MaxCandidatesPerDep: cfg.MaxCandidatesPerDep, MaxRounds: cfg.MaxRounds})
			if err != nil {
				return err
			}

			rootNameID, ok := ectx.Arrays().NameOf(rootID)
			if !ok {
				return fmt.Errorf("cli: root node %d has no name", rootID)
			}

			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("cli: create output dir: %w", err)
			}
			outPath := filepath.Join(outputDir, fmt.Sprintf("%s.csv", subgraph))
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("cli: create %s: %w", outPath, err)
			}
			defer f.Close()

			fmt.Fprintf(f, "# run_id=%s subgraph=%s root_id=%d root_bit_index=%d started=%s\n",
				runID, subgraph, rootID, rootBitIndex, time.Now().UTC().Format(time.RFC3339))
			w := csv.NewWriter(f)
			defer w.Flush()
			if err := w.Write([]string{"node_id", "resolved", "depth"}); err != nil {
				return err
			}

			ids := make([]catalog.NodeId, 0, len(nodes))
			for id := range nodes {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

			type row struct {
				id     catalog.NodeId
				ok     bool
				depth  int
				reason string
			}
			rows := make([]row, len(ids))
			resolved := logging.NewProgress(logger)

			workers := cfg.Workers
			if workers < 1 {
				workers = 1
			}
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(workers)
			for i, id := range ids {
				i, id := i, id
				g.Go(func() error {
					res, err := ectx.Resolve(gctx, id, rootID, rootNameID, nil, false)
					if err != nil {
						return err
					}
					rows[i] = row{id: id, ok: res.OK, depth: res.Depth, reason: res.FailReason}
					if res.OK {
						resolved.Count("resolved")
					} else if res.FailReason != "" {
						resolved.Count("fail:" + res.FailReason)
					}
					if debug {
						logger.Info("resolved", "node_id", id, "ok", res.OK, "depth", res.Depth, "fail_reason", res.FailReason)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for _, r := range rows {
				depthStr := ""
				if r.ok && r.depth >= 0 {
					depthStr = fmt.Sprintf("%d", r.depth)
				}
				if err := w.Write([]string{fmt.Sprintf("%d", r.id), fmt.Sprintf("%t", r.ok), depthStr}); err != nil {
					return err
				}
			}

			resolved.Done(fmt.Sprintf("resolved %d nodes", len(rows)))
			return nil
		},
	}

	cmd.Flags().StringVar(&mongoURI, "mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	cmd.Flags().StringVar(&mongoDB, "mongo-db", "pypi_dump", "MongoDB database name")
	cmd.Flags().StringVar(&subgraph, "subgraph", "", "subgraph collection name")
	cmd.Flags().IntVar(&rootBitIndex, "root-bit-index", -1, "root selector bit index (default: nbits-1)")
	cmd.Flags().StringVar(&outputDir, "output-dir", ".", "directory to write the CSV report to")
	cmd.Flags().IntVar(&chunkCacheCap, "chunk-cache-cap", 0, "override the chunk cache capacity")
	cmd.Flags().IntVar(&headerCacheCap, "header-cache-cap", 0, "override the header cache capacity")
	cmd.Flags().BoolVar(&debug, "debug", false, "log each node's resolution as it completes")
	cmd.MarkFlagRequired("subgraph")

	return cmd
}
