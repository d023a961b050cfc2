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
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pypiexposure/engine/adjstore"
	"github.com/pypiexposure/engine/cache"
	"github.com/pypiexposure/engine/catalog"
	"github.com/pypiexposure/engine/config"
	"github.com/pypiexposure/engine/engine"
	"github.com/pypiexposure/engine/internal/logging"
	"github.com/pypiexposure/engine/mongocatalog"
)

func newResolveCmd(configPath *string) *cobra.Command {
	var (
		mongoURI    string
		mongoDB     string
		nodeID      int
		rootID      int
		rootName    string
		cutoff      int64
		hasCutoff   bool
		useResolver bool
		debugTree   bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Answer one exposure query for a single (node, root) pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logging.FromContext(ctx)

			cfg := config.Default()
			if *configPath != "" {
				loaded, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			client, db, err := connectMongo(ctx, mongoURI, mongoDB)
			if err != nil {
				return err
			}
			defer client.Disconnect(ctx)

			mc := mongocatalog.New(db, mongocatalog.DefaultCollections())
			front := engine.FrontSolver
			if useResolver {
				front = engine.FrontResolver
			}
			engCfg := engine.Config{
				MaxCandidatesPerDep: cfg.MaxCandidatesPerDep,
				MaxRounds:           cfg.MaxRounds,
				Front:               front,
			}

			logger.Info("loading catalog")
			ectx, err := engine.LoadContext(ctx, mc, mc, adjstore.Caches{
				DepNames: cache.New[catalog.NodeId, []catalog.NameId](cfg.DepsCacheCap),
				Headers:  cache.New[adjstore.HeaderKey, *adjstore.DepHeader](cfg.HeaderCacheCap),
				Chunks:   cache.New[adjstore.ChunkKey, []catalog.NodeId](cfg.ChunkCacheCap),
				Edges:    cache.New[string, bool](cfg.EdgeCacheCap),
			}, engCfg)
			if err != nil {
				return err
			}

			rootNameID, ok := ectx.Arrays().NameID(rootName)
			if !ok {
				return fmt.Errorf("root name %q not found in catalog", rootName)
			}

			var t *int64
			if hasCutoff {
				t = &cutoff
			}

			res, err := ectx.Resolve(ctx, catalog.NodeId(nodeID), catalog.NodeId(rootID), rootNameID, t, debugTree)
			if err != nil {
				return err
			}

			fmt.Printf("node=%d root=%d resolved=%t depth=%d", nodeID, rootID, res.OK, res.Depth)
			if res.FailReason != "" {
				fmt.Printf(" fail_reason=%s", res.FailReason)
			}
			fmt.Println()
			if debugTree && res.Tree != nil {
				fmt.Print(renderTree(res.Tree, ectx.Arrays()))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mongoURI, "mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	cmd.Flags().StringVar(&mongoDB, "mongo-db", "pypi_dump", "MongoDB database name")
	cmd.Flags().IntVar(&nodeID, "node", 0, "node id to query")
	cmd.Flags().IntVar(&rootID, "root", 0, "root node id")
	cmd.Flags().StringVar(&rootName, "root-name", "", "root package's canonical name")
	cmd.Flags().Int64Var(&cutoff, "t", 0, "cutoff epoch seconds (defaults per §4.6 if omitted)")
	cmd.Flags().BoolVar(&hasCutoff, "has-t", false, "set when --t is explicitly provided")
	cmd.Flags().BoolVar(&useResolver, "use-resolver-front", false, "use the criteria/provider resolver (C5) instead of the backtracking solver (C4)")
	cmd.Flags().BoolVar(&debugTree, "debug", false, "print the witness pin set and dependency tree")
	cmd.MarkFlagRequired("root-name")

	return cmd
}

func connectMongo(ctx context.Context, uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("cli: connect mongo: %w", err)
	}
	return client, client.Database(dbName), nil
}
