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

// Package cli implements the exposure command-line driver: a "resolve"
// subcommand for a single node and a "batch" subcommand that streams a
// subgraph's node set and reports depth/exposure per node as CSV,
// grounded on stacktower's internal/cli package (cobra root command,
// --verbose wired to a context-embedded charmbracelet/log logger).
package cli

import (
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/pypiexposure/engine/internal/logging"
)

// NewRoot builds the exposure root command with its subcommands.
func NewRoot() *cobra.Command {
	var verbose bool
	var configPath string

	root := &cobra.Command{
		Use:          "exposure",
		Short:        "Determine whether package versions are reachable from a root under time and Python-compatibility constraints",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := charmlog.InfoLevel
			if verbose {
				level = charmlog.DebugLevel
			}
			logger := logging.New(cmd.ErrOrStderr(), level)
			cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (default: built-in defaults)")

	root.AddCommand(newResolveCmd(&configPath))
	root.AddCommand(newBatchCmd(&configPath))

	return root
}
