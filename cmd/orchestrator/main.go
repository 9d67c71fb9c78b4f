// Package main implements the orchestrator CLI: the sovereign cognitive
// core's entry point, wiring the Knowledge Store, Skill Registry, Control
// Plane, Forge Pipeline, Maintenance Loop, and Governor into one process.
//
// File Index:
//   - main.go        - entry point, rootCmd, global flags, init()
//   - app.go         - buildApp(): the composition root
//   - serve.go       - serveCmd: runs the background loops until signaled
//   - dispatch.go    - dispatchCmd: one-shot goal dispatch
//   - forge_status.go - forgeCmd: rollback history / active patch inspection
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"codenerd/internal/logging"
)

var (
	verbose    bool
	apiKey     string
	workspace  string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Sovereign cognitive orchestrator core",
	Long: `orchestrator runs the core Knowledge Store, Orchestrator & Dispatcher,
Skill Registry, Forge Pipeline, Maintenance Loop, and Governor described in
this repository's specification.

Logic and policy gate every skill invocation; the Forge Pipeline is the
only path by which running code changes.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(logging.Config{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON}); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "reviewer-api-key", "", "adversarial peer-reviewer API key (or set ORCHESTRATOR_REVIEWER_API_KEY)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root directory (default: config file's workspace_root or .orchestrator)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(serveCmd, dispatchCmd, forgeCmd)
}

func main() {
	if v := os.Getenv("ORCHESTRATOR_REVIEWER_API_KEY"); v != "" && apiKey == "" {
		apiKey = v
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
