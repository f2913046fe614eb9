// Package cli implements the reef command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/lazypower/reef/internal/config"
	"github.com/lazypower/reef/internal/store"
	"github.com/spf13/cobra"
)

var (
	flagConfigDir string
	flagDBPath    string
)

var rootCmd = &cobra.Command{
	Use:   "reef",
	Short: "Lifecycle-managed memory for AI coding agents",
	Long: "Reef stores memory units and manages their whole life: they attach,\n" +
		"grow, calcify, and eventually decay through a challenge an LLM or a\n" +
		"human judges. Nothing is deleted without a quarantine window to undo it.",
	SilenceUsage: true,
}

// Execute runs the command tree and returns its error for exit-code
// mapping in main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "config directory (default ~/.reef)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "database path (default ~/.reef/reef.db)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(surfaceCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the layered configuration, honoring --config-dir and the
// ANTHROPIC_API_KEY environment override the same way everywhere.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfigDir)
	if err != nil {
		return cfg, err
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Judge.AnthropicKey == "" {
		cfg.Judge.AnthropicKey = key
	}
	return cfg, nil
}

// openStore opens the configured database, with --db taking precedence.
func openStore(cfg config.Config) (*store.DB, error) {
	path := flagDBPath
	if path == "" {
		path = cfg.Database.Path
	}
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	return store.Open(path)
}
