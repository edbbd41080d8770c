package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hiermem/hiermem/internal/engine"
	"github.com/hiermem/hiermem/internal/logging"
	"github.com/hiermem/hiermem/pkg/config"
)

var (
	// Version is set during build
	Version = "0.3.0"

	// Global flags
	baseDir string
	quiet   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hiermem",
	Short: "Hierarchical memory engine for AI agents",
	Long: `Hiermem stores textual memory blocks in a four-tier hierarchy
(working, short-term, long-term, stale) with usage-driven pruning,
promotion on repeated retrieval, and sticky nexus points.

Examples:
  hiermem add "Go channels are like pipes between goroutines"
  hiermem search "concurrency patterns"
  hiermem related <memory-id>
  hiermem w3w quick brown fox

  hiermem stats       # Memory and performance statistics
  hiermem maintain    # Run a maintenance pass
  hiermem serve       # Start the REST API server`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", "", "memory store directory (overrides config)")
	rootCmd.PersistentFlags().String("log_level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress output")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(relatedCmd)
	rootCmd.AddCommand(w3wCmd)
	rootCmd.AddCommand(nexusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(serveCmd)
}

// openEngine loads configuration and opens the memory engine
func openEngine(cmd *cobra.Command) (*engine.Engine, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log_level"); level != "" {
		cfg.Logging.Level = level
	}
	if baseDir != "" {
		cfg.Memory.BaseDir = baseDir
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	eng, err := engine.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening memory engine: %w", err)
	}

	return eng, cfg, nil
}
