package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hiermem/hiermem/internal/api"
)

// nexusCmd represents the nexus command
var nexusCmd = &cobra.Command{
	Use:   "nexus",
	Short: "List nexus points",
	Long:  `List the blocks currently held as sticky nexus points.`,
	Run: func(cmd *cobra.Command, args []string) {
		runNexus(cmd)
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics",
	Long:  `Show memory state, nexus population, and performance aggregates.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStats(cmd)
	},
}

// maintainCmd represents the maintain command
var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run a maintenance pass",
	Long: `Run the maintenance tasks: prune working memory, cascade old
blocks down the tiers, refresh nexus points, and clear caches.`,
	Run: func(cmd *cobra.Command, args []string) {
		runMaintain(cmd)
	},
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Run: func(cmd *cobra.Command, args []string) {
		runServe(cmd)
	},
}

func runNexus(cmd *cobra.Command) {
	eng, _, err := openEngine(cmd)
	if err != nil {
		fail(err)
	}

	points, err := eng.GetNexusPoints()
	if err != nil {
		fail(err)
	}

	printBlocks(points)
}

func runStats(cmd *cobra.Command) {
	eng, _, err := openEngine(cmd)
	if err != nil {
		fail(err)
	}

	memoryStats, err := eng.GetMemoryStats()
	if err != nil {
		fail(err)
	}

	data, err := json.MarshalIndent(memoryStats, "", "  ")
	if err != nil {
		fail(err)
	}
	fmt.Println(string(data))
}

func runMaintain(cmd *cobra.Command) {
	eng, _, err := openEngine(cmd)
	if err != nil {
		fail(err)
	}

	if err := eng.MaintainSystem(); err != nil {
		fail(err)
	}

	if !quiet {
		fmt.Println("Maintenance complete")
	}
}

func runServe(cmd *cobra.Command) {
	eng, cfg, err := openEngine(cmd)
	if err != nil {
		fail(err)
	}

	server := api.NewServer(eng, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	if err := server.StartWithContext(ctx, 10*time.Second); err != nil && err != context.Canceled {
		fail(err)
	}
}
