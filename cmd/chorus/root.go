package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mwhitlock/chorus/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chorus",
	Short: "AI agent orchestration engine",
	Long: `Chorus coordinates specialized AI agents over business requests.

A free-text goal is decomposed into tasks, each task is routed to the
least-loaded agent that declares the needed capability, and results are
aggregated into a single response.

Core capabilities:
- Decomposes compound goals into routable tasks
- Routes tasks by capability with load balancing and retries
- Exposes the engine over an MCP JSON-RPC gateway
- Persists agents, requests, and results in SQLite`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: XDG config paths)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves the effective configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}
