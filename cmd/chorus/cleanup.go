package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupOlderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune old finished requests and tasks",
	Long: `Delete terminal requests, and their tasks, that finished longer
ago than the retention window.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "Retention window for finished requests")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	db, err := openRoster()
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.PruneFinished(cleanupOlderThan)
	if err != nil {
		return fmt.Errorf("prune finished requests: %w", err)
	}
	fmt.Printf("Pruned %d finished requests.\n", n)
	return nil
}
