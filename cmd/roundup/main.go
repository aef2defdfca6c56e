// Package main is the entry point for the Roundup CLI
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/roundup/internal/config"
	"github.com/cloud-shuttle/roundup/internal/db"
)

var (
	cfgPath string
	cfg     *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "roundup",
		Short: "Coordinate a swarm of AI agents against your task board",
		Long: `Roundup keeps a swarm of AI coding agents working through the tasks on an
external task board. It syncs board projects into a local queue, scores tasks
by urgency, and routes each one through triage, planning, implementation,
review, and documentation stages with parallel workers.`,
		Version: "0.1.0",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "Path to config file")

	rootCmd.AddCommand(
		initCmd(),
		startCmd(),
		stopCmd(),
		statusCmd(),
		queueCmd(),
		agentsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// defaultConfigPath returns .roundup/config.yaml if it exists, else empty so
// Load falls back to pure defaults plus environment
func defaultConfigPath() string {
	path := ".roundup/config.yaml"
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// openStore opens the configured database for inspection commands
func openStore() (*db.Store, error) {
	if _, err := os.Stat(cfg.DatabasePath); err != nil {
		return nil, fmt.Errorf("no database at %s (run 'roundup init' first)", cfg.DatabasePath)
	}
	store, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return store, nil
}
