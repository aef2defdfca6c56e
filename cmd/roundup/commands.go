package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/roundup/internal/coordinator"
	"github.com/cloud-shuttle/roundup/internal/db"
	"github.com/cloud-shuttle/roundup/internal/lock"
	"github.com/cloud-shuttle/roundup/pkg/types"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize Roundup in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			roundupDir := ".roundup"
			if _, err := os.Stat(filepath.Join(roundupDir, "config.yaml")); err == nil {
				return fmt.Errorf("already initialized in %s", roundupDir)
			}
			if err := os.MkdirAll(roundupDir, 0755); err != nil {
				return fmt.Errorf("creating %s directory: %w", roundupDir, err)
			}

			store, err := db.Open(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("creating database: %w", err)
			}
			defer store.Close()
			if err := store.InitSchema(); err != nil {
				return fmt.Errorf("initializing schema: %w", err)
			}

			configTemplate := `# Roundup configuration
# board_token can also come from the ROUNDUP_BOARD_TOKEN environment variable.

board_base_url: "https://app.asana.com/api/1.0"
board_token: ""

projects:
  - gid: ""
    name: "My Project"
    importance: 1.0

workers: 3
sync_interval: 60s
exec_timeout: 30m
default_max_cost: 10.0
`
			configPath := filepath.Join(roundupDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(configTemplate), 0644); err != nil {
				return fmt.Errorf("creating config file: %w", err)
			}

			fmt.Printf("🤠 Initialized Roundup in %s\n", roundupDir)
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Edit .roundup/config.yaml with your board token and project GIDs")
			fmt.Println("  2. roundup start")
			return nil
		},
	}
}

func startCmd() *cobra.Command {
	var workers int
	var verbose bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the coordinator and worker swarm",
		Long: `Start the Roundup coordinator.

Exactly one coordinator runs per configuration; a second start against the
same lock file fails immediately. Stop with SIGTERM (or 'roundup stop') for
a graceful drain.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCfg := *cfg
			if workers > 0 {
				runCfg.Workers = workers
			}
			if verbose {
				runCfg.Verbose = true
			}

			coord, err := coordinator.New(&runCfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := coord.Run(ctx); err != nil {
				if errors.Is(err, lock.ErrHeld) {
					fmt.Fprintf(os.Stderr, "Another coordinator is already running: %v\n", err)
					os.Exit(2)
				}
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of parallel workers")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	return cmd
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal the running coordinator to drain and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := lock.New(cfg.LockPath).Check()
			if err != nil {
				return fmt.Errorf("checking lock: %w", err)
			}
			if !status.Held {
				fmt.Println("No coordinator is running")
				return nil
			}

			if err := syscall.Kill(status.PID, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signaling pid %d: %w", status.PID, err)
			}
			fmt.Printf("🛑 Sent drain signal to coordinator (pid %d)\n", status.PID)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show coordinator, worker, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			lockStatus, err := lock.New(cfg.LockPath).Check()
			if err != nil {
				return fmt.Errorf("checking lock: %w", err)
			}
			if lockStatus.Held {
				fmt.Printf("Coordinator: running (pid %d)\n", lockStatus.PID)
			} else {
				fmt.Println("Coordinator: not running")
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			pending, err := store.CountPending()
			if err != nil {
				return err
			}
			fmt.Printf("Queue: %d pending\n", pending)

			agents, err := store.ListAgents()
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Println("Workers: none registered")
				return nil
			}

			now := time.Now()
			fmt.Println("\nWorkers:")
			for _, a := range agents {
				liveness := "alive"
				if !a.Alive(now, cfg.LivenessThreshold) {
					liveness = "stale"
				}
				item := "-"
				if a.CurrentItemID != nil {
					item = fmt.Sprintf("item %d", *a.CurrentItemID)
				}
				fmt.Printf("  %-20s %-8s %-6s %s\n", a.AgentID, a.Status, liveness, item)
			}
			return nil
		},
	}
}

func queueCmd() *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List work queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			items, err := store.ListWorkItems(types.WorkItemStatus(statusFilter))
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("Queue is empty")
				return nil
			}

			fmt.Printf("%-6s %-14s %-20s %-8s %-11s %s\n", "ID", "AGENT", "RESOURCE", "PRIORITY", "STATUS", "ASSIGNED TO")
			for _, item := range items {
				assigned := item.AssignedTo
				if assigned == "" {
					assigned = "-"
				}
				fmt.Printf("%-6d %-14s %-20s %-8d %-11s %s\n",
					item.ID, item.AgentType, item.ResourceID, item.Priority, item.Status, assigned)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&statusFilter, "status", "s", "", "Filter by status (pending, assigned, completed, failed, interrupted)")
	return cmd
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List registered worker agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			agents, err := store.ListAgents()
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Println("No agents registered")
				return nil
			}

			fmt.Printf("%-20s %-14s %-8s %-22s %s\n", "AGENT", "TYPE", "STATUS", "LAST HEARTBEAT", "STARTED")
			for _, a := range agents {
				fmt.Printf("%-20s %-14s %-8s %-22s %s\n",
					a.AgentID, a.AgentType, a.Status,
					time.Unix(a.LastHeartbeatAt, 0).Format(time.RFC3339),
					time.Unix(a.StartedAt, 0).Format(time.RFC3339))
			}
			return nil
		},
	}
}
