// Package coordinator owns the process lifecycle: the singleton lock,
// start-up recovery, the supervised loops, and graceful drain.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/cloud-shuttle/roundup/internal/agent"
	"github.com/cloud-shuttle/roundup/internal/board"
	"github.com/cloud-shuttle/roundup/internal/boardsync"
	"github.com/cloud-shuttle/roundup/internal/config"
	"github.com/cloud-shuttle/roundup/internal/db"
	"github.com/cloud-shuttle/roundup/internal/events"
	"github.com/cloud-shuttle/roundup/internal/executor"
	"github.com/cloud-shuttle/roundup/internal/git"
	"github.com/cloud-shuttle/roundup/internal/lock"
	"github.com/cloud-shuttle/roundup/internal/memory"
	"github.com/cloud-shuttle/roundup/internal/scheduler"
	"github.com/cloud-shuttle/roundup/internal/score"
	"github.com/cloud-shuttle/roundup/internal/worker"
)

// Coordinator wires the swarm together and runs it
type Coordinator struct {
	cfg     *config.Config
	lock    *lock.PIDLock
	store   *db.Store
	bus     *events.Bus
	trees   *git.Pool
	pool    *worker.Pool
	sched   *scheduler.Scheduler
	syncers []*boardsync.Reconciler
	cron    *cron.Cron
}

// New builds a coordinator from configuration. Nothing starts until Run.
func New(cfg *config.Config) (*Coordinator, error) {
	runner := executor.NewCLIRunner(cfg.ExecutorPath)
	runner.SetVerbose(cfg.Verbose)
	if err := runner.CheckInstalled(); err != nil {
		return nil, err
	}

	store, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(); err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	mem, err := memory.NewStore(cfg.MemoryDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	bus := events.NewBus()
	boards := board.NewClient(cfg.BoardBaseURL, cfg.BoardToken, cfg.BoardTimeout, cfg.RetryBackoff)
	scorer := score.NewScorer(cfg.Weights, cfg.ProjectImportanceMap(), cfg.MinProjectScore)
	trees := git.NewPool(cfg.RepoDir, cfg.WorktreeDir)
	trees.SetVerbose(cfg.Verbose)

	router := agent.NewRouter(store, boards, runner, mem, bus, cfg)
	pool := worker.NewPool(store, boards, router, trees, bus, cfg)
	sched := scheduler.New(store, pool, bus, cfg)

	syncers := make([]*boardsync.Reconciler, 0, len(cfg.Projects))
	for _, p := range cfg.Projects {
		syncers = append(syncers, boardsync.New(p, store, boards, scorer, bus, cfg))
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.CompactSchedule, func() {
		n, err := mem.CompactAll(cfg.MemoryMaxBytes)
		if err != nil {
			log.Printf("⚠️  Memory compaction: %v", err)
			return
		}
		if n > 0 {
			log.Printf("🗜️  Compacted %d memory documents", n)
		}
	}); err != nil {
		store.Close()
		return nil, fmt.Errorf("scheduling memory compaction: %w", err)
	}

	return &Coordinator{
		cfg:     cfg,
		lock:    lock.New(cfg.LockPath),
		store:   store,
		bus:     bus,
		trees:   trees,
		pool:    pool,
		sched:   sched,
		syncers: syncers,
		cron:    c,
	}, nil
}

// Run acquires the singleton lock, recovers state left by a prior process,
// and supervises every loop until ctx is canceled. Returns lock.ErrHeld when
// another coordinator is already running.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := c.lock.Release(); err != nil {
			log.Printf("⚠️  Releasing lock: %v", err)
		}
	}()
	defer c.store.Close()

	if err := c.recover(); err != nil {
		return err
	}

	logCh := c.bus.Subscribe("coordinator-log")
	go c.logEvents(logCh)
	defer c.bus.Close()

	c.cron.Start()
	defer c.cron.Stop()

	log.Printf("🚀 Roundup coordinator online: %d workers, %d projects", c.pool.Size(), len(c.syncers))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.pool.Run(gctx) })
	g.Go(func() error { return c.sched.Run(gctx) })
	for _, r := range c.syncers {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}

	<-gctx.Done()
	return c.drain(g)
}

// recover cleans up whatever a prior process left behind: assigned items
// become interrupted, agent rows go offline, stale worktrees are pruned
func (c *Coordinator) recover() error {
	n, err := c.store.MarkInterrupted()
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("♻️  Marked %d items from a prior run as interrupted", n)
	}
	if err := c.store.MarkAllAgentsOffline(); err != nil {
		return err
	}
	if err := c.trees.PruneStale(); err != nil {
		log.Printf("⚠️  Pruning stale worktrees: %v", err)
	}
	return nil
}

// drain waits for the loops to wind down. Loops observe cancellation between
// iterations, so in-flight work finishes; past the drain timeout the process
// exits anyway and the next start-up marks the leftovers interrupted.
func (c *Coordinator) drain(g *errgroup.Group) error {
	log.Printf("🛑 Draining, waiting up to %s for in-flight work", c.cfg.DrainTimeout)

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Printf("👋 Drain complete")
		return nil
	case <-time.After(c.cfg.DrainTimeout):
		log.Printf("⏰ Drain timeout expired, exiting with work in flight")
		if n, err := c.store.MarkInterrupted(); err == nil && n > 0 {
			log.Printf("♻️  Marked %d in-flight items interrupted", n)
		}
		return nil
	}
}

func (c *Coordinator) logEvents(ch chan *events.Event) {
	for ev := range ch {
		if !c.cfg.Verbose {
			continue
		}
		log.Printf("📡 %s item=%d task=%s agent=%s %s", ev.Type, ev.ItemID, ev.TaskGID, ev.AgentID, ev.Message)
	}
}
