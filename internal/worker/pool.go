package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cloud-shuttle/roundup/internal/board"
	"github.com/cloud-shuttle/roundup/internal/config"
	"github.com/cloud-shuttle/roundup/internal/db"
	"github.com/cloud-shuttle/roundup/internal/events"
	"github.com/cloud-shuttle/roundup/pkg/types"
)

// Pool is a fixed-size set of workers sharing one router and worktree pool
type Pool struct {
	workers map[string]*Worker
}

// NewPool creates cfg.Workers workers named swarm-worker-1..N
func NewPool(store *db.Store, boards board.API, router Processor, trees Worktrees, bus *events.Bus, cfg *config.Config) *Pool {
	p := &Pool{workers: make(map[string]*Worker, cfg.Workers)}
	for i := 1; i <= cfg.Workers; i++ {
		id := fmt.Sprintf("%s-%d", types.SwarmWorkerType, i)
		p.workers[id] = New(id, store, boards, router, trees, bus, cfg)
	}
	return p
}

// Dispatch routes an assigned item to the worker that claimed it
func (p *Pool) Dispatch(ctx context.Context, agentID string, item *types.WorkQueueItem) error {
	w, ok := p.workers[agentID]
	if !ok {
		return fmt.Errorf("no worker with id %s", agentID)
	}
	return w.Dispatch(item)
}

// Run starts every worker and blocks until all loops have exited
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}

// Size returns the number of workers in the pool
func (p *Pool) Size() int { return len(p.workers) }
