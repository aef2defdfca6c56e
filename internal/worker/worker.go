// Package worker runs the pooled execution loops. Each worker owns one
// dispatch slot: the scheduler assigns it at most one work item at a time,
// and the worker reports idle only after the item reaches a terminal state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloud-shuttle/roundup/internal/board"
	"github.com/cloud-shuttle/roundup/internal/config"
	"github.com/cloud-shuttle/roundup/internal/db"
	"github.com/cloud-shuttle/roundup/internal/events"
	"github.com/cloud-shuttle/roundup/pkg/types"
)

// Processor drives one dispatched item through its agent stage
type Processor interface {
	Process(ctx context.Context, item *types.WorkQueueItem, dir string) (bool, error)
}

// Worktrees provisions isolated working copies for executions
type Worktrees interface {
	Acquire() (string, error)
	Release(path string)
}

// Worker is one pooled execution loop
type Worker struct {
	id     string
	store  *db.Store
	boards board.API
	router Processor
	trees  Worktrees
	bus    *events.Bus
	cfg    *config.Config

	// Buffered with one slot; the scheduler only dispatches to idle
	// workers, so a full channel means a scheduling bug, not backpressure.
	work chan *types.WorkQueueItem
}

// New creates a worker with the given identity
func New(id string, store *db.Store, boards board.API, router Processor, trees Worktrees, bus *events.Bus, cfg *config.Config) *Worker {
	return &Worker{
		id:     id,
		store:  store,
		boards: boards,
		router: router,
		trees:  trees,
		bus:    bus,
		cfg:    cfg,
		work:   make(chan *types.WorkQueueItem, 1),
	}
}

// ID returns the worker's agent identity
func (w *Worker) ID() string { return w.id }

// Dispatch hands an assigned item to the worker without blocking
func (w *Worker) Dispatch(item *types.WorkQueueItem) error {
	select {
	case w.work <- item:
		return nil
	default:
		return fmt.Errorf("worker %s already has a dispatched item", w.id)
	}
}

// Run registers the worker and processes dispatched items until the context
// is canceled. The heartbeat runs on its own goroutine so liveness holds
// while an item executes; a busy worker is still an alive worker, and the
// scheduler must never mistake a long execution for a crash.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.store.RegisterAgent(w.id, types.SwarmWorkerType); err != nil {
		return err
	}
	log.Printf("👷 Worker %s online", w.id)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("👷 Worker %s stopping", w.id)
			return nil
		case item := <-w.work:
			// The item runs under its own deadline, not the loop's:
			// cancellation stops the loop after the current item, it does
			// not kill the execution mid-flight.
			w.process(context.WithoutCancel(ctx), item)
		}
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(w.id); err != nil {
				log.Printf("⚠️  Worker %s heartbeat: %v", w.id, err)
			}
		}
	}
}

// process runs one item to a terminal state. Every exit path finishes the
// item and returns the worker to idle; an item must never stay assigned to a
// live worker that has stopped working on it.
func (w *Worker) process(ctx context.Context, item *types.WorkQueueItem) {
	if err := w.store.SetAgentBusy(w.id, item.ID); err != nil {
		log.Printf("⚠️  Worker %s: %v", w.id, err)
	}
	defer func() {
		if err := w.store.SetAgentIdle(w.id); err != nil {
			log.Printf("⚠️  Worker %s: %v", w.id, err)
		}
	}()

	log.Printf("🔨 Worker %s executing item %d (%s %s)", w.id, item.ID, item.AgentType, item.ResourceID)

	if item.ResourceType == types.ResourceTask {
		if ok := w.resolve(ctx, item); !ok {
			return
		}
	}

	dir, err := w.trees.Acquire()
	if err != nil {
		w.fail(item, fmt.Sprintf("provisioning worktree: %v", err))
		return
	}
	defer w.trees.Release(dir)

	success, err := w.router.Process(ctx, item, dir)
	if err != nil {
		w.fail(item, err.Error())
		return
	}

	status := types.WorkItemCompleted
	eventType := events.ItemCompleted
	if !success {
		status = types.WorkItemFailed
		eventType = events.ItemFailed
	}
	if err := w.store.FinishWorkItem(item.ID, status); err != nil {
		log.Printf("❌ Worker %s finishing item %d: %v", w.id, item.ID, err)
		return
	}
	w.bus.Emit(eventType, item.ID, item.ResourceID, w.id, "")
	log.Printf("✅ Worker %s finished item %d (%s)", w.id, item.ID, status)
}

// resolve re-fetches the item's task from the board before execution. A task
// that no longer resolves fails the item immediately; stale queue entries
// are not worth an executor run.
func (w *Worker) resolve(ctx context.Context, item *types.WorkQueueItem) bool {
	boardTask, err := w.boards.GetTask(ctx, item.ResourceID)
	if err != nil {
		if errors.Is(err, board.ErrNotFound) {
			w.fail(item, fmt.Sprintf("task %s no longer exists on the board", item.ResourceID))
		} else {
			w.fail(item, fmt.Sprintf("resolving task %s: %v", item.ResourceID, err))
		}
		return false
	}
	if boardTask.Completed {
		w.fail(item, fmt.Sprintf("task %s was completed on the board", item.ResourceID))
		return false
	}
	return true
}

func (w *Worker) fail(item *types.WorkQueueItem, reason string) {
	log.Printf("❌ Worker %s failing item %d: %s", w.id, item.ID, reason)
	if err := w.store.FinishWorkItem(item.ID, types.WorkItemFailed); err != nil {
		log.Printf("❌ Worker %s finishing item %d: %v", w.id, item.ID, err)
	}
	w.bus.Emit(events.ItemFailed, item.ID, item.ResourceID, w.id, reason)
}
