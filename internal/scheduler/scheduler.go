// Package scheduler matches pending work to idle workers. Exactly one
// scheduler loop runs per coordinator; the claim itself is a single atomic
// store operation, so even a misbehaving second loop cannot double-assign.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/cloud-shuttle/roundup/internal/config"
	"github.com/cloud-shuttle/roundup/internal/db"
	"github.com/cloud-shuttle/roundup/internal/events"
	"github.com/cloud-shuttle/roundup/pkg/types"
)

// Dispatcher hands an assigned item to the worker that claimed it
type Dispatcher interface {
	Dispatch(ctx context.Context, agentID string, item *types.WorkQueueItem) error
}

// Scheduler runs the assignment and liveness loops
type Scheduler struct {
	store      *db.Store
	dispatcher Dispatcher
	bus        *events.Bus
	cfg        *config.Config
}

// New creates a scheduler
func New(store *db.Store, dispatcher Dispatcher, bus *events.Bus, cfg *config.Config) *Scheduler {
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		bus:        bus,
		cfg:        cfg,
	}
}

// Run ticks until the context is canceled. A tick in progress always
// finishes; cancellation is observed between ticks.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("📋 Scheduler online (tick %s)", s.cfg.TickInterval)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("📋 Scheduler stopping")
			return nil
		case <-ticker.C:
			s.recoverDead()
			s.assign(ctx)
		}
	}
}

// assign claims pending items for every live idle worker, highest priority
// first, until the queue drains or no idle worker remains
func (s *Scheduler) assign(ctx context.Context) {
	idle, err := s.store.ListIdleAgents(types.SwarmWorkerType, s.cfg.LivenessThreshold)
	if err != nil {
		log.Printf("❌ Listing idle workers: %v", err)
		return
	}

	for _, agent := range idle {
		item, err := s.store.AssignNextItem(agent.AgentID)
		if err != nil {
			log.Printf("❌ Assigning work to %s: %v", agent.AgentID, err)
			return
		}
		if item == nil {
			return // queue drained
		}

		if err := s.dispatcher.Dispatch(ctx, agent.AgentID, item); err != nil {
			// The worker went away between the idle check and the claim.
			// Put the item back; the next tick finds another worker.
			log.Printf("⚠️  Dispatch to %s failed, requeueing item %d: %v", agent.AgentID, item.ID, err)
			if _, rqErr := s.store.RequeueItemsFor(agent.AgentID); rqErr != nil {
				log.Printf("❌ Requeueing after failed dispatch: %v", rqErr)
			}
			continue
		}

		s.bus.Emit(events.ItemAssigned, item.ID, item.ResourceID, agent.AgentID, string(item.AgentType))
		log.Printf("📤 Assigned item %d (%s %s) to %s", item.ID, item.AgentType, item.ResourceID, agent.AgentID)
	}
}

// recoverDead flips workers with expired heartbeats to offline and returns
// their in-flight items to the queue. Recovered work re-runs from the start
// of its stage; executions are idempotent at the stage boundary.
//
// The requeue scans all stale and offline holders every pass, not just the
// agents flipped this pass, so an item survives a requeue that failed once.
func (s *Scheduler) recoverDead() {
	stale, err := s.store.MarkStaleAgentsOffline(s.cfg.LivenessThreshold)
	if err != nil {
		log.Printf("❌ Liveness sweep: %v", err)
		return
	}
	for _, agentID := range stale {
		log.Printf("💀 Worker %s missed its heartbeat, marking offline", agentID)
		s.bus.Emit(events.AgentOffline, 0, "", agentID, "heartbeat expired")
	}

	ids, err := s.store.RequeueAbandonedItems(s.cfg.LivenessThreshold)
	if err != nil {
		log.Printf("❌ Requeueing abandoned items: %v", err)
		return
	}
	for _, id := range ids {
		log.Printf("♻️  Requeued item %d from a dead worker", id)
		s.bus.Emit(events.ItemRequeued, id, "", "", "")
	}
}
