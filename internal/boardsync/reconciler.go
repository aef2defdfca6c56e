// Package boardsync mirrors external board projects into the local store and
// turns board state into queued work. The board is the source of truth for
// task content; the store is the source of truth for routing and queue state.
package boardsync

import (
	"context"
	"log"
	"time"

	"github.com/cloud-shuttle/roundup/internal/board"
	"github.com/cloud-shuttle/roundup/internal/config"
	"github.com/cloud-shuttle/roundup/internal/db"
	"github.com/cloud-shuttle/roundup/internal/events"
	"github.com/cloud-shuttle/roundup/internal/score"
	"github.com/cloud-shuttle/roundup/pkg/types"
)

// Reconciler runs the sync loop for one tracked project
type Reconciler struct {
	project config.ProjectRef
	store   *db.Store
	boards  board.API
	scorer  *score.Scorer
	bus     *events.Bus
	cfg     *config.Config
}

// New creates a reconciler for one project
func New(project config.ProjectRef, store *db.Store, boards board.API, scorer *score.Scorer, bus *events.Bus, cfg *config.Config) *Reconciler {
	return &Reconciler{
		project: project,
		store:   store,
		boards:  boards,
		scorer:  scorer,
		bus:     bus,
		cfg:     cfg,
	}
}

// Run syncs on the configured interval until the context is canceled. A
// failed cycle waits the retry backoff and tries again; the loop itself
// never dies on a board outage.
func (r *Reconciler) Run(ctx context.Context) error {
	log.Printf("🔄 Reconciler online for %s (interval %s)", r.project.Name, r.cfg.SyncInterval)

	for {
		wait := r.cfg.SyncInterval
		if err := r.Sync(ctx); err != nil {
			log.Printf("⚠️  Sync cycle for %s failed: %v", r.project.Name, err)
			wait = r.cfg.RetryBackoff
		}

		select {
		case <-ctx.Done():
			log.Printf("🔄 Reconciler for %s stopping", r.project.Name)
			return nil
		case <-time.After(wait):
		}
	}
}

// Sync runs one reconcile cycle: refresh the project, mirror its tasks, and
// enqueue work for every task sitting in an agent-mapped section
func (r *Reconciler) Sync(ctx context.Context) error {
	boardProj, err := r.boards.GetProject(ctx, r.project.GID)
	if err != nil {
		return err
	}

	proj, err := r.store.UpsertProject(&types.Project{
		ExternalGID:  boardProj.GID,
		Name:         boardProj.Name,
		WorkspaceRef: boardProj.WorkspaceGID,
		PortfolioRef: boardProj.PortfolioGID,
	})
	if err != nil {
		return err
	}
	r.scorer.SetProjectGID(proj.ID, proj.ExternalGID)

	boardTasks, err := r.boards.GetTasks(ctx, r.project.GID)
	if err != nil {
		return err
	}

	now := time.Now()
	synced, enqueued := 0, 0
	for _, bt := range boardTasks {
		task, err := r.mirror(proj, bt)
		if err != nil {
			// One bad task must not abort the cycle for the rest
			log.Printf("⚠️  Mirroring task %s in %s: %v", bt.GID, r.project.Name, err)
			continue
		}
		synced++

		agentType, ok := r.agentFor(bt)
		if !ok {
			continue
		}

		sc := r.scorer.Score(task, now)
		_, created, err := r.store.Enqueue(agentType, task.ExternalGID, types.ResourceTask, score.QueuePriority(sc), "")
		if err != nil {
			log.Printf("⚠️  Enqueueing %s for task %s: %v", agentType, task.ExternalGID, err)
			continue
		}
		if created {
			enqueued++
			r.bus.Emit(events.ItemEnqueued, 0, task.ExternalGID, "", string(agentType))
		}
	}

	r.bus.Emit(events.SyncCycle, 0, "", "", r.project.Name)
	if r.cfg.Verbose {
		log.Printf("🔄 Synced %s: %d tasks, %d new items", r.project.Name, synced, enqueued)
	}
	return nil
}

// mirror writes one board task into the store
func (r *Reconciler) mirror(proj *types.Project, bt *board.Task) (*types.Task, error) {
	t := &types.Task{
		ExternalGID:  bt.GID,
		ProjectID:    proj.ID,
		Name:         bt.Name,
		Notes:        bt.Notes,
		Completed:    bt.Completed,
		AssigneeRef:  bt.AssigneeGID,
		MaxCost:      bt.Fields.MaxCost,
		UserPriority: types.UserPriority(bt.Priority),
		Blocked:      bt.Blocked(),
		Blocking:     bt.Blocking(),
		CreatedAt:    bt.CreatedAt.Unix(),
	}
	if bt.DueOn != nil {
		due := bt.DueOn.Unix()
		t.DueOn = &due
	}
	return r.store.UpsertTask(t)
}

// agentFor maps a task's board section to the agent stage that should run
// next. Unmapped sections and completed tasks yield no work. Blocked tasks
// still enqueue; the dependency score ranks them behind unblocked work
// rather than hiding them from the queue.
func (r *Reconciler) agentFor(bt *board.Task) (types.AgentType, bool) {
	if bt.Completed {
		return "", false
	}
	agentType, ok := r.cfg.SectionAgents[bt.SectionName]
	if !ok {
		return "", false
	}
	return agentType, true
}
