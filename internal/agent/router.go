package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloud-shuttle/roundup/internal/board"
	"github.com/cloud-shuttle/roundup/internal/config"
	"github.com/cloud-shuttle/roundup/internal/db"
	"github.com/cloud-shuttle/roundup/internal/events"
	"github.com/cloud-shuttle/roundup/internal/executor"
	"github.com/cloud-shuttle/roundup/internal/memory"
	"github.com/cloud-shuttle/roundup/pkg/types"
)

// Router executes one work item end to end: cost guard, prompt, executor
// run, parse, then mirroring the decision into the store and the board.
type Router struct {
	store  *db.Store
	boards board.API
	runner executor.Runner
	memory *memory.Store
	bus    *events.Bus
	cfg    *config.Config

	mu       sync.Mutex
	sections map[string]map[string]string // project GID -> section name -> GID
}

// NewRouter creates a router
func NewRouter(store *db.Store, api board.API, runner executor.Runner, mem *memory.Store, bus *events.Bus, cfg *config.Config) *Router {
	return &Router{
		store:    store,
		boards:   api,
		runner:   runner,
		memory:   mem,
		bus:      bus,
		cfg:      cfg,
		sections: make(map[string]map[string]string),
	}
}

// Process runs a work item to completion. The returned bool reports whether
// the item succeeded; errors cover the execution itself, not board mirroring,
// which is logged and retried on the next sync.
func (r *Router) Process(ctx context.Context, item *types.WorkQueueItem, dir string) (bool, error) {
	if item.ResourceType == types.ResourceProject {
		return r.processProject(ctx, item, dir)
	}
	return r.processTask(ctx, item, dir)
}

func (r *Router) processTask(ctx context.Context, item *types.WorkQueueItem, dir string) (bool, error) {
	task, err := r.store.FindTaskByGID(item.ResourceID)
	if err != nil {
		return false, fmt.Errorf("resolving task for item %d: %w", item.ID, err)
	}
	proj, err := r.store.GetProjectByID(task.ProjectID)
	if err != nil {
		return false, fmt.Errorf("resolving project for task %s: %w", task.ExternalGID, err)
	}

	// Cost guard runs strictly before dispatch. An execution already under
	// way may overshoot the ceiling once; the next dispatch is refused here.
	limit := task.MaxCost
	if limit <= 0 {
		limit = r.cfg.DefaultMaxCost
	}
	if task.AccumulatedCost >= limit {
		r.applyCostLimit(ctx, proj, task)
		return false, fmt.Errorf("task %s: %w (%.2f of %.2f)", task.ExternalGID, ErrCostLimit, task.AccumulatedCost, limit)
	}

	parse, err := routeFor(item.AgentType)
	if err != nil {
		return false, err
	}

	// A task with no session gets a fresh one; ClearSession on the previous
	// stage's result is what emptied it.
	sessionID := task.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	mem, err := r.memory.Read(proj.ExternalGID + ".md")
	if err != nil {
		log.Printf("⚠️  Reading memory for %s: %v", proj.Name, err)
	}

	prompt := Render(promptFor(item.AgentType), map[string]string{
		"ProjectName": proj.Name,
		"TaskName":    task.Name,
		"TaskNotes":   task.Notes,
		"Memory":      mem,
	})

	res, err := r.runner.Run(ctx, executor.Request{
		Prompt:    prompt,
		Dir:       dir,
		SessionID: sessionID,
		Timeout:   r.cfg.ExecTimeout,
	})
	if err != nil {
		// The executor never started; fail the item and route the task
		// where a human will see it.
		result := failureResult(fmt.Sprintf("executor failed to start: %v", err), 0)
		r.apply(ctx, proj, task, item, result, sessionID)
		return false, fmt.Errorf("running executor for item %d: %w", item.ID, err)
	}

	result := parse(res)
	r.apply(ctx, proj, task, item, result, sessionID)
	return result.Success, nil
}

// apply mirrors an execution result into the store, the queue, and the
// board. The store write happens first; board failures are logged, never
// fatal, and the next reconcile cycle repairs any divergence.
func (r *Router) apply(ctx context.Context, proj *types.Project, task *types.Task, item *types.WorkQueueItem, result *Result, sessionID string) {
	storedSession := sessionID
	if result.ClearSession {
		storedSession = ""
	}

	agent := string(result.NextAgent)
	if err := r.store.UpdateTaskRouting(task.ID, agent, result.NextSection, storedSession, result.Cost); err != nil {
		log.Printf("❌ Recording routing for task %s: %v", task.ExternalGID, err)
	}

	// A named next agent becomes a new queue item carrying the priority of
	// the one that produced it.
	if result.NextAgent != "" {
		if _, created, err := r.store.Enqueue(result.NextAgent, task.ExternalGID, types.ResourceTask, item.Priority, ""); err != nil {
			log.Printf("❌ Enqueueing %s follow-up for task %s: %v", result.NextAgent, task.ExternalGID, err)
		} else if created {
			r.bus.Emit(events.ItemEnqueued, 0, task.ExternalGID, "", string(result.NextAgent))
		}
	}

	if result.NextSection != "" {
		r.moveToSection(ctx, proj, task, result.NextSection)
	}

	update := board.TaskUpdate{Agent: &agent, Session: &storedSession}
	if result.Assignee != "" {
		update.Assignee = &result.Assignee
	}
	if err := r.boards.UpdateTask(ctx, task.ExternalGID, update); err != nil {
		log.Printf("⚠️  Updating board task %s: %v", task.ExternalGID, err)
	}

	if !result.Success {
		comment := "Roundup could not complete this stage: " + result.Err
		if err := r.boards.AddComment(ctx, task.ExternalGID, comment); err != nil {
			log.Printf("⚠️  Commenting on task %s: %v", task.ExternalGID, err)
		}
		r.bus.Emit(events.ItemFailed, item.ID, task.ExternalGID, "", result.Err)
		return
	}

	if result.Summary != "" {
		line := fmt.Sprintf("[%s] %s %s: %s", time.Now().Format("2006-01-02"), item.AgentType, task.Name, result.Summary)
		if err := r.memory.Append(proj.ExternalGID+".md", line); err != nil {
			log.Printf("⚠️  Appending memory for %s: %v", proj.Name, err)
		}
	}
	r.bus.Emit(events.TaskRouted, item.ID, task.ExternalGID, "", result.NextSection)
}

// applyCostLimit parks an over-budget task in clarification with a comment
// explaining why nothing further will run
func (r *Router) applyCostLimit(ctx context.Context, proj *types.Project, task *types.Task) {
	if err := r.store.UpdateTaskRouting(task.ID, "", SectionClarification, "", 0); err != nil {
		log.Printf("❌ Recording cost stop for task %s: %v", task.ExternalGID, err)
	}
	r.moveToSection(ctx, proj, task, SectionClarification)

	comment := fmt.Sprintf("Roundup stopped this task: accumulated cost $%.2f reached its limit. Raise the Swarm Max Cost field to resume.", task.AccumulatedCost)
	if err := r.boards.AddComment(ctx, task.ExternalGID, comment); err != nil {
		log.Printf("⚠️  Commenting on task %s: %v", task.ExternalGID, err)
	}
	r.bus.Emit(events.ItemFailed, 0, task.ExternalGID, "", "cost limit reached")
}

// processProject runs a project-wide scanner. Scanners read state and report
// into project memory; they never move board tasks.
func (r *Router) processProject(ctx context.Context, item *types.WorkQueueItem, dir string) (bool, error) {
	proj, err := r.store.GetProjectByGID(item.ResourceID)
	if err != nil {
		return false, fmt.Errorf("resolving project for item %d: %w", item.ID, err)
	}

	mem, err := r.memory.Read(proj.ExternalGID + ".md")
	if err != nil {
		log.Printf("⚠️  Reading memory for %s: %v", proj.Name, err)
	}

	prompt := Render(promptFor(item.AgentType), map[string]string{
		"ProjectName": proj.Name,
		"Memory":      mem,
	})

	res, err := r.runner.Run(ctx, executor.Request{
		Prompt:  prompt,
		Dir:     dir,
		Timeout: r.cfg.ExecTimeout,
	})
	if err != nil {
		return false, fmt.Errorf("running scanner for item %d: %w", item.ID, err)
	}

	result := parseScanner(res)
	if !result.Success {
		r.bus.Emit(events.ItemFailed, item.ID, "", "", result.Err)
		return false, nil
	}

	for _, finding := range result.Details {
		line := fmt.Sprintf("[%s] %s: %s", time.Now().Format("2006-01-02"), item.AgentType, finding)
		if err := r.memory.Append(proj.ExternalGID+".md", line); err != nil {
			log.Printf("⚠️  Appending memory for %s: %v", proj.Name, err)
			break
		}
	}
	return true, nil
}

// moveToSection resolves a section name and moves the task on the board
func (r *Router) moveToSection(ctx context.Context, proj *types.Project, task *types.Task, sectionName string) {
	gid, err := r.sectionGID(ctx, proj.ExternalGID, sectionName)
	if err != nil {
		log.Printf("⚠️  Resolving section %q in %s: %v", sectionName, proj.Name, err)
		return
	}
	if err := r.boards.MoveTaskToSection(ctx, task.ExternalGID, proj.ExternalGID, gid); err != nil {
		log.Printf("⚠️  Moving task %s to %s: %v", task.ExternalGID, sectionName, err)
	}
}

// sectionGID resolves a section name to its GID, caching the project's
// section list after the first lookup
func (r *Router) sectionGID(ctx context.Context, projectGID, name string) (string, error) {
	r.mu.Lock()
	if m, ok := r.sections[projectGID]; ok {
		gid, found := m[name]
		r.mu.Unlock()
		if found {
			return gid, nil
		}
	} else {
		r.mu.Unlock()
	}

	sections, err := r.boards.GetSections(ctx, projectGID)
	if err != nil {
		return "", err
	}

	m := make(map[string]string, len(sections))
	for _, s := range sections {
		m[s.Name] = s.GID
	}
	r.mu.Lock()
	r.sections[projectGID] = m
	r.mu.Unlock()

	gid, ok := m[name]
	if !ok {
		return "", fmt.Errorf("project %s has no section named %q", projectGID, name)
	}
	return gid, nil
}
