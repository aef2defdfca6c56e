// Package boardsync_test provides tests for the reconciler
package boardsync_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloud-shuttle/roundup/internal/board"
	"github.com/cloud-shuttle/roundup/internal/boardsync"
	"github.com/cloud-shuttle/roundup/internal/config"
	"github.com/cloud-shuttle/roundup/internal/db"
	"github.com/cloud-shuttle/roundup/internal/events"
	"github.com/cloud-shuttle/roundup/internal/score"
	"github.com/cloud-shuttle/roundup/pkg/types"
)

// fakeBoard is an in-memory board.API serving canned projects and tasks
type fakeBoard struct {
	project *board.Project
	tasks   []*board.Task
}

func (f *fakeBoard) GetProject(ctx context.Context, gid string) (*board.Project, error) {
	return f.project, nil
}
func (f *fakeBoard) GetTasks(ctx context.Context, projectGID string) ([]*board.Task, error) {
	return f.tasks, nil
}
func (f *fakeBoard) GetTask(ctx context.Context, gid string) (*board.Task, error) {
	for _, t := range f.tasks {
		if t.GID == gid {
			return t, nil
		}
	}
	return nil, board.ErrNotFound
}
func (f *fakeBoard) UpdateTask(ctx context.Context, gid string, update board.TaskUpdate) error {
	return nil
}
func (f *fakeBoard) AddComment(ctx context.Context, taskGID, text string) error { return nil }
func (f *fakeBoard) GetSections(ctx context.Context, projectGID string) ([]*board.Section, error) {
	return nil, nil
}
func (f *fakeBoard) MoveTaskToSection(ctx context.Context, taskGID, projectGID, sectionGID string) error {
	return nil
}

func setupReconciler(t *testing.T, fake *fakeBoard) (*boardsync.Reconciler, *db.Store) {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("Initializing schema: %v", err)
	}

	cfg := &config.Config{
		SectionAgents: config.DefaultSectionAgents(),
	}
	proj := config.ProjectRef{GID: "proj-1", Name: "Webapp", Importance: 1.0}
	scorer := score.NewScorer(types.DefaultWeights(), map[string]float64{"proj-1": 1.0}, 0.1)
	bus := events.NewBus()
	t.Cleanup(func() { bus.Close() })

	return boardsync.New(proj, store, fake, scorer, bus, cfg), store
}

func boardTask(gid, section string) *board.Task {
	return &board.Task{
		GID:         gid,
		Name:        "Task " + gid,
		SectionName: section,
		CreatedAt:   time.Now().Add(-time.Hour),
	}
}

func TestReconciler_Sync_EnqueuesMappedSections(t *testing.T) {
	fake := &fakeBoard{
		project: &board.Project{GID: "proj-1", Name: "Webapp"},
		tasks: []*board.Task{
			boardTask("task-ready", "Ready Queue"),
			boardTask("task-review", "Review"),
			boardTask("task-parked", "Icebox"), // unmapped section
		},
	}
	r, store := setupReconciler(t, fake)

	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	items, err := store.ListWorkItems(types.WorkItemPending)
	if err != nil {
		t.Fatalf("ListWorkItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 pending items, got %d", len(items))
	}

	byResource := map[string]types.AgentType{}
	for _, item := range items {
		byResource[item.ResourceID] = item.AgentType
	}
	if byResource["task-ready"] != types.AgentTriage {
		t.Errorf("Expected triage for Ready Queue task, got %q", byResource["task-ready"])
	}
	if byResource["task-review"] != types.AgentReviewer {
		t.Errorf("Expected reviewer for Review task, got %q", byResource["task-review"])
	}
	if _, found := byResource["task-parked"]; found {
		t.Error("Unmapped section must not produce work")
	}
}

func TestReconciler_Sync_IdempotentAcrossCycles(t *testing.T) {
	fake := &fakeBoard{
		project: &board.Project{GID: "proj-1", Name: "Webapp"},
		tasks:   []*board.Task{boardTask("task-1", "Ready Queue")},
	}
	r, store := setupReconciler(t, fake)

	for i := 0; i < 3; i++ {
		if err := r.Sync(context.Background()); err != nil {
			t.Fatalf("Sync cycle %d failed: %v", i, err)
		}
	}

	items, err := store.ListWorkItems("")
	if err != nil {
		t.Fatalf("ListWorkItems failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("Expected exactly 1 item after repeated syncs, got %d", len(items))
	}
}

func TestReconciler_Sync_BlockedTasksEnqueueLow(t *testing.T) {
	blocked := boardTask("task-blocked", "Ready Queue")
	blocked.Dependencies = []board.TaskRef{{GID: "task-dep", Completed: false}}

	free := boardTask("task-free", "Ready Queue")

	fake := &fakeBoard{
		project: &board.Project{GID: "proj-1", Name: "Webapp"},
		tasks:   []*board.Task{blocked, free},
	}
	r, store := setupReconciler(t, fake)

	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	// Blocked work is queued too, not hidden until its dependency clears
	items, err := store.ListWorkItems(types.WorkItemPending)
	if err != nil {
		t.Fatalf("ListWorkItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected both tasks enqueued, got %d items", len(items))
	}

	proj, err := store.GetProjectByGID("proj-1")
	if err != nil {
		t.Fatalf("GetProjectByGID failed: %v", err)
	}
	task, err := store.GetTaskByGID(proj.ID, "task-blocked")
	if err != nil {
		t.Fatalf("Expected blocked task mirrored: %v", err)
	}
	if !task.Blocked {
		t.Error("Expected blocked flag mirrored")
	}

	// The dependency score deprioritizes blocked work: the free task wins
	// the first claim
	item, err := store.AssignNextItem("worker-1")
	if err != nil || item == nil {
		t.Fatalf("AssignNextItem failed: %v", err)
	}
	if item.ResourceID != "task-free" {
		t.Errorf("Expected unblocked task claimed first, got %s", item.ResourceID)
	}
}

func TestReconciler_Sync_PriorityFollowsScore(t *testing.T) {
	soon := boardTask("task-soon", "Ready Queue")
	due := time.Now().Add(12 * time.Hour)
	soon.DueOn = &due

	later := boardTask("task-later", "Ready Queue")

	fake := &fakeBoard{
		project: &board.Project{GID: "proj-1", Name: "Webapp"},
		tasks:   []*board.Task{later, soon},
	}
	r, store := setupReconciler(t, fake)

	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	// The scheduler claims by priority; the due-soon task must come first
	item, err := store.AssignNextItem("worker-1")
	if err != nil || item == nil {
		t.Fatalf("AssignNextItem failed: %v", err)
	}
	if item.ResourceID != "task-soon" {
		t.Errorf("Expected due-soon task claimed first, got %s", item.ResourceID)
	}
}
