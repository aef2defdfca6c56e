package agent_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloud-shuttle/roundup/internal/agent"
	"github.com/cloud-shuttle/roundup/internal/board"
	"github.com/cloud-shuttle/roundup/internal/config"
	"github.com/cloud-shuttle/roundup/internal/db"
	"github.com/cloud-shuttle/roundup/internal/events"
	"github.com/cloud-shuttle/roundup/internal/executor"
	"github.com/cloud-shuttle/roundup/internal/memory"
	"github.com/cloud-shuttle/roundup/pkg/types"
)

// recordingBoard captures board writes for assertions
type recordingBoard struct {
	mu       sync.Mutex
	moves    []string // "taskGID->sectionGID"
	comments []string
	updates  []board.TaskUpdate
}

func (b *recordingBoard) GetProject(ctx context.Context, gid string) (*board.Project, error) {
	return &board.Project{GID: gid, Name: "Webapp"}, nil
}
func (b *recordingBoard) GetTasks(ctx context.Context, projectGID string) ([]*board.Task, error) {
	return nil, nil
}
func (b *recordingBoard) GetTask(ctx context.Context, gid string) (*board.Task, error) {
	return &board.Task{GID: gid}, nil
}
func (b *recordingBoard) UpdateTask(ctx context.Context, gid string, update board.TaskUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, update)
	return nil
}
func (b *recordingBoard) AddComment(ctx context.Context, taskGID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.comments = append(b.comments, text)
	return nil
}
func (b *recordingBoard) GetSections(ctx context.Context, projectGID string) ([]*board.Section, error) {
	return []*board.Section{
		{GID: "sec-planning", Name: agent.SectionPlanning},
		{GID: "sec-progress", Name: agent.SectionInProgress},
		{GID: "sec-clarify", Name: agent.SectionClarification},
		{GID: "sec-done", Name: agent.SectionDone},
	}, nil
}
func (b *recordingBoard) MoveTaskToSection(ctx context.Context, taskGID, projectGID, sectionGID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.moves = append(b.moves, taskGID+"->"+sectionGID)
	return nil
}

// cannedRunner returns a fixed executor result
type cannedRunner struct {
	stdout string
}

func (r *cannedRunner) Run(ctx context.Context, req executor.Request) (*executor.Result, error) {
	return &executor.Result{Stdout: r.stdout}, nil
}

type routerFixture struct {
	router *agent.Router
	store  *db.Store
	boards *recordingBoard
	mem    *memory.Store
	proj   *types.Project
}

func setupRouter(t *testing.T, runner executor.Runner) *routerFixture {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("Initializing schema: %v", err)
	}

	mem, err := memory.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Creating memory store: %v", err)
	}
	bus := events.NewBus()
	t.Cleanup(func() { bus.Close() })

	boards := &recordingBoard{}
	cfg := &config.Config{
		DefaultMaxCost: 10.0,
		ExecTimeout:    time.Minute,
	}

	proj, err := store.UpsertProject(&types.Project{ExternalGID: "proj-1", Name: "Webapp"})
	if err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}

	return &routerFixture{
		router: agent.NewRouter(store, boards, runner, mem, bus, cfg),
		store:  store,
		boards: boards,
		mem:    mem,
		proj:   proj,
	}
}

func (f *routerFixture) addTask(t *testing.T, gid string, accumulated, maxCost float64) *types.Task {
	t.Helper()
	task, err := f.store.UpsertTask(&types.Task{
		ExternalGID: gid,
		ProjectID:   f.proj.ID,
		Name:        "Task " + gid,
		MaxCost:     maxCost,
	})
	if err != nil {
		t.Fatalf("UpsertTask failed: %v", err)
	}
	if accumulated > 0 {
		if err := f.store.UpdateTaskRouting(task.ID, "", "", "", accumulated); err != nil {
			t.Fatalf("UpdateTaskRouting failed: %v", err)
		}
	}
	return task
}

func (f *routerFixture) enqueue(t *testing.T, agentType types.AgentType, resourceID string) *types.WorkQueueItem {
	t.Helper()
	item, _, err := f.store.Enqueue(agentType, resourceID, types.ResourceTask, 200, "")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return item
}

func TestRouter_Process_TriageToPlanner(t *testing.T) {
	runner := &cannedRunner{stdout: `{"result": "{\"next_agent\": \"planner\", \"next_section\": \"Planning\", \"reason\": \"clear\"}", "total_cost_usd": 0.8}`}
	f := setupRouter(t, runner)
	f.addTask(t, "task-1", 0, 5.0)
	item := f.enqueue(t, types.AgentTriage, "task-1")

	success, err := f.router.Process(context.Background(), item, t.TempDir())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !success {
		t.Fatal("Expected success")
	}

	// The routing decision landed in the store
	got, err := f.store.FindTaskByGID("task-1")
	if err != nil {
		t.Fatalf("FindTaskByGID failed: %v", err)
	}
	if got.CurrentAgent != string(types.AgentPlanner) {
		t.Errorf("Expected current agent planner, got %q", got.CurrentAgent)
	}
	if got.CurrentSection != agent.SectionPlanning {
		t.Errorf("Expected Planning section, got %q", got.CurrentSection)
	}
	if got.AccumulatedCost != 0.8 {
		t.Errorf("Expected cost 0.8 accumulated, got %f", got.AccumulatedCost)
	}

	// A follow-up planner item carries the source item's priority
	pending, err := f.store.ListWorkItems(types.WorkItemPending)
	if err != nil {
		t.Fatalf("ListWorkItems failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 follow-up item, got %d", len(pending))
	}
	if pending[0].AgentType != types.AgentPlanner || pending[0].Priority != 200 {
		t.Errorf("Unexpected follow-up item %+v", pending[0])
	}

	// The board move targeted the resolved section GID
	if len(f.boards.moves) != 1 || f.boards.moves[0] != "task-1->sec-planning" {
		t.Errorf("Unexpected board moves %v", f.boards.moves)
	}
}

func TestRouter_Process_CostLimitBlocksDispatch(t *testing.T) {
	runner := &cannedRunner{stdout: `should never run`}
	f := setupRouter(t, runner)
	f.addTask(t, "task-1", 6.0, 5.0) // already over its ceiling
	item := f.enqueue(t, types.AgentWorker, "task-1")

	success, err := f.router.Process(context.Background(), item, t.TempDir())
	if success {
		t.Fatal("Expected cost-limited dispatch to fail")
	}
	if !errors.Is(err, agent.ErrCostLimit) {
		t.Fatalf("Expected ErrCostLimit, got %v", err)
	}

	// The task is parked in clarification with an explanatory comment
	got, err := f.store.FindTaskByGID("task-1")
	if err != nil {
		t.Fatalf("FindTaskByGID failed: %v", err)
	}
	if got.CurrentSection != agent.SectionClarification {
		t.Errorf("Expected Clarification, got %q", got.CurrentSection)
	}
	if len(f.boards.comments) != 1 || !strings.Contains(f.boards.comments[0], "cost") {
		t.Errorf("Expected a cost comment, got %v", f.boards.comments)
	}
	// And crucially no cost was added: nothing ran
	if got.AccumulatedCost != 6.0 {
		t.Errorf("Expected cost unchanged at 6.0, got %f", got.AccumulatedCost)
	}
}

func TestRouter_Process_DefaultCostCeiling(t *testing.T) {
	runner := &cannedRunner{stdout: `{"result": "plan ready", "total_cost_usd": 0.1}`}
	f := setupRouter(t, runner)
	// No per-task ceiling: the configured default (10.0) applies
	f.addTask(t, "task-1", 9.0, 0)
	item := f.enqueue(t, types.AgentPlanner, "task-1")

	success, err := f.router.Process(context.Background(), item, t.TempDir())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !success {
		t.Fatal("Expected dispatch under the default ceiling to run")
	}
}

func TestRouter_Process_FailureAddsComment(t *testing.T) {
	runner := &cannedRunner{stdout: `{"result": "no verdict here", "total_cost_usd": 0.2}`}
	f := setupRouter(t, runner)
	f.addTask(t, "task-1", 0, 5.0)
	item := f.enqueue(t, types.AgentReviewer, "task-1")

	success, err := f.router.Process(context.Background(), item, t.TempDir())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if success {
		t.Fatal("Expected verdict-less review to fail the item")
	}

	if len(f.boards.comments) != 1 {
		t.Fatalf("Expected 1 failure comment, got %d", len(f.boards.comments))
	}
	if !strings.Contains(f.boards.comments[0], "verdict") {
		t.Errorf("Expected the failure reason in the comment, got %q", f.boards.comments[0])
	}

	// Even a failed run's cost is accumulated
	got, err := f.store.FindTaskByGID("task-1")
	if err != nil {
		t.Fatalf("FindTaskByGID failed: %v", err)
	}
	if got.AccumulatedCost != 0.2 {
		t.Errorf("Expected 0.2 accumulated from the failed run, got %f", got.AccumulatedCost)
	}
}

func TestRouter_Process_ProjectScannerAppendsMemory(t *testing.T) {
	runner := &cannedRunner{stdout: `{"result": "duplicate task pair found\nstale epic detected", "total_cost_usd": 0.1}`}
	f := setupRouter(t, runner)
	item, _, err := f.store.Enqueue(types.AgentConsolidation, "proj-1", types.ResourceProject, 50, "")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	success, err := f.router.Process(context.Background(), item, t.TempDir())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !success {
		t.Fatal("Expected scanner success")
	}

	mem, err := f.mem.Read("proj-1.md")
	if err != nil {
		t.Fatalf("Reading memory: %v", err)
	}
	if !strings.Contains(mem, "duplicate task pair found") || !strings.Contains(mem, "stale epic detected") {
		t.Errorf("Expected findings in project memory, got %q", mem)
	}
	// Scanners never touch the board
	if len(f.boards.moves) != 0 || len(f.boards.updates) != 0 {
		t.Error("Expected no board writes from a project scanner")
	}
}
