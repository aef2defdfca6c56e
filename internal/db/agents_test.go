package db_test

import (
	"testing"
	"time"

	"github.com/cloud-shuttle/roundup/pkg/types"
)

func TestStore_RegisterAgent_Reclaim(t *testing.T) {
	store := setupTestDB(t)

	if err := store.RegisterAgent("worker-1", types.SwarmWorkerType); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
	if err := store.SetAgentBusy("worker-1", 42); err != nil {
		t.Fatalf("SetAgentBusy failed: %v", err)
	}

	// Re-registering after a restart resets the row to idle
	if err := store.RegisterAgent("worker-1", types.SwarmWorkerType); err != nil {
		t.Fatalf("Re-register failed: %v", err)
	}

	agents, err := store.ListAgents()
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("Expected 1 agent row, got %d", len(agents))
	}
	if agents[0].Status != types.AgentIdle {
		t.Errorf("Expected idle after re-register, got %s", agents[0].Status)
	}
	if agents[0].CurrentItemID != nil {
		t.Error("Expected cleared work item after re-register")
	}
}

func TestStore_ListIdleAgents(t *testing.T) {
	store := setupTestDB(t)

	if err := store.RegisterAgent("worker-1", types.SwarmWorkerType); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
	if err := store.RegisterAgent("worker-2", types.SwarmWorkerType); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
	if err := store.SetAgentBusy("worker-2", 1); err != nil {
		t.Fatalf("SetAgentBusy failed: %v", err)
	}
	// An agent of a different type never matches
	if err := store.RegisterAgent("other-1", "other-type"); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}

	idle, err := store.ListIdleAgents(types.SwarmWorkerType, time.Minute)
	if err != nil {
		t.Fatalf("ListIdleAgents failed: %v", err)
	}
	if len(idle) != 1 || idle[0].AgentID != "worker-1" {
		t.Fatalf("Expected only worker-1 idle, got %+v", idle)
	}

	// Return worker-2 to idle and both show up
	if err := store.SetAgentIdle("worker-2"); err != nil {
		t.Fatalf("SetAgentIdle failed: %v", err)
	}
	idle, err = store.ListIdleAgents(types.SwarmWorkerType, time.Minute)
	if err != nil {
		t.Fatalf("ListIdleAgents failed: %v", err)
	}
	if len(idle) != 2 {
		t.Errorf("Expected 2 idle agents, got %d", len(idle))
	}
}

func TestStore_MarkStaleAgentsOffline(t *testing.T) {
	store := setupTestDB(t)

	if err := store.RegisterAgent("worker-1", types.SwarmWorkerType); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}

	// Fresh heartbeat: nothing is stale under a generous threshold
	stale, err := store.MarkStaleAgentsOffline(time.Minute)
	if err != nil {
		t.Fatalf("MarkStaleAgentsOffline failed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("Expected no stale agents, got %v", stale)
	}

	// A zero threshold makes every heartbeat stale
	time.Sleep(1100 * time.Millisecond)
	stale, err = store.MarkStaleAgentsOffline(time.Second)
	if err != nil {
		t.Fatalf("MarkStaleAgentsOffline failed: %v", err)
	}
	if len(stale) != 1 || stale[0] != "worker-1" {
		t.Fatalf("Expected worker-1 stale, got %v", stale)
	}

	agents, err := store.ListAgents()
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if agents[0].Status != types.AgentOffline {
		t.Errorf("Expected offline, got %s", agents[0].Status)
	}

	// Already-offline agents are not reported twice
	stale, err = store.MarkStaleAgentsOffline(time.Second)
	if err != nil {
		t.Fatalf("MarkStaleAgentsOffline failed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("Expected no newly stale agents, got %v", stale)
	}
}

func TestStore_Heartbeat_RefreshesLiveness(t *testing.T) {
	store := setupTestDB(t)

	if err := store.RegisterAgent("worker-1", types.SwarmWorkerType); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	if err := store.Heartbeat("worker-1"); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	idle, err := store.ListIdleAgents(types.SwarmWorkerType, time.Second)
	if err != nil {
		t.Fatalf("ListIdleAgents failed: %v", err)
	}
	if len(idle) != 1 {
		t.Errorf("Expected heartbeat to keep worker-1 live, got %d idle", len(idle))
	}
}
