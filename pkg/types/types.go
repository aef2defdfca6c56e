// Package types defines core data structures for Roundup
package types

import "time"

// AgentType identifies a routing/execution variant in the swarm
type AgentType string

const (
	AgentTriage        AgentType = "triage"
	AgentPlanner       AgentType = "planner"
	AgentWorker        AgentType = "worker"
	AgentReviewer      AgentType = "reviewer"
	AgentDocumentation AgentType = "documentation"
	AgentRefactor      AgentType = "refactor"
	AgentConsolidation AgentType = "consolidation"
	AgentIdeation      AgentType = "ideation"
)

// SwarmWorkerType is the agent type registered by pooled worker processes.
// Work items carry the routing agent type; the pool that executes them is
// homogeneous and schedulable under this single type.
const SwarmWorkerType = "swarm-worker"

// IsScanner reports whether the agent type always routes to a terminal
// done state regardless of findings
func (a AgentType) IsScanner() bool {
	return a == AgentRefactor || a == AgentConsolidation || a == AgentIdeation
}

// Project mirrors an external board project tracked by the swarm
type Project struct {
	ID           int64  `json:"id" db:"id"`
	ExternalGID  string `json:"external_gid" db:"external_gid"`
	Name         string `json:"name" db:"name"`
	WorkspaceRef string `json:"workspace_ref" db:"workspace_ref"`
	PortfolioRef string `json:"portfolio_ref" db:"portfolio_ref"`
	LastSyncedAt int64  `json:"last_synced_at" db:"last_synced_at"`
}

// UserPriority is the explicit priority label carried on a board task
type UserPriority string

const (
	PriorityHigh   UserPriority = "high"
	PriorityMedium UserPriority = "medium"
	PriorityLow    UserPriority = "low"
	PriorityNone   UserPriority = ""
)

// Task mirrors an external board task plus swarm-local routing fields.
// Board-derived fields are written by the reconciler; the routing fields
// (CurrentAgent, CurrentSection, SessionID, AccumulatedCost) are written by
// agent routing after each execution.
type Task struct {
	ID              int64        `json:"id" db:"id"`
	ExternalGID     string       `json:"external_gid" db:"external_gid"`
	ProjectID       int64        `json:"project_id" db:"project_id"`
	Name            string       `json:"name" db:"name"`
	Notes           string       `json:"notes" db:"notes"`
	Completed       bool         `json:"completed" db:"completed"`
	AssigneeRef     string       `json:"assignee_ref" db:"assignee_ref"`
	CurrentAgent    string       `json:"current_agent" db:"current_agent"`
	CurrentSection  string       `json:"current_section" db:"current_section"`
	SessionID       string       `json:"session_id" db:"session_id"`
	AccumulatedCost float64      `json:"accumulated_cost" db:"accumulated_cost"`
	MaxCost         float64      `json:"max_cost" db:"max_cost"`
	DueOn           *int64       `json:"due_on,omitempty" db:"due_on"`
	UserPriority    UserPriority `json:"user_priority" db:"user_priority"`
	Blocked         bool         `json:"blocked" db:"blocked"`
	Blocking        bool         `json:"blocking" db:"blocking"`
	CreatedAt       int64        `json:"created_at" db:"created_at"`
	UpdatedAt       int64        `json:"updated_at" db:"updated_at"`
}

// WorkItemStatus represents the state of a queued work item
type WorkItemStatus string

const (
	WorkItemPending     WorkItemStatus = "pending"
	WorkItemAssigned    WorkItemStatus = "assigned"
	WorkItemCompleted   WorkItemStatus = "completed"
	WorkItemFailed      WorkItemStatus = "failed"
	WorkItemInterrupted WorkItemStatus = "interrupted"
)

// ResourceType identifies what a work item targets
type ResourceType string

const (
	ResourceTask    ResourceType = "task"
	ResourceProject ResourceType = "project"
)

// WorkQueueItem binds one agent type to one target entity. Items are created
// by the reconciler (or by routing when a result names a next agent), moved
// to assigned by the scheduler, and finished by the worker that owns them.
// Terminal items are never deleted.
type WorkQueueItem struct {
	ID            int64          `json:"id" db:"id"`
	AgentType     AgentType      `json:"agent_type" db:"agent_type"`
	ResourceID    string         `json:"resource_id" db:"resource_id"`
	ResourceType  ResourceType   `json:"resource_type" db:"resource_type"`
	Priority      int            `json:"priority" db:"priority"`
	Status        WorkItemStatus `json:"status" db:"status"`
	AssignedTo    string         `json:"assigned_to_agent_id" db:"assigned_to_agent_id"`
	AssignedAt    *int64         `json:"assigned_at,omitempty" db:"assigned_at"`
	CompletedAt   *int64         `json:"completed_at,omitempty" db:"completed_at"`
	Payload       string         `json:"payload,omitempty" db:"payload"`
	CreatedAt     int64          `json:"created_at" db:"created_at"`
}

// AgentStatus represents the liveness state of a worker process
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// AgentState is one row per live worker process, upserted at start-up and
// updated by the worker on heartbeat and status change. A stale heartbeat is
// treated as offline by the scheduler regardless of the stored status.
type AgentState struct {
	AgentID         string      `json:"agent_id" db:"agent_id"`
	AgentType       string      `json:"agent_type" db:"agent_type"`
	Status          AgentStatus `json:"status" db:"status"`
	CurrentItemID   *int64      `json:"current_work_item_id,omitempty" db:"current_work_item_id"`
	LastHeartbeatAt int64       `json:"last_heartbeat_at" db:"last_heartbeat_at"`
	StartedAt       int64       `json:"started_at" db:"started_at"`
}

// Alive reports whether the agent's heartbeat is fresher than the threshold
func (a *AgentState) Alive(now time.Time, threshold time.Duration) bool {
	return now.Unix()-a.LastHeartbeatAt <= int64(threshold.Seconds())
}

// PriorityWeights are the multipliers applied to each score component
type PriorityWeights struct {
	DueDate           float64 `yaml:"due_date"`
	Dependency        float64 `yaml:"dependency"`
	UserPriority      float64 `yaml:"user_priority"`
	ProjectImportance float64 `yaml:"project_importance"`
	AgeFactor         float64 `yaml:"age_factor"`
}

// DefaultWeights returns the default priority weight configuration
func DefaultWeights() PriorityWeights {
	return PriorityWeights{
		DueDate:           3.0,
		Dependency:        2.0,
		UserPriority:      1.5,
		ProjectImportance: 1.0,
		AgeFactor:         0.5,
	}
}

// TaskScore is the component breakdown produced by the priority scorer
type TaskScore struct {
	DueDateScore      float64 `json:"due_date_score"`
	DependencyScore   float64 `json:"dependency_score"`
	UserPriorityScore float64 `json:"user_priority_score"`
	ProjectScore      float64 `json:"project_score"`
	AgeScore          float64 `json:"age_score"`
	TotalScore        float64 `json:"total_score"`
}
