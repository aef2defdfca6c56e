// Package board is a thin client for the external task-board API. It exposes
// typed entities parsed once at the boundary; nothing downstream touches raw
// payloads or looks fields up by name at access time.
package board

import (
	"encoding/json"
	"fmt"
	"time"
)

// Project is a board project as returned by the remote API
type Project struct {
	GID          string `json:"gid"`
	Name         string `json:"name"`
	WorkspaceGID string `json:"workspace_gid"`
	PortfolioGID string `json:"portfolio_gid"`
}

// Section is a board lane/column
type Section struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// TaskRef is a lightweight reference to another task
type TaskRef struct {
	GID       string `json:"gid"`
	Completed bool   `json:"completed"`
}

// SwarmFields are the swarm-owned custom fields carried on a board task,
// populated once during parsing
type SwarmFields struct {
	Agent   string
	Session string
	MaxCost float64
}

// Task is a board task with its custom fields already resolved
type Task struct {
	GID          string
	Name         string
	Notes        string
	Completed    bool
	AssigneeGID  string
	SectionGID   string
	SectionName  string
	DueOn        *time.Time
	Priority     string // "", "low", "medium", "high"
	Dependencies []TaskRef
	Dependents   []TaskRef
	Fields       SwarmFields
	CreatedAt    time.Time
}

// Blocked reports whether the task waits on any incomplete dependency
func (t *Task) Blocked() bool {
	for _, d := range t.Dependencies {
		if !d.Completed {
			return true
		}
	}
	return false
}

// Blocking reports whether any incomplete work waits on this task
func (t *Task) Blocking() bool {
	for _, d := range t.Dependents {
		if !d.Completed {
			return true
		}
	}
	return false
}

// taskPayload is the wire shape of a task
type taskPayload struct {
	GID       string `json:"gid"`
	Name      string `json:"name"`
	Notes     string `json:"notes"`
	Completed bool   `json:"completed"`
	Assignee  *struct {
		GID string `json:"gid"`
	} `json:"assignee"`
	Memberships []struct {
		Section Section `json:"section"`
	} `json:"memberships"`
	DueOn        string    `json:"due_on"`
	Priority     string    `json:"priority"`
	Dependencies []TaskRef `json:"dependencies"`
	Dependents   []TaskRef `json:"dependents"`
	CustomFields []struct {
		Name         string   `json:"name"`
		DisplayValue string   `json:"display_value"`
		NumberValue  *float64 `json:"number_value"`
	} `json:"custom_fields"`
	CreatedAt time.Time `json:"created_at"`
}

const dueOnLayout = "2006-01-02"

// Custom field names the swarm owns on the board
const (
	fieldAgent   = "Swarm Agent"
	fieldSession = "Swarm Session"
	fieldMaxCost = "Swarm Max Cost"
)

// parseTask converts a wire payload into a typed Task. Unknown custom fields
// and malformed values are rejected here, not at access time.
func parseTask(data []byte) (*Task, error) {
	var p taskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding task payload: %w", err)
	}
	if p.GID == "" {
		return nil, fmt.Errorf("task payload missing gid")
	}

	t := &Task{
		GID:          p.GID,
		Name:         p.Name,
		Notes:        p.Notes,
		Completed:    p.Completed,
		Priority:     p.Priority,
		Dependencies: p.Dependencies,
		Dependents:   p.Dependents,
		CreatedAt:    p.CreatedAt,
	}
	if p.Assignee != nil {
		t.AssigneeGID = p.Assignee.GID
	}
	if len(p.Memberships) > 0 {
		t.SectionGID = p.Memberships[0].Section.GID
		t.SectionName = p.Memberships[0].Section.Name
	}
	if p.DueOn != "" {
		due, err := time.Parse(dueOnLayout, p.DueOn)
		if err != nil {
			return nil, fmt.Errorf("parsing due date %q for task %s: %w", p.DueOn, p.GID, err)
		}
		t.DueOn = &due
	}

	for _, f := range p.CustomFields {
		switch f.Name {
		case fieldAgent:
			t.Fields.Agent = f.DisplayValue
		case fieldSession:
			t.Fields.Session = f.DisplayValue
		case fieldMaxCost:
			if f.NumberValue != nil {
				t.Fields.MaxCost = *f.NumberValue
			}
		default:
			return nil, fmt.Errorf("unknown custom field %q on task %s", f.Name, p.GID)
		}
	}

	return t, nil
}

// TaskUpdate carries the mutable fields of an update_task call. Nil pointers
// are left untouched on the board.
type TaskUpdate struct {
	Completed *bool   `json:"completed,omitempty"`
	Assignee  *string `json:"assignee,omitempty"`
	Agent     *string `json:"agent,omitempty"`
	Session   *string `json:"session,omitempty"`
}
