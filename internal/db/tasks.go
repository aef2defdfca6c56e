package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cloud-shuttle/roundup/pkg/types"
)

// UpsertProject creates or refreshes a project row keyed by external GID
// and returns the stored row
func (s *Store) UpsertProject(p *types.Project) (*types.Project, error) {
	now := time.Now().Unix()
	_, err := s.DB.Exec(`
		INSERT INTO projects (external_gid, name, workspace_ref, portfolio_ref, last_synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_gid) DO UPDATE SET
			name = excluded.name,
			workspace_ref = excluded.workspace_ref,
			portfolio_ref = excluded.portfolio_ref,
			last_synced_at = excluded.last_synced_at
	`, p.ExternalGID, p.Name, p.WorkspaceRef, p.PortfolioRef, now)
	if err != nil {
		return nil, fmt.Errorf("upserting project: %w", err)
	}

	return s.GetProjectByGID(p.ExternalGID)
}

// GetProjectByGID retrieves a project by its external GID
func (s *Store) GetProjectByGID(gid string) (*types.Project, error) {
	var p types.Project
	err := s.DB.QueryRow(`
		SELECT id, external_gid, name, COALESCE(workspace_ref, ''),
		       COALESCE(portfolio_ref, ''), last_synced_at
		FROM projects
		WHERE external_gid = ?
	`, gid).Scan(&p.ID, &p.ExternalGID, &p.Name, &p.WorkspaceRef, &p.PortfolioRef, &p.LastSyncedAt)
	if err != nil {
		return nil, fmt.Errorf("getting project %s: %w", gid, err)
	}
	return &p, nil
}

// GetProjectByID retrieves a project by its local row id
func (s *Store) GetProjectByID(id int64) (*types.Project, error) {
	var p types.Project
	err := s.DB.QueryRow(`
		SELECT id, external_gid, name, COALESCE(workspace_ref, ''),
		       COALESCE(portfolio_ref, ''), last_synced_at
		FROM projects
		WHERE id = ?
	`, id).Scan(&p.ID, &p.ExternalGID, &p.Name, &p.WorkspaceRef, &p.PortfolioRef, &p.LastSyncedAt)
	if err != nil {
		return nil, fmt.Errorf("getting project %d: %w", id, err)
	}
	return &p, nil
}

// UpsertTask creates a task row on first sight or refreshes its
// board-derived fields. Routing fields are preserved on update; they belong
// to agent routing, not to the reconciler.
func (s *Store) UpsertTask(t *types.Task) (*types.Task, error) {
	now := time.Now().Unix()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}

	_, err := s.DB.Exec(`
		INSERT INTO tasks (external_gid, project_id, name, notes, completed, assignee_ref,
		                   max_cost, due_on, user_priority, blocked, blocking, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, external_gid) DO UPDATE SET
			name = excluded.name,
			notes = excluded.notes,
			completed = excluded.completed,
			assignee_ref = excluded.assignee_ref,
			due_on = excluded.due_on,
			user_priority = excluded.user_priority,
			blocked = excluded.blocked,
			blocking = excluded.blocking,
			updated_at = excluded.updated_at
	`, t.ExternalGID, t.ProjectID, t.Name, t.Notes, t.Completed, t.AssigneeRef,
		t.MaxCost, nullableInt64(t.DueOn), string(t.UserPriority), t.Blocked, t.Blocking,
		t.CreatedAt, now)
	if err != nil {
		return nil, fmt.Errorf("upserting task: %w", err)
	}

	return s.GetTaskByGID(t.ProjectID, t.ExternalGID)
}

const taskColumns = `id, external_gid, project_id, name, COALESCE(notes, ''), completed,
	       COALESCE(assignee_ref, ''), COALESCE(current_agent, ''),
	       COALESCE(current_section, ''), COALESCE(session_id, ''),
	       accumulated_cost, max_cost, due_on, user_priority, blocked, blocking,
	       created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*types.Task, error) {
	var t types.Task
	var dueOn sql.NullInt64
	var priority string
	err := row.Scan(&t.ID, &t.ExternalGID, &t.ProjectID, &t.Name, &t.Notes, &t.Completed,
		&t.AssigneeRef, &t.CurrentAgent, &t.CurrentSection, &t.SessionID,
		&t.AccumulatedCost, &t.MaxCost, &dueOn, &priority, &t.Blocked, &t.Blocking,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if dueOn.Valid {
		due := dueOn.Int64
		t.DueOn = &due
	}
	t.UserPriority = types.UserPriority(priority)
	return &t, nil
}

// GetTaskByGID retrieves a task by project and external GID
func (s *Store) GetTaskByGID(projectID int64, gid string) (*types.Task, error) {
	row := s.DB.QueryRow(`
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id = ? AND external_gid = ?
	`, projectID, gid)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", gid, err)
	}
	return t, nil
}

// FindTaskByGID retrieves a task by external GID across all projects
func (s *Store) FindTaskByGID(gid string) (*types.Task, error) {
	row := s.DB.QueryRow(`
		SELECT `+taskColumns+`
		FROM tasks
		WHERE external_gid = ?
	`, gid)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("finding task %s: %w", gid, err)
	}
	return t, nil
}

// ListIncompleteTasks returns all incomplete tasks for a project
func (s *Store) ListIncompleteTasks(projectID int64) ([]*types.Task, error) {
	rows, err := s.DB.Query(`
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id = ? AND completed = 0
		ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskRouting applies an execution result to a task's routing fields.
// The cost delta is accumulated, never overwritten.
func (s *Store) UpdateTaskRouting(taskID int64, agent, section, sessionID string, costDelta float64) error {
	now := time.Now().Unix()
	_, err := s.DB.Exec(`
		UPDATE tasks
		SET current_agent = ?, current_section = ?, session_id = ?,
		    accumulated_cost = accumulated_cost + ?, updated_at = ?
		WHERE id = ?
	`, agent, section, sessionID, costDelta, now, taskID)
	if err != nil {
		return fmt.Errorf("updating task routing: %w", err)
	}
	return nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
