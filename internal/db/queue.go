package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cloud-shuttle/roundup/pkg/types"
)

// Enqueue inserts a pending work item unless an unresolved item for the same
// (resource_id, agent_type) already exists. Returns the item and whether a
// new row was created; repeated reconciler cycles against an unchanged board
// therefore produce exactly one item.
func (s *Store) Enqueue(agentType types.AgentType, resourceID string, resourceType types.ResourceType, priority int, payload string) (*types.WorkQueueItem, bool, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID int64
	err = tx.QueryRow(`
		SELECT id FROM work_queue
		WHERE resource_id = ? AND agent_type = ? AND status IN ('pending', 'assigned')
		LIMIT 1
	`, resourceID, string(agentType)).Scan(&existingID)
	if err == nil {
		item, gerr := s.GetWorkItem(existingID)
		return item, false, gerr
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("checking for duplicate item: %w", err)
	}

	now := time.Now().Unix()
	res, err := tx.Exec(`
		INSERT INTO work_queue (agent_type, resource_id, resource_type, priority, status, payload, created_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?)
	`, string(agentType), resourceID, string(resourceType), priority, payload, now)
	if err != nil {
		return nil, false, fmt.Errorf("enqueueing work item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("getting inserted id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing enqueue: %w", err)
	}

	item, err := s.GetWorkItem(id)
	return item, true, err
}

const itemColumns = `id, agent_type, resource_id, resource_type, priority, status,
	       COALESCE(assigned_to_agent_id, ''), assigned_at, completed_at,
	       COALESCE(payload, ''), created_at`

func scanItem(row interface{ Scan(...any) error }) (*types.WorkQueueItem, error) {
	var item types.WorkQueueItem
	var agentType, resourceType, status string
	var assignedAt, completedAt sql.NullInt64
	err := row.Scan(&item.ID, &agentType, &item.ResourceID, &resourceType, &item.Priority,
		&status, &item.AssignedTo, &assignedAt, &completedAt, &item.Payload, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	item.AgentType = types.AgentType(agentType)
	item.ResourceType = types.ResourceType(resourceType)
	item.Status = types.WorkItemStatus(status)
	if assignedAt.Valid {
		v := assignedAt.Int64
		item.AssignedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Int64
		item.CompletedAt = &v
	}
	return &item, nil
}

// GetWorkItem retrieves a work item by ID
func (s *Store) GetWorkItem(id int64) (*types.WorkQueueItem, error) {
	row := s.DB.QueryRow(`SELECT `+itemColumns+` FROM work_queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if err != nil {
		return nil, fmt.Errorf("getting work item %d: %w", id, err)
	}
	return item, nil
}

// AssignNextItem atomically claims the highest-priority pending work item for
// the given agent.
//
// Uses UPDATE with a subquery and RETURNING so the read and the
// pending->assigned transition happen in a single statement; two racing
// assignment attempts against the same item yield exactly one assignment and
// one no-op (nil, nil).
func (s *Store) AssignNextItem(agentID string) (*types.WorkQueueItem, error) {
	now := time.Now().Unix()
	row := s.DB.QueryRow(`
		UPDATE work_queue
		SET status = 'assigned',
		    assigned_to_agent_id = ?,
		    assigned_at = ?
		WHERE id = (
			SELECT id FROM work_queue
			WHERE status = 'pending'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		)
		RETURNING `+itemColumns, agentID, now)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		// Nothing pending, or a racing tick claimed the last item between
		// the subquery read and the update. Either way there is no work.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("assigning work item: %w", err)
	}
	return item, nil
}

// FinishWorkItem writes a terminal status for an assigned item
func (s *Store) FinishWorkItem(id int64, status types.WorkItemStatus) error {
	if status != types.WorkItemCompleted && status != types.WorkItemFailed {
		return fmt.Errorf("non-terminal status %q for work item %d", status, id)
	}
	now := time.Now().Unix()
	_, err := s.DB.Exec(`
		UPDATE work_queue
		SET status = ?, completed_at = ?
		WHERE id = ? AND status = 'assigned'
	`, string(status), now, id)
	if err != nil {
		return fmt.Errorf("finishing work item: %w", err)
	}
	return nil
}

// RequeueItemsFor moves an agent's assigned items back to pending. Used by
// the scheduler's liveness pass to recover work held by a dead worker.
func (s *Store) RequeueItemsFor(agentID string) ([]int64, error) {
	rows, err := s.DB.Query(`
		UPDATE work_queue
		SET status = 'pending', assigned_to_agent_id = NULL, assigned_at = NULL
		WHERE status = 'assigned' AND assigned_to_agent_id = ?
		RETURNING id
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("requeueing items for %s: %w", agentID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning requeued id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RequeueAbandonedItems returns assigned items held by offline or stale
// agents to pending. It scans every liveness pass rather than trusting the
// caller to requeue at the moment an agent is flipped offline, so a requeue
// that failed once is retried on the next pass instead of orphaning the item.
func (s *Store) RequeueAbandonedItems(threshold time.Duration) ([]int64, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	rows, err := s.DB.Query(`
		UPDATE work_queue
		SET status = 'pending', assigned_to_agent_id = NULL, assigned_at = NULL
		WHERE status = 'assigned' AND assigned_to_agent_id IN (
			SELECT agent_id FROM agents
			WHERE status = 'offline' OR last_heartbeat_at < ?
		)
		RETURNING id
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("requeueing abandoned items: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning requeued id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkInterrupted marks every assigned item as interrupted. Called once at
// coordinator start-up: any item still assigned belongs to a prior process
// and must not be silently resumed.
func (s *Store) MarkInterrupted() (int, error) {
	now := time.Now().Unix()
	res, err := s.DB.Exec(`
		UPDATE work_queue
		SET status = 'interrupted', completed_at = ?
		WHERE status = 'assigned'
	`, now)
	if err != nil {
		return 0, fmt.Errorf("marking interrupted items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting affected rows: %w", err)
	}
	return int(n), nil
}

// ListWorkItems returns work items filtered by status; an empty status
// returns everything
func (s *Store) ListWorkItems(status types.WorkItemStatus) ([]*types.WorkQueueItem, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.DB.Query(`
			SELECT `+itemColumns+` FROM work_queue
			WHERE status = ?
			ORDER BY priority DESC, created_at ASC
		`, string(status))
	} else {
		rows, err = s.DB.Query(`
			SELECT ` + itemColumns + ` FROM work_queue
			ORDER BY priority DESC, created_at ASC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("querying work items: %w", err)
	}
	defer rows.Close()

	var items []*types.WorkQueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning work item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountPending returns the number of pending work items
func (s *Store) CountPending() (int, error) {
	var n int
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM work_queue WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending items: %w", err)
	}
	return n, nil
}
