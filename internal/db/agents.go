package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cloud-shuttle/roundup/pkg/types"
)

// RegisterAgent upserts an agent row at worker start-up. The upsert keyed by
// agent_id lets a restarted worker reclaim its row instead of leaving a
// ghost behind.
func (s *Store) RegisterAgent(agentID, agentType string) error {
	now := time.Now().Unix()
	_, err := s.DB.Exec(`
		INSERT INTO agents (agent_id, agent_type, status, current_work_item_id, last_heartbeat_at, started_at)
		VALUES (?, ?, 'idle', NULL, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			agent_type = excluded.agent_type,
			status = 'idle',
			current_work_item_id = NULL,
			last_heartbeat_at = excluded.last_heartbeat_at,
			started_at = excluded.started_at
	`, agentID, agentType, now, now)
	if err != nil {
		return fmt.Errorf("registering agent %s: %w", agentID, err)
	}
	return nil
}

// Heartbeat refreshes an agent's liveness timestamp
func (s *Store) Heartbeat(agentID string) error {
	now := time.Now().Unix()
	_, err := s.DB.Exec(`
		UPDATE agents SET last_heartbeat_at = ? WHERE agent_id = ?
	`, now, agentID)
	if err != nil {
		return fmt.Errorf("heartbeating agent %s: %w", agentID, err)
	}
	return nil
}

// SetAgentBusy marks an agent busy with the given work item
func (s *Store) SetAgentBusy(agentID string, itemID int64) error {
	now := time.Now().Unix()
	_, err := s.DB.Exec(`
		UPDATE agents
		SET status = 'busy', current_work_item_id = ?, last_heartbeat_at = ?
		WHERE agent_id = ?
	`, itemID, now, agentID)
	if err != nil {
		return fmt.Errorf("marking agent %s busy: %w", agentID, err)
	}
	return nil
}

// SetAgentIdle returns an agent to the idle state
func (s *Store) SetAgentIdle(agentID string) error {
	now := time.Now().Unix()
	_, err := s.DB.Exec(`
		UPDATE agents
		SET status = 'idle', current_work_item_id = NULL, last_heartbeat_at = ?
		WHERE agent_id = ?
	`, now, agentID)
	if err != nil {
		return fmt.Errorf("marking agent %s idle: %w", agentID, err)
	}
	return nil
}

func scanAgent(row interface{ Scan(...any) error }) (*types.AgentState, error) {
	var a types.AgentState
	var status string
	var itemID sql.NullInt64
	err := row.Scan(&a.AgentID, &a.AgentType, &status, &itemID, &a.LastHeartbeatAt, &a.StartedAt)
	if err != nil {
		return nil, err
	}
	a.Status = types.AgentStatus(status)
	if itemID.Valid {
		v := itemID.Int64
		a.CurrentItemID = &v
	}
	return &a, nil
}

// ListIdleAgents returns idle agents of the given type whose heartbeat is
// fresher than the liveness threshold. A stored status of idle is not
// trusted on its own.
func (s *Store) ListIdleAgents(agentType string, threshold time.Duration) ([]*types.AgentState, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	rows, err := s.DB.Query(`
		SELECT agent_id, agent_type, status, current_work_item_id, last_heartbeat_at, started_at
		FROM agents
		WHERE status = 'idle' AND agent_type = ? AND last_heartbeat_at >= ?
		ORDER BY agent_id ASC
	`, agentType, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying idle agents: %w", err)
	}
	defer rows.Close()

	var agents []*types.AgentState
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ListAgents returns all agent rows
func (s *Store) ListAgents() ([]*types.AgentState, error) {
	rows, err := s.DB.Query(`
		SELECT agent_id, agent_type, status, current_work_item_id, last_heartbeat_at, started_at
		FROM agents
		ORDER BY agent_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*types.AgentState
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// MarkStaleAgentsOffline flips agents with expired heartbeats to offline and
// returns their IDs so the caller can requeue whatever they held
func (s *Store) MarkStaleAgentsOffline(threshold time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	rows, err := s.DB.Query(`
		UPDATE agents
		SET status = 'offline', current_work_item_id = NULL
		WHERE status != 'offline' AND last_heartbeat_at < ?
		RETURNING agent_id
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("marking stale agents offline: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning agent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkAllAgentsOffline flips every agent row to offline. Called at
// coordinator start-up; rows from a prior process describe workers that no
// longer exist.
func (s *Store) MarkAllAgentsOffline() error {
	_, err := s.DB.Exec(`UPDATE agents SET status = 'offline', current_work_item_id = NULL`)
	if err != nil {
		return fmt.Errorf("marking all agents offline: %w", err)
	}
	return nil
}
