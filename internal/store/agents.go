package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mwhitlock/chorus/pkg/models"
)

// Agent persistence

// SaveAgent inserts or replaces an agent row. The registry is the
// source of truth at runtime; rows here let agents survive restarts.
func (db *DB) SaveAgent(a *models.Agent) error {
	caps, err := marshalJSONList(a.Capabilities)
	if err != nil {
		return err
	}
	cfg, err := marshalJSON(a.Config)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO agents (id, name, type, capabilities, state, config, seq, last_error, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			capabilities = excluded.capabilities,
			state = excluded.state,
			config = excluded.config,
			seq = excluded.seq,
			last_error = excluded.last_error,
			last_activity = excluded.last_activity
	`, a.ID, a.Name, string(a.Type), caps, string(a.State), cfg, a.Seq, a.LastError, formatNullableTime(a.LastActivity))
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID. Returns nil when no row exists.
func (db *DB) GetAgent(id string) (*models.Agent, error) {
	row := db.QueryRow(`
		SELECT id, name, type, capabilities, state, config, seq, last_error, last_activity
		FROM agents WHERE id = ?
	`, id)

	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns all persisted agents in registration order.
func (db *DB) ListAgents() ([]models.Agent, error) {
	rows, err := db.Query(`
		SELECT id, name, type, capabilities, state, config, seq, last_error, last_activity
		FROM agents ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// UpdateAgentState updates just the state and last_error columns.
func (db *DB) UpdateAgentState(id string, state models.AgentState, lastError string) error {
	res, err := db.Exec(`
		UPDATE agents SET state = ?, last_error = ? WHERE id = ?
	`, string(state), lastError, id)
	if err != nil {
		return fmt.Errorf("update agent state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agent state: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update agent state: agent %q not found", id)
	}
	return nil
}

// DeleteAgent removes an agent row.
func (db *DB) DeleteAgent(id string) error {
	if _, err := db.Exec("DELETE FROM agents WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(s scanner) (*models.Agent, error) {
	var a models.Agent
	var caps, cfg string
	var lastErr, lastActivity sql.NullString
	err := s.Scan(&a.ID, &a.Name, &a.Type, &caps, &a.State, &cfg, &a.Seq, &lastErr, &lastActivity)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &a.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg), &a.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	a.LastError = lastErr.String
	a.LastActivity = parseNullableTime(lastActivity)
	return &a, nil
}
