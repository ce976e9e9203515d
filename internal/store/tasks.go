package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mwhitlock/chorus/pkg/models"
)

// Request and task persistence

// SaveRequest inserts or replaces a request row.
func (db *DB) SaveRequest(r *models.Request) error {
	reqCtx, err := marshalJSON(r.Context)
	if err != nil {
		return err
	}
	constraints, err := marshalJSON(r.Constraints)
	if err != nil {
		return err
	}
	taskIDs, err := marshalJSONList(r.TaskIDs)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO requests (id, goal, state, context, constraints, task_ids, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			task_ids = excluded.task_ids,
			finished_at = excluded.finished_at
	`, r.ID, r.Goal, string(r.State), reqCtx, constraints, taskIDs,
		formatTime(r.CreatedAt), formatNullableTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("save request: %w", err)
	}
	return nil
}

// GetRequest retrieves a request by ID. Returns nil when no row exists.
func (db *DB) GetRequest(id string) (*models.Request, error) {
	row := db.QueryRow(requestSelect+" WHERE id = ?", id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

// ListRecentRequests returns the newest requests first, up to limit.
func (db *DB) ListRecentRequests(limit int) ([]models.Request, error) {
	rows, err := db.Query(requestSelect+" ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var reqs []models.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("list requests: %w", err)
		}
		reqs = append(reqs, *r)
	}
	return reqs, rows.Err()
}

const requestSelect = `
	SELECT id, goal, state, context, constraints, task_ids, created_at, finished_at
	FROM requests`

func scanRequest(s scanner) (*models.Request, error) {
	var r models.Request
	var reqCtx, constraints, taskIDs, createdAt string
	var finishedAt sql.NullString
	err := s.Scan(&r.ID, &r.Goal, &r.State, &reqCtx, &constraints, &taskIDs, &createdAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(reqCtx), &r.Context); err != nil {
		return nil, fmt.Errorf("decode request context: %w", err)
	}
	if err := json.Unmarshal([]byte(constraints), &r.Constraints); err != nil {
		return nil, fmt.Errorf("decode request constraints: %w", err)
	}
	if err := json.Unmarshal([]byte(taskIDs), &r.TaskIDs); err != nil {
		return nil, fmt.Errorf("decode request task_ids: %w", err)
	}
	r.CreatedAt, _ = parseTime(createdAt)
	r.FinishedAt = parseNullableTime(finishedAt)
	return &r, nil
}

// SaveTask inserts or replaces a task row with its current state.
func (db *DB) SaveTask(t *models.Task) error {
	input, err := marshalJSON(t.Input)
	if err != nil {
		return err
	}
	output, err := marshalJSON(t.Output)
	if err != nil {
		return err
	}
	deps, err := marshalJSONList(t.DependsOn)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO tasks (id, request_id, agent_id, capability, input, output, state, depends_on,
			retry_count, err_kind, err_detail, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			output = excluded.output,
			state = excluded.state,
			retry_count = excluded.retry_count,
			err_kind = excluded.err_kind,
			err_detail = excluded.err_detail,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, t.ID, t.RequestID, t.AgentID, t.Capability, input, output, string(t.State), deps,
		t.RetryCount, string(t.ErrKind), t.ErrDetail, formatTime(t.CreatedAt),
		formatNullableTime(t.StartedAt), formatNullableTime(t.FinishedAt))
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil when no row exists.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(taskSelect+" WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasksByRequest returns the tasks belonging to a request in
// creation order.
func (db *DB) ListTasksByRequest(requestID string) ([]models.Task, error) {
	rows, err := db.Query(taskSelect+" WHERE request_id = ? ORDER BY created_at, id", requestID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// PruneFinished deletes terminal requests and their tasks older than
// the cutoff. Returns the number of requests removed.
func (db *DB) PruneFinished(olderThan time.Duration) (int, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	_, err := db.Exec(`
		DELETE FROM tasks WHERE request_id IN (
			SELECT id FROM requests
			WHERE state IN ('completed', 'failed', 'unroutable') AND created_at < ?
		)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	res, err := db.Exec(`
		DELETE FROM requests
		WHERE state IN ('completed', 'failed', 'unroutable') AND created_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune requests: %w", err)
	}
	return int(n), nil
}

const taskSelect = `
	SELECT id, request_id, agent_id, capability, input, output, state, depends_on,
		retry_count, err_kind, err_detail, created_at, started_at, finished_at
	FROM tasks`

func scanTask(s scanner) (*models.Task, error) {
	var t models.Task
	var input, deps, createdAt string
	var output, agentID, errKind, errDetail, startedAt, finishedAt sql.NullString
	err := s.Scan(&t.ID, &t.RequestID, &agentID, &t.Capability, &input, &output, &t.State, &deps,
		&t.RetryCount, &errKind, &errDetail, &createdAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(input), &t.Input); err != nil {
		return nil, fmt.Errorf("decode task input: %w", err)
	}
	if output.Valid {
		if err := json.Unmarshal([]byte(output.String), &t.Output); err != nil {
			return nil, fmt.Errorf("decode task output: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(deps), &t.DependsOn); err != nil {
		return nil, fmt.Errorf("decode task depends_on: %w", err)
	}
	t.AgentID = agentID.String
	t.ErrKind = models.ErrorKind(errKind.String)
	t.ErrDetail = errDetail.String
	t.CreatedAt, _ = parseTime(createdAt)
	t.StartedAt = parseNullableTime(startedAt)
	t.FinishedAt = parseNullableTime(finishedAt)
	return &t, nil
}
