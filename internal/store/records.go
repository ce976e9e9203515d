package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mwhitlock/chorus/pkg/models"
)

// Record is a business record produced by an agent action, such as a
// lead, an order, or an invoice. Kind names the record type; Data holds
// the action-specific fields.
type Record struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreateRecord stores a new business record and returns its ID.
func (db *DB) CreateRecord(kind string, data map[string]any) (string, error) {
	if kind == "" {
		return "", fmt.Errorf("create record: empty kind")
	}
	encoded, err := marshalJSON(data)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	_, err = db.Exec(`
		INSERT INTO records (id, kind, data, created_at)
		VALUES (?, ?, ?, ?)
	`, id, kind, encoded, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	return id, nil
}

// SearchRecords returns records of the given kind whose data contains
// the query substring, case-insensitively. An empty query matches all
// records of the kind. Results are newest first.
func (db *DB) SearchRecords(kind, query string) ([]Record, error) {
	rows, err := db.Query(`
		SELECT id, kind, data, created_at
		FROM records WHERE kind = ? ORDER BY created_at DESC
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	needle := strings.ToLower(query)
	var records []Record
	for rows.Next() {
		var r Record
		var data, createdAt string
		if err := rows.Scan(&r.ID, &r.Kind, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("search records: %w", err)
		}
		if needle != "" && !strings.Contains(strings.ToLower(data), needle) {
			continue
		}
		if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
			return nil, fmt.Errorf("decode record data: %w", err)
		}
		r.CreatedAt, _ = parseTime(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountRecords returns the number of records of the given kind.
func (db *DB) CountRecords(kind string) (int, error) {
	var n int
	row := db.QueryRow("SELECT COUNT(*) FROM records WHERE kind = ?", kind)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// SaveConversation stores a front-end exchange.
func (db *DB) SaveConversation(c *models.Conversation) error {
	_, err := db.Exec(`
		INSERT INTO conversations (id, user, request_id, message, reply, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.User, c.RequestID, c.Message, c.Reply, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// ListConversations returns the newest exchanges for a user, up to limit.
func (db *DB) ListConversations(user string, limit int) ([]models.Conversation, error) {
	rows, err := db.Query(`
		SELECT id, user, request_id, message, reply, created_at
		FROM conversations WHERE user = ? ORDER BY created_at DESC LIMIT ?
	`, user, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var createdAt string
		if err := rows.Scan(&c.ID, &c.User, &c.RequestID, &c.Message, &c.Reply, &createdAt); err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		c.CreatedAt, _ = parseTime(createdAt)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
