// Package store provides SQLite-based persistence for Chorus.
package store

import (
	"io"
	"time"

	"github.com/mwhitlock/chorus/pkg/models"
)

// AgentStore handles agent-related persistence operations.
type AgentStore interface {
	SaveAgent(a *models.Agent) error
	GetAgent(id string) (*models.Agent, error)
	ListAgents() ([]models.Agent, error)
	UpdateAgentState(id string, state models.AgentState, lastError string) error
	DeleteAgent(id string) error
}

// RequestStore handles request-related persistence operations.
type RequestStore interface {
	SaveRequest(r *models.Request) error
	GetRequest(id string) (*models.Request, error)
	ListRecentRequests(limit int) ([]models.Request, error)
}

// TaskStore handles task-related persistence operations.
type TaskStore interface {
	SaveTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	ListTasksByRequest(requestID string) ([]models.Task, error)
	PruneFinished(olderThan time.Duration) (int, error)
}

// RecordStore handles business record persistence, the durable output
// of agent actions.
type RecordStore interface {
	CreateRecord(kind string, data map[string]any) (string, error)
	SearchRecords(kind, query string) ([]Record, error)
	CountRecords(kind string) (int, error)
}

// ConversationStore handles conversation history persistence.
type ConversationStore interface {
	SaveConversation(c *models.Conversation) error
	ListConversations(user string, limit int) ([]models.Conversation, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the interface for Chorus persistence.
// This interface lets the orchestrator and agents work with any backend
// without depending on the concrete SQLite implementation.
// It composes focused sub-interfaces for better modularity.
type Store interface {
	io.Closer
	Migrator
	AgentStore
	RequestStore
	TaskStore
	RecordStore
	ConversationStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store             = (*DB)(nil)
	_ Migrator          = (*DB)(nil)
	_ AgentStore        = (*DB)(nil)
	_ RequestStore      = (*DB)(nil)
	_ TaskStore         = (*DB)(nil)
	_ RecordStore       = (*DB)(nil)
	_ ConversationStore = (*DB)(nil)
)
