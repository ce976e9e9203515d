package models

import "time"

// Conversation records one front-end exchange: the inbound message, the
// request it produced, and the rendered reply. Retained for history/audit.
type Conversation struct {
	// ID is the unique identifier for this conversation.
	ID string `json:"id"`
	// User identifies the caller.
	User string `json:"user"`
	// RequestID is the orchestrator request the message produced.
	RequestID string `json:"request_id,omitempty"`
	// Message is the inbound free-text message.
	Message string `json:"message"`
	// Reply is the rendered response shown to the user.
	Reply string `json:"reply"`
	// CreatedAt is when the message arrived.
	CreatedAt time.Time `json:"created_at"`
}
