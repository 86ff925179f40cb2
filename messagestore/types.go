// Package messagestore persists the chat history of analysis sessions.
package messagestore

import (
	"context"
	"time"

	"github.com/contenox/analyst/agenttypes"
)

// SessionInfo represents a chat session index row.
type SessionInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"` // empty if unnamed
	CreatedAt time.Time `json:"createdAt"`
}

// Store defines the data access interface for sessions and messages.
type Store interface {
	CreateSession(ctx context.Context, id string, name string) error
	GetSession(ctx context.Context, id string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]SessionInfo, error)

	AppendMessages(ctx context.Context, sessionID string, messages ...agenttypes.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]agenttypes.Message, error)
	LastMessage(ctx context.Context, sessionID string) (*agenttypes.Message, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)
	DeleteMessages(ctx context.Context, sessionID string) error
}

var Schema = []string{`
CREATE TABLE IF NOT EXISTS chat_sessions (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS chat_messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	added_at   INTEGER NOT NULL,
	UNIQUE (session_id, seq)
)`,
}
