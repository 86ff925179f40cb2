// Package planstore holds the goal tracker: a single in-memory slot per
// session, and the SQLite store that persists the latest snapshot and every
// replacement.
package planstore

import (
	"context"
	"errors"

	"github.com/contenox/analyst/agenttypes"
)

var ErrNotFound = errors.New("plan not found")

// Store persists plan snapshots.
type Store interface {
	SaveLatest(ctx context.Context, sessionID string, plan *agenttypes.PlanState) error
	GetLatest(ctx context.Context, sessionID string) (*agenttypes.PlanState, error)
	AppendHistory(ctx context.Context, sessionID string, plans ...*agenttypes.PlanState) error
	ListHistory(ctx context.Context, sessionID string) ([]*agenttypes.PlanState, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Schema creates the tables used by the SQLite store, one statement per entry.
var Schema = []string{`
CREATE TABLE IF NOT EXISTS plan_states (
	session_id TEXT PRIMARY KEY,
	plan_id    TEXT NOT NULL,
	state_tag  TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS plan_state_history (
	session_id  TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	plan_id     TEXT NOT NULL,
	state_tag   TEXT NOT NULL,
	payload     TEXT NOT NULL,
	recorded_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
)`,
}
