package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/libdbexec"
)

// Store persists ledger entries per session.
type Store interface {
	UpsertTraces(ctx context.Context, sessionID string, traces ...agenttypes.ActionTrace) error
	AppendObservations(ctx context.Context, sessionID string, obs ...agenttypes.Observation) error
	AppendEvents(ctx context.Context, sessionID string, events ...agenttypes.ValidationEvent) error
	ListTraces(ctx context.Context, sessionID string) ([]agenttypes.ActionTrace, error)
	ListObservations(ctx context.Context, sessionID string) ([]agenttypes.Observation, error)
	ListEvents(ctx context.Context, sessionID string) ([]agenttypes.ValidationEvent, error)
}

var Schema = []string{`
CREATE TABLE IF NOT EXISTS action_traces (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	action_type TEXT NOT NULL,
	status      TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  INTEGER NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS action_traces_session ON action_traces (session_id, created_at)`, `
CREATE TABLE IF NOT EXISTS observations (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	action_id     TEXT NOT NULL,
	response_type TEXT NOT NULL,
	status        TEXT NOT NULL,
	payload       TEXT NOT NULL,
	created_at    INTEGER NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS validation_events (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	action_type TEXT NOT NULL,
	reason      TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  INTEGER NOT NULL
)`,
}

type store struct {
	Exec libdbexec.Exec
}

func NewStore(exec libdbexec.Exec) Store {
	return &store{Exec: exec}
}

func (s *store) UpsertTraces(ctx context.Context, sessionID string, traces ...agenttypes.ActionTrace) error {
	for _, tr := range traces {
		payload, err := json.Marshal(tr)
		if err != nil {
			return fmt.Errorf("failed to encode trace: %w", err)
		}
		// created_at keeps the first timestamp so ordering follows Begin order.
		_, err = s.Exec.ExecContext(ctx, `
			INSERT INTO action_traces (id, session_id, action_type, status, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				status = excluded.status,
				payload = excluded.payload`,
			tr.ID, sessionID, string(tr.ActionType), string(tr.Status), string(payload), tr.Timestamp.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert trace: %w", err)
		}
	}
	return nil
}

func (s *store) AppendObservations(ctx context.Context, sessionID string, obs ...agenttypes.Observation) error {
	for _, o := range obs {
		payload, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to encode observation: %w", err)
		}
		_, err = s.Exec.ExecContext(ctx, `
			INSERT INTO observations (id, session_id, action_id, response_type, status, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, sessionID, o.ActionID, string(o.ResponseType), string(o.Status), string(payload), o.Timestamp.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to append observation: %w", err)
		}
	}
	return nil
}

func (s *store) AppendEvents(ctx context.Context, sessionID string, events ...agenttypes.ValidationEvent) error {
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode validation event: %w", err)
		}
		_, err = s.Exec.ExecContext(ctx, `
			INSERT INTO validation_events (id, session_id, action_type, reason, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, sessionID, string(e.ActionType), e.Reason, string(payload), e.Timestamp.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to append validation event: %w", err)
		}
	}
	return nil
}

func (s *store) ListTraces(ctx context.Context, sessionID string) ([]agenttypes.ActionTrace, error) {
	return list[agenttypes.ActionTrace](ctx, s.Exec, "action_traces", sessionID)
}

func (s *store) ListObservations(ctx context.Context, sessionID string) ([]agenttypes.Observation, error) {
	return list[agenttypes.Observation](ctx, s.Exec, "observations", sessionID)
}

func (s *store) ListEvents(ctx context.Context, sessionID string) ([]agenttypes.ValidationEvent, error) {
	return list[agenttypes.ValidationEvent](ctx, s.Exec, "validation_events", sessionID)
}

func list[T any](ctx context.Context, exec libdbexec.Exec, table, sessionID string) ([]T, error) {
	rows, err := exec.QueryContext(ctx, fmt.Sprintf(`
		SELECT payload FROM %s
		WHERE session_id = $1
		ORDER BY created_at ASC, rowid ASC`, table),
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s row: %w", table, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// Persist writes everything changed since the last call through s and
// marks it persisted. Run it inside the caller's transaction.
func (l *Ledger) Persist(ctx context.Context, s Store) error {
	p := l.Pending()
	if err := s.UpsertTraces(ctx, l.sessionID, p.Traces...); err != nil {
		return err
	}
	if err := s.AppendObservations(ctx, l.sessionID, p.Observations...); err != nil {
		return err
	}
	if err := s.AppendEvents(ctx, l.sessionID, p.Events...); err != nil {
		return err
	}
	l.MarkPersisted()
	return nil
}

// Restore loads a session's persisted entries into a fresh ledger.
func Restore(ctx context.Context, s Store, l *Ledger) error {
	var e Entries
	var err error
	if e.Traces, err = s.ListTraces(ctx, l.sessionID); err != nil {
		return err
	}
	if e.Observations, err = s.ListObservations(ctx, l.sessionID); err != nil {
		return err
	}
	if e.Events, err = s.ListEvents(ctx, l.sessionID); err != nil {
		return err
	}
	l.Load(e)
	return nil
}
