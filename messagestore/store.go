package messagestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/libdbexec"
)

var ErrNotFound = errors.New("not found")

type store struct {
	Exec libdbexec.Exec
}

// New creates a new message store instance.
func New(exec libdbexec.Exec) Store {
	return &store{Exec: exec}
}

// CreateSession registers a session. Creating an existing session is a no-op.
func (s *store) CreateSession(ctx context.Context, id string, name string) error {
	_, err := s.Exec.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, name, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		id,
		name,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *store) GetSession(ctx context.Context, id string) (*SessionInfo, error) {
	var info SessionInfo
	var created int64
	err := s.Exec.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM chat_sessions WHERE id = $1`,
		id,
	).Scan(&info.ID, &info.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	info.CreatedAt = time.UnixMilli(created).UTC()
	return &info, nil
}

func (s *store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.Exec.QueryContext(ctx, `
		SELECT id, name, created_at FROM chat_sessions
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var created int64
		if err := rows.Scan(&info.ID, &info.Name, &created); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		info.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// AppendMessages appends multiple messages in a single batch insert.
func (s *store) AppendMessages(ctx context.Context, sessionID string, messages ...agenttypes.Message) error {
	if len(messages) == 0 {
		return nil
	}
	var next int64
	if err := s.Exec.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM chat_messages WHERE session_id = $1`,
		sessionID,
	).Scan(&next); err != nil {
		return fmt.Errorf("failed to read message sequence: %w", err)
	}

	now := time.Now().UTC()
	valueStrings := make([]string, 0, len(messages))
	valueArgs := make([]any, 0, len(messages)*6)
	for i, msg := range messages {
		if msg.ID == "" {
			msg.ID = agenttypes.NewID("msg")
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			i*6+1, i*6+2, i*6+3, i*6+4, i*6+5, i*6+6))
		valueArgs = append(valueArgs, msg.ID, sessionID, next+int64(i), string(msg.Role), string(payload), msg.Timestamp.UnixMilli())
	}

	stmt := fmt.Sprintf(`
		INSERT INTO chat_messages (id, session_id, seq, role, payload, added_at)
		VALUES %s`,
		strings.Join(valueStrings, ","),
	)
	if _, err := s.Exec.ExecContext(ctx, stmt, valueArgs...); err != nil {
		return fmt.Errorf("failed to append messages: %w", err)
	}
	return nil
}

// ListMessages lists all messages for a session in the order they were appended.
func (s *store) ListMessages(ctx context.Context, sessionID string) ([]agenttypes.Message, error) {
	rows, err := s.Exec.QueryContext(ctx, `
		SELECT payload FROM chat_messages
		WHERE session_id = $1
		ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []agenttypes.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan messages: %w", err)
		}
		var m agenttypes.Message
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return msgs, nil
}

// LastMessage gets the most recent message for a session.
func (s *store) LastMessage(ctx context.Context, sessionID string) (*agenttypes.Message, error) {
	var payload string
	err := s.Exec.QueryRowContext(ctx, `
		SELECT payload FROM chat_messages
		WHERE session_id = $1
		ORDER BY seq DESC
		LIMIT 1`,
		sessionID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last message: %w", err)
	}
	var m agenttypes.Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &m, nil
}

func (s *store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.Exec.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_messages WHERE session_id = $1`,
		sessionID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// DeleteMessages deletes all messages for a session.
func (s *store) DeleteMessages(ctx context.Context, sessionID string) error {
	result, err := s.Exec.ExecContext(ctx, `
		DELETE FROM chat_messages
		WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return checkRowsAffected(result)
}

func checkRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
