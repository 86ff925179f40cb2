package planstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/libdbexec"
)

type store struct {
	Exec libdbexec.Exec
}

// New creates a new plan store instance.
func New(exec libdbexec.Exec) Store {
	return &store{Exec: exec}
}

func (s *store) SaveLatest(ctx context.Context, sessionID string, plan *agenttypes.PlanState) error {
	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	_, err = s.Exec.ExecContext(ctx, `
		INSERT INTO plan_states (session_id, plan_id, state_tag, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			plan_id = excluded.plan_id,
			state_tag = excluded.state_tag,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		sessionID,
		plan.PlanID,
		plan.StateTag,
		string(payload),
		stamp(plan.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

func (s *store) GetLatest(ctx context.Context, sessionID string) (*agenttypes.PlanState, error) {
	var payload string
	err := s.Exec.QueryRowContext(ctx, `
		SELECT payload FROM plan_states WHERE session_id = $1`,
		sessionID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return decode(payload)
}

func (s *store) AppendHistory(ctx context.Context, sessionID string, plans ...*agenttypes.PlanState) error {
	if len(plans) == 0 {
		return nil
	}
	var next int64
	if err := s.Exec.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM plan_state_history WHERE session_id = $1`,
		sessionID,
	).Scan(&next); err != nil {
		return fmt.Errorf("failed to read plan history sequence: %w", err)
	}
	for i, p := range plans {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		_, err = s.Exec.ExecContext(ctx, `
			INSERT INTO plan_state_history (session_id, seq, plan_id, state_tag, payload, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			sessionID,
			next+int64(i),
			p.PlanID,
			p.StateTag,
			string(payload),
			stamp(p.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to append plan history: %w", err)
		}
	}
	return nil
}

func (s *store) ListHistory(ctx context.Context, sessionID string) ([]*agenttypes.PlanState, error) {
	rows, err := s.Exec.QueryContext(ctx, `
		SELECT payload FROM plan_state_history
		WHERE session_id = $1
		ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan history: %w", err)
	}
	defer rows.Close()

	var plans []*agenttypes.PlanState
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan plan history: %w", err)
		}
		p, err := decode(payload)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return plans, nil
}

func (s *store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.Exec.ExecContext(ctx, `DELETE FROM plan_state_history WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete plan history: %w", err)
	}
	result, err := s.Exec.ExecContext(ctx, `DELETE FROM plan_states WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	return checkRowsAffected(result)
}

func decode(payload string) (*agenttypes.PlanState, error) {
	var p agenttypes.PlanState
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	return &p, nil
}

func stamp(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
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
