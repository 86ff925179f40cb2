package agentsession

import (
	"context"
	"errors"
	"fmt"

	"github.com/contenox/analyst/ledger"
	"github.com/contenox/analyst/libdbexec"
	"github.com/contenox/analyst/messagestore"
	"github.com/contenox/analyst/planstore"
)

// Schema lists every table a persisted session needs.
func Schema() []string {
	var out []string
	out = append(out, planstore.Schema...)
	out = append(out, ledger.Schema...)
	out = append(out, messagestore.Schema...)
	return out
}

// Persist writes the plan, ledger and messages recorded since the last call
// in one transaction. Nothing is marked persisted unless the commit succeeds.
func (s *Session) Persist(ctx context.Context, db libdbexec.DBManager) error {
	exec, commit, release, err := db.WithTransaction(ctx)
	if err != nil {
		return err
	}
	defer release()

	msgs := messagestore.New(exec)
	if err := msgs.CreateSession(ctx, s.ID, ""); err != nil {
		return err
	}
	if err := msgs.AppendMessages(ctx, s.ID, s.history[s.persistedMsgs:]...); err != nil {
		return err
	}

	plans := planstore.New(exec)
	if current := s.Plan.Get(); current != nil {
		if err := plans.SaveLatest(ctx, s.ID, current); err != nil {
			return err
		}
	}
	if err := plans.AppendHistory(ctx, s.ID, s.Plan.Replaced()...); err != nil {
		return err
	}

	// The ledger marks itself persisted on success, so rewind if the commit fails.
	cp := s.Ledger.Checkpoint()
	if err := s.Ledger.Persist(ctx, ledger.NewStore(exec)); err != nil {
		s.Ledger.Rewind(cp)
		return err
	}
	if err := commit(ctx); err != nil {
		s.Ledger.Rewind(cp)
		return fmt.Errorf("commit session %s: %w", s.ID, err)
	}
	s.Plan.MarkPersisted()
	s.persistedMsgs = len(s.history)
	return nil
}

// Load rebuilds a session from the database. A session that was never
// persisted loads empty.
func Load(ctx context.Context, db libdbexec.DBManager, id string, opts ...Option) (*Session, error) {
	s := New(id, opts...)
	exec := db.WithoutTransaction()

	plan, err := planstore.New(exec).GetLatest(ctx, id)
	switch {
	case errors.Is(err, planstore.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		s.Plan.Load(plan)
		s.Tags.Observe(plan.StateTag)
	}

	if err := ledger.Restore(ctx, ledger.NewStore(exec), s.Ledger); err != nil {
		return nil, err
	}
	for _, tr := range s.Ledger.Traces() {
		s.Tags.Observe(tr.Metadata["stateTag"])
	}

	history, err := messagestore.New(exec).ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	s.history = history
	s.persistedMsgs = len(history)
	return s, nil
}
