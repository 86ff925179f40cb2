package agentsession_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/contenox/analyst/agentsession"
	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/dataset"
	"github.com/contenox/analyst/libdbexec"
	"github.com/stretchr/testify/require"
)

func plan(tag string) *agenttypes.PlanState {
	step := agenttypes.PlanStep{ID: "make-chart", Label: "Make chart", Status: agenttypes.StepReady}
	return &agenttypes.PlanState{
		PlanID: "plan-1", Goal: "g", Progress: "p",
		NextSteps: []agenttypes.PlanStep{step}, Steps: []agenttypes.PlanStep{step},
		CurrentStepID: step.ID, ObservationIDs: []string{}, StateTag: tag,
		UpdatedAt: time.UnixMilli(1700000000000),
	}
}

func newSession() *agentsession.Session {
	data := dataset.New("sales", []string{"month"}, []dataset.Row{{"month": "jan"}})
	return agentsession.New("s1",
		agentsession.WithDataset(data),
		agentsession.WithCards(agenttypes.Card{ID: "card-1", Title: "Revenue"}),
	)
}

func TestUnit_Session_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	s := newSession()
	s.BeginRequest("chart revenue", nil)
	snap := s.Snapshot()
	fp := s.Data.Fingerprint()

	s.Plan.Replace(plan("1-1"))
	s.Guard.TurnCount = 3
	s.Guard.AwaitingUser = true
	s.Ledger.Begin(ctx, agenttypes.NewAction(&agenttypes.TextResponse{Text: "x"}, "a-b-c", "1-1", ""), "model")
	s.AppendMessage(agenttypes.Message{Role: agenttypes.RoleAssistant, Content: "hello"})
	_, err := s.Data.Stage("act", "", nil, nil)
	require.NoError(t, err)
	_, err = s.Data.Approve("")
	require.NoError(t, err)
	s.UI.Cards = nil
	s.Tags.Next()

	s.Restore(snap)
	require.Nil(t, s.Plan.Get())
	require.Equal(t, 0, s.Guard.TurnCount)
	require.False(t, s.Guard.AwaitingUser)
	require.Len(t, s.Ledger.Traces(), 1, "ledger entries survive a restore")
	require.Len(t, s.History(), 1)
	require.Equal(t, fp, s.Data.Fingerprint())
	require.Len(t, s.UI.Cards, 1)
	require.True(t, s.Tags.Last().IsZero())
}

func TestUnit_Session_BeginRequestSkipsPendingClarifications(t *testing.T) {
	s := newSession()
	_, _, err := s.Clarifications.Register(&agenttypes.ClarificationRequestAction{
		Question:       "x or y?",
		Options:        []agenttypes.ClarificationOption{{Label: "x", Value: "x"}, {Label: "y", Value: "y"}},
		PendingPlan:    map[string]any{},
		TargetProperty: "x",
	})
	require.NoError(t, err)
	s.Guard.AwaitingUser = true

	skipped := s.BeginRequest("never mind, show churn", nil)
	require.Len(t, skipped, 1)
	require.Equal(t, agenttypes.ClarificationSkipped, skipped[0].Status)
	require.False(t, s.Clarifications.HasPending())
	require.False(t, s.Guard.AwaitingUser)
}

func TestUnit_Session_PersistAndLoad(t *testing.T) {
	ctx := context.Background()
	db, err := libdbexec.NewSQLiteDBManager(ctx, filepath.Join(t.TempDir(), "session.db"), agentsession.Schema()...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := newSession()
	s.BeginRequest("chart revenue", nil)
	s.Plan.Replace(plan("1700000000000-1"))
	tr := s.Ledger.Begin(ctx, agenttypes.NewAction(&agenttypes.TextResponse{Text: "ok"}, "make-chart", "1700000000000-2", ""), "model")
	_, err = s.Ledger.Resolve(ctx, tr.ID, true, "")
	require.NoError(t, err)
	require.NoError(t, s.Persist(ctx, db))

	s.AppendMessage(agenttypes.Message{Role: agenttypes.RoleAssistant, Content: "done"})
	require.NoError(t, s.Persist(ctx, db))

	loaded, err := agentsession.Load(ctx, db, "s1")
	require.NoError(t, err)
	require.Equal(t, "1700000000000-1", loaded.Plan.Get().StateTag)
	require.Len(t, loaded.History(), 2)
	require.Len(t, loaded.Ledger.Traces(), 1)
	tag := loaded.Tags.Last()
	require.Equal(t, int64(2), tag.Seq, "tag source resumes past persisted tags")
}
