package workflow_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/contenox/analyst/agentsession"
	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/contextbundle"
	"github.com/contenox/analyst/dataset"
	"github.com/contenox/analyst/libdbexec"
	"github.com/contenox/analyst/libtracker"
	"github.com/contenox/analyst/toolexec"
	"github.com/contenox/analyst/workflow"
	"github.com/stretchr/testify/require"
)

// scripted replays one batch per call, then finishes the plan.
type scripted struct {
	mu        sync.Mutex
	turns     [][]agenttypes.Action
	bundles   []contextbundle.Bundle
	onRespond func(ctx context.Context, call int)
}

func (r *scripted) Respond(ctx context.Context, b contextbundle.Bundle) (agenttypes.Envelope, error) {
	r.mu.Lock()
	r.bundles = append(r.bundles, b)
	n := len(r.bundles)
	r.mu.Unlock()
	if r.onRespond != nil {
		r.onRespond(ctx, n)
	}
	if n > len(r.turns) {
		return agenttypes.Envelope{Actions: []agenttypes.Action{planDone(), text("All done.")}}, nil
	}
	return agenttypes.Envelope{Actions: r.turns[n-1]}, nil
}

func (r *scripted) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bundles)
}

type fixedIntent struct{ intent *agenttypes.DetectedIntent }

func (f fixedIntent) Classify(context.Context, string, agenttypes.UIState) (*agenttypes.DetectedIntent, error) {
	return f.intent, nil
}

var cards = []agenttypes.Card{
	{ID: "card-1", Title: "Revenue"},
	{ID: "card-2", Title: "Costs"},
}

func fixture() (*agentsession.Session, *toolexec.Registry) {
	data := dataset.New("sales", []string{"month", "revenue"}, []dataset.Row{
		{"month": "jan", "revenue": 100.0},
		{"month": "feb", "revenue": 80.0},
		{"month": "mar", "revenue": 120.0},
	})
	s := agentsession.New("s1", agentsession.WithDataset(data), agentsession.WithCards(cards...))
	return s, toolexec.New(nil, cards...)
}

func plan(tag string, stepIDs ...string) agenttypes.Action {
	var steps []agenttypes.PlanStep
	for _, id := range stepIDs {
		steps = append(steps, agenttypes.PlanStep{ID: id, Label: id, Status: agenttypes.StepReady})
	}
	return agenttypes.NewAction(&agenttypes.PlanStateUpdate{
		Goal: "Analyse sales", Progress: "Working",
		NextSteps: steps, Steps: steps, ObservationIDs: []string{},
	}, "", tag, "")
}

func planDone() agenttypes.Action {
	step := agenttypes.PlanStep{ID: "wrap-up", Label: "Wrap up", Status: agenttypes.StepDone}
	return agenttypes.NewAction(&agenttypes.PlanStateUpdate{
		Goal: "Analyse sales", Progress: "Done",
		NextSteps: []agenttypes.PlanStep{}, Steps: []agenttypes.PlanStep{step},
		CurrentStepID: step.ID, ObservationIDs: []string{},
	}, "", agenttypes.TagPlanComplete, "")
}

func text(s string) agenttypes.Action {
	return agenttypes.NewAction(&agenttypes.TextResponse{Text: s}, "", "", "")
}

func chart() agenttypes.Action {
	return agenttypes.NewAction(&agenttypes.CreateChart{
		ChartType: "bar", Title: "Revenue by month", XColumn: "month", YColumn: "revenue",
	}, "", "", "")
}

func js(code string) agenttypes.Action {
	return agenttypes.NewAction(&agenttypes.ExecuteJSCode{Code: code, Description: "transform"}, "", "", "")
}

func eventReasons(s *agentsession.Session) []string {
	var out []string
	for _, e := range s.Ledger.Events() {
		out = append(out, e.Reason)
	}
	return out
}

func TestUnit_Run_GreetingSeedsPlanAndCompletes(t *testing.T) {
	s, tools := fixture()
	resp := &scripted{turns: [][]agenttypes.Action{{text("Hello! What would you like to explore?")}}}
	w := workflow.New(workflow.DefaultConfig(), resp, tools)

	rep, err := w.Run(context.Background(), s, "hi there")
	require.NoError(t, err)
	require.Equal(t, workflow.Completed, rep.State)
	require.Equal(t, 1, rep.Turns)
	require.Equal(t, 1, resp.calls())
	require.Equal(t, "Respond to: hi there", rep.Plan.Goal)

	traces := s.Ledger.Traces()
	require.Len(t, traces, 2)
	require.Equal(t, agenttypes.ResponsePlanStateUpdate, traces[0].ActionType)
	require.Equal(t, "orchestrator", traces[0].Source)
	require.Equal(t, agenttypes.TraceSucceeded, traces[1].Status)

	last := rep.Messages[len(rep.Messages)-1]
	require.Equal(t, agenttypes.RoleAssistant, last.Role)
	require.Equal(t, "Hello! What would you like to explore?", last.Content)
}

func TestUnit_Run_RequiredToolIsInsertedAndExecuted(t *testing.T) {
	s, tools := fixture()
	resp := &scripted{turns: [][]agenttypes.Action{{plan("", "remove-card"), text("Sure.")}}}
	intent := &agenttypes.DetectedIntent{
		Intent:     "remove_card",
		Confidence: 0.9,
		RequiredTool: &agenttypes.RequiredTool{
			ResponseType: agenttypes.ResponseDOMAction,
			DOMToolName:  "removeCard",
			PayloadHints: map[string]any{"cardTitle": "Revenue"},
		},
	}
	w := workflow.New(workflow.DefaultConfig(), resp, tools, workflow.WithClassifier(fixedIntent{intent}))

	rep, err := w.Run(context.Background(), s, "remove the revenue chart")
	require.NoError(t, err)
	require.Equal(t, workflow.Completed, rep.State)
	require.Contains(t, eventReasons(s), "auto_required_tool_inserted")
	require.True(t, s.Intent.Satisfied)

	require.Len(t, rep.Observations, 1)
	require.Equal(t, agenttypes.ObservationSuccess, rep.Observations[0].Status)
	require.Equal(t, "card-1", rep.Observations[0].Outputs["removedCardId"])
	require.Len(t, tools.UIState().Cards, 1)
	require.Len(t, s.UI.Cards, 1)
}

func TestUnit_Run_ConsecutiveHaltingTurnsNeverExecute(t *testing.T) {
	s, tools := fixture()
	remove := agenttypes.NewAction(&agenttypes.DOMAction{ToolCall: agenttypes.DOMToolCall{
		Tool: "removeCard", Target: agenttypes.DOMTarget{ByID: "card-1"},
	}}, "", "", "")
	halting := []agenttypes.Action{plan(agenttypes.TagAwaitingClarification, "pick-card"), remove}
	resp := &scripted{turns: [][]agenttypes.Action{halting, halting}}
	w := workflow.New(workflow.DefaultConfig(), resp, tools)

	rep, err := w.Run(context.Background(), s, "remove a chart")
	require.NoError(t, err)
	require.Equal(t, workflow.AwaitingClarification, rep.State)

	rep, err = w.Run(context.Background(), s, "not sure yet")
	require.NoError(t, err)
	require.Equal(t, workflow.AwaitingClarification, rep.State)

	require.Equal(t, 2, resp.calls(), "no continuation turn is requested")
	require.Empty(t, rep.Observations)
	require.Len(t, tools.UIState().Cards, 2)
	require.Contains(t, eventReasons(s), "auto_action_deferred")
}

func TestUnit_Run_DiscardedTransformLeavesDataAndPlanContinues(t *testing.T) {
	s, tools := fixture()
	before := s.Data.Fingerprint()
	filter := agenttypes.NewAction(&agenttypes.FilterSpreadsheet{Query: "rows where revenue above 50"}, "", "", "")
	resp := &scripted{turns: [][]agenttypes.Action{
		{plan("", "drop-low-months"), js("return rows.filter(function (r) { return r.revenue > 90; });")},
		{plan("", "count-rows"), filter},
	}}
	w := workflow.New(workflow.DefaultConfig(), resp, tools)

	rep, err := w.Run(context.Background(), s, "drop the weak months")
	require.NoError(t, err)
	require.Equal(t, workflow.AwaitingApproval, rep.State)
	require.NotNil(t, rep.PendingChange)
	require.Equal(t, 1, rep.PendingChange.Delta.RowsRemoved)
	require.Equal(t, agenttypes.ObservationPending, rep.Observations[0].Status)
	require.Equal(t, before, s.Data.Fingerprint())

	rep, err = w.ResolveTransform(context.Background(), s, false)
	require.NoError(t, err)
	require.Equal(t, workflow.Completed, rep.State)
	require.Equal(t, before, s.Data.Fingerprint())

	var filtered *agenttypes.Observation
	for i, o := range rep.Observations {
		if o.ResponseType == agenttypes.ResponseFilterSpreadsheet {
			filtered = &rep.Observations[i]
		}
	}
	require.NotNil(t, filtered, "the next plan turn runs after the discard")
	require.Equal(t, 3, filtered.Outputs["totalRows"])
}

func TestUnit_Run_ApprovedTransformSwapsData(t *testing.T) {
	s, tools := fixture()
	resp := &scripted{turns: [][]agenttypes.Action{
		{plan("", "drop-low-months"), js("return rows.filter(function (r) { return r.revenue > 90; });")},
	}}
	w := workflow.New(workflow.DefaultConfig(), resp, tools)

	_, err := w.Run(context.Background(), s, "drop the weak months")
	require.NoError(t, err)
	rep, err := w.ResolveTransform(context.Background(), s, true)
	require.NoError(t, err)
	require.Equal(t, workflow.Completed, rep.State)
	require.Equal(t, 2, s.Data.Len())

	_, err = w.ResolveTransform(context.Background(), s, true)
	require.ErrorIs(t, err, workflow.ErrNoPendingTransform)
}

func TestUnit_Run_ExecutionFailureRetriesOnce(t *testing.T) {
	s, tools := fixture()
	resp := &scripted{turns: [][]agenttypes.Action{
		{plan("", "derive-column"), js("return rows.map(function (r) { return r.missing.field; });")},
		{plan("", "derive-column"), text("That transform failed, let me explain.")},
	}}
	w := workflow.New(workflow.DefaultConfig(), resp, tools)

	rep, err := w.Run(context.Background(), s, "derive a column")
	require.NoError(t, err)
	require.Equal(t, workflow.Completed, rep.State)
	require.Equal(t, 2, resp.calls())
	require.True(t, rep.Observations[0].Failed())
	require.Equal(t, "transform_failed", rep.Observations[0].ErrorCode)
	require.NotEmpty(t, resp.bundles[1].Instructions)
	require.Contains(t, resp.bundles[1].Instructions[0], "transform_failed")

	var sawError bool
	for _, m := range rep.Messages {
		sawError = sawError || m.Error
	}
	require.True(t, sawError)
}

func TestUnit_Run_ValidationRetriesFallBackToText(t *testing.T) {
	s, tools := fixture()
	bad := []agenttypes.Action{plan("", "filter-rows"), agenttypes.NewAction(&agenttypes.FilterSpreadsheet{Query: "ab"}, "", "", "")}
	resp := &scripted{turns: [][]agenttypes.Action{
		{text("Hello!")},
		bad, bad, bad,
	}}
	w := workflow.New(workflow.DefaultConfig(), resp, tools)

	_, err := w.Run(context.Background(), s, "hi there")
	require.NoError(t, err)

	rep, err := w.Run(context.Background(), s, "filter it")
	require.NoError(t, err)
	require.Equal(t, workflow.Completed, rep.State)
	require.Equal(t, 3, rep.Turns)
	require.Equal(t, workflow.FallbackText, rep.Messages[len(rep.Messages)-1].Content)
	require.Len(t, resp.bundles[3].Instructions, 2)
}

func TestUnit_Run_NoPlanTrackerAfterRetriesFails(t *testing.T) {
	s, tools := fixture()
	bad := []agenttypes.Action{plan("", "filter-rows"), agenttypes.NewAction(&agenttypes.FilterSpreadsheet{Query: "ab"}, "", "", "")}
	resp := &scripted{turns: [][]agenttypes.Action{bad, bad, bad}}
	w := workflow.New(workflow.DefaultConfig(), resp, tools)

	rep, err := w.Run(context.Background(), s, "filter it")
	require.ErrorIs(t, err, workflow.ErrNoPlanTracker)
	require.Equal(t, workflow.Failed, rep.State)
	require.False(t, s.Plan.Exists())
	require.Empty(t, s.History(), "a run that executed nothing leaves the session untouched")

	require.NotEmpty(t, s.Ledger.Events(), "rejections stay on the ledger")
	traces := s.Ledger.Traces()
	require.Len(t, traces, 1)
	require.Equal(t, "workflow", traces[0].Source)
	require.Equal(t, string(workflow.Failed), traces[0].Metadata["state"])
}

func TestUnit_Run_TurnCeilingIsFatal(t *testing.T) {
	s, tools := fixture()
	busy := []agenttypes.Action{plan("", "keep-charting"), chart()}
	resp := &scripted{turns: [][]agenttypes.Action{busy, busy, busy, busy}}
	cfg := workflow.DefaultConfig()
	cfg.MaxTotalTurns = 3
	w := workflow.New(cfg, resp, tools)
	fp := s.Data.Fingerprint()

	rep, err := w.Run(context.Background(), s, "chart everything")
	require.ErrorIs(t, err, workflow.ErrTurnCeiling)
	require.Equal(t, workflow.Failed, rep.State)
	require.Equal(t, 3, resp.calls())
	require.Equal(t, fp, s.Data.Fingerprint())

	require.True(t, s.Plan.Exists(), "executed turns stay applied")
	require.Len(t, rep.Observations, 3)
	require.Len(t, tools.UIState().Cards, 5)
	traces := s.Ledger.Traces()
	require.Len(t, traces, 7)
	require.Equal(t, "workflow", traces[6].Source)
	require.Contains(t, traces[6].Summary, "maximum total turns")
}

func TestUnit_Run_CancelStopsBeforeNextTurn(t *testing.T) {
	s, tools := fixture()
	busy := []agenttypes.Action{plan("", "keep-charting"), chart()}
	resp := &scripted{turns: [][]agenttypes.Action{busy, busy}}
	var w *workflow.Workflow
	var cancelled bool
	resp.onRespond = func(ctx context.Context, call int) {
		if call == 1 {
			cancelled = w.Cancel(libtracker.RunIDFromContext(ctx))
		}
	}
	w = workflow.New(workflow.DefaultConfig(), resp, tools)

	rep, err := w.Run(context.Background(), s, "chart everything")
	require.ErrorIs(t, err, workflow.ErrRunCancelled)
	require.True(t, cancelled)
	require.Equal(t, workflow.Cancelled, rep.State)
	require.Equal(t, 1, resp.calls(), "the turn in flight finishes, the next one never starts")
	require.Len(t, tools.UIState().Cards, 3)

	_, active := w.ActiveRun(s.ID)
	require.False(t, active)
	require.False(t, w.Cancel(rep.RunID))
}

func TestUnit_Run_CancelKeepsExecutedTurns(t *testing.T) {
	ctx := context.Background()
	db, err := libdbexec.NewSQLiteDBManager(ctx, filepath.Join(t.TempDir(), "analyst.db"), agentsession.Schema()...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	remove := func(id string) agenttypes.Action {
		return agenttypes.NewAction(&agenttypes.DOMAction{ToolCall: agenttypes.DOMToolCall{
			Tool: "removeCard", Target: agenttypes.DOMTarget{ByID: id},
		}}, "", "", "")
	}
	s, tools := fixture()
	resp := &scripted{turns: [][]agenttypes.Action{
		{plan("", "clear-board"), remove("card-1")},
		{plan("", "clear-board"), remove("card-2")},
	}}
	var w *workflow.Workflow
	resp.onRespond = func(ctx context.Context, call int) {
		if call == 2 {
			w.Cancel(libtracker.RunIDFromContext(ctx))
		}
	}
	w = workflow.New(workflow.DefaultConfig(), resp, tools, workflow.WithDB(db))

	rep, err := w.Run(ctx, s, "clear the board")
	require.ErrorIs(t, err, workflow.ErrRunCancelled)
	require.Equal(t, workflow.Cancelled, rep.State)
	require.Equal(t, 2, resp.calls())

	require.Empty(t, tools.UIState().Cards)
	require.Empty(t, s.UI.Cards, "the session view matches the board")
	require.True(t, s.Plan.Exists())
	require.Len(t, s.Ledger.Observations(), 2)
	require.Len(t, rep.Observations, 2)

	traces := s.Ledger.Traces()
	require.Len(t, traces, 5)
	last := traces[4]
	require.Equal(t, "workflow", last.Source)
	require.Equal(t, string(workflow.Cancelled), last.Metadata["state"])
	require.Equal(t, rep.RunID, last.Metadata["runId"])

	loaded, err := agentsession.Load(ctx, db, s.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Ledger.Traces(), 5)
	require.Len(t, loaded.Ledger.Observations(), 2)
}

func TestUnit_Run_RejectsInterleavedRuns(t *testing.T) {
	s, tools := fixture()
	resp := &scripted{turns: [][]agenttypes.Action{{text("Hello!")}}}
	var w *workflow.Workflow
	var nestedErr error
	resp.onRespond = func(ctx context.Context, call int) {
		if call == 1 {
			_, nestedErr = w.Run(context.Background(), s, "me too")
		}
	}
	w = workflow.New(workflow.DefaultConfig(), resp, tools)

	rep, err := w.Run(libtracker.WithRunID(context.Background(), "run-fixed"), s, "hi there")
	require.NoError(t, err)
	require.Equal(t, "run-fixed", rep.RunID)
	require.ErrorIs(t, nestedErr, workflow.ErrRunInProgress)

	_, err = w.Run(context.Background(), s, "hello again")
	require.NoError(t, err, "the slot is released when a run ends")
}

func TestUnit_Run_ClarificationPausesAndResumes(t *testing.T) {
	s, tools := fixture()
	ask := agenttypes.NewAction(&agenttypes.ClarificationRequestAction{
		Question: "Which column goes on the x axis?",
		Options: []agenttypes.ClarificationOption{
			{Label: "Month", Value: "month"},
			{Label: "Revenue", Value: "revenue"},
		},
		TargetProperty: "x",
		PendingPlan:    map[string]any{"responseType": "create_chart", "chartType": "bar", "title": "Revenue", "y": "revenue"},
	}, "", "", "")
	resp := &scripted{turns: [][]agenttypes.Action{
		{plan("", "make-chart"), ask},
	}}
	w := workflow.New(workflow.DefaultConfig(), resp, tools)

	rep, err := w.Run(context.Background(), s, "chart it")
	require.NoError(t, err)
	require.Equal(t, workflow.AwaitingClarification, rep.State)
	require.NotNil(t, rep.Clarification)
	require.True(t, s.Guard.AwaitingUser)

	rep, err = w.ResolveClarification(context.Background(), s, rep.Clarification.ID, "Month")
	require.NoError(t, err)
	require.Equal(t, workflow.Completed, rep.State)
	require.False(t, s.Clarifications.HasPending())
	require.Len(t, tools.UIState().Cards, 3)

	require.Equal(t, 2, resp.calls(), "the completed chart runs without asking the model again")
	require.Equal(t, agenttypes.ResponseCreateChart, rep.Observations[0].ResponseType)
	require.Equal(t, agenttypes.ObservationSuccess, rep.Observations[0].Status)
	seen := resp.bundles[1].Observations
	require.NotEmpty(t, seen)
	require.Equal(t, agenttypes.ResponseCreateChart, seen[len(seen)-1].ResponseType)

	var synthetic bool
	for _, m := range s.History() {
		if m.Synthetic && m.Content == "Month" {
			synthetic = true
		}
	}
	require.True(t, synthetic)
}

func TestUnit_Run_NewRequestSkipsOpenClarification(t *testing.T) {
	s, tools := fixture()
	ask := agenttypes.NewAction(&agenttypes.ClarificationRequestAction{
		Question:       "Which one?",
		Options:        []agenttypes.ClarificationOption{{Label: "A", Value: "a"}, {Label: "B", Value: "b"}},
		TargetProperty: "title",
		PendingPlan:    map[string]any{"responseType": "text_response"},
	}, "", "", "")
	resp := &scripted{turns: [][]agenttypes.Action{{plan("", "ask-user"), ask}, {text("Okay, something else then.")}}}
	w := workflow.New(workflow.DefaultConfig(), resp, tools)

	_, err := w.Run(context.Background(), s, "do a thing")
	require.NoError(t, err)

	rep, err := w.Run(context.Background(), s, "never mind")
	require.NoError(t, err)
	require.Len(t, rep.Skipped, 1)
	require.Equal(t, agenttypes.ClarificationSkipped, rep.Skipped[0].Status)
	require.False(t, s.Clarifications.HasPending())
}

func TestUnit_Run_PersistsOnSuccess(t *testing.T) {
	ctx := context.Background()
	db, err := libdbexec.NewSQLiteDBManager(ctx, filepath.Join(t.TempDir(), "analyst.db"), agentsession.Schema()...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, tools := fixture()
	resp := &scripted{turns: [][]agenttypes.Action{{text("Hello!")}}}
	w := workflow.New(workflow.DefaultConfig(), resp, tools, workflow.WithDB(db))

	_, err = w.Run(ctx, s, "hi there")
	require.NoError(t, err)

	loaded, err := agentsession.Load(ctx, db, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.Plan.Get().PlanID, loaded.Plan.Get().PlanID)
	require.Len(t, loaded.History(), 2)
	require.Len(t, loaded.Ledger.Traces(), 2)
	require.True(t, strings.HasPrefix(loaded.Plan.Get().Goal, "Respond to:"))
}
