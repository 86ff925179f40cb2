package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/contenox/analyst/agentsession"
	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/dataset"
	"github.com/contenox/analyst/toolexec"
	"github.com/contenox/analyst/turnorchestrator"
)

// run is the bounded state machine driving one request.
type run struct {
	w        *Workflow
	s        *agentsession.Session
	h        *runHandle
	// snap is the session as of the last executed turn, or the run start.
	snap     agentsession.Snapshot
	msgStart int
	state    State
	report   Report
}

func (w *Workflow) newRun(s *agentsession.Session, h *runHandle) *run {
	return &run{
		w:        w,
		s:        s,
		h:        h,
		snap:     s.Snapshot(),
		msgStart: len(s.History()),
		state:    Idle,
		report:   Report{RunID: h.id},
	}
}

// commit moves the rollback point to the current session state.
func (r *run) commit() { r.snap = r.s.Snapshot() }

// loop plans, validates and executes turns until the run pauses or ends.
// instructions are folded into the first model turn's context. A non-empty
// first batch is processed in place of the first model reply.
func (r *run) loop(ctx context.Context, instructions []string, first []agenttypes.Action) (Report, error) {
	validationRetries, executionRetries := 0, 0
	for {
		if r.h.cancelled.Load() {
			return r.abort(ctx, Cancelled, ErrRunCancelled)
		}
		if err := ctx.Err(); err != nil {
			return r.abort(ctx, Cancelled, fmt.Errorf("%w: %w", ErrRunCancelled, err))
		}
		if r.report.Turns >= r.w.cfg.MaxTotalTurns {
			return r.abort(ctx, Failed, fmt.Errorf("%w: %d", ErrTurnCeiling, r.w.cfg.MaxTotalTurns))
		}
		r.report.Turns++

		r.state = Planning
		r.w.refreshUI(r.s)
		proposed := first
		first = nil
		if len(proposed) == 0 {
			bundle := r.w.bundles.Build(r.s, instructions)
			env, err := r.w.responder.Respond(ctx, bundle)
			if err != nil {
				if r.h.cancelled.Load() || ctx.Err() != nil {
					return r.abort(ctx, Cancelled, fmt.Errorf("%w: %w", ErrRunCancelled, err))
				}
				return r.abort(ctx, Failed, fmt.Errorf("%w: %w", ErrResponderUnavailable, err))
			}
			proposed = env.Actions
		}

		r.state = Validating
		turn, err := r.w.orchestrator.ProcessTurn(ctx, r.s, proposed)
		if err != nil {
			return r.abort(ctx, Failed, err)
		}
		switch turn.Outcome {
		case turnorchestrator.Blocked:
			return r.finish(ctx, AwaitingClarification)
		case turnorchestrator.Reprompt:
			if validationRetries >= r.w.cfg.MaxValidationRetries {
				return r.fallback(ctx)
			}
			validationRetries++
			instructions = append(instructions, turn.Instructions)
			continue
		}
		validationRetries = 0
		instructions = nil

		r.state = Executing
		failure := r.execute(ctx, turn)
		r.commit()

		plan := r.s.Plan.Get()
		switch {
		case turn.AwaitingUser() || r.s.Clarifications.HasPending() || r.s.Guard.AwaitingUser:
			return r.finish(ctx, AwaitingClarification)
		case hasPending(r.s.Data):
			return r.finish(ctx, AwaitingApproval)
		case failure != "":
			if executionRetries >= r.w.cfg.MaxExecutionRetries {
				return r.finish(ctx, Completed)
			}
			executionRetries++
			instructions = []string{failure}
			r.state = Continuing
			continue
		case plan == nil || len(plan.NextSteps) == 0 || plan.StateTag == agenttypes.TagPlanComplete:
			return r.finish(ctx, Completed)
		case !executedTool(turn):
			// A conversational turn hands the floor back to the user.
			return r.finish(ctx, Completed)
		}
		r.state = Continuing
	}
}

func hasPending(d *dataset.Dataset) bool {
	_, ok := d.Pending()
	return ok
}

func executedTool(t turnorchestrator.Turn) bool {
	for _, a := range t.Actions {
		if a.ResponseType.IsTool() {
			return true
		}
	}
	return false
}

// fallback ends the run with a plain explanation once reprompting is
// exhausted. Without a plan tracker the run fails instead.
func (r *run) fallback(ctx context.Context) (Report, error) {
	if !r.s.Plan.Exists() {
		return r.abort(ctx, Failed, ErrNoPlanTracker)
	}
	r.s.AppendMessage(agenttypes.Message{Role: agenttypes.RoleAssistant, Content: FallbackText})
	return r.finish(ctx, Completed)
}

// execute runs the accepted actions in order. It returns the failure text
// of the last failed tool action, or "".
func (r *run) execute(ctx context.Context, turn turnorchestrator.Turn) string {
	var failure string
	for _, a := range turn.Actions {
		source := "model"
		if a.AutoInserted {
			source = "orchestrator"
		}
		tr := r.s.Ledger.Begin(ctx, a, source)

		switch p := a.Payload.(type) {
		case *agenttypes.TextResponse:
			r.s.AppendMessage(agenttypes.Message{Role: agenttypes.RoleAssistant, Content: p.Text})
			r.resolve(ctx, tr.ID, true, "")
		case *agenttypes.AwaitUser:
			r.s.AppendMessage(agenttypes.Message{Role: agenttypes.RoleAssistant, Content: p.Prompt})
			r.resolve(ctx, tr.ID, true, "waiting for the user")
		case *agenttypes.ClarificationRequestAction:
			r.s.AppendMessage(agenttypes.Message{Role: agenttypes.RoleAssistant, Content: p.Question})
			r.resolve(ctx, tr.ID, true, "waiting for an answer")
		case *agenttypes.PlanStateUpdate, *agenttypes.PlanCreation:
			r.resolve(ctx, tr.ID, true, "")
		default:
			if msg := r.runTool(ctx, a, tr.ID); msg != "" {
				failure = msg
			}
		}
	}
	return failure
}

func (r *run) resolve(ctx context.Context, traceID string, ok bool, summary string) {
	// Traces are opened by this run, so Resolve only fails for ids it never saw.
	_, _ = r.s.Ledger.Resolve(ctx, traceID, ok, summary)
}

func (r *run) runTool(ctx context.Context, a agenttypes.Action, actionID string) string {
	started := time.Now()
	res, err := r.w.tools.Execute(ctx, toolexec.Request{
		Action:   a,
		ActionID: actionID,
		Columns:  r.s.Data.Columns(),
		Rows:     r.s.Data.Rows(),
	})
	obs := res.Observation
	if err != nil {
		obs = agenttypes.Observation{Status: agenttypes.ObservationError, ErrorCode: "tool_error", ErrorMessage: err.Error()}
	}
	if obs.ActionID == "" {
		obs.ActionID = actionID
	}
	if obs.ResponseType == "" {
		obs.ResponseType = a.ResponseType
	}

	if err == nil && res.Transformed != nil && !obs.Failed() {
		desc := ""
		if js, ok := a.Payload.(*agenttypes.ExecuteJSCode); ok {
			desc = js.Description
		}
		change, serr := r.s.Data.Stage(actionID, desc, res.Transformed.Columns, res.Transformed.Rows)
		switch {
		case errors.Is(serr, dataset.ErrNoObservableChange):
			obs.Status, obs.ErrorCode, obs.ErrorMessage = agenttypes.ObservationError, "no_observable_changes", serr.Error()
		case errors.Is(serr, dataset.ErrPendingChangeExists):
			obs.Status, obs.ErrorCode, obs.ErrorMessage = agenttypes.ObservationError, "pending_change_exists", serr.Error()
		case serr != nil:
			obs.Status, obs.ErrorCode, obs.ErrorMessage = agenttypes.ObservationError, "stage_failed", serr.Error()
		default:
			obs.Status = agenttypes.ObservationPending
			if obs.Outputs == nil {
				obs.Outputs = map[string]any{}
			}
			obs.Outputs["changeId"] = change.ID
		}
	}

	obs = r.s.Ledger.RecordObservation(obs)
	r.report.Observations = append(r.report.Observations, obs)
	r.w.metrics.ObserveToolExecution(string(a.ResponseType), string(obs.Status), time.Since(started))
	r.w.refreshUI(r.s)

	if obs.Failed() {
		r.resolve(ctx, actionID, false, obs.ErrorCode)
		msg := fmt.Sprintf("The %s action failed (%s): %s", a.ResponseType, obs.ErrorCode, obs.ErrorMessage)
		r.s.AppendMessage(agenttypes.Message{Role: agenttypes.RoleAssistant, Content: msg, Error: true})
		return msg
	}
	r.resolve(ctx, actionID, true, "")
	if rt := r.s.Intent.RequiredTool(); rt != nil && rt.ResponseType == a.ResponseType {
		r.s.Intent.Satisfied = true
	}
	return ""
}

// finish ends a run that did not fail and persists the session.
func (r *run) finish(ctx context.Context, state State) (Report, error) {
	r.state = state
	r.fill()
	r.w.metrics.ObserveRun(string(state))
	if r.w.db != nil {
		if err := r.s.Persist(ctx, r.w.db); err != nil {
			return r.report, fmt.Errorf("persist session %s: %w", r.s.ID, err)
		}
	}
	return r.report, nil
}

// abort rolls back the turn in progress and records why the run stopped.
// Turns that already executed stay applied. A cancelled run is persisted
// like a finished one; a failed run is not.
func (r *run) abort(ctx context.Context, state State, err error) (Report, error) {
	r.s.Restore(r.snap)
	r.s.Ledger.RecordRunEnd(ctx, r.h.id, string(state), err)
	r.state = state
	r.fill()
	r.w.metrics.ObserveRun(string(state))
	if state == Cancelled && r.w.db != nil {
		if perr := r.s.Persist(context.WithoutCancel(ctx), r.w.db); perr != nil {
			return r.report, errors.Join(err, fmt.Errorf("persist session %s: %w", r.s.ID, perr))
		}
	}
	return r.report, err
}

func (r *run) fill() {
	r.report.State = r.state
	r.report.Plan = r.s.Plan.Get()
	if pending := r.s.Clarifications.Pending(); len(pending) > 0 {
		q := pending[len(pending)-1]
		r.report.Clarification = &q
	}
	if change, ok := r.s.Data.Pending(); ok {
		r.report.PendingChange = &change
	}
	if h := r.s.History(); len(h) > r.msgStart {
		r.report.Messages = h[r.msgStart:]
	}
}

// resumeBatch turns a completed pending plan into the batch that resumes
// the run: the current plan followed by the completed action. It reports
// false when the pending plan is not an executable action of its own.
func resumeBatch(plan *agenttypes.PlanState, completed map[string]any) ([]agenttypes.Action, bool) {
	a, err := agenttypes.DecodeActionMap(completed)
	if err != nil {
		return nil, false
	}
	switch a.ResponseType {
	case agenttypes.ResponsePlanStateUpdate, agenttypes.ResponsePlanCreation, agenttypes.ResponseClarificationRequest:
		return nil, false
	}
	a.AutoInserted = true
	if plan == nil {
		return []agenttypes.Action{a}, true
	}
	if a.StepID == "" {
		a.StepID = plan.CurrentStepID
	}
	upd := agenttypes.NewAction(&agenttypes.PlanStateUpdate{
		PlanID:         plan.PlanID,
		Goal:           plan.Goal,
		ContextSummary: plan.ContextSummary,
		Progress:       plan.Progress,
		NextSteps:      append([]agenttypes.PlanStep(nil), plan.NextSteps...),
		Steps:          append([]agenttypes.PlanStep(nil), plan.Steps...),
		CurrentStepID:  plan.CurrentStepID,
		ObservationIDs: append([]string{}, plan.ObservationIDs...),
		Confidence:     plan.Confidence,
	}, plan.CurrentStepID, "", "resume after clarification")
	upd.AutoInserted = true
	return []agenttypes.Action{upd, a}, true
}

func resumeInstruction(targetProperty, value string, completed map[string]any) string {
	raw, err := json.Marshal(completed)
	if err != nil {
		raw = []byte("{}")
	}
	return fmt.Sprintf("The user answered the clarification: %s = %q. Continue with this completed pending plan: %s", targetProperty, value, raw)
}
