// Package turnorchestrator turns one batch of model-proposed actions into an
// accepted, repaired batch ready for execution, or into corrective
// instructions for another attempt.
//
// ProcessTurn mutates the session only when the turn is accepted: guard
// state, plan slot, tag source high-water mark and clarification registry
// are committed together at the end. Validation events are recorded on the
// ledger for every outcome.
package turnorchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/contenox/analyst/actionvalidator"
	"github.com/contenox/analyst/agentsession"
	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/clarification"
	"github.com/contenox/analyst/guard"
	"github.com/contenox/analyst/libtracker"
	"github.com/contenox/analyst/metrics"
)

type Outcome string

const (
	// Accepted turns carry actions ready for execution.
	Accepted Outcome = "accepted"
	// Reprompt turns were rejected; Instructions tells the model what to fix.
	Reprompt Outcome = "reprompt"
	// Blocked turns arrived while a question to the user was outstanding.
	Blocked Outcome = "blocked"
)

// Turn is the result of processing one proposed batch.
type Turn struct {
	Outcome Outcome
	// Actions are the accepted actions in execution order. Actions[0] is
	// always the plan_state_update.
	Actions    []agenttypes.Action
	Deferred   []agenttypes.Action
	Events     []agenttypes.ValidationEvent
	Violations []guard.Violation
	// Instructions is the corrective text for a Reprompt.
	Instructions string

	Plan          *agenttypes.PlanState
	Clarification *agenttypes.ClarificationRequest
	Resolved      []*clarification.Resolution
	// RequiredToolInserted is set when the batch was missing the tool the
	// detected intent requires.
	RequiredToolInserted bool
}

// AwaitingUser reports whether the accepted turn leaves the run paused.
func (t Turn) AwaitingUser() bool {
	return t.Clarification != nil || (t.Plan != nil && agenttypes.IsHaltingTag(t.Plan.StateTag))
}

type Orchestrator struct {
	tracker        libtracker.ActivityTracker
	metrics        metrics.Recorder
	minFilterChars int
}

type Option func(*Orchestrator)

func WithTracker(t libtracker.ActivityTracker) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracker = t
		}
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithMinFilterQueryChars(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.minFilterChars = n
		}
	}
}

func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tracker:        libtracker.NoopTracker{},
		metrics:        metrics.Nop(),
		minFilterChars: actionvalidator.DefaultMinFilterQueryChars,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// pass holds the working state of one ProcessTurn call.
type pass struct {
	s        *agentsession.Session
	events   []agenttypes.ValidationEvent
	inserted bool
}

func (p *pass) event(rt agenttypes.ResponseType, reason string, index int, instruction string) {
	p.events = append(p.events, agenttypes.ValidationEvent{
		ID:               agenttypes.NewID("val"),
		ActionType:       rt,
		Reason:           reason,
		ActionIndex:      index,
		Timestamp:        p.s.Now(),
		RetryInstruction: instruction,
	})
}

// ProcessTurn runs guards and validation over proposed. The returned error
// is reserved for conditions no reprompt can fix.
func (o *Orchestrator) ProcessTurn(ctx context.Context, s *agentsession.Session, proposed []agenttypes.Action) (Turn, error) {
	reportErr, reportChange, end := o.tracker.Start(ctx, "process_turn", "turnorchestrator",
		"session_id", s.ID, "proposed", len(proposed))
	defer end()

	p := &pass{s: s}
	actions := make([]agenttypes.Action, 0, len(proposed)+1)
	for i, a := range proposed {
		c, err := a.Clone()
		if err != nil {
			err = fmt.Errorf("clone proposed action %d: %w", i, err)
			reportErr(err)
			return Turn{}, err
		}
		actions = append(actions, c)
	}

	if s.Guard.AwaitingUser {
		gr := guard.Enforce(s.Guard, actions)
		return o.finish(p, Turn{Outcome: Blocked, Violations: gr.Violations, Instructions: instructionsFor(gr.Violations, s)}), nil
	}

	actions = p.bootstrap(actions)
	actions = p.insertRequiredTool(actions)
	p.assignPlanID(actions)

	gr := guard.Enforce(s.Guard, actions)
	if !gr.OK && gr.Has(guard.CodeInvalidStateTag) {
		actions = p.restamp(actions)
		gr = guard.Enforce(s.Guard, actions)
	}
	if !gr.OK {
		return o.finish(p, Turn{Outcome: Reprompt, Violations: gr.Violations, Instructions: instructionsFor(gr.Violations, s)}), nil
	}

	vc := o.validationContext(s)
	batch := actionvalidator.ValidateBatch(vc, actions)
	p.events = append(p.events, batch.Events...)
	if !batch.OK() {
		return o.finish(p, Turn{Outcome: Reprompt, Instructions: batch.RetryInstructions()}), nil
	}
	accepted := batch.Actions

	upd, ok := accepted[0].PlanUpdate()
	if !ok {
		err := fmt.Errorf("accepted batch does not start with a plan update")
		reportErr(err)
		return Turn{}, err
	}
	plan := agenttypes.PlanFromUpdate(upd, accepted[0].StateTag, s.Now())
	vc.Plan = plan
	vc.CurrentStepID = plan.CurrentStepID

	turn := Turn{Outcome: Accepted, Plan: plan, RequiredToolInserted: p.inserted}
	var pendingQ *agenttypes.ClarificationRequestAction
	for i := 1; i < len(accepted); i++ {
		q, ok := accepted[i].Payload.(*agenttypes.ClarificationRequestAction)
		if !ok {
			continue
		}
		if len(q.Options) > 1 {
			pendingQ = q
			continue
		}
		sub, res, err := p.selfAnswer(vc, i, accepted[i], q)
		if err != nil {
			return o.finish(p, Turn{Outcome: Reprompt, Instructions: err.Error()}), nil
		}
		accepted[i] = sub
		turn.Resolved = append(turn.Resolved, res)
	}

	if agenttypes.IsHaltingTag(plan.StateTag) {
		kept := []agenttypes.Action{accepted[0]}
		for i, a := range accepted[1:] {
			if a.ResponseType.IsTool() {
				turn.Deferred = append(turn.Deferred, a)
				p.event(a.ResponseType, "auto_action_deferred", i+1, "")
				continue
			}
			kept = append(kept, a)
		}
		accepted = kept
	}
	turn.Actions = accepted

	// Commit.
	s.Guard = gr.NextState
	for _, a := range accepted {
		s.Tags.Observe(a.StateTag)
	}
	if plan.PlanID == "" {
		plan.PlanID = s.Guard.PlanID
	}
	s.Plan.Replace(plan)
	s.Ledger.PublishPlan(ctx, plan)
	if pendingQ != nil {
		req, _, err := s.Clarifications.Register(pendingQ)
		if err != nil {
			reportErr(err)
			return Turn{}, fmt.Errorf("register clarification: %w", err)
		}
		turn.Clarification = &req
	}
	reportChange(plan.PlanID, plan)
	return o.finish(p, turn), nil
}

func (o *Orchestrator) finish(p *pass, t Turn) Turn {
	t.Events = append(p.events, t.Events...)
	p.s.Ledger.RecordEvents(t.Events...)
	for _, v := range t.Violations {
		o.metrics.ObserveGuardViolation(string(v.Code))
	}
	for _, e := range t.Events {
		o.metrics.ObserveValidationEvent(string(e.ActionType), e.Reason)
	}
	o.metrics.ObserveTurn(string(t.Outcome))
	return t
}

func (o *Orchestrator) validationContext(s *agentsession.Session) actionvalidator.Context {
	vc := actionvalidator.Context{
		Plan:                s.Plan.Get(),
		UI:                  s.UI,
		Intent:              s.Intent.Detected,
		UserMessage:         s.CurrentRequest,
		MinFilterQueryChars: o.minFilterChars,
		Now:                 s.Now,
	}
	if vc.Plan != nil {
		vc.CurrentStepID = vc.Plan.CurrentStepID
	}
	if s.Data.Loaded() {
		vc.Columns = s.Data.Profiles()
	}
	return vc
}

// bootstrap puts a seed plan update in front of a batch that lacks one when
// the session has no plan yet. A plan_creation in the batch supplies the seed.
func (p *pass) bootstrap(actions []agenttypes.Action) []agenttypes.Action {
	if p.s.Plan.Exists() {
		return actions
	}
	if len(actions) > 0 && actions[0].ResponseType == agenttypes.ResponsePlanStateUpdate {
		return actions
	}
	seed := &agenttypes.PlanStateUpdate{}
	for i, a := range actions {
		pc, ok := a.Payload.(*agenttypes.PlanCreation)
		if !ok {
			continue
		}
		seed.Goal = pc.Goal
		seed.NextSteps = append([]agenttypes.PlanStep(nil), pc.Steps...)
		seed.Steps = append([]agenttypes.PlanStep(nil), pc.Steps...)
		actions = append(actions[:i:i], actions[i+1:]...)
		break
	}
	a := agenttypes.NewAction(seed, "", "", "bootstrap plan tracker")
	a.AutoInserted = true
	p.event(agenttypes.ResponsePlanStateUpdate, "auto_plan_bootstrapped", 0, "")
	return append([]agenttypes.Action{a}, actions...)
}

func (p *pass) assignPlanID(actions []agenttypes.Action) {
	if p.s.Plan.Exists() || len(actions) == 0 {
		return
	}
	if upd, ok := actions[0].PlanUpdate(); ok && upd.PlanID == "" {
		upd.PlanID = agenttypes.NewID("plan")
	}
}

// restamp replaces every tag that is empty, malformed or not advancing with
// a freshly minted one. Sentinel tags are kept.
func (p *pass) restamp(actions []agenttypes.Action) []agenttypes.Action {
	last := p.s.Guard.StateTagSeq
	p.s.Tags.Observe(last.String())
	for i := range actions {
		a := &actions[i]
		if agenttypes.IsSentinelTag(a.StateTag) {
			continue
		}
		if t, ok := guard.ParseTag(a.StateTag); ok && last.Less(t) {
			last = t
			p.s.Tags.Observe(a.StateTag)
			continue
		}
		a.StateTag = p.s.Tags.Next()
		last = p.s.Tags.Last()
		p.event(a.ResponseType, "auto_state_tag_assigned", i, "")
	}
	return actions
}

// selfAnswer replaces a single-option clarification with the action its
// completed pending plan describes.
func (p *pass) selfAnswer(vc actionvalidator.Context, index int, a agenttypes.Action, q *agenttypes.ClarificationRequestAction) (agenttypes.Action, *clarification.Resolution, error) {
	_, res, err := p.s.Clarifications.Register(q)
	if err != nil {
		return agenttypes.Action{}, nil, fmt.Errorf("action %d (clarification_request): %w", index, err)
	}
	sub, err := agenttypes.DecodeActionMap(res.CompletedPlan)
	if err != nil {
		p.event(a.ResponseType, "invalid_pending_plan", index, "pendingPlan must describe a complete action once targetProperty is filled.")
		return agenttypes.Action{}, nil, fmt.Errorf("action %d (clarification_request): pendingPlan must describe a complete action: %w", index, err)
	}
	switch sub.ResponseType {
	case agenttypes.ResponsePlanStateUpdate, agenttypes.ResponsePlanCreation, agenttypes.ResponseClarificationRequest:
		p.event(a.ResponseType, "invalid_pending_plan", index, "pendingPlan must describe an atomic action, not a plan change or another question.")
		return agenttypes.Action{}, nil, fmt.Errorf("action %d (clarification_request): pendingPlan cannot be a %s", index, sub.ResponseType)
	}
	if sub.StepID == "" {
		sub.StepID = a.StepID
	}
	if sub.StateTag == "" {
		sub.StateTag = a.StateTag
	}
	sub.AutoInserted = true
	vr := actionvalidator.Validate(vc, index, sub)
	p.events = append(p.events, vr.Events...)
	if vr.Outcome == actionvalidator.Rejected {
		var parts []string
		for _, e := range vr.Events {
			if e.RetryInstruction != "" {
				parts = append(parts, e.RetryInstruction)
			}
		}
		return agenttypes.Action{}, nil, fmt.Errorf("action %d (%s): %s", index, sub.ResponseType, strings.Join(parts, " "))
	}
	p.event(a.ResponseType, "auto_clarification_self_answered", index, "")
	return vr.Action, res, nil
}

func instructionsFor(vs []guard.Violation, s *agentsession.Session) string {
	var lines []string
	seen := map[guard.Code]bool{}
	for _, v := range vs {
		if seen[v.Code] {
			continue
		}
		seen[v.Code] = true
		switch v.Code {
		case guard.CodeAwaitingUser:
			lines = append(lines, "Wait for the user's answer before proposing further actions.")
		case guard.CodeTurnBudgetExceeded:
			lines = append(lines, fmt.Sprintf("Return at most %d actions: one plan_state_update followed by at most one other action.", guard.TurnBudget))
		case guard.CodeMissingPlanUpdate:
			lines = append(lines, "Start every batch with a plan_state_update.")
		case guard.CodeInvalidStateTag:
			lines = append(lines, fmt.Sprintf("Give every action a stateTag of the form <epoch>-<sequence> after %s.", s.Guard.StateTagSeq))
		default:
			lines = append(lines, v.Message)
		}
	}
	return strings.Join(lines, "\n")
}
