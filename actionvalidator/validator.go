// Package actionvalidator applies per-kind structural and semantic rules to
// proposed actions. Every action ends up accepted, repaired (a corrected
// copy plus auto_* events) or rejected (an event carrying a retry instruction).
// The package holds no state.
package actionvalidator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/contenox/analyst/agenttypes"
)

type Outcome string

const (
	Accepted Outcome = "accepted"
	Repaired Outcome = "repaired"
	Rejected Outcome = "rejected"
)

// TargetNotFoundText replaces dom actions whose target cannot be resolved.
const TargetNotFoundText = "Target not found, please select."

const DefaultMinFilterQueryChars = 8

// Context is the read-only view of the session the rules consult.
type Context struct {
	CurrentStepID string
	Plan          *agenttypes.PlanState
	UI            agenttypes.UIState
	Intent        *agenttypes.DetectedIntent
	UserMessage   string
	Columns       []agenttypes.ColumnProfile

	MinFilterQueryChars int
	Now                 func() time.Time
	// NewStepID mints a step id when neither the action nor the plan has one.
	NewStepID func() string
}

func (c Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

type Result struct {
	Action  agenttypes.Action
	Outcome Outcome
	Events  []agenttypes.ValidationEvent
}

// rejection is returned by a rule to stop validation of one action.
type rejection struct {
	reason      string
	instruction string
}

func (r *rejection) Error() string { return r.reason + ": " + r.instruction }

func reject(reason, format string, args ...any) error {
	return &rejection{reason: reason, instruction: fmt.Sprintf(format, args...)}
}

// Validate checks one action. index is its position in the batch and is
// recorded on every event.
func Validate(vc Context, index int, a agenttypes.Action) Result {
	if a.Payload == nil {
		return rejected(vc, index, a, &rejection{"missing_payload", "Send the fields required for " + string(a.ResponseType) + "."})
	}
	work, err := a.Clone()
	if err != nil {
		return rejected(vc, index, a, &rejection{"unserializable_action", err.Error()})
	}

	r := &rules{vc: vc, action: &work}
	if err := work.Payload.Accept(r); err != nil {
		var rj *rejection
		if !errors.As(err, &rj) {
			rj = &rejection{reason: "invalid_payload", instruction: err.Error()}
		}
		return rejected(vc, index, a, rj)
	}
	if r.replacement != nil {
		work.Payload = r.replacement
		work.ResponseType = r.replacement.Kind()
	}
	if work.StepID == "" {
		work.StepID = r.defaultStepID()
		r.repair("auto_step_id_assigned")
	}

	res := Result{Action: work, Outcome: Accepted}
	if len(r.repairs) > 0 {
		res.Outcome = Repaired
	}
	for _, reason := range r.repairs {
		res.Events = append(res.Events, event(vc, index, a.ResponseType, reason, ""))
	}
	return res
}

func rejected(vc Context, index int, a agenttypes.Action, rj *rejection) Result {
	return Result{
		Action:  a,
		Outcome: Rejected,
		Events:  []agenttypes.ValidationEvent{event(vc, index, a.ResponseType, rj.reason, rj.instruction)},
	}
}

func event(vc Context, index int, rt agenttypes.ResponseType, reason, instruction string) agenttypes.ValidationEvent {
	return agenttypes.ValidationEvent{
		ID:               agenttypes.NewID("val"),
		ActionType:       rt,
		Reason:           reason,
		ActionIndex:      index,
		Timestamp:        vc.now(),
		RetryInstruction: instruction,
	}
}

// BatchResult holds the surviving actions in their original order.
type BatchResult struct {
	Actions  []agenttypes.Action
	Events   []agenttypes.ValidationEvent
	Rejected []int
}

func (b BatchResult) OK() bool { return len(b.Rejected) == 0 }

// RetryInstructions joins the instructions of every rejection.
func (b BatchResult) RetryInstructions() string {
	var parts []string
	for _, e := range b.Events {
		if e.RetryInstruction != "" {
			parts = append(parts, fmt.Sprintf("action %d (%s): %s", e.ActionIndex, e.ActionType, e.RetryInstruction))
		}
	}
	return strings.Join(parts, "\n")
}

// ValidateBatch validates actions in order. A plan_state_update that is
// accepted becomes the plan the following actions are checked against.
func ValidateBatch(vc Context, actions []agenttypes.Action) BatchResult {
	var out BatchResult
	for i, a := range actions {
		res := Validate(vc, i, a)
		out.Events = append(out.Events, res.Events...)
		if res.Outcome == Rejected {
			out.Rejected = append(out.Rejected, i)
			continue
		}
		if upd, ok := res.Action.PlanUpdate(); ok {
			vc.Plan = agenttypes.PlanFromUpdate(upd, res.Action.StateTag, vc.now())
			vc.CurrentStepID = upd.CurrentStepID
		}
		out.Actions = append(out.Actions, res.Action)
	}
	return out
}
