// Package guard enforces the per-run structural safety rules that apply to
// every batch of proposed actions regardless of what the actions mean.
package guard

import (
	"fmt"

	"github.com/contenox/analyst/agenttypes"
)

// TurnBudget is one plan_state_update plus at most one atomic action.
const TurnBudget = 2

type Code string

const (
	CodeAwaitingUser       Code = "awaiting_user"
	CodeTurnBudgetExceeded Code = "turn_budget_exceeded"
	CodeInvalidStateTag    Code = "invalid_state_tag"
	CodeMissingPlanUpdate  Code = "missing_plan_update"
)

type Violation struct {
	Code        Code   `json:"code"`
	ActionIndex int    `json:"actionIndex"`
	Message     string `json:"message"`
}

// State is owned by exactly one in-flight run.
type State struct {
	SessionID    string `json:"sessionId"`
	PlanID       string `json:"planId,omitempty"`
	StateTagSeq  Tag    `json:"stateTagSeq"`
	AwaitingUser bool   `json:"awaitingUser"`
	BlockedBy    string `json:"blockedBy,omitempty"`
	TurnCount    int    `json:"turnCount"`
}

func New(sessionID string) State {
	return State{SessionID: sessionID}
}

// Release clears the awaiting-user latch after the blocking question was answered.
func (s State) Release() State {
	s.AwaitingUser = false
	s.BlockedBy = ""
	return s
}

type Result struct {
	OK         bool
	NextState  State
	Violations []Violation
}

// Codes returns the distinct violation codes in order of first appearance.
func (r Result) Codes() []Code {
	var out []Code
	seen := map[Code]bool{}
	for _, v := range r.Violations {
		if !seen[v.Code] {
			seen[v.Code] = true
			out = append(out, v.Code)
		}
	}
	return out
}

func (r Result) Has(code Code) bool {
	for _, v := range r.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Enforce checks a batch against the state. It never mutates state; on
// success the caller commits NextState.
func Enforce(state State, actions []agenttypes.Action) Result {
	if state.AwaitingUser {
		return Result{Violations: []Violation{{
			Code:        CodeAwaitingUser,
			ActionIndex: -1,
			Message:     "a question to the user is still outstanding",
		}}}
	}

	var violations []Violation
	if len(actions) > TurnBudget {
		violations = append(violations, Violation{
			Code:        CodeTurnBudgetExceeded,
			ActionIndex: TurnBudget,
			Message:     fmt.Sprintf("%d actions proposed, at most %d allowed", len(actions), TurnBudget),
		})
	}
	if len(actions) == 0 || actions[0].ResponseType != agenttypes.ResponsePlanStateUpdate {
		violations = append(violations, Violation{
			Code:    CodeMissingPlanUpdate,
			Message: "the first action must be plan_state_update",
		})
	}
	for i, a := range actions {
		if i > 0 && a.ResponseType == agenttypes.ResponsePlanStateUpdate {
			violations = append(violations, Violation{
				Code:        CodeTurnBudgetExceeded,
				ActionIndex: i,
				Message:     "only one plan_state_update is allowed per turn",
			})
		}
	}

	last := state.StateTagSeq
	for i, a := range actions {
		if a.StateTag == "" {
			violations = append(violations, Violation{Code: CodeInvalidStateTag, ActionIndex: i, Message: "stateTag is empty"})
			continue
		}
		if agenttypes.IsSentinelTag(a.StateTag) {
			continue
		}
		t, ok := ParseTag(a.StateTag)
		if !ok {
			violations = append(violations, Violation{
				Code:        CodeInvalidStateTag,
				ActionIndex: i,
				Message:     fmt.Sprintf("stateTag %q is not <epoch>-<sequence>", a.StateTag),
			})
			continue
		}
		if !last.Less(t) {
			violations = append(violations, Violation{
				Code:        CodeInvalidStateTag,
				ActionIndex: i,
				Message:     fmt.Sprintf("stateTag %s does not advance past %s", t, last),
			})
			continue
		}
		last = t
	}

	if len(violations) > 0 {
		return Result{Violations: violations}
	}

	next := state
	next.StateTagSeq = last
	if upd, ok := actions[0].PlanUpdate(); ok {
		if upd.PlanID != "" {
			next.PlanID = upd.PlanID
		}
		if agenttypes.IsHaltingTag(actions[0].StateTag) {
			next.AwaitingUser = true
			next.BlockedBy = upd.BlockedBy
			if next.BlockedBy == "" {
				next.BlockedBy = actions[0].StateTag
			}
		}
	}
	for _, a := range actions[1:] {
		if !a.AsksUser() {
			continue
		}
		next.AwaitingUser = true
		switch p := a.Payload.(type) {
		case *agenttypes.AwaitUser:
			next.BlockedBy = p.BlockedBy
			if next.BlockedBy == "" {
				next.BlockedBy = p.Prompt
			}
		case *agenttypes.ClarificationRequestAction:
			next.BlockedBy = p.Question
		}
	}
	next.TurnCount++
	return Result{OK: true, NextState: next}
}
