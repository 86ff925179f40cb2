package agenttypes

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

type StepStatus string

const (
	StepReady      StepStatus = "ready"
	StepInProgress StepStatus = "in_progress"
	StepDone       StepStatus = "done"
)

type PlanStep struct {
	ID     string     `json:"id"`
	Label  string     `json:"label"`
	Intent string     `json:"intent,omitempty"`
	Status StepStatus `json:"status"`
}

// PlanState is the goal tracker. One live instance exists per session and it
// is only ever replaced wholesale.
type PlanState struct {
	PlanID         string     `json:"planId"`
	Goal           string     `json:"goal"`
	ContextSummary string     `json:"contextSummary,omitempty"`
	Progress       string     `json:"progress"`
	NextSteps      []PlanStep `json:"nextSteps"`
	Steps          []PlanStep `json:"steps"`
	CurrentStepID  string     `json:"currentStepId"`
	BlockedBy      string     `json:"blockedBy,omitempty"`
	ObservationIDs []string   `json:"observationIds"`
	Confidence     *float64   `json:"confidence,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	StateTag       string     `json:"stateTag"`
}

var stepIDPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidStepID reports whether id is kebab-case and at least three characters.
func ValidStepID(id string) bool {
	return len(id) >= 3 && stepIDPattern.MatchString(id)
}

func (p *PlanState) Step(id string) (PlanStep, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return PlanStep{}, false
}

// Complete reports whether every known step is done.
func (p *PlanState) Complete() bool {
	if len(p.Steps) == 0 {
		return false
	}
	for _, s := range p.Steps {
		if s.Status != StepDone {
			return false
		}
	}
	return true
}

var (
	ErrEmptyNextSteps     = errors.New("nextSteps is empty while the plan is neither complete nor blocked")
	ErrUnknownCurrentStep = errors.New("currentStepId does not reference a known step")
)

// Check verifies the structural invariants of a plan snapshot.
func (p *PlanState) Check() error {
	if len(p.NextSteps) == 0 && p.BlockedBy == "" && !p.Complete() && p.StateTag != TagPlanComplete {
		return ErrEmptyNextSteps
	}
	if _, ok := p.Step(p.CurrentStepID); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCurrentStep, p.CurrentStepID)
	}
	return nil
}

// Clone returns a deep copy.
func (p *PlanState) Clone() *PlanState {
	if p == nil {
		return nil
	}
	out := *p
	out.NextSteps = append([]PlanStep(nil), p.NextSteps...)
	out.Steps = append([]PlanStep(nil), p.Steps...)
	out.ObservationIDs = append([]string(nil), p.ObservationIDs...)
	if p.Confidence != nil {
		c := *p.Confidence
		out.Confidence = &c
	}
	return &out
}

// PlanFromUpdate materialises the snapshot carried by a plan_state_update.
func PlanFromUpdate(u *PlanStateUpdate, stateTag string, now time.Time) *PlanState {
	p := &PlanState{
		PlanID:         u.PlanID,
		Goal:           u.Goal,
		ContextSummary: u.ContextSummary,
		Progress:       u.Progress,
		NextSteps:      u.NextSteps,
		Steps:          u.Steps,
		CurrentStepID:  u.CurrentStepID,
		BlockedBy:      u.BlockedBy,
		ObservationIDs: u.ObservationIDs,
		Confidence:     u.Confidence,
		UpdatedAt:      now,
		StateTag:       stateTag,
	}
	return p.Clone()
}

// Named state tags accepted in place of the <epoch>-<seq> format.
const (
	TagAwaitingClarification = "awaiting_clarification"
	TagAwaitingUser          = "awaiting_user"
	TagPlanComplete          = "plan_complete"
)

// IsHaltingTag reports whether the tag means the agent cannot continue
// without user input.
func IsHaltingTag(tag string) bool {
	return tag == TagAwaitingClarification || tag == TagAwaitingUser
}

func IsSentinelTag(tag string) bool {
	return IsHaltingTag(tag) || tag == TagPlanComplete
}
