// Package agenttypes holds the records exchanged between the model responder,
// the turn orchestrator and the tool-execution layer.
//
// Action is a closed tagged union: the ResponseType selects exactly one
// Payload implementation, and every consumer that needs per-kind behaviour
// implements PayloadVisitor, so adding a kind breaks the build until each
// consumer handles it.
package agenttypes

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownResponseType = errors.New("unknown responseType")

type ResponseType string

const (
	ResponsePlanStateUpdate      ResponseType = "plan_state_update"
	ResponseTextResponse         ResponseType = "text_response"
	ResponseDOMAction            ResponseType = "dom_action"
	ResponseExecuteJSCode        ResponseType = "execute_js_code"
	ResponseFilterSpreadsheet    ResponseType = "filter_spreadsheet"
	ResponseClarificationRequest ResponseType = "clarification_request"
	ResponsePlanCreation         ResponseType = "plan_creation"
	ResponseAwaitUser            ResponseType = "await_user"
	ResponseCreateChart          ResponseType = "create_chart"
)

// AllResponseTypes lists every kind in declaration order.
var AllResponseTypes = []ResponseType{
	ResponsePlanStateUpdate,
	ResponseTextResponse,
	ResponseDOMAction,
	ResponseExecuteJSCode,
	ResponseFilterSpreadsheet,
	ResponseClarificationRequest,
	ResponsePlanCreation,
	ResponseAwaitUser,
	ResponseCreateChart,
}

// IsTool reports whether the kind is dispatched to the tool-execution layer.
// The other kinds are conversational or bookkeeping and handled in-process.
func (r ResponseType) IsTool() bool {
	switch r {
	case ResponseDOMAction, ResponseExecuteJSCode, ResponseFilterSpreadsheet, ResponseCreateChart:
		return true
	}
	return false
}

// PayloadVisitor has one method per action kind.
type PayloadVisitor interface {
	VisitPlanStateUpdate(p *PlanStateUpdate) error
	VisitTextResponse(p *TextResponse) error
	VisitDOMAction(p *DOMAction) error
	VisitExecuteJSCode(p *ExecuteJSCode) error
	VisitFilterSpreadsheet(p *FilterSpreadsheet) error
	VisitClarificationRequest(p *ClarificationRequestAction) error
	VisitPlanCreation(p *PlanCreation) error
	VisitAwaitUser(p *AwaitUser) error
	VisitCreateChart(p *CreateChart) error
}

// Payload is implemented only by the payload structs in this package.
type Payload interface {
	Kind() ResponseType
	Accept(v PayloadVisitor) error
	sealed()
}

// Action is one proposed unit of work.
type Action struct {
	ResponseType ResponseType
	StepID       string
	StateTag     string
	Reason       string
	// AutoInserted marks actions the orchestrator created rather than the model.
	AutoInserted bool
	Payload      Payload
}

type actionHeader struct {
	ResponseType ResponseType `json:"responseType"`
	StepID       string       `json:"stepId,omitempty"`
	StateTag     string       `json:"stateTag,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	AutoInserted bool         `json:"autoInserted,omitempty"`
}

// NewAction builds an action whose ResponseType matches its payload.
func NewAction(p Payload, stepID, stateTag, reason string) Action {
	return Action{
		ResponseType: p.Kind(),
		StepID:       stepID,
		StateTag:     stateTag,
		Reason:       reason,
		Payload:      p,
	}
}

func newPayload(rt ResponseType) (Payload, error) {
	switch rt {
	case ResponsePlanStateUpdate:
		return &PlanStateUpdate{}, nil
	case ResponseTextResponse:
		return &TextResponse{}, nil
	case ResponseDOMAction:
		return &DOMAction{}, nil
	case ResponseExecuteJSCode:
		return &ExecuteJSCode{}, nil
	case ResponseFilterSpreadsheet:
		return &FilterSpreadsheet{}, nil
	case ResponseClarificationRequest:
		return &ClarificationRequestAction{}, nil
	case ResponsePlanCreation:
		return &PlanCreation{}, nil
	case ResponseAwaitUser:
		return &AwaitUser{}, nil
	case ResponseCreateChart:
		return &CreateChart{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownResponseType, rt)
}

// MarshalJSON writes the header and payload fields into one flat object.
func (a Action) MarshalJSON() ([]byte, error) {
	fields := map[string]any{}
	if a.Payload != nil {
		raw, err := json.Marshal(a.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", a.ResponseType, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("flatten %s payload: %w", a.ResponseType, err)
		}
	}
	rt := a.ResponseType
	if rt == "" && a.Payload != nil {
		rt = a.Payload.Kind()
	}
	fields["responseType"] = rt
	if a.StepID != "" {
		fields["stepId"] = a.StepID
	}
	if a.StateTag != "" {
		fields["stateTag"] = a.StateTag
	}
	if a.Reason != "" {
		fields["reason"] = a.Reason
	}
	if a.AutoInserted {
		fields["autoInserted"] = true
	}
	return json.Marshal(fields)
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var h actionHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	p, err := newPayload(h.ResponseType)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("decode %s payload: %w", h.ResponseType, err)
	}
	*a = Action{
		ResponseType: h.ResponseType,
		StepID:       h.StepID,
		StateTag:     h.StateTag,
		Reason:       h.Reason,
		AutoInserted: h.AutoInserted,
		Payload:      p,
	}
	return nil
}

// Clone returns a deep copy. Repairs always work on a clone so the model's
// original proposal stays intact in the ledger.
func (a Action) Clone() (Action, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return Action{}, err
	}
	var out Action
	if err := json.Unmarshal(raw, &out); err != nil {
		return Action{}, err
	}
	return out, nil
}

// DecodeActionMap turns a loosely typed object (for example a clarification's
// completed pending plan) into an Action.
func DecodeActionMap(m map[string]any) (Action, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return Action{}, err
	}
	var a Action
	if err := json.Unmarshal(raw, &a); err != nil {
		return Action{}, err
	}
	return a, nil
}

// AsksUser reports whether executing the action leaves the agent unable to
// proceed without a reply.
func (a Action) AsksUser() bool {
	switch p := a.Payload.(type) {
	case *AwaitUser:
		return true
	case *ClarificationRequestAction:
		return len(p.Options) > 1
	}
	return false
}

// PlanUpdate returns the payload when the action is a plan_state_update.
func (a Action) PlanUpdate() (*PlanStateUpdate, bool) {
	p, ok := a.Payload.(*PlanStateUpdate)
	return p, ok
}

// Envelope is the model responder's reply.
type Envelope struct {
	Actions []Action `json:"actions"`
}

func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid action envelope: %w", err)
	}
	return env, nil
}
