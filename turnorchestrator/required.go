package turnorchestrator

import (
	"encoding/json"
	"strings"

	"dario.cat/mergo"
	"github.com/PaesslerAG/jsonpath"
	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/guard"
)

// insertRequiredTool adds the tool the detected intent requires when the
// batch does not propose it. Atomic actions that no longer fit the turn
// budget are displaced.
func (p *pass) insertRequiredTool(actions []agenttypes.Action) []agenttypes.Action {
	rt := p.s.Intent.RequiredTool()
	if rt == nil || p.s.Intent.Satisfied {
		return actions
	}
	for _, a := range actions {
		if satisfies(a, rt) {
			return actions
		}
	}
	required, err := buildRequired(p.s.Intent.Detected, p.s.UI)
	if err != nil {
		p.event(rt.ResponseType, "required_tool_not_inserted", -1,
			"The request requires a "+string(rt.ResponseType)+" action; propose it explicitly.")
		return actions
	}

	var head, rest []agenttypes.Action
	if len(actions) > 0 && actions[0].ResponseType == agenttypes.ResponsePlanStateUpdate {
		head, rest = actions[:1], actions[1:]
	} else {
		rest = actions
	}
	out := append(append([]agenttypes.Action(nil), head...), required)
	at := len(out) - 1
	for i, a := range rest {
		if len(out) >= guard.TurnBudget && len(head) > 0 {
			p.event(a.ResponseType, "auto_action_displaced", len(head)+i, "")
			continue
		}
		out = append(out, a)
	}
	p.event(rt.ResponseType, "auto_required_tool_inserted", at, "")
	p.inserted = true
	return out
}

func satisfies(a agenttypes.Action, rt *agenttypes.RequiredTool) bool {
	if a.ResponseType != rt.ResponseType {
		return false
	}
	if dom, ok := a.Payload.(*agenttypes.DOMAction); ok && rt.DOMToolName != "" {
		return dom.ToolCall.Tool == "" || dom.ToolCall.Tool == rt.DOMToolName
	}
	return true
}

// buildRequired builds a best-effort action from the intent's hints. The
// required tool's hints win over the intent's general hints; string hints
// starting with "$" are JSONPath expressions evaluated against the UI state.
func buildRequired(intent *agenttypes.DetectedIntent, ui agenttypes.UIState) (agenttypes.Action, error) {
	rt := intent.RequiredTool
	hints := map[string]any{}
	for k, v := range rt.PayloadHints {
		hints[k] = v
	}
	if len(intent.PayloadHints) > 0 {
		if err := mergo.Merge(&hints, intent.PayloadHints); err != nil {
			return agenttypes.Action{}, err
		}
	}
	hints, err := resolveHints(hints, ui)
	if err != nil {
		return agenttypes.Action{}, err
	}

	m := map[string]any{"responseType": string(rt.ResponseType)}
	if rt.ResponseType == agenttypes.ResponseDOMAction {
		m["toolCall"] = map[string]any{"tool": rt.DOMToolName, "args": hints}
	} else if len(hints) > 0 {
		if err := mergo.Merge(&m, hints); err != nil {
			return agenttypes.Action{}, err
		}
	}
	a, err := agenttypes.DecodeActionMap(m)
	if err != nil {
		return agenttypes.Action{}, err
	}
	a.AutoInserted = true
	a.Reason = "required by detected intent " + intent.Intent
	return a, nil
}

func resolveHints(hints map[string]any, ui agenttypes.UIState) (map[string]any, error) {
	var doc any
	needsDoc := false
	for _, v := range hints {
		if s, ok := v.(string); ok && strings.HasPrefix(s, "$") {
			needsDoc = true
			break
		}
	}
	if needsDoc {
		raw, err := json.Marshal(ui)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
	}

	out := make(map[string]any, len(hints))
	for k, v := range hints {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, "$") {
			out[k] = v
			continue
		}
		res, err := jsonpath.Get(s, doc)
		if err != nil || res == nil {
			continue
		}
		if list, ok := res.([]any); ok {
			if len(list) == 0 {
				continue
			}
			res = list[0]
		}
		out[k] = res
	}
	return out, nil
}
