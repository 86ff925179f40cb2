package agenttypes_test

import (
	"encoding/json"
	"testing"

	"github.com/contenox/analyst/agenttypes"
	"github.com/stretchr/testify/require"
)

func TestUnit_Action_DecodesPayloadByResponseType(t *testing.T) {
	raw := `{"actions":[
		{"responseType":"plan_state_update","stepId":"greet-user","stateTag":"1700000000000-1","goal":"g","progress":"p",
		 "nextSteps":[{"id":"greet-user","label":"Greet","status":"ready"}],"steps":[{"id":"greet-user","label":"Greet","status":"ready"}],
		 "currentStepId":"greet-user","observationIds":[]},
		{"responseType":"dom_action","stepId":"greet-user","stateTag":"1700000000000-2","toolCall":{"tool":"removeCard","target":{"byTitle":"Sales"}}}
	]}`
	env, err := agenttypes.ParseEnvelope([]byte(raw))
	require.NoError(t, err)
	require.Len(t, env.Actions, 2)

	upd, ok := env.Actions[0].PlanUpdate()
	require.True(t, ok)
	require.Equal(t, "greet-user", upd.CurrentStepID)

	dom, ok := env.Actions[1].Payload.(*agenttypes.DOMAction)
	require.True(t, ok)
	require.Equal(t, "removeCard", dom.ToolCall.Tool)
	require.Equal(t, "Sales", dom.ToolCall.Target.ByTitle)
	require.True(t, env.Actions[1].ResponseType.IsTool())
}

func TestUnit_Action_UnknownResponseType(t *testing.T) {
	var a agenttypes.Action
	err := json.Unmarshal([]byte(`{"responseType":"launch_rocket"}`), &a)
	require.ErrorIs(t, err, agenttypes.ErrUnknownResponseType)
}

func TestUnit_Action_MarshalIsFlat(t *testing.T) {
	a := agenttypes.NewAction(&agenttypes.TextResponse{Text: "hello"}, "greet-user", "1-1", "say hi")
	raw, err := json.Marshal(a)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	require.Equal(t, "text_response", fields["responseType"])
	require.Equal(t, "hello", fields["text"])
	require.Equal(t, "greet-user", fields["stepId"])
}

func TestUnit_Action_CloneIsIndependent(t *testing.T) {
	orig := agenttypes.NewAction(&agenttypes.ClarificationRequestAction{
		Question:       "Which column?",
		Options:        []agenttypes.ClarificationOption{{Label: "Revenue", Value: "revenue"}},
		PendingPlan:    map[string]any{"responseType": "create_chart"},
		TargetProperty: "x",
	}, "pick-column", "1-1", "")
	cp, err := orig.Clone()
	require.NoError(t, err)

	cp.Payload.(*agenttypes.ClarificationRequestAction).Options[0].Value = "changed"
	require.Equal(t, "revenue", orig.Payload.(*agenttypes.ClarificationRequestAction).Options[0].Value)
}

func TestUnit_Action_AsksUser(t *testing.T) {
	single := agenttypes.NewAction(&agenttypes.ClarificationRequestAction{
		Options: []agenttypes.ClarificationOption{{Label: "a", Value: "a"}},
	}, "", "", "")
	multi := agenttypes.NewAction(&agenttypes.ClarificationRequestAction{
		Options: []agenttypes.ClarificationOption{{Label: "a", Value: "a"}, {Label: "b", Value: "b"}},
	}, "", "", "")
	wait := agenttypes.NewAction(&agenttypes.AwaitUser{Prompt: "upload a file"}, "", "", "")

	require.False(t, single.AsksUser())
	require.True(t, multi.AsksUser())
	require.True(t, wait.AsksUser())
}

func TestUnit_PlanState_Check(t *testing.T) {
	p := &agenttypes.PlanState{
		Steps:         []agenttypes.PlanStep{{ID: "load-data", Label: "Load", Status: agenttypes.StepReady}},
		NextSteps:     []agenttypes.PlanStep{{ID: "load-data", Label: "Load", Status: agenttypes.StepReady}},
		CurrentStepID: "load-data",
	}
	require.NoError(t, p.Check())

	p.CurrentStepID = "missing"
	require.ErrorIs(t, p.Check(), agenttypes.ErrUnknownCurrentStep)

	p.CurrentStepID = "load-data"
	p.NextSteps = nil
	require.ErrorIs(t, p.Check(), agenttypes.ErrEmptyNextSteps)

	p.BlockedBy = "waiting for upload"
	require.NoError(t, p.Check())
}

func TestUnit_ValidStepID(t *testing.T) {
	require.True(t, agenttypes.ValidStepID("load-data"))
	require.False(t, agenttypes.ValidStepID("ab"))
	require.False(t, agenttypes.ValidStepID("Load_Data"))
}
