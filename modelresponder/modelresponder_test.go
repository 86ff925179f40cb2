package modelresponder_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/contextbundle"
	"github.com/contenox/analyst/libroutine"
	"github.com/contenox/analyst/modelresponder"
	"github.com/stretchr/testify/require"
)

func TestUnit_DecodeReply_Shapes(t *testing.T) {
	cases := map[string]string{
		"envelope": `{"actions":[{"responseType":"text_response","text":"hi"}]}`,
		"array":    `[{"responseType":"text_response","text":"hi"}]`,
		"single":   `{"responseType":"text_response","text":"hi"}`,
		"fenced":   "```json\n{\"actions\":[{\"responseType\":\"text_response\",\"text\":\"hi\"}]}\n```",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			env, err := modelresponder.DecodeReply(in)
			require.NoError(t, err)
			require.Len(t, env.Actions, 1)
			require.Equal(t, "hi", env.Actions[0].Payload.(*agenttypes.TextResponse).Text)
		})
	}

	_, err := modelresponder.DecodeReply(`{"answer":"nope"}`)
	require.ErrorIs(t, err, modelresponder.ErrBadEnvelope)
	_, err = modelresponder.DecodeReply("not json")
	require.ErrorIs(t, err, modelresponder.ErrBadEnvelope)
}

func TestUnit_Ollama_RequestsJSONAndParsesReply(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		reply := `{"actions":[{"responseType":"text_response","text":"Hello"}]}`
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":       "test-model",
			"created_at":  time.Now().Format(time.RFC3339),
			"message":     map[string]any{"role": "assistant", "content": reply},
			"done":        true,
			"done_reason": "stop",
		})
	}))
	defer srv.Close()

	o, err := modelresponder.NewOllama(srv.URL, "test-model", srv.Client())
	require.NoError(t, err)
	env, err := o.Respond(context.Background(), contextbundle.Bundle{TurnBudget: 2, NextStateTag: "1-1"})
	require.NoError(t, err)
	require.Len(t, env.Actions, 1)

	require.Equal(t, "test-model", got["model"])
	require.Equal(t, "json", got["format"])
	require.Equal(t, false, got["stream"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	require.Equal(t, "system", msgs[0].(map[string]any)["role"])
	require.Contains(t, msgs[1].(map[string]any)["content"], `"nextStateTag":"1-1"`)
}

func TestUnit_Ollama_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":       "test-model",
			"message":     map[string]any{"role": "assistant", "content": ""},
			"done":        true,
			"done_reason": "stop",
		})
	}))
	defer srv.Close()

	o, err := modelresponder.NewOllama(srv.URL, "test-model", srv.Client())
	require.NoError(t, err)
	_, err = o.Respond(context.Background(), contextbundle.Bundle{})
	require.ErrorIs(t, err, modelresponder.ErrEmptyResponse)
}

func TestUnit_NewOllama_RequiresModel(t *testing.T) {
	_, err := modelresponder.NewOllama("http://localhost:11434", "", nil)
	require.Error(t, err)
}

func TestUnit_Scripted_ReplaysFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	script := `
turns:
  - - responseType: plan_state_update
      goal: Chart revenue
      progress: Starting
      nextSteps:
        - {id: make-chart, label: Make chart, status: ready}
      steps: []
      observationIds: []
    - responseType: create_chart
      chartType: bar
      title: Revenue
      x: month
      y: revenue
  - - responseType: text_response
      text: Done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o600))

	s, err := modelresponder.LoadScript(path)
	require.NoError(t, err)
	r, err := modelresponder.FromScript(s)
	require.NoError(t, err)
	require.Equal(t, 2, r.Remaining())

	env, err := r.Respond(context.Background(), contextbundle.Bundle{})
	require.NoError(t, err)
	require.Len(t, env.Actions, 2)
	c := env.Actions[1].Payload.(*agenttypes.CreateChart)
	require.Equal(t, "month", c.XColumn)

	_, err = r.Respond(context.Background(), contextbundle.Bundle{})
	require.NoError(t, err)
	_, err = r.Respond(context.Background(), contextbundle.Bundle{})
	require.ErrorIs(t, err, modelresponder.ErrScriptExhausted)
	require.Len(t, r.Bundles(), 3)
}

func TestUnit_FromScript_UnknownKind(t *testing.T) {
	_, err := modelresponder.FromScript(modelresponder.Script{Turns: [][]map[string]any{{{"responseType": "teleport"}}}})
	require.ErrorIs(t, err, agenttypes.ErrUnknownResponseType)
}

type failing struct{ calls int }

func (f *failing) Respond(context.Context, contextbundle.Bundle) (agenttypes.Envelope, error) {
	f.calls++
	return agenttypes.Envelope{}, errors.New("backend down")
}

func TestUnit_Breaker_OpensAfterThreshold(t *testing.T) {
	next := &failing{}
	b := modelresponder.WithBreaker(next, libroutine.NewRoutine(2, time.Hour))

	for range 2 {
		_, err := b.Respond(context.Background(), contextbundle.Bundle{})
		require.EqualError(t, err, "backend down")
	}
	require.Equal(t, libroutine.Open, b.State())

	_, err := b.Respond(context.Background(), contextbundle.Bundle{})
	require.ErrorIs(t, err, libroutine.ErrCircuitOpen)
	require.Equal(t, 2, next.calls)
}
