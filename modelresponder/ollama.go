// Package modelresponder holds the model side of the planner loop: an Ollama
// chat client that asks for a JSON action envelope, a scripted responder for
// replays and tests, and a circuit-breaker decorator.
package modelresponder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/contextbundle"
	"github.com/contenox/analyst/libtracker"
	"github.com/ollama/ollama/api"
)

// Responder proposes the next action batch for a context bundle.
type Responder interface {
	Respond(ctx context.Context, bundle contextbundle.Bundle) (agenttypes.Envelope, error)
}

var (
	ErrEmptyResponse = errors.New("model returned no content")
	ErrBadEnvelope   = errors.New("model reply is not an action envelope")
)

type Ollama struct {
	client  *api.Client
	model   string
	system  string
	options map[string]any
	tracker libtracker.ActivityTracker
}

type OllamaOption func(*Ollama)

func WithSystemPrompt(prompt string) OllamaOption { return func(o *Ollama) { o.system = prompt } }

func WithTemperature(t float64) OllamaOption {
	return func(o *Ollama) { o.options["temperature"] = t }
}

func WithOllamaTracker(t libtracker.ActivityTracker) OllamaOption {
	return func(o *Ollama) { o.tracker = t }
}

// NewOllama talks to the Ollama server at baseURL. A nil httpClient uses
// http.DefaultClient.
func NewOllama(baseURL, model string, httpClient *http.Client, opts ...OllamaOption) (*Ollama, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	if model == "" {
		return nil, fmt.Errorf("ollama: model name is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	o := &Ollama{
		client:  api.NewClient(u, httpClient),
		model:   model,
		system:  SystemPrompt,
		options: map[string]any{},
		tracker: libtracker.NoopTracker{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Ollama) Respond(ctx context.Context, bundle contextbundle.Bundle) (agenttypes.Envelope, error) {
	reportErr, reportChange, end := o.tracker.Start(ctx, "respond", "ollama", "model", o.model)
	defer end()

	payload, err := bundle.JSON()
	if err != nil {
		reportErr(err)
		return agenttypes.Envelope{}, fmt.Errorf("encode context bundle: %w", err)
	}

	stream := false
	think := api.ThinkValue{Value: false}
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{Role: "system", Content: o.system},
			{Role: "user", Content: string(payload)},
		},
		Stream:  &stream,
		Think:   &think,
		Format:  json.RawMessage(`"json"`),
		Options: o.options,
	}

	var final api.ChatResponse
	err = o.client.Chat(ctx, req, func(res api.ChatResponse) error {
		if res.Done {
			final = res
		}
		return nil
	})
	if err != nil {
		reportErr(err)
		return agenttypes.Envelope{}, fmt.Errorf("ollama chat request failed for model %s: %w", o.model, err)
	}
	if final.DoneReason == "length" {
		err := fmt.Errorf("token limit reached for model %s", o.model)
		reportErr(err)
		return agenttypes.Envelope{}, err
	}
	if strings.TrimSpace(final.Message.Content) == "" {
		reportErr(ErrEmptyResponse)
		return agenttypes.Envelope{}, fmt.Errorf("%w: model %s", ErrEmptyResponse, o.model)
	}

	env, err := DecodeReply(final.Message.Content)
	if err != nil {
		reportErr(err)
		return agenttypes.Envelope{}, err
	}
	reportChange("respond_completed", map[string]any{
		"actions":     len(env.Actions),
		"done_reason": final.DoneReason,
	})
	return env, nil
}

// DecodeReply accepts an envelope, a bare action array or a single action,
// optionally wrapped in a markdown code fence.
func DecodeReply(content string) (agenttypes.Envelope, error) {
	raw := []byte(stripFence(content))
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0:
		return agenttypes.Envelope{}, ErrEmptyResponse
	case trimmed[0] == '[':
		var actions []agenttypes.Action
		if err := json.Unmarshal(trimmed, &actions); err != nil {
			return agenttypes.Envelope{}, fmt.Errorf("%w: %w", ErrBadEnvelope, err)
		}
		return agenttypes.Envelope{Actions: actions}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return agenttypes.Envelope{}, fmt.Errorf("%w: %w", ErrBadEnvelope, err)
	}
	if _, single := fields["responseType"]; single {
		var a agenttypes.Action
		if err := json.Unmarshal(trimmed, &a); err != nil {
			return agenttypes.Envelope{}, fmt.Errorf("%w: %w", ErrBadEnvelope, err)
		}
		return agenttypes.Envelope{Actions: []agenttypes.Action{a}}, nil
	}
	if _, ok := fields["actions"]; !ok {
		return agenttypes.Envelope{}, fmt.Errorf("%w: missing actions", ErrBadEnvelope)
	}
	env, err := agenttypes.ParseEnvelope(trimmed)
	if err != nil {
		return agenttypes.Envelope{}, fmt.Errorf("%w: %w", ErrBadEnvelope, err)
	}
	return env, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
