package modelresponder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/contextbundle"
	"gopkg.in/yaml.v3"
)

var ErrScriptExhausted = errors.New("scripted responder has no turns left")

// Script is a recorded conversation: one entry per model turn.
type Script struct {
	Turns [][]map[string]any `yaml:"turns" json:"turns"`
}

// Scripted replays fixed batches in order and records every bundle it saw.
type Scripted struct {
	mu      sync.Mutex
	turns   [][]agenttypes.Action
	next    int
	bundles []contextbundle.Bundle
}

func NewScripted(turns ...[]agenttypes.Action) *Scripted {
	return &Scripted{turns: turns}
}

// FromScript decodes each action map with the same codec the model path uses.
func FromScript(s Script) (*Scripted, error) {
	turns := make([][]agenttypes.Action, 0, len(s.Turns))
	for i, raw := range s.Turns {
		batch := make([]agenttypes.Action, 0, len(raw))
		for j, m := range raw {
			a, err := agenttypes.DecodeActionMap(normalize(m).(map[string]any))
			if err != nil {
				return nil, fmt.Errorf("turn %d action %d: %w", i+1, j, err)
			}
			batch = append(batch, a)
		}
		turns = append(turns, batch)
	}
	return NewScripted(turns...), nil
}

// LoadScript reads a YAML (or JSON) script file.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("parse script %s: %w", path, err)
	}
	return s, nil
}

func (s *Scripted) Respond(_ context.Context, bundle contextbundle.Bundle) (agenttypes.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles = append(s.bundles, bundle)
	if s.next >= len(s.turns) {
		return agenttypes.Envelope{}, ErrScriptExhausted
	}
	batch := s.turns[s.next]
	s.next++
	out := make([]agenttypes.Action, 0, len(batch))
	for _, a := range batch {
		c, err := a.Clone()
		if err != nil {
			return agenttypes.Envelope{}, err
		}
		out = append(out, c)
	}
	return agenttypes.Envelope{Actions: out}, nil
}

func (s *Scripted) Bundles() []contextbundle.Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]contextbundle.Bundle(nil), s.bundles...)
}

// Remaining is the number of unplayed turns.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns) - s.next
}

// normalize turns yaml's map[any]any into JSON-shaped maps.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	}
	return v
}
