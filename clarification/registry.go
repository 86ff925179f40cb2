// Package clarification owns the pause/resume protocol for questions the
// agent asks the user.
package clarification

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/contenox/analyst/agenttypes"
)

var (
	ErrNotFound      = errors.New("clarification not found")
	ErrInvalidChoice = errors.New("choice does not match any option")
	ErrNoOptions     = errors.New("clarification has no options")
)

// Resolution is handed back to the workflow so the next turn can complete
// the pending plan.
type Resolution struct {
	RequestID      string
	TargetProperty string
	Value          string
	Label          string
	// CompletedPlan is the pending plan with Value spliced in at TargetProperty.
	CompletedPlan map[string]any
}

// Registry is owned by one session and is not safe for concurrent use.
type Registry struct {
	pending map[string]*agenttypes.ClarificationRequest
	history func(agenttypes.Message)
	now     func() time.Time
}

// New returns a registry that records chosen answers through appendHistory.
func New(appendHistory func(agenttypes.Message), now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	if appendHistory == nil {
		appendHistory = func(agenttypes.Message) {}
	}
	return &Registry{
		pending: map[string]*agenttypes.ClarificationRequest{},
		history: appendHistory,
		now:     now,
	}
}

// Register records a question. A question with a single option answers
// itself: it is returned already resolved together with its Resolution and
// is never stored.
func (r *Registry) Register(q *agenttypes.ClarificationRequestAction) (agenttypes.ClarificationRequest, *Resolution, error) {
	if len(q.Options) == 0 {
		return agenttypes.ClarificationRequest{}, nil, ErrNoOptions
	}
	req := agenttypes.ClarificationRequest{
		ID:             agenttypes.NewID("clar"),
		Question:       q.Question,
		Options:        append([]agenttypes.ClarificationOption(nil), q.Options...),
		PendingPlan:    clonePlan(q.PendingPlan),
		TargetProperty: q.TargetProperty,
		Status:         agenttypes.ClarificationPending,
		CreatedAt:      r.now().UTC(),
	}
	if len(req.Options) == 1 {
		res, err := complete(req, req.Options[0])
		if err != nil {
			return agenttypes.ClarificationRequest{}, nil, err
		}
		req.Status = agenttypes.ClarificationResolved
		return req, res, nil
	}
	stored := req
	r.pending[req.ID] = &stored
	return req, nil, nil
}

// Resolve answers a pending question. choice may be an option value or label.
func (r *Registry) Resolve(id, choice string) (*Resolution, error) {
	req, ok := r.pending[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	opt, ok := matchOption(req.Options, choice)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
	}
	req.Status = agenttypes.ClarificationResolving
	res, err := complete(*req, opt)
	if err != nil {
		req.Status = agenttypes.ClarificationPending
		return nil, err
	}
	delete(r.pending, id)
	r.history(agenttypes.Message{
		ID:        agenttypes.NewID("msg"),
		Role:      agenttypes.RoleUser,
		Content:   opt.Label,
		Synthetic: true,
		Timestamp: r.now().UTC(),
	})
	return res, nil
}

// SkipAll marks every pending question skipped and removes it.
func (r *Registry) SkipAll() []agenttypes.ClarificationRequest {
	skipped := r.Pending()
	for i := range skipped {
		skipped[i].Status = agenttypes.ClarificationSkipped
	}
	clear(r.pending)
	return skipped
}

func (r *Registry) HasPending() bool { return len(r.pending) > 0 }

func (r *Registry) Get(id string) (agenttypes.ClarificationRequest, error) {
	req, ok := r.pending[id]
	if !ok {
		return agenttypes.ClarificationRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *req, nil
}

// Pending lists open questions, oldest first.
func (r *Registry) Pending() []agenttypes.ClarificationRequest {
	out := make([]agenttypes.ClarificationRequest, 0, len(r.pending))
	for _, req := range r.pending {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Load replaces the registry's contents, used to restore a session snapshot.
func (r *Registry) Load(reqs []agenttypes.ClarificationRequest) {
	clear(r.pending)
	for _, req := range reqs {
		cp := req
		r.pending[req.ID] = &cp
	}
}

func matchOption(opts []agenttypes.ClarificationOption, choice string) (agenttypes.ClarificationOption, bool) {
	for _, o := range opts {
		if o.Value == choice {
			return o, true
		}
	}
	for _, o := range opts {
		if strings.EqualFold(o.Label, choice) {
			return o, true
		}
	}
	return agenttypes.ClarificationOption{}, false
}

func complete(req agenttypes.ClarificationRequest, opt agenttypes.ClarificationOption) (*Resolution, error) {
	plan := clonePlan(req.PendingPlan)
	if plan == nil {
		plan = map[string]any{}
	}
	if err := Splice(plan, req.TargetProperty, opt.Value); err != nil {
		return nil, err
	}
	return &Resolution{
		RequestID:      req.ID,
		TargetProperty: req.TargetProperty,
		Value:          opt.Value,
		Label:          opt.Label,
		CompletedPlan:  plan,
	}, nil
}

// Splice sets value at a dotted path inside m, creating intermediate objects.
func Splice(m map[string]any, path string, value any) error {
	if path == "" {
		return errors.New("empty target property")
	}
	keys := strings.Split(path, ".")
	cur := m
	for _, k := range keys[:len(keys)-1] {
		next, ok := cur[k]
		if !ok || next == nil {
			child := map[string]any{}
			cur[k] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("target property %q: %q is not an object", path, k)
		}
		cur = child
	}
	cur[keys[len(keys)-1]] = value
	return nil
}

func clonePlan(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return m
	}
	return out
}
