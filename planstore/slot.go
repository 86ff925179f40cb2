package planstore

import "github.com/contenox/analyst/agenttypes"

// Slot holds the one live plan of a session. Replace swaps the whole
// snapshot; there is no field-level update.
type Slot struct {
	current  *agenttypes.PlanState
	replaced []*agenttypes.PlanState
}

// SlotState is a copy of a slot, used for session snapshots.
type SlotState struct {
	Current  *agenttypes.PlanState
	Replaced []*agenttypes.PlanState
}

func NewSlot() *Slot { return &Slot{} }

// Get returns a copy of the current plan, or nil.
func (s *Slot) Get() *agenttypes.PlanState { return s.current.Clone() }

func (s *Slot) Exists() bool { return s.current != nil }

func (s *Slot) Replace(p *agenttypes.PlanState) {
	s.current = p.Clone()
	s.replaced = append(s.replaced, p.Clone())
}

// Replaced returns the snapshots recorded since the last MarkPersisted.
func (s *Slot) Replaced() []*agenttypes.PlanState {
	return cloneAll(s.replaced)
}

func (s *Slot) MarkPersisted() { s.replaced = nil }

// Load sets the current plan without recording a replacement.
func (s *Slot) Load(p *agenttypes.PlanState) {
	s.current = p.Clone()
	s.replaced = nil
}

func (s *Slot) State() SlotState {
	return SlotState{Current: s.current.Clone(), Replaced: cloneAll(s.replaced)}
}

func (s *Slot) Restore(st SlotState) {
	s.current = st.Current.Clone()
	s.replaced = cloneAll(st.Replaced)
}

func cloneAll(ps []*agenttypes.PlanState) []*agenttypes.PlanState {
	if ps == nil {
		return nil
	}
	out := make([]*agenttypes.PlanState, len(ps))
	for i, p := range ps {
		out[i] = p.Clone()
	}
	return out
}
