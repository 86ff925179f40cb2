// Package dataset holds a session's working table and the transform that may
// be waiting for approval. A transform never touches the working table until
// it is approved.
package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/contenox/analyst/agenttypes"
)

var (
	ErrNoPendingChange     = errors.New("no pending change")
	ErrPendingChangeExists = errors.New("a change is already awaiting approval")
	ErrNoObservableChange  = errors.New("no observable changes")
	ErrStaleChange         = errors.New("pending change id does not match")
)

type Row map[string]any

// Delta summarizes how a transform changes the table.
type Delta struct {
	RowsBefore     int      `json:"rowsBefore"`
	RowsAfter      int      `json:"rowsAfter"`
	RowsAdded      int      `json:"rowsAdded"`
	RowsRemoved    int      `json:"rowsRemoved"`
	RowsChanged    int      `json:"rowsChanged"`
	ColumnsAdded   []string `json:"columnsAdded,omitempty"`
	ColumnsRemoved []string `json:"columnsRemoved,omitempty"`
}

func (d Delta) Empty() bool {
	return d.RowsAdded == 0 && d.RowsRemoved == 0 && d.RowsChanged == 0 &&
		len(d.ColumnsAdded) == 0 && len(d.ColumnsRemoved) == 0
}

// Map renders the delta for an observation's outputs.
func (d Delta) Map() map[string]any {
	return map[string]any{
		"rowsBefore":     d.RowsBefore,
		"rowsAfter":      d.RowsAfter,
		"rowsAdded":      d.RowsAdded,
		"rowsRemoved":    d.RowsRemoved,
		"rowsChanged":    d.RowsChanged,
		"columnsAdded":   d.ColumnsAdded,
		"columnsRemoved": d.ColumnsRemoved,
	}
}

type PendingChange struct {
	ID          string    `json:"id"`
	ActionID    string    `json:"actionId"`
	Description string    `json:"description,omitempty"`
	Columns     []string  `json:"columns"`
	Rows        []Row     `json:"rows"`
	Delta       Delta     `json:"delta"`
	CreatedAt   time.Time `json:"createdAt"`
}

// State is a serializable copy of a Dataset.
type State struct {
	Name    string         `json:"name"`
	Columns []string       `json:"columns"`
	Rows    []Row          `json:"rows"`
	Pending *PendingChange `json:"pending,omitempty"`
}

type Dataset struct {
	name    string
	columns []string
	rows    []Row
	pending *PendingChange
}

func New(name string, columns []string, rows []Row) *Dataset {
	d := &Dataset{name: name}
	d.columns, d.rows = copyTable(columns, rows)
	return d
}

func (d *Dataset) Name() string { return d.name }

// Loaded reports whether the dataset has any columns.
func (d *Dataset) Loaded() bool { return len(d.columns) > 0 }

func (d *Dataset) Columns() []string { return slices.Clone(d.columns) }

// Rows returns a deep copy of the working rows.
func (d *Dataset) Rows() []Row {
	_, rows := copyTable(nil, d.rows)
	return rows
}

func (d *Dataset) Len() int { return len(d.rows) }

func (d *Dataset) Sample(n int) []Row {
	rows := d.Rows()
	if n >= 0 && n < len(rows) {
		rows = rows[:n]
	}
	return rows
}

// Stage records a transform result as pending. Results identical to the
// working table are refused with ErrNoObservableChange.
func (d *Dataset) Stage(actionID, description string, columns []string, rows []Row) (PendingChange, error) {
	if d.pending != nil {
		return PendingChange{}, ErrPendingChangeExists
	}
	if len(columns) == 0 {
		columns = InferColumns(rows, d.columns)
	}
	delta := Diff(d.columns, d.rows, columns, rows)
	if delta.Empty() {
		return PendingChange{}, ErrNoObservableChange
	}
	cols, cp := copyTable(columns, rows)
	d.pending = &PendingChange{
		ID:          agenttypes.NewID("change"),
		ActionID:    actionID,
		Description: description,
		Columns:     cols,
		Rows:        cp,
		Delta:       delta,
		CreatedAt:   time.Now().UTC(),
	}
	return *d.pending, nil
}

func (d *Dataset) Pending() (PendingChange, bool) {
	if d.pending == nil {
		return PendingChange{}, false
	}
	return *d.pending, true
}

// Approve swaps the working table for the pending result.
func (d *Dataset) Approve(id string) (Delta, error) {
	if d.pending == nil {
		return Delta{}, ErrNoPendingChange
	}
	if id != "" && id != d.pending.ID {
		return Delta{}, fmt.Errorf("%w: %s", ErrStaleChange, id)
	}
	p := d.pending
	d.columns, d.rows = p.Columns, p.Rows
	d.pending = nil
	return p.Delta, nil
}

// Discard drops the pending result and leaves the working table untouched.
func (d *Dataset) Discard(id string) error {
	if d.pending == nil {
		return ErrNoPendingChange
	}
	if id != "" && id != d.pending.ID {
		return fmt.Errorf("%w: %s", ErrStaleChange, id)
	}
	d.pending = nil
	return nil
}

// Fingerprint hashes the working table. Two datasets with equal columns and
// rows have equal fingerprints.
func (d *Dataset) Fingerprint() string {
	return fingerprint(d.columns, d.rows)
}

func fingerprint(columns []string, rows []Row) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(columns)
	for _, r := range rows {
		_ = enc.Encode(r)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dataset) Export() State {
	st := State{Name: d.name}
	st.Columns, st.Rows = copyTable(d.columns, d.rows)
	if d.pending != nil {
		p := *d.pending
		p.Columns, p.Rows = copyTable(p.Columns, p.Rows)
		st.Pending = &p
	}
	return st
}

func (d *Dataset) Load(st State) {
	d.name = st.Name
	d.columns, d.rows = copyTable(st.Columns, st.Rows)
	d.pending = nil
	if st.Pending != nil {
		p := *st.Pending
		p.Columns, p.Rows = copyTable(p.Columns, p.Rows)
		d.pending = &p
	}
}

// Diff compares two tables row by row.
func Diff(beforeCols []string, before []Row, afterCols []string, after []Row) Delta {
	delta := Delta{RowsBefore: len(before), RowsAfter: len(after)}
	if len(after) > len(before) {
		delta.RowsAdded = len(after) - len(before)
	} else {
		delta.RowsRemoved = len(before) - len(after)
	}
	for i := 0; i < min(len(before), len(after)); i++ {
		if rowKey(before[i]) != rowKey(after[i]) {
			delta.RowsChanged++
		}
	}
	delta.ColumnsAdded = setDiff(afterCols, beforeCols)
	delta.ColumnsRemoved = setDiff(beforeCols, afterCols)
	return delta
}

func rowKey(r Row) string {
	raw, _ := json.Marshal(r)
	return string(raw)
}

func setDiff(a, b []string) []string {
	var out []string
	for _, s := range a {
		if !slices.Contains(b, s) {
			out = append(out, s)
		}
	}
	return out
}

// InferColumns keeps the known column order and appends new keys sorted.
func InferColumns(rows []Row, known []string) []string {
	seen := map[string]bool{}
	for _, r := range rows {
		for k := range r {
			seen[k] = true
		}
	}
	var cols []string
	for _, c := range known {
		if seen[c] {
			cols = append(cols, c)
			delete(seen, c)
		}
	}
	extra := make([]string, 0, len(seen))
	for k := range seen {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	return append(cols, extra...)
}

func copyTable(columns []string, rows []Row) ([]string, []Row) {
	cols := slices.Clone(columns)
	if rows == nil {
		return cols, nil
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return cols, out
}
