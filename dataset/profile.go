package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/contenox/analyst/agenttypes"
)

// Profiles returns per-column type, distinct and null counts.
func (d *Dataset) Profiles() []agenttypes.ColumnProfile {
	out := make([]agenttypes.ColumnProfile, 0, len(d.columns))
	for _, c := range d.columns {
		p := agenttypes.ColumnProfile{Name: c}
		distinct := map[string]struct{}{}
		kinds := map[string]int{}
		for _, r := range d.rows {
			v, ok := r[c]
			if !ok || v == nil || v == "" {
				p.Nulls++
				continue
			}
			distinct[fmt.Sprint(v)] = struct{}{}
			kinds[kindOf(v)]++
		}
		p.Distinct = len(distinct)
		switch len(kinds) {
		case 0:
			p.Type = "empty"
		case 1:
			for k := range kinds {
				p.Type = k
			}
		default:
			p.Type = "mixed"
		}
		out = append(out, p)
	}
	return out
}

func kindOf(v any) string {
	switch v.(type) {
	case float64, float32, int, int64, int32:
		return "number"
	case bool:
		return "boolean"
	case string:
		return "string"
	}
	return "other"
}

// FromCSV reads a header row followed by records. Numeric and boolean cells
// become float64 and bool.
func FromCSV(name string, r io.Reader) (*Dataset, error) {
	rd := csv.NewReader(r)
	rd.TrimLeadingSpace = true
	records, err := rd.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("failed to read csv: no header row")
	}
	header := records[0]
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = parseCell(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return New(name, header, rows), nil
}

func parseCell(s string) any {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil && (strings.EqualFold(s, "true") || strings.EqualFold(s, "false")) {
		return b
	}
	return s
}
