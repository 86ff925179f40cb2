package toolexec

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/dataset"
)

type condition struct {
	column string
	op     string
	value  string
}

// Longer phrases come first so "greater than or equal" wins over "greater than".
var operatorPhrases = []struct {
	phrase string
	op     string
}{
	{"greater than or equal to", ">="},
	{"less than or equal to", "<="},
	{"at least", ">="},
	{"at most", "<="},
	{"greater than", ">"},
	{"more than", ">"},
	{"less than", "<"},
	{"fewer than", "<"},
	{"not equal to", "!="},
	{"equal to", "="},
	{"equals", "="},
	{"contains", "contains"},
	{"containing", "contains"},
	{"above", ">"},
	{"over", ">"},
	{"below", "<"},
	{"under", "<"},
	{">=", ">="},
	{"<=", "<="},
	{"!=", "!="},
	{">", ">"},
	{"<", "<"},
	{"=", "="},
	{"is", "="},
}

var valuePattern = regexp.MustCompile(`^\s*["']?([^"']+?)["']?\s*(?:$|[,;]|\.\s| and | or )`)

// parseCondition finds a known column in q, then the first operator phrase
// after it, then the value following the operator. Offsets found in the
// folded query index q directly.
func parseCondition(q string, columns []string) (condition, error) {
	lower := foldCase(q)
	cols := append([]string(nil), columns...)
	sort.Slice(cols, func(i, j int) bool { return len(cols[i]) > len(cols[j]) })

	for _, col := range cols {
		at := strings.Index(lower, foldCase(col))
		if at < 0 {
			continue
		}
		rest := lower[at+len(col):]
		restOrig := q[at+len(col):]
		best, bestAt := -1, len(rest)
		for i, p := range operatorPhrases {
			j := indexWord(rest, p.phrase)
			if j >= 0 && j < bestAt {
				best, bestAt = i, j
			}
		}
		if best < 0 {
			continue
		}
		tail := restOrig[bestAt+len(operatorPhrases[best].phrase):]
		m := valuePattern.FindStringSubmatch(tail + " ")
		if m == nil || strings.TrimSpace(m[1]) == "" {
			continue
		}
		return condition{column: col, op: operatorPhrases[best].op, value: strings.TrimSpace(m[1])}, nil
	}
	return condition{}, fmt.Errorf("could not find a condition on a known column in %q", q)
}

// foldCase lower-cases s rune by rune, keeping any rune whose lower-case
// form has a different encoded length, so byte offsets stay the same.
func foldCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteByte(s[i])
			i++
			continue
		}
		if l := unicode.ToLower(r); utf8.RuneLen(l) == size {
			r = l
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

// indexWord finds phrase in s; alphabetic phrases must sit on word boundaries.
func indexWord(s, phrase string) int {
	alpha := phrase[0] >= 'a' && phrase[0] <= 'z'
	from := 0
	for {
		j := strings.Index(s[from:], phrase)
		if j < 0 {
			return -1
		}
		j += from
		if !alpha {
			return j
		}
		before := j == 0 || !isWordByte(s[j-1])
		end := j + len(phrase)
		after := end >= len(s) || !isWordByte(s[end])
		if before && after {
			return j
		}
		from = j + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func (c condition) match(row dataset.Row) bool {
	v, ok := row[c.column]
	if !ok || v == nil {
		return false
	}
	if c.op == "contains" {
		return strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(c.value))
	}
	want, wantErr := strconv.ParseFloat(c.value, 64)
	got, gotOK := toFloat(v)
	if wantErr == nil && gotOK {
		switch c.op {
		case ">":
			return got > want
		case ">=":
			return got >= want
		case "<":
			return got < want
		case "<=":
			return got <= want
		case "=":
			return got == want
		case "!=":
			return got != want
		}
		return false
	}
	s := strings.ToLower(fmt.Sprint(v))
	switch c.op {
	case "=":
		return s == strings.ToLower(c.value)
	case "!=":
		return s != strings.ToLower(c.value)
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// filter reports which rows match; the working table is not changed.
func filter(req Request, p *agenttypes.FilterSpreadsheet) Result {
	if len(req.Columns) == 0 {
		return failure("no_dataset", fmt.Errorf("no dataset is loaded"))
	}
	cond, err := parseCondition(p.Query, req.Columns)
	if err != nil {
		return failure("unparseable_query", err)
	}
	matched := 0
	for _, row := range req.Rows {
		if cond.match(row) {
			matched++
		}
	}
	return success(map[string]any{
		"column":      cond.column,
		"operator":    cond.op,
		"value":       cond.value,
		"matchedRows": matched,
		"totalRows":   len(req.Rows),
	})
}
