package guard

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/contenox/analyst/agenttypes"
)

// Tag is a parsed <epoch-ms>-<seq> state tag. Tags order by epoch, then seq.
type Tag struct {
	Epoch int64
	Seq   int64
}

func (t Tag) IsZero() bool { return t.Epoch == 0 && t.Seq == 0 }

func (t Tag) Less(o Tag) bool {
	if t.Epoch != o.Epoch {
		return t.Epoch < o.Epoch
	}
	return t.Seq < o.Seq
}

func (t Tag) String() string { return fmt.Sprintf("%d-%d", t.Epoch, t.Seq) }

// ParseTag parses a numeric tag. Sentinel tags do not parse.
func ParseTag(s string) (Tag, bool) {
	epoch, seq, ok := strings.Cut(s, "-")
	if !ok || epoch == "" || seq == "" {
		return Tag{}, false
	}
	e, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil || e <= 0 {
		return Tag{}, false
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil || n < 0 {
		return Tag{}, false
	}
	return Tag{Epoch: e, Seq: n}, true
}

// WellFormed reports whether s is a numeric tag or a named sentinel.
func WellFormed(s string) bool {
	if agenttypes.IsSentinelTag(s) {
		return true
	}
	_, ok := ParseTag(s)
	return ok
}

// TagSource mints tags that sort after everything it has seen.
type TagSource struct {
	now  func() time.Time
	last Tag
}

func NewTagSource(now func() time.Time) *TagSource {
	if now == nil {
		now = time.Now
	}
	return &TagSource{now: now}
}

func (s *TagSource) Next() string {
	epoch := s.now().UnixMilli()
	if epoch <= s.last.Epoch {
		s.last = Tag{Epoch: s.last.Epoch, Seq: s.last.Seq + 1}
	} else {
		s.last = Tag{Epoch: epoch, Seq: 1}
	}
	return s.last.String()
}

// Observe advances the source past an accepted tag.
func (s *TagSource) Observe(tag string) {
	if t, ok := ParseTag(tag); ok && s.last.Less(t) {
		s.last = t
	}
}

func (s *TagSource) Last() Tag { return s.last }

// Reset sets the high-water mark, used when restoring a session snapshot.
func (s *TagSource) Reset(t Tag) { s.last = t }
