package libtracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ActivityTracker records the lifecycle of one operation.
//
// Start returns three callbacks: reportErr marks the operation failed,
// reportChange records the entity the operation produced or mutated, end
// closes the operation. Callers defer end() right after Start.
type ActivityTracker interface {
	Start(ctx context.Context, operation string, subject string, kvArgs ...any) (reportErr func(error), reportChange func(id string, data any), end func())
}

// NoopTracker discards everything.
type NoopTracker struct{}

func (NoopTracker) Start(context.Context, string, string, ...any) (func(error), func(string, any), func()) {
	return func(error) {}, func(string, any) {}, func() {}
}

var _ ActivityTracker = NoopTracker{}

// LogActivityTracker writes one structured log line per finished operation.
type LogActivityTracker struct {
	logger *slog.Logger
}

// NewLogActivityTracker falls back to slog.Default() when logger is nil.
func NewLogActivityTracker(logger *slog.Logger) *LogActivityTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogActivityTracker{logger: logger}
}

func (t *LogActivityTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	start := time.Now().UTC()
	attrs := []any{
		"operation", operation,
		"subject", subject,
	}
	if id := RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if id := RunIDFromContext(ctx); id != "" {
		attrs = append(attrs, "run_id", id)
	}
	attrs = append(attrs, pairs(kvArgs...)...)

	var opErr error
	var changedID string
	reportErr := func(err error) {
		if err != nil {
			opErr = err
		}
	}
	reportChange := func(id string, _ any) {
		changedID = id
	}
	end := func() {
		out := append(attrs, "duration", time.Since(start))
		if changedID != "" {
			out = append(out, "entity_id", changedID)
		}
		if opErr != nil {
			t.logger.ErrorContext(ctx, "operation failed", append(out, "error", opErr)...)
			return
		}
		t.logger.DebugContext(ctx, "operation finished", out...)
	}
	return reportErr, reportChange, end
}

var _ ActivityTracker = (*LogActivityTracker)(nil)

// pairs keeps only well-formed key/value pairs; a map argument is flattened.
func pairs(args ...any) []any {
	out := make([]any, 0, len(args))
	for i := 0; i < len(args); i++ {
		if m, ok := args[i].(map[string]any); ok {
			for k, v := range m {
				out = append(out, k, v)
			}
			continue
		}
		if i+1 >= len(args) {
			out = append(out, "extra", fmt.Sprint(args[i]))
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		out = append(out, key, args[i+1])
		i++
	}
	return out
}
