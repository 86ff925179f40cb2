package jseval

import (
	"context"
	"fmt"
	"time"

	"github.com/contenox/analyst/libtracker"
	"github.com/dop251/goja"
)

// Builtin is the plugin interface for VM globals.
type Builtin interface {
	Name() string
	Description() string
	Register(vm *goja.Runtime, ctx context.Context, tracker libtracker.ActivityTracker, col *Collector) error
}

// DefaultBuiltins are installed in every transform VM.
func DefaultBuiltins() []Builtin {
	return []Builtin{ConsoleBuiltin{}, GroupByBuiltin{}}
}

// ConsoleBuiltin registers console.log and console.error.
type ConsoleBuiltin struct{}

func (ConsoleBuiltin) Name() string { return "console" }

func (ConsoleBuiltin) Description() string {
	return "console.log(...) and console.error(...) for debugging. Output is captured with the transform result."
}

func (ConsoleBuiltin) Register(vm *goja.Runtime, ctx context.Context, tracker libtracker.ActivityTracker, col *Collector) error {
	consoleObj := vm.NewObject()
	for _, level := range []string{"log", "error"} {
		if err := consoleObj.Set(level, func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			if col != nil {
				col.Add(ExecLogEntry{
					Timestamp: time.Now().UTC(),
					Kind:      "console",
					Level:     level,
					Args:      args,
				})
			}
			return goja.Undefined()
		}); err != nil {
			return fmt.Errorf("failed to set console.%s: %w", level, err)
		}
	}
	if err := vm.Set("console", consoleObj); err != nil {
		return fmt.Errorf("failed to set console object: %w", err)
	}
	return nil
}

// GroupByBuiltin registers groupBy(rows, key), returning an object keyed by
// the stringified value of key with arrays of rows.
type GroupByBuiltin struct{}

func (GroupByBuiltin) Name() string { return "groupBy" }

func (GroupByBuiltin) Description() string {
	return "groupBy(rows, key): groups an array of row objects by one column."
}

func (GroupByBuiltin) Register(vm *goja.Runtime, ctx context.Context, tracker libtracker.ActivityTracker, col *Collector) error {
	_, err := vm.RunString(`function groupBy(rows, key) {
	var out = {};
	for (var i = 0; i < rows.length; i++) {
		var k = String(rows[i][key]);
		if (!out[k]) { out[k] = []; }
		out[k].push(rows[i]);
	}
	return out;
}`)
	if err != nil {
		return fmt.Errorf("failed to set groupBy: %w", err)
	}
	return nil
}
