// Package jseval runs model-written transformation bodies over dataset rows
// in a goja sandbox with a timeout and panic recovery.
package jseval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/contenox/analyst/libtracker"
	"github.com/dop251/goja"
)

// TransformFuncName is the function a transformation body is wrapped in.
const TransformFuncName = "__transform"

const DefaultTimeout = 5 * time.Second

var (
	ErrNotArray     = errors.New("transform did not return an array")
	ErrRowNotObject = errors.New("transform returned a row that is not an object")
)

// WrapTransform turns a body into a function declaration taking the dataset
// rows and column names.
func WrapTransform(body string) string {
	return "function " + TransformFuncName + "(rows, columns) {\n" + body + "\n}"
}

// Env is a configured JS environment.
type Env struct {
	tracker  libtracker.ActivityTracker
	builtins []Builtin
	timeout  time.Duration
}

func NewEnv(tracker libtracker.ActivityTracker, builtins []Builtin) *Env {
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	return &Env{tracker: tracker, builtins: builtins, timeout: DefaultTimeout}
}

// WithTimeout sets the per-execution limit.
func (e *Env) WithTimeout(d time.Duration) *Env {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// SetupVM registers every builtin on vm.
func (e *Env) SetupVM(ctx context.Context, vm *goja.Runtime, col *Collector) error {
	if vm == nil {
		return fmt.Errorf("vm is nil")
	}
	for _, b := range e.builtins {
		if err := b.Register(vm, ctx, e.tracker, col); err != nil {
			return fmt.Errorf("builtin %s: %w", b.Name(), err)
		}
	}
	return nil
}

// TransformResult is the outcome of one transformation.
type TransformResult struct {
	Rows    []map[string]any
	Logs    []ExecLogEntry
	Elapsed time.Duration
}

// RunTransform executes body against rows. Thrown errors, timeouts and
// non-array results are returned as errors.
func (e *Env) RunTransform(ctx context.Context, body string, columns []string, rows []map[string]any) (*TransformResult, error) {
	reportErr, reportChange, end := e.tracker.Start(ctx, "transform", "jseval", "rows", len(rows))
	defer end()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	col := NewCollector(0)
	vm := goja.New()
	if err := e.SetupVM(ctx, vm, col); err != nil {
		reportErr(err)
		return nil, err
	}

	prog, err := Compile("transform.js", WrapTransform(body))
	if err != nil {
		reportErr(err)
		return nil, fmt.Errorf("compile transform: %w", err)
	}
	if _, err := RunProgram(ctx, vm, prog); err != nil {
		reportErr(err)
		return nil, err
	}
	fn, ok := goja.AssertFunction(vm.Get(TransformFuncName))
	if !ok {
		err := fmt.Errorf("%s is not a function", TransformFuncName)
		reportErr(err)
		return nil, err
	}

	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		reportErr(err)
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	colsJSON, err := json.Marshal(columns)
	if err != nil {
		reportErr(err)
		return nil, fmt.Errorf("encode columns: %w", err)
	}

	out, err := guarded(ctx, vm, func() (goja.Value, error) {
		rowsVal, err := vm.RunString("(" + string(rowsJSON) + ")")
		if err != nil {
			return nil, err
		}
		colsVal, err := vm.RunString("(" + string(colsJSON) + ")")
		if err != nil {
			return nil, err
		}
		return fn(goja.Undefined(), rowsVal, colsVal)
	})
	if err != nil {
		reportErr(err)
		return nil, err
	}

	result, err := exportRows(vm, out)
	if err != nil {
		reportErr(err)
		return nil, err
	}
	res := &TransformResult{Rows: result, Logs: col.Entries(), Elapsed: time.Since(started)}
	reportChange("transform", map[string]any{"rows_in": len(rows), "rows_out": len(result)})
	return res, nil
}

func exportRows(vm *goja.Runtime, v goja.Value) ([]map[string]any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, ErrNotArray
	}
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return nil, fmt.Errorf("%w: got %s", ErrNotArray, v.ExportType())
	}
	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, fmt.Errorf("JSON.stringify unavailable")
	}
	encoded, err := stringify(goja.Undefined(), v)
	if err != nil {
		return nil, fmt.Errorf("encode transform result: %w", err)
	}
	var raw []any
	if err := json.Unmarshal([]byte(encoded.String()), &raw); err != nil {
		return nil, fmt.Errorf("decode transform result: %w", err)
	}
	rows := make([]map[string]any, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: index %d", ErrRowNotObject, i)
		}
		rows = append(rows, m)
	}
	return rows, nil
}

// Compile wraps goja.Compile so callers don't depend directly on goja.
func Compile(name, src string) (*goja.Program, error) {
	return goja.Compile(name, src, false)
}

// RunProgram executes a precompiled program in the given VM, with context
// cancellation and panic recovery. It does not wire builtins; caller must
// have called Env.SetupVM first.
func RunProgram(ctx context.Context, vm *goja.Runtime, prog *goja.Program) (goja.Value, error) {
	if vm == nil {
		return goja.Undefined(), fmt.Errorf("vm is nil")
	}
	if prog == nil {
		return goja.Undefined(), fmt.Errorf("program is nil")
	}
	return guarded(ctx, vm, func() (goja.Value, error) {
		return vm.RunProgram(prog)
	})
}

// guarded runs fn on its own goroutine and interrupts the VM when ctx ends.
func guarded(ctx context.Context, vm *goja.Runtime, fn func() (goja.Value, error)) (goja.Value, error) {
	type res struct {
		val goja.Value
		err error
	}
	resultCh := make(chan res, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				var err error
				switch x := r.(type) {
				case string:
					err = fmt.Errorf("panic: %s", x)
				case error:
					err = x
				default:
					err = fmt.Errorf("panic: %v", x)
				}
				resultCh <- res{val: goja.Undefined(), err: err}
			}
		}()
		v, err := fn()
		resultCh <- res{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		vm.Interrupt(ctx.Err())
		return goja.Undefined(), ctx.Err()
	case r := <-resultCh:
		return r.val, r.err
	}
}
