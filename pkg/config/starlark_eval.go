package config

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// DefaultStarlarkTimeout bounds a topology script's execution.
const DefaultStarlarkTimeout = 10 * time.Second

// StarlarkEvaluator executes Starlark scripts without filesystem, network
// or print access.
type StarlarkEvaluator struct {
	timeout  time.Duration
	maxSteps uint64
}

// NewStarlarkEvaluator creates a new Starlark evaluator. A zero timeout
// selects DefaultStarlarkTimeout.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = DefaultStarlarkTimeout
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// WithMaxSteps caps the number of computation steps; zero means unlimited.
func (se *StarlarkEvaluator) WithMaxSteps(n uint64) *StarlarkEvaluator {
	se.maxSteps = n
	return se
}

// Evaluate runs script with input exposed as predeclared globals and returns
// every exported global. Globals starting with "_" are private.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, input map[string]interface{}) (*StarlarkResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "cloudsim",
		Print: func(*starlark.Thread, string) {},
	}
	if se.maxSteps > 0 {
		thread.SetMaxExecutionSteps(se.maxSteps)
	}

	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
	for key, val := range input {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	globals, err := starlark.ExecFileOptions(scriptOptions(), thread, filename, script, predeclared)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("starlark execution aborted after %v: %w", time.Since(start).Round(time.Millisecond), ctx.Err())
		}
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]interface{}, len(globals))
	for name, val := range globals {
		if name == "" || name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		gv, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = gv
	}

	return &StarlarkResult{
		Output:        output,
		ExecutionTime: time.Since(start),
		Steps:         thread.ExecutionSteps(),
	}, nil
}

// scriptOptions permits sets and top-level loops so topology scripts can
// build spec lists without wrapping everything in a function.
func scriptOptions() *syntax.FileOptions {
	return &syntax.FileOptions{Set: true, TopLevelControl: true}
}

func toStarlarkValue(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for k, s := range val {
			if err := dict.SetKey(starlark.String(k), starlark.String(s)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts to the same shapes a YAML decoder produces, so
// every topology source decodes identically.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok || i > math.MaxInt || i < math.MinInt {
			return nil, fmt.Errorf("integer %s out of range", val)
		}
		return int(i), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s must be a string", item[0])
			}
			gv, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = gv
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			gv, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = gv
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(it starlark.Iterable, n int) ([]interface{}, error) {
	out := make([]interface{}, 0, n)
	iter := it.Iterate()
	defer iter.Done()

	var x starlark.Value
	for iter.Next(&x) {
		gv, err := fromStarlarkValue(x)
		if err != nil {
			return nil, err
		}
		out = append(out, gv)
	}
	return out, nil
}
