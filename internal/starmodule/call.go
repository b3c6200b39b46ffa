package starmodule

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/albertocavalcante/skyvars/internal/varsource"
)

// CallError is a failed invocation of a module function. Its message carries
// the Starlark backtrace; the chain still reaches the original cause, so a
// *varsource.MissingDependencyError raised through the context object stays
// detectable with errors.As.
type CallError struct {
	Name string
	Err  error
}

func (e *CallError) Error() string {
	return describe(e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// deferred wraps a module function so it runs on demand with a call context.
func deferred(fn *starlark.Function) *varsource.Deferred {
	return &varsource.Deferred{
		Name: fn.Name(),
		Fn: func(ctx context.Context, cc varsource.CallContext) (any, error) {
			return call(ctx, fn, cc)
		},
	}
}

func call(ctx context.Context, fn *starlark.Function, cc varsource.CallContext) (any, error) {
	thread, stop := newThread(ctx, fn.Position().Filename())
	defer stop()

	arg, err := contextValue(ctx, cc)
	if err != nil {
		return nil, err
	}

	var args starlark.Tuple
	if fn.NumParams() > 0 {
		args = starlark.Tuple{arg}
	}

	result, err := starlark.Call(thread, fn, args, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &CallError{Name: fn.Name(), Err: err}
	}

	out, err := ToGo(result)
	if err != nil {
		return nil, &CallError{Name: fn.Name(), Err: fmt.Errorf("%s returned %w", fn.Name(), err)}
	}
	return out, nil
}

// contextValue builds the object a module function receives:
//
//	ctx.options                               dict of pass-through options
//	ctx.resolve_configuration_property(path)  list of segments or "a.b" string
func contextValue(ctx context.Context, cc varsource.CallContext) (starlark.Value, error) {
	options, err := ToStarlark(cc.Options)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	if options == starlark.None {
		options = starlark.NewDict(0)
	}

	resolve := starlark.NewBuiltin("resolve_configuration_property",
		func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var pathArg starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &pathArg); err != nil {
				return nil, err
			}
			path, err := propertyPath(pathArg)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			if cc.Properties == nil {
				return nil, errors.New("configuration properties are not available")
			}

			v, err := cc.Properties.ResolveConfigurationProperty(ctx, path)
			if err != nil {
				return nil, err
			}
			return ToStarlark(v)
		})

	return starlarkstruct.FromStringDict(starlark.String("context"), starlark.StringDict{
		"options":                        options,
		"resolve_configuration_property": resolve,
	}), nil
}

func propertyPath(v starlark.Value) ([]string, error) {
	if s, ok := starlark.AsString(v); ok {
		if s == "" {
			return nil, errors.New("empty property path")
		}
		return strings.Split(s, "."), nil
	}

	seq, ok := v.(starlark.Indexable)
	if !ok {
		return nil, fmt.Errorf("property path must be a string or a list of strings, got %s", v.Type())
	}
	path := make([]string, 0, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		s, ok := starlark.AsString(seq.Index(i))
		if !ok {
			return nil, fmt.Errorf("property path element %d is not a string", i)
		}
		path = append(path, s)
	}
	return path, nil
}
