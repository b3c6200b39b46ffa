package varsource

import (
	"context"
	"encoding/json"
	"math"
)

// CallContext is what a dynamic resolver receives when it is invoked.
type CallContext struct {
	Options    map[string]any
	Properties PropertyResolver
}

// Deferred is a configuration value that is itself a computation.
//
// Loaders tag dynamic values explicitly with Deferred; address traversal only
// invokes values carrying this tag and never probes arbitrary values for
// callability.
type Deferred struct {
	// Name identifies the computation in error messages.
	Name string

	Fn func(ctx context.Context, cc CallContext) (any, error)
}

// Invoke runs the computation.
func (d *Deferred) Invoke(ctx context.Context, cc CallContext) (any, error) {
	return d.Fn(ctx, cc)
}

// MarshalJSON renders a deferred value as a placeholder string, so content
// returned without an address can still be printed.
func (d *Deferred) MarshalJSON() ([]byte, error) {
	return json.Marshal("[function " + d.Name + "]")
}

// Truthy reports whether v counts as "set" for capability flags:
// nil, false, zero numbers, NaN and the empty string are falsy.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float64:
		return x != 0 && !math.IsNaN(x)
	default:
		return true
	}
}
