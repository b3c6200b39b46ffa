package filesource

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/albertocavalcante/skyvars/internal/ctxlog"
	"github.com/albertocavalcante/skyvars/internal/varsource"
)

// extract walks r.address through the loaded content. Missing keys at any
// depth yield nil; functions met on the way are run and walking continues
// with their result.
func extract(ctx context.Context, r *resolution, content step) (any, error) {
	if content.value == nil {
		return nil, nil
	}

	cur := content
	for _, key := range strings.Split(r.address, ".") {
		next, err := descend(ctx, r, cur, key)
		if err != nil {
			return nil, err
		}
		if next.value == nil {
			return nil, nil
		}
		cur = next
	}
	return cur.value, nil
}

// descend moves one segment down from cur.
func descend(ctx context.Context, r *resolution, cur step, key string) (step, error) {
	v := property(cur.value, key)
	d, ok := v.(*varsource.Deferred)
	if !ok {
		return step{value: v, dynamic: cur.dynamic}, nil
	}

	base := filepath.Base(r.path)
	if !cur.dynamic {
		enabled, err := resolutionModeEnabled(ctx, r)
		if err != nil {
			return step{}, err
		}
		if !enabled {
			return step{}, &varsource.Error{
				Code: varsource.CodeFileContentResolution,
				Message: `Cannot resolve "` + r.address + `" out of "` + base + `": resolved a function that is not confirmed ` +
					`to work with the new variables resolver. Set "` + ResolutionModeProperty + `: 20210326" ` +
					`in the service configuration to enable it`,
				Path:    r.rel,
				Address: r.address,
			}
		}
	}

	ctxlog.FromContext(ctx).Debug("running property function", "file", r.rel, "property", key, "function", d.Name)
	out, err := d.Invoke(ctx, r.callContext())
	if err != nil {
		return step{}, withPath(varsource.Wrap(varsource.CodePropertyFunctionResolution, err,
			`Cannot resolve "%s" out of "%s": function error: %v`, r.address, base, err), r.rel, r.address)
	}
	return step{value: out, dynamic: true}, nil
}

// property looks up key in v: a map key, or a decimal index into a list.
func property(v any, key string) any {
	switch x := v.(type) {
	case map[string]any:
		return x[key]
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(x) {
			return nil
		}
		return x[i]
	default:
		return nil
	}
}
