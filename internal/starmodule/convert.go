package starmodule

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// ToGo converts a Starlark value into plain Go values. Starlark functions
// become *varsource.Deferred; other callables are rejected.
func ToGo(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		i, ok := x.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", x.String())
		}
		return int(i), nil
	case starlark.Float:
		return float64(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Bytes:
		return string(x), nil
	case *starlark.List:
		return iterableToGo(x)
	case starlark.Tuple:
		return iterableToGo(x)
	case *starlark.Dict:
		out := make(map[string]any, x.Len())
		for _, item := range x.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s: only string keys are supported", item[0].String())
			}
			val, err := ToGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = val
		}
		return out, nil
	case *starlarkstruct.Struct:
		return attrsToGo(x)
	case *starlarkstruct.Module:
		return attrsToGo(x)
	case *starlark.Function:
		return deferred(x), nil
	default:
		return nil, fmt.Errorf("unsupported value of type %s", v.Type())
	}
}

func iterableToGo(it starlark.Indexable) ([]any, error) {
	out := make([]any, 0, it.Len())
	for i := 0; i < it.Len(); i++ {
		val, err := ToGo(it.Index(i))
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, val)
	}
	return out, nil
}

func attrsToGo(v starlark.HasAttrs) (map[string]any, error) {
	names := v.AttrNames()
	out := make(map[string]any, len(names))
	for _, name := range names {
		attr, err := v.Attr(name)
		if err != nil {
			return nil, err
		}
		val, err := ToGo(attr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = val
	}
	return out, nil
}

// ToStarlark converts plain Go values (as produced by the content loaders)
// into Starlark values.
func ToStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case uint64:
		return starlark.MakeUint64(x), nil
	case float64:
		return starlark.Float(x), nil
	case []any:
		elems := make([]starlark.Value, 0, len(x))
		for i, item := range x {
			sv, err := ToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case []map[string]any:
		elems := make([]starlark.Value, 0, len(x))
		for i, item := range x {
			sv, err := ToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case []string:
		elems := make([]starlark.Value, 0, len(x))
		for _, s := range x {
			elems = append(elems, starlark.String(s))
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		d := starlark.NewDict(len(x))
		for _, k := range keys {
			sv, err := ToStarlark(x[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to a Starlark value", v)
	}
}
