package starmodule

import (
	"os"
	"runtime"

	"go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Predeclared returns the names available to every module.
// There is no filesystem or network access.
func Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"getenv":    starlark.NewBuiltin("getenv", builtinGetenv),
		"host_os":   starlark.String(runtime.GOOS),
		"host_arch": starlark.String(runtime.GOARCH),
		"struct":    starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":      json.Module,
	}
}

// builtinGetenv implements getenv(name, default="") -> string.
func builtinGetenv(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultVal starlark.String
	if err := starlark.UnpackArgs("getenv", args, kwargs, "name", &name, "default?", &defaultVal); err != nil {
		return nil, err
	}

	val := os.Getenv(name)
	if val == "" {
		return defaultVal, nil
	}
	return starlark.String(val), nil
}
