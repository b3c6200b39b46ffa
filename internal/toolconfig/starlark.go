package toolconfig

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.starlark.net/starlark"

	"github.com/albertocavalcante/skyvars/internal/starmodule"
	"github.com/albertocavalcante/skyvars/internal/varsource"
)

// DefaultStarlarkTimeout bounds vars.star execution.
const DefaultStarlarkTimeout = 5 * time.Second

var (
	// ErrConfigureNotFound is returned when vars.star has no configure() function.
	ErrConfigureNotFound = errors.New("vars.star must define a configure() function")

	// ErrConfigureReturnType is returned when configure() returns something
	// other than a dict.
	ErrConfigureReturnType = errors.New("configure() must return a dict")
)

// LoadStarlarkConfig runs the module at path and calls its configure()
// function, which returns the settings as a dict. The module runs in the same
// sandbox as variable modules: load() may reach files next to it and below,
// and everything, configure() included, must finish within timeout.
func LoadStarlarkConfig(path string, timeout time.Duration) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	exported, err := starmodule.Exec(ctx, abs, starmodule.Options{
		Root:        filepath.Dir(abs),
		Predeclared: starlark.StringDict{"duration": starlark.NewBuiltin("duration", builtinDuration)},
	})
	if err != nil {
		return nil, configError(path, timeout, err)
	}

	globals, _ := exported.(map[string]any)
	configure, ok := globals["configure"]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrConfigureNotFound)
	}
	fn, ok := configure.(*varsource.Deferred)
	if !ok {
		return nil, fmt.Errorf("%s: configure must be a function, got %T", path, configure)
	}

	result, err := fn.Invoke(ctx, varsource.CallContext{})
	if err != nil {
		return nil, configError(path, timeout, err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: %w, got %T", path, ErrConfigureReturnType, result)
	}

	cfg, err := mapToConfig(m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func configError(path string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: execution timed out after %v", path, timeout)
	}
	return fmt.Errorf("executing config %s: %w", path, err)
}

// builtinDuration implements duration(s): s unchanged once it parses as a
// Go duration, so typos fail at load time.
func builtinDuration(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	if _, err := time.ParseDuration(s); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(s), nil
}

// mapToConfig applies the dict returned by configure() to the defaults.
// Unknown keys are an error.
func mapToConfig(m map[string]any) (*Config, error) {
	cfg := DefaultConfig()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := m[key]
		switch key {
		case "service_path":
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("service_path must be a string, got %T", val)
			}
			cfg.ServicePath = s
		case "host_config":
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("host_config must be a string, got %T", val)
			}
			cfg.HostConfig = s
		case "variables_resolution_mode":
			switch x := val.(type) {
			case string:
				cfg.VariablesResolutionMode = Mode(x)
			case int:
				cfg.VariablesResolutionMode = Mode(strconv.Itoa(x))
			case nil:
				cfg.VariablesResolutionMode = ""
			default:
				return nil, fmt.Errorf("variables_resolution_mode must be a string or int, got %T", val)
			}
		case "timeout":
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("timeout must be a string, got %T", val)
			}
			if err := cfg.Timeout.UnmarshalText([]byte(s)); err != nil {
				return nil, fmt.Errorf("timeout: %w", err)
			}
		case "options":
			opts, ok := val.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("options must be a dict, got %T", val)
			}
			cfg.Options = opts
		default:
			return nil, fmt.Errorf("unknown key %q", key)
		}
	}
	return cfg, nil
}
