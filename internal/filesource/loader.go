package filesource

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/albertocavalcante/skyvars/internal/cfnyaml"
	"github.com/albertocavalcante/skyvars/internal/ctxlog"
	"github.com/albertocavalcante/skyvars/internal/filekind"
	"github.com/albertocavalcante/skyvars/internal/hclvars"
	"github.com/albertocavalcante/skyvars/internal/starmodule"
	"github.com/albertocavalcante/skyvars/internal/varsource"
)

// step is a value during resolution together with whether a function has
// already been run to produce it. Once set, dynamic stays set.
type step struct {
	value   any
	dynamic bool
}

// load reads and decodes the file. A missing file yields a nil value.
func (s *Source) load(ctx context.Context, r *resolution) (step, error) {
	kind := filekind.FromPath(r.path)
	if kind.IsModule() {
		return s.loadModule(ctx, r)
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return step{}, nil
		}
		return step{}, &varsource.Error{
			Code:    varsource.CodeFileNotAccessible,
			Message: `Cannot access "` + r.rel + `": ` + osMessage(err),
			Path:    r.rel,
			Err:     err,
		}
	}

	ctxlog.FromContext(ctx).Debug("decoding file", "file", r.rel, "format", kind)

	switch kind {
	case filekind.KindYAML:
		v, err := cfnyaml.Unmarshal(data)
		if err != nil {
			return step{}, parseError(r, err, "")
		}
		return step{value: v}, nil

	case filekind.KindJSON:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return step{}, parseError(r, err, "JSON parse error: ")
		}
		return step{value: v}, nil

	case filekind.KindTOML:
		var v map[string]any
		if err := toml.Unmarshal(data, &v); err != nil {
			return step{}, parseError(r, err, "TOML parse error: ")
		}
		return step{value: v}, nil

	case filekind.KindHCL:
		v, err := hclvars.Unmarshal(data, r.rel)
		if err != nil {
			return step{}, parseError(r, err, "")
		}
		return step{value: v}, nil

	default:
		return step{value: string(data)}, nil
	}
}

func parseError(r *resolution, err error, prefix string) error {
	return withPath(varsource.Wrap(varsource.CodeFileParse, err, `Cannot parse "%s": %s%v`, r.rel, prefix, err), r.rel, "")
}

// loadModule executes a Starlark module. If it exports a function, the
// function is run right away, provided the service opted in.
func (s *Source) loadModule(ctx context.Context, r *resolution) (step, error) {
	v, err := starmodule.Exec(ctx, r.path, starmodule.Options{Root: r.root, Predeclared: s.Predeclared})
	if err != nil {
		var execErr *starmodule.ExecError
		var convErr *starmodule.ConvertError
		switch {
		case errors.As(err, &execErr):
			return step{}, &varsource.Error{
				Code:    varsource.CodeFileContentResolution,
				Message: `Cannot load "` + r.rel + `": Initialization error: ` + execErr.Error(),
				Path:    r.rel,
				Err:     err,
			}
		case errors.As(err, &convErr):
			return step{}, &varsource.Error{
				Code:    varsource.CodeModuleResolution,
				Message: `Cannot resolve "` + r.rel + `": ` + convErr.Error(),
				Path:    r.rel,
				Err:     err,
			}
		case errors.Is(err, fs.ErrNotExist):
			return step{}, nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return step{}, err
		default:
			return step{}, &varsource.Error{
				Code:    varsource.CodeFileNotAccessible,
				Message: `Cannot access "` + r.rel + `": ` + osMessage(err),
				Path:    r.rel,
				Err:     err,
			}
		}
	}

	d, ok := v.(*varsource.Deferred)
	if !ok {
		return step{value: v}, nil
	}

	enabled, err := resolutionModeEnabled(ctx, r)
	if err != nil {
		return step{}, err
	}
	if !enabled {
		return step{}, &varsource.Error{
			Code: varsource.CodeFunctionSourceNotSupported,
			Message: `Cannot resolve "` + r.rel + `": functions as variable sources are only supported by the new variables resolver. ` +
				`Set "` + ResolutionModeProperty + `: 20210326" in the service configuration to enable it`,
			Path: r.rel,
		}
	}

	ctxlog.FromContext(ctx).Debug("running exported function", "file", r.rel, "function", d.Name)
	out, err := d.Invoke(ctx, r.callContext())
	if err != nil {
		return step{}, withPath(varsource.Wrap(varsource.CodeFunctionResolution, err,
			`Cannot resolve "%s": function error: %v`, r.rel, err), r.rel, "")
	}
	return step{value: out, dynamic: true}, nil
}

// resolutionModeEnabled asks the host configuration whether functions may run.
// A missing dependency is returned untouched.
func resolutionModeEnabled(ctx context.Context, r *resolution) (bool, error) {
	if r.props == nil {
		return false, nil
	}
	mode, err := r.props.ResolveConfigurationProperty(ctx, []string{ResolutionModeProperty})
	if err != nil {
		var pending *varsource.MissingDependencyError
		if errors.As(err, &pending) {
			return false, pending
		}
		return false, err
	}
	return varsource.Truthy(mode), nil
}

// withPath fills in Path and Address on classified errors.
func withPath(err error, rel, address string) error {
	var e *varsource.Error
	if errors.As(err, &e) {
		e.Path = rel
		e.Address = address
	}
	return err
}
