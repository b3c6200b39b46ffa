// Package starmodule executes Starlark files as configuration modules.
//
// A module exports either the value bound to its "exports" global or, when no
// such global exists, a dict of its public globals. Functions in the exported
// value are returned as *varsource.Deferred so callers decide whether and when
// to run them.
//
//	def exports(ctx):
//	    stage = ctx.resolve_configuration_property(["provider", "stage"])
//	    return {"table": "orders-" + stage}
//
// Execution is sandboxed: the only filesystem access is load() of other
// modules inside the root directory.
package starmodule

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/albertocavalcante/skyvars/internal/ctxlog"
	"github.com/albertocavalcante/skyvars/internal/fsguard"
)

// ExportsName is the global a module binds to choose its exported value.
const ExportsName = "exports"

// Options configures module execution.
type Options struct {
	// Root confines load() statements. Required.
	Root string

	// Predeclared adds to (and overrides) the default predeclared names.
	Predeclared starlark.StringDict
}

// ExecError reports a module that failed to parse or initialize.
type ExecError struct {
	Path string
	Err  error
}

func (e *ExecError) Error() string {
	return describe(e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// ConvertError reports an exported value that has no plain Go equivalent.
type ConvertError struct {
	Err error
}

func (e *ConvertError) Error() string {
	return e.Err.Error()
}

func (e *ConvertError) Unwrap() error {
	return e.Err
}

// Exec runs the module at path and returns its exported value.
//
// A missing module file is reported with an error satisfying
// errors.Is(err, fs.ErrNotExist); a load() of a missing file is an *ExecError.
func Exec(ctx context.Context, path string, opts Options) (any, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	predeclared := Predeclared()
	for name, v := range opts.Predeclared {
		predeclared[name] = v
	}

	root := filepath.Clean(opts.Root)
	// Modules run under their root-relative name so that backtraces and
	// positions never reveal where the service lives on disk.
	name := fsguard.Rel(root, path)

	thread, stop := newThread(ctx, name)
	defer stop()
	l := &loader{root: root, predeclared: predeclared, cache: make(map[string]*loadEntry)}
	thread.Load = l.load

	globals, err := starlark.ExecFile(thread, name, src, predeclared)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ExecError{Path: path, Err: err}
	}

	v, err := exports(globals)
	if err != nil {
		return nil, &ConvertError{Err: err}
	}
	exported, err := ToGo(v)
	if err != nil {
		return nil, &ConvertError{Err: err}
	}
	return exported, nil
}

// exports selects the exported value of a module.
func exports(globals starlark.StringDict) (starlark.Value, error) {
	if v, ok := globals[ExportsName]; ok {
		return v, nil
	}
	d := starlark.NewDict(len(globals))
	for _, name := range globals.Keys() {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if err := d.SetKey(starlark.String(name), globals[name]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

// loader implements thread.Load for one Exec call. Results are cached for the
// duration of that call only.
type loader struct {
	root        string
	predeclared starlark.StringDict
	cache       map[string]*loadEntry
}

func (l *loader) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	from := thread.CallFrame(0).Pos.Filename()
	path, err := l.resolve(from, module)
	if err != nil {
		return nil, err
	}

	if e, ok := l.cache[path]; ok {
		if e == nil {
			return nil, fmt.Errorf("cycle in load graph involving %s", module)
		}
		return e.globals, e.err
	}

	l.cache[path] = nil // in progress
	src, err := os.ReadFile(path)
	if err != nil {
		delete(l.cache, path)
		return nil, fmt.Errorf("load %q: %w", module, pathError(err))
	}
	globals, err := starlark.ExecFile(thread, fsguard.Rel(l.root, path), src, l.predeclared)
	l.cache[path] = &loadEntry{globals: globals, err: err}
	return globals, err
}

// pathError strips the path from os errors, which would otherwise be absolute.
func pathError(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}

// resolve maps a load() module string to a file inside the root. "//x.star"
// is relative to the root, anything else to the loading file. from is the
// root-relative name of the loading module.
func (l *loader) resolve(from, module string) (string, error) {
	if !filepath.IsAbs(from) {
		from = filepath.Join(l.root, from)
	}

	var p string
	switch {
	case strings.HasPrefix(module, "//"):
		p = filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(module, "//")))
	case filepath.IsAbs(module), strings.HasPrefix(module, "@"):
		return "", fmt.Errorf("load %q: only relative or //root-relative paths are supported", module)
	default:
		p = filepath.Join(filepath.Dir(from), filepath.FromSlash(module))
	}

	path, err := fsguard.Check(l.root, p)
	if errors.Is(err, fsguard.ErrOutsideRoot) {
		return "", fmt.Errorf("load %q: module is outside of the service directory", module)
	}
	if err != nil {
		return "", fmt.Errorf("load %q: %w", module, err)
	}
	return path, nil
}

// newThread creates a thread that is cancelled together with ctx.
// The returned func must be called once the thread is no longer used.
func newThread(ctx context.Context, name string) (*starlark.Thread, func()) {
	logger := ctxlog.FromContext(ctx)
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Info(msg, "module", name)
		},
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()
	return thread, func() { close(done) }
}

// describe renders a Starlark error with its call stack when one is available.
func describe(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return syntaxErr.Error()
	}
	return err.Error()
}
