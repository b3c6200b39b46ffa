// Package filesource implements the "file" configuration variable source.
//
// ${file(./config.yml):db.host} loads config.yml from the service directory,
// decodes it according to its extension and returns the value at db.host.
// Starlark modules (.star, .sky) may compute values with functions; those only
// run once the service opted into the new variables resolver
// (variablesResolutionMode).
package filesource

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"

	"github.com/albertocavalcante/skyvars/internal/ctxlog"
	"github.com/albertocavalcante/skyvars/internal/fsguard"
	"github.com/albertocavalcante/skyvars/internal/varsource"
)

// Name is the source name used in variable expressions.
const Name = "file"

// ResolutionModeProperty is the configuration property that opts a service
// into running functions exported by Starlark modules.
const ResolutionModeProperty = "variablesResolutionMode"

// Source resolves file variables. The zero value is ready to use and a
// Source is safe for concurrent use.
type Source struct {
	// Predeclared extends the names available to Starlark modules.
	Predeclared starlark.StringDict
}

// New returns a file source.
func New() *Source {
	return &Source{}
}

var _ varsource.Source = (*Source)(nil)

// resolution holds the validated state of one Resolve call.
type resolution struct {
	root       string
	path       string
	rel        string
	address    string
	hasAddress bool
	options    map[string]any
	props      varsource.PropertyResolver
}

func (r *resolution) callContext() varsource.CallContext {
	return varsource.CallContext{Options: r.options, Properties: r.props}
}

// Resolve loads the file named by req.Params[0] and returns the value at
// req.Address. A missing file or property resolves to a nil value.
func (s *Source) Resolve(ctx context.Context, req varsource.Request) (varsource.Result, error) {
	r, err := prepare(req)
	if err != nil {
		return varsource.Result{}, err
	}

	logger := ctxlog.FromContext(ctx).With("source", Name, "file", r.rel)
	logger.Debug("resolving file variable", "address", r.address)

	content, err := s.load(ctx, r)
	if err != nil {
		return varsource.Result{}, err
	}
	if content.value == nil {
		logger.Debug("file not found or empty")
	}
	if !r.hasAddress {
		return varsource.Result{Value: content.value}, nil
	}

	value, err := extract(ctx, r, content)
	if err != nil {
		return varsource.Result{}, err
	}
	return varsource.Result{Value: value}, nil
}

// prepare validates the request before any file access.
func prepare(req varsource.Request) (*resolution, error) {
	p, err := pathParam(req.Params)
	if err != nil {
		return nil, err
	}
	address, hasAddress, err := addressParam(req.Address)
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(req.ServicePath)
	if err != nil {
		return nil, varsource.Wrap(varsource.CodeFileNotAccessible, err,
			"Cannot resolve service directory: %v", err)
	}

	path, err := fsguard.Check(root, p)
	if errors.Is(err, fsguard.ErrOutsideRoot) {
		return nil, &varsource.Error{
			Code:    varsource.CodePathOutsideOfService,
			Message: "Cannot load file from outside of service folder: " + displayParam(root, p),
			Err:     err,
		}
	}
	if err != nil {
		rel := fsguard.Rel(root, path)
		return nil, &varsource.Error{
			Code:    varsource.CodeFileNotAccessible,
			Message: `Cannot access "` + rel + `": ` + osMessage(err),
			Path:    rel,
			Err:     err,
		}
	}

	return &resolution{
		root:       root,
		path:       path,
		rel:        fsguard.Rel(root, path),
		address:    address,
		hasAddress: hasAddress,
		options:    req.Options,
		props:      req.Properties,
	}, nil
}

// displayParam shows a path argument without the service directory prefix.
func displayParam(root, p string) string {
	if strings.HasPrefix(p, root+string(filepath.Separator)) {
		return fsguard.Rel(root, p)
	}
	return p
}
