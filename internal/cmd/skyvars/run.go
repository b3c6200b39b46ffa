// Package skyvars implements the skyvars command: resolve a file variable
// the way ${file(PATH):ADDRESS} does and print the result as JSON.
package skyvars

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/term"

	"github.com/albertocavalcante/skyvars/internal/cli"
	"github.com/albertocavalcante/skyvars/internal/ctxlog"
	"github.com/albertocavalcante/skyvars/internal/filesource"
	"github.com/albertocavalcante/skyvars/internal/hostconfig"
	"github.com/albertocavalcante/skyvars/internal/toolconfig"
	"github.com/albertocavalcante/skyvars/internal/varsource"
	"github.com/albertocavalcante/skyvars/internal/version"
	"github.com/albertocavalcante/skyvars/internal/watch"
)

const progName = "skyvars"

// debounce groups the bursts of events a single save produces.
const debounce = 100 * time.Millisecond

// Run executes skyvars with the given arguments.
// Returns exit code.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return RunWithIO(ctx, args, os.Stdin, os.Stdout, os.Stderr)
}

// optionFlags collects repeated -opt key=value flags.
type optionFlags map[string]any

func (o optionFlags) String() string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, o[k]))
	}
	return strings.Join(parts, ",")
}

func (o optionFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	o[k] = v
	return nil
}

type options struct {
	service    string
	configPath string
	hostConfig string
	mode       string
	opts       optionFlags
	timeout    time.Duration
	raw        bool
	pretty     bool
	expect     string
	watch      bool
	printHost  bool
	verbose    bool
	version    bool
}

// RunWithIO allows custom IO for embedding/testing.
func RunWithIO(ctx context.Context, args []string, _ io.Reader, stdout, stderr io.Writer) int {
	o := options{opts: optionFlags{}}

	fs := flag.NewFlagSet("skyvars", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.service, "service", "", "service directory (default: from config, else current directory)")
	fs.StringVar(&o.configPath, "config", "", "tool configuration file (default: discover vars.star or skyvars.toml)")
	fs.StringVar(&o.hostConfig, "host-config", "", "service configuration document answering property lookups")
	fs.StringVar(&o.mode, "mode", "", "variables resolution mode, e.g. 20210326, enables module functions")
	fs.Var(o.opts, "opt", "option passed to module functions as key=value (repeatable)")
	fs.DurationVar(&o.timeout, "timeout", 0, "resolution timeout (0 means none)")
	fs.BoolVar(&o.raw, "raw", false, "print string results without JSON quoting")
	fs.BoolVar(&o.pretty, "pretty", false, "indent JSON output (default when stdout is a terminal)")
	fs.StringVar(&o.expect, "expect", "", "compare output against `file` and print a diff on mismatch")
	fs.BoolVar(&o.watch, "watch", false, "resolve again whenever the file or its dependencies change")
	fs.BoolVar(&o.printHost, "print-host", false, "print the merged host configuration and exit")
	fs.BoolVar(&o.verbose, "v", false, "verbose logging to stderr")
	fs.BoolVar(&o.version, "version", false, "print version and exit")

	fs.Usage = func() {
		cli.Writeln(stderr, "Usage: skyvars [flags] PATH [ADDRESS]")
		cli.Writeln(stderr)
		cli.Writeln(stderr, "Resolve a file configuration variable, ${file(PATH):ADDRESS}.")
		cli.Writeln(stderr)
		cli.Writeln(stderr, "PATH is relative to the service directory. YAML, JSON, TOML, HCL and")
		cli.Writeln(stderr, "Starlark (.star, .sky) files are decoded; anything else is returned as text.")
		cli.Writeln(stderr, "ADDRESS is a dot separated property path.")
		cli.Writeln(stderr)
		cli.Writeln(stderr, "Flags:")
		fs.PrintDefaults()
		cli.Writeln(stderr)
		cli.Writeln(stderr, "Exit codes: 0 ok, 1 error, 2 usage or -expect mismatch, 3 pending dependency")
		cli.Writeln(stderr)
		cli.Writeln(stderr, "Examples:")
		cli.Writeln(stderr, "  skyvars config.yml db.host")
		cli.Writeln(stderr, "  skyvars -mode 20210326 -opt stage=prod values.star table")
		cli.Writeln(stderr, "  skyvars -watch -host-config serverless.yml values.star")
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return cli.ExitOK
		}
		return cli.ExitWarning
	}

	if o.version {
		cli.Writef(stdout, "skyvars %s\n", version.String())
		return cli.ExitOK
	}

	rest := fs.Args()
	if !o.printHost && (len(rest) == 0 || len(rest) > 2) {
		cli.Writeln(stderr, "skyvars: expected PATH [ADDRESS]")
		fs.Usage()
		return cli.ExitWarning
	}

	logger := ctxlog.New(stderr, o.verbose)
	ctx = ctxlog.WithLogger(ctx, logger)

	cfg, err := loadConfig(ctx, &o)
	if err != nil {
		return cli.Errorf(stderr, progName, "%v", err)
	}

	if o.printHost {
		host, err := loadHost(cfg)
		if err != nil {
			return cli.Errorf(stderr, progName, "%v", err)
		}
		out, err := host.Marshal()
		if err != nil {
			return cli.Errorf(stderr, progName, "%v", err)
		}
		cli.WriteBytes(stdout, out)
		return cli.ExitOK
	}

	registry := varsource.NewRegistry()
	if err := registry.Register(filesource.Name, filesource.New()); err != nil {
		return cli.Errorf(stderr, progName, "%v", err)
	}

	r := &runner{
		cfg:      cfg,
		registry: registry,
		path:     rest[0],
		raw:      o.raw,
		pretty:   o.pretty || isTerminal(stdout),
		expect:   o.expect,
		stdout:   stdout,
		stderr:   stderr,
	}
	if len(rest) == 2 {
		r.address = rest[1]
	}

	if o.watch {
		return r.watch(ctx)
	}
	return r.report(r.resolve(ctx))
}

// loadConfig reads the tool configuration and applies command-line overrides.
func loadConfig(ctx context.Context, o *options) (*toolconfig.Config, error) {
	var (
		cfg  *toolconfig.Config
		path = o.configPath
		err  error
	)
	if path != "" {
		cfg, err = toolconfig.LoadConfig(path)
	} else {
		cfg, path, err = toolconfig.DiscoverConfig("")
	}
	if err != nil {
		return nil, err
	}
	if path != "" {
		ctxlog.FromContext(ctx).Debug("loaded tool configuration", "path", path)
	}

	cfg.Merge(&toolconfig.Config{
		ServicePath:             o.service,
		HostConfig:              o.hostConfig,
		VariablesResolutionMode: toolconfig.Mode(o.mode),
		Timeout:                 toolconfig.Duration{Duration: o.timeout},
		Options:                 o.opts,
	})
	return cfg, nil
}

// loadHost builds the property resolver handed to module functions.
func loadHost(cfg *toolconfig.Config) (*hostconfig.Config, error) {
	host := hostconfig.New(hostconfig.WithFile(cfg.HostConfig))
	if err := host.Load(); err != nil {
		return nil, err
	}
	if cfg.VariablesResolutionMode != "" {
		if err := host.Set(filesource.ResolutionModeProperty, string(cfg.VariablesResolutionMode)); err != nil {
			return nil, err
		}
	}
	return host, nil
}

type runner struct {
	cfg      *toolconfig.Config
	registry *varsource.Registry
	path     string
	address  any
	raw      bool
	pretty   bool
	expect   string
	stdout   io.Writer
	stderr   io.Writer
}

// resolve resolves the variable once and prints it, or compares it with the
// expected output.
func (r *runner) resolve(ctx context.Context) error {
	host, err := loadHost(r.cfg)
	if err != nil {
		return err
	}

	if d := r.cfg.Timeout.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	res, err := r.registry.Resolve(ctx, filesource.Name, varsource.Request{
		ServicePath: r.cfg.ServicePath,
		Params:      []any{r.path},
		Address:     r.address,
		Options:     r.cfg.Options,
		Properties:  host,
	})
	if err != nil {
		return err
	}

	out, err := render(res.Value, r.raw, r.pretty)
	if err != nil {
		return fmt.Errorf("rendering result: %w", err)
	}
	if r.expect != "" {
		return r.compare(out)
	}
	cli.WriteBytes(r.stdout, out)
	return nil
}

// report prints err and returns the exit code for it.
func (r *runner) report(err error) int {
	var (
		pending *varsource.MissingDependencyError
		exit    cli.ExitCodeError
	)
	switch {
	case err == nil:
		return cli.ExitOK
	case errors.As(err, &exit):
		// Already reported.
		return int(exit)
	case errors.As(err, &pending):
		cli.Writef(r.stderr, "skyvars: pending: %v\n", pending)
		return cli.ExitPending
	case errors.Is(err, context.DeadlineExceeded):
		return cli.Errorf(r.stderr, progName, "resolution timed out after %v", r.cfg.Timeout.Duration)
	}

	if code := varsource.CodeOf(err); code != "" {
		return cli.Errorf(r.stderr, progName, "%s: %v", code, err)
	}
	return cli.Errorf(r.stderr, progName, "%v", err)
}

// compare checks out against the expected file and prints a unified diff
// when they differ.
func (r *runner) compare(out []byte) error {
	want, err := os.ReadFile(r.expect)
	if err != nil {
		return fmt.Errorf("reading expected output: %w", err)
	}
	if bytes.Equal(want, out) {
		return nil
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(want)),
		B:        difflib.SplitLines(string(out)),
		FromFile: r.expect,
		ToFile:   "resolved",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return err
	}
	cli.Write(r.stdout, text)
	return cli.ExitCodeError(cli.ExitWarning)
}

// watch resolves once, then again after every change to the file, the
// modules it loads or the host configuration. It returns the exit code of the
// last resolution once ctx is done.
func (r *runner) watch(ctx context.Context) int {
	logger := ctxlog.FromContext(ctx)

	root, err := filepath.Abs(r.cfg.ServicePath)
	if err != nil {
		return cli.Errorf(r.stderr, progName, "%v", err)
	}
	w, err := watch.New(root, watch.WithLogger(logger))
	if err != nil {
		return cli.Errorf(r.stderr, progName, "%v", err)
	}
	defer func() { _ = w.Close() }()

	targets := []string{r.path}
	if !filepath.IsAbs(r.path) {
		targets[0] = filepath.Join(root, r.path)
	}
	if r.cfg.HostConfig != "" {
		targets = append(targets, r.cfg.HostConfig)
	}
	for _, target := range targets {
		if err := w.Add(target); err != nil {
			return cli.Errorf(r.stderr, progName, "%v", err)
		}
	}

	code := r.report(r.resolve(ctx))
	for {
		select {
		case <-ctx.Done():
			return code
		case ev := <-w.Events:
			settle(ctx, w.Events)
			logger.Info("change detected, resolving again", "file", ev.File)
			code = r.report(r.resolve(ctx))
		case err := <-w.Errors:
			logger.Warn("watch error", "error", err)
		}
	}
}

// settle drains events until none arrived for the debounce interval.
func settle(ctx context.Context, events <-chan watch.Event) {
	timer := time.NewTimer(debounce)
	defer timer.Stop()
	for {
		select {
		case <-events:
			timer.Reset(debounce)
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

// render formats a resolved value. Strings are printed verbatim with -raw;
// everything else is JSON, functions included as "[function NAME]".
func render(v any, raw, pretty bool) ([]byte, error) {
	if s, ok := v.(string); ok && raw {
		if !strings.HasSuffix(s, "\n") {
			s += "\n"
		}
		return []byte(s), nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
