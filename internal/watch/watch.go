// Package watch reports changes to resolved files and the Starlark modules
// they load.
//
// Directories are watched rather than files so that editors which save by
// renaming, and files which do not exist yet, are both picked up.
package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.starlark.net/syntax"

	"github.com/albertocavalcante/skyvars/internal/filekind"
	"github.com/albertocavalcante/skyvars/internal/fsguard"
)

// Event is a change to a tracked file.
type Event struct {
	// File is the file that changed.
	File string

	// Op is the operation (write, create, remove, rename).
	Op fsnotify.Op

	// Affected lists the targets whose content depends on File, File itself
	// included when it is a target.
	Affected []string
}

// Watcher tracks targets and their transitive load() dependencies.
type Watcher struct {
	mu sync.RWMutex

	fsWatcher *fsnotify.Watcher
	logger    *slog.Logger

	// root confines load() resolution, as during module execution.
	root string

	// targets maps each target to its transitive dependencies.
	targets map[string]map[string]bool

	// dirs are the directories added to fsWatcher.
	dirs map[string]bool

	// Events receives changes to tracked files.
	Events chan Event

	// Errors receives watcher errors.
	Errors chan error

	done chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for the watcher.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// New creates a watcher whose load() resolution is confined to root.
func New(root string, opts ...Option) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		logger:    slog.New(slog.DiscardHandler),
		root:      absRoot,
		targets:   make(map[string]map[string]bool),
		dirs:      make(map[string]bool),
		Events:    make(chan Event, 100),
		Errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.run()

	return w, nil
}

// Add tracks a target file and, for Starlark modules, everything it loads.
// The target need not exist yet.
func (w *Watcher) Add(file string) error {
	absPath, err := filepath.Abs(file)
	if err != nil {
		return fmt.Errorf("getting absolute path: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.targets[absPath]; ok {
		return nil
	}
	if err := w.watchDir(filepath.Dir(absPath)); err != nil {
		return err
	}
	w.targets[absPath] = w.closure(absPath)
	return nil
}

// Remove stops tracking a target.
func (w *Watcher) Remove(file string) error {
	absPath, err := filepath.Abs(file)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.targets, absPath)
	return nil
}

// Refresh re-reads load() statements of every target. It runs automatically
// when a tracked Starlark file changes.
func (w *Watcher) Refresh() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for target := range w.targets {
		w.targets[target] = w.closure(target)
	}
}

// Affected returns the targets affected by a change to file, sorted.
func (w *Watcher) Affected(file string) []string {
	absPath, _ := filepath.Abs(file)

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.affected(absPath)
}

// Files returns every tracked file, targets and dependencies, sorted.
func (w *Watcher) Files() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	seen := make(map[string]bool)
	for target, deps := range w.targets {
		seen[target] = true
		for dep := range deps {
			seen[dep] = true
		}
	}
	return sortedKeys(seen)
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) affected(absPath string) []string {
	hit := make(map[string]bool)
	for target, deps := range w.targets {
		if target == absPath || deps[absPath] {
			hit[target] = true
		}
	}
	return sortedKeys(hit)
}

// closure returns the transitive load() dependencies of file and makes sure
// their directories are watched. Must be called with mu held.
func (w *Watcher) closure(file string) map[string]bool {
	deps := make(map[string]bool)
	queue := []string{file}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, module := range w.extractLoads(cur) {
			dep := w.resolveLoadPath(cur, module)
			if dep == "" || dep == file || deps[dep] {
				continue
			}
			deps[dep] = true
			if err := w.watchDir(filepath.Dir(dep)); err != nil {
				w.logger.Debug("not watching dependency", "file", dep, "error", err)
			}
			queue = append(queue, dep)
		}
	}
	return deps
}

// extractLoads returns the load() modules of a Starlark file. Other files,
// missing files and files with syntax errors have none.
func (w *Watcher) extractLoads(file string) []string {
	if !filekind.IsModule(file) {
		return nil
	}
	src, err := os.ReadFile(file)
	if err != nil {
		return nil
	}
	f, err := syntax.Parse(file, src, 0)
	if err != nil {
		w.logger.Debug("cannot parse module for load() statements", "file", file, "error", err)
		return nil
	}

	var loads []string
	for _, stmt := range f.Stmts {
		if load, ok := stmt.(*syntax.LoadStmt); ok {
			if module, ok := load.Module.Value.(string); ok {
				loads = append(loads, module)
			}
		}
	}
	return loads
}

// resolveLoadPath resolves a load() module the way module execution does:
// "//x.star" from the root, anything else from the loading file. Modules
// outside the root are not tracked.
func (w *Watcher) resolveLoadPath(fromFile, module string) string {
	var p string
	switch {
	case strings.HasPrefix(module, "//"):
		p = filepath.Join(w.root, filepath.FromSlash(strings.TrimPrefix(module, "//")))
	case strings.HasPrefix(module, "@"), filepath.IsAbs(module):
		return ""
	default:
		p = filepath.Join(filepath.Dir(fromFile), filepath.FromSlash(module))
	}
	if !fsguard.Within(w.root, p) {
		return ""
	}
	return p
}

// watchDir adds dir to the fsnotify watcher once. Must be called with mu held.
func (w *Watcher) watchDir(dir string) error {
	if w.dirs[dir] {
		return nil
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.dirs[dir] = true
	w.logger.Debug("watching directory for changes", "path", dir)
	return nil
}

// run processes filesystem events.
func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.Errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// handleEvent emits an Event when a tracked file changed.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	absPath, _ := filepath.Abs(event.Name)

	// A changed module may load different files now.
	if filekind.IsModule(absPath) {
		w.Refresh()
	}

	w.mu.RLock()
	affected := w.affected(absPath)
	w.mu.RUnlock()
	if len(affected) == 0 {
		return
	}

	w.logger.Debug("tracked file changed", "file", absPath, "op", event.Op.String())
	select {
	case w.Events <- Event{File: absPath, Op: event.Op, Affected: affected}:
	case <-w.done:
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
