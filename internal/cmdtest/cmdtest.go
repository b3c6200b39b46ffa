// Package cmdtest provides a testscript-based test harness for skyvars.
//
// Test files use the txtar format to specify input files and expected
// outputs.
//
// Example test file (testdata/skyvars/yaml.txtar):
//
//	# Resolve a nested YAML property
//	exec skyvars config.yml db.host
//	stdout '"db.local"'
//
//	-- config.yml --
//	db:
//	  host: db.local
package cmdtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"

	"github.com/albertocavalcante/skyvars/internal/cmd/skyvars"
)

// Run executes the testscript tests in the given directory.
func Run(t *testing.T, dir string) {
	testscript.Run(t, testscript.Params{
		Dir: dir,
		Setup: func(env *testscript.Env) error {
			// Tool configuration discovery stops at the work directory.
			return os.MkdirAll(filepath.Join(env.WorkDir, ".git"), 0o755)
		},
	})
}

// Main is the TestMain function that should be called from test files.
// It sets up skyvars as a testscript command.
func Main(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"skyvars": wrapRun(skyvars.Run),
	}))
}

// wrapRun wraps a Run(args []string) int function to func() int for testscript.
// The args are taken from os.Args[1:].
func wrapRun(run func(args []string) int) func() int {
	return func() int {
		return run(os.Args[1:])
	}
}
