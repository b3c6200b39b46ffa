// Package cli provides shared utilities for skyvars command-line tools.
package cli

import (
	"errors"
	"fmt"
)

// Standard exit codes.
//
// These follow Unix conventions:
//   - 0: Success
//   - 1: General error (resolution failures, I/O errors, etc.)
//   - 2: Usage errors and check failures (-expect mismatch)
//   - 3: Resolution is pending on a variable that is not resolved yet
const (
	// ExitOK indicates successful execution with no issues.
	ExitOK = 0

	// ExitError indicates a fatal error occurred.
	ExitError = 1

	// ExitWarning indicates the tool completed but a check failed, or that it
	// was invoked incorrectly.
	ExitWarning = 2

	// ExitPending indicates the value depends on a variable that is not
	// resolved yet. Running again once it is resolved may succeed.
	ExitPending = 3
)

// ExitCodeError carries a specific exit code through an error return.
type ExitCodeError int

func (e ExitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

// ExitCode maps an error to a process exit code: nil is ExitOK, an
// ExitCodeError anywhere in the chain is its own code, anything else is
// ExitError.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var code ExitCodeError
	if errors.As(err, &code) {
		return int(code)
	}
	return ExitError
}
