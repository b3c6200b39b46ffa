package cli

import (
	"fmt"
	"io"
)

// Output helpers ignore write errors: there is nothing useful to do when
// stdout or stderr is gone.

// Writef writes formatted output to w.
func Writef(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

// Writeln writes its arguments and a newline to w.
//
//	cli.Writeln(stderr) // blank line
func Writeln(w io.Writer, args ...any) {
	_, _ = fmt.Fprintln(w, args...)
}

// Write writes s to w.
func Write(w io.Writer, s string) {
	_, _ = io.WriteString(w, s)
}

// WriteBytes writes b to w, typically already rendered output.
func WriteBytes(w io.Writer, b []byte) {
	_, _ = w.Write(b)
}

// Errorf reports an error prefixed with the program name and returns
// ExitError, so a command can end with:
//
//	return cli.Errorf(stderr, "skyvars", "%v", err)
func Errorf(w io.Writer, prog, format string, args ...any) int {
	_, _ = fmt.Fprintf(w, "%s: %s\n", prog, fmt.Sprintf(format, args...))
	return ExitError
}
