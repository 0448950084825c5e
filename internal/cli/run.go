// Package cli is the process-free entrypoint to the tufup command tree.
package cli

import (
	"fmt"
	"io"
)

// Handler executes the command tree and returns the process exit code.
//
// The main package sets it in init so tests can drive the whole CLI through
// Run with in-memory writers.
var Handler func(args []string, stdout, stderr io.Writer) int

// Run calls Handler. A panic inside a command is reported on stderr with
// exit code 2.
func Run(args []string, stdout, stderr io.Writer) (code int) {
	if Handler == nil {
		fmt.Fprintln(stderr, "internal error: cli handler not configured")
		return 1
	}
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "internal error: %v\n", r)
			code = 2
		}
	}()
	return Handler(args, stdout, stderr)
}
