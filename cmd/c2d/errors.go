package main

import (
	"fmt"
	"os"

	"github.com/edgefleet/c2d/internal/scheduler"
)

// Exit codes. Scripts driving the CLI can tell a rejected request from a
// missing operation from a broken installation.
const (
	exitInternal    = 1
	exitClientError = 2
	exitNotFound    = 3
)

// exitCodeFor maps a service error to a process exit code.
func exitCodeFor(err error) int {
	switch {
	case scheduler.IsNotFound(err):
		return exitNotFound
	case scheduler.IsClientError(err):
		return exitClientError
	default:
		return exitInternal
	}
}

// FatalError writes an error message to stderr and exits with code 1.
func FatalError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(exitInternal)
}

// FatalErrorWithHint writes an error message with a hint to stderr and exits.
func FatalErrorWithHint(message, hint string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	if hint != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	}
	os.Exit(exitInternal)
}

// FatalErrorRespectJSON reports err as JSON on stdout when --json is set and
// as text on stderr otherwise, then exits with the code matching err.
func FatalErrorRespectJSON(err error, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if jsonOutput {
		outputJSONError(msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	}
	os.Exit(exitCodeFor(err))
}

// WarnError writes a warning to stderr and returns. Use it for optional
// steps that should not stop the command.
func WarnError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}
