package output

import (
	"os"

	"golang.org/x/term"
)

// NoColor reports whether ANSI color output should be suppressed.
// Returns true when the NO_COLOR environment variable is set (any value).
func NoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// isTerminal reports whether f is connected to a terminal, the same
// check the teacher's TLS/prompt code uses term.IsTerminal for.
func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
