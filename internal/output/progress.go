package output

import (
	"fmt"
	"os"
)

// ProgressWriter writes the periodic progress line: overwritten in place
// with a leading carriage return on a terminal, or appended one line per
// call otherwise (a redirected/piped stderr has no cursor to return to).
// Grounded on print_progress's warn(message, overwrite=True), whose
// overwrite behavior is itself conditioned on stderr being a tty.
type ProgressWriter struct {
	f     *os.File
	isTTY bool
}

// NewProgressWriter wraps f, sniffing whether it is a terminal once at
// construction time.
func NewProgressWriter(f *os.File) *ProgressWriter {
	return &ProgressWriter{f: f, isTTY: isTerminal(f)}
}

// WriteLine writes one progress line.
func (p *ProgressWriter) WriteLine(line string) error {
	var err error
	if p.isTTY {
		_, err = fmt.Fprint(p.f, "\r"+line)
	} else {
		_, err = fmt.Fprintln(p.f, line)
	}
	if err != nil {
		return fmt.Errorf("output: write progress: %w", err)
	}
	return nil
}
