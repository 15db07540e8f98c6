package format

import (
	"os"

	"golang.org/x/term"
)

// IsTTY reports whether output should use terminal color formatting:
// false if NO_COLOR is set, TERM is "dumb" or empty, or stdout isn't a
// terminal, grounded on internal/cli/format/tty.go.
func IsTTY() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if t := os.Getenv("TERM"); t == "dumb" || t == "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
