// Package banner prints the daemon's startup banner.
package banner

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

const art = `
  ___                  _                              _
 / _ \ _  _ __ _ _ _| |_ ___ _ _ _ __  __ _ ____| |_ ___ _ _
| (_) | || / _' | '_|  _/ -_) '_| '  \/ _' (_-<  _/ -_) '_|
 \__\_\\_,_\__,_|_|  \__\___|_| |_|_|_\__,_/__/\__\___|_|
`

// isTerminal reports whether w is an interactive terminal. Tests replace it.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// Startup writes the banner, the version and one line per status entry to
// w. Colour is used only on a terminal.
func Startup(w io.Writer, version string, status ...string) {
	colour := isTerminal(w)
	for _, line := range splitLines(art) {
		fmt.Fprintln(w, line)
	}
	tagline := "  foxhole logistics  "
	if colour {
		tagline = "\033[36m" + tagline + "\033[0m"
	}
	fmt.Fprintf(w, "%s v%s\n", tagline, version)
	for _, s := range status {
		fmt.Fprintln(w, "  "+s)
	}
	fmt.Fprintln(w)
}

// splitLines splits s on newlines, dropping a leading empty line.
func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
