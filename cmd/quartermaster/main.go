package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// version is set at build time via ldflags, e.g.:
//
//	go build -ldflags "-X main.version=1.4.0" -o quartermaster ./cmd/quartermaster
var version string

// exitFunc is the function used by main to exit; tests may replace it.
var exitFunc = os.Exit

func main() {
	exitFunc(runApp(os.Args, os.Stdout, os.Stderr))
}

// buildMeta holds version and build metadata.
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(v string) buildMeta {
	if v == "" {
		v = readVersionFile()
	}
	return buildMeta{Version: v, GoOS: runtime.GOOS, GoArch: runtime.GOARCH}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("quartermaster %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

func readVersionFile() string {
	b, err := os.ReadFile("VERSION")
	if err != nil {
		return "dev"
	}
	return strings.TrimSpace(string(b))
}

// exitCodeErr carries an exit code for the process.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

// runApp runs the root command with args and returns the exit code: 0 on
// success, 2 when refusing to run as root, the code an exitCodeErr carries,
// and 1 for every other error.
func runApp(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(newBuildMeta(version))
	root.SetArgs(args[1:])
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err == nil {
		return 0
	}
	if errors.Is(err, errRunningAsRoot) {
		fmt.Fprintln(stderr, err)
		return 2
	}
	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	fmt.Fprintln(stderr, "Error:", err)
	return 1
}
