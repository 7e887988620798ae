package banner

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestStartup_ShouldPrintArtVersionAndStatus(t *testing.T) {
	var buf bytes.Buffer

	Startup(&buf, "1.2.0", "gateway :8080", "discord on")

	out := buf.String()
	for _, want := range []string{"foxhole logistics", "v1.2.0", "  gateway :8080\n", "  discord on\n", "|_|"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("colour written to a non-terminal")
	}
}

func TestStartup_WhenTerminal_ShouldColourTagline(t *testing.T) {
	old := isTerminal
	isTerminal = func(io.Writer) bool { return true }
	t.Cleanup(func() { isTerminal = old })
	var buf bytes.Buffer

	Startup(&buf, "dev")

	if !strings.Contains(buf.String(), "\033[36m") {
		t.Errorf("got %q", buf.String())
	}
}

func TestSplitLines(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"hello", 1},
		{"a\nb\nc", 3},
		{"\nfirst\n", 1},
	}
	for _, tc := range cases {
		if got := splitLines(tc.in); len(got) != tc.want {
			t.Errorf("splitLines(%q): got %q", tc.in, got)
		}
	}
}
