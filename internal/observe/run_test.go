package observe

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"
)

func withClock(t *testing.T, times ...time.Time) {
	t.Helper()
	orig := nowFunc
	i := 0
	nowFunc = func() time.Time {
		tm := times[i]
		if i < len(times)-1 {
			i++
		}
		return tm
	}
	t.Cleanup(func() { nowFunc = orig })
}

func TestNewCorrelationID_ShouldHaveReqPrefixAndEightHexChars(t *testing.T) {
	id := NewCorrelationID()
	if !regexp.MustCompile(`^req-[0-9a-f]{8}$`).MatchString(id) {
		t.Errorf("unexpected correlation id %q", id)
	}
}

func TestNewCorrelationID_ShouldDifferAcrossCalls(t *testing.T) {
	if NewCorrelationID() == NewCorrelationID() {
		t.Error("expected distinct ids")
	}
}

func TestRun_StopTimer_WhenStarted_ShouldReturnElapsedMs(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	withClock(t, base, base, base.Add(250*time.Millisecond))
	run := NewRun(nil)

	run.StartTimer("model")
	got := run.StopTimer("model")

	if got != 250 {
		t.Errorf("expected 250ms, got %d", got)
	}
}

func TestRun_StopTimer_WhenNeverStarted_ShouldReturnZero(t *testing.T) {
	run := NewRun(nil)
	if got := run.StopTimer("missing"); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestRun_StopTimer_WhenStoppedTwice_ShouldReturnZeroSecondTime(t *testing.T) {
	run := NewRun(nil)
	run.StartTimer("tool")
	run.StopTimer("tool")
	if got := run.StopTimer("tool"); got != 0 {
		t.Errorf("expected 0 after stop, got %d", got)
	}
}

func TestRun_Logger_ShouldAttachRequestID(t *testing.T) {
	var buf bytes.Buffer
	run := NewRun(slog.New(slog.NewTextHandler(&buf, nil)))

	run.Logger().Info("hello")

	if !strings.Contains(buf.String(), "request_id="+run.ID()) {
		t.Errorf("log line missing request_id: %s", buf.String())
	}
}

func TestRuns_ShouldNotShareCorrelationIDs(t *testing.T) {
	a, b := NewRun(nil), NewRun(nil)
	if a.ID() == b.ID() {
		t.Error("concurrent runs must own distinct ids")
	}
	a.StartTimer("x")
	if got := b.StopTimer("x"); got != 0 {
		t.Errorf("timer leaked across runs: %d", got)
	}
}

func TestLogger_WhenContextCarriesRun_ShouldReturnRunLogger(t *testing.T) {
	var buf bytes.Buffer
	run := NewRun(slog.New(slog.NewTextHandler(&buf, nil)))
	ctx := WithRun(context.Background(), run)

	Logger(ctx, nil).Info("x")

	if !strings.Contains(buf.String(), run.ID()) {
		t.Errorf("expected run logger, got %s", buf.String())
	}
}

func TestLogger_WhenNoRun_ShouldReturnFallback(t *testing.T) {
	fallback := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if Logger(context.Background(), fallback) != fallback {
		t.Error("expected fallback logger")
	}
	if Logger(context.Background(), nil) == nil {
		t.Error("expected default logger")
	}
}

func TestClip_ShouldTruncateLongStrings(t *testing.T) {
	if got := Clip("abcdef", 3); got != "abc..." {
		t.Errorf("got %q", got)
	}
	if got := Clip("abc", 10); got != "abc" {
		t.Errorf("got %q", got)
	}
}
