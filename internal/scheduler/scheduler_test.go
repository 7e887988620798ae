package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// =============================================================================
// Mock CronEngine for testing (avoids real cron dependency)
// =============================================================================

type mockCronEngine struct {
	mu      sync.Mutex
	funcs   map[int]func()
	specs   map[int]string
	nextID  int
	started bool
	stopped bool
	addErr  error // when non-nil, AddFunc returns this error
	removed []int
}

func newMockCronEngine() *mockCronEngine {
	return &mockCronEngine{
		funcs:  make(map[int]func()),
		specs:  make(map[int]string),
		nextID: 1,
	}
}

func (m *mockCronEngine) AddFunc(spec string, cmd func()) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return 0, m.addErr
	}
	id := m.nextID
	m.nextID++
	m.funcs[id] = cmd
	m.specs[id] = spec
	return id, nil
}

func (m *mockCronEngine) Remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, id)
	delete(m.funcs, id)
}

func (m *mockCronEngine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
}

func (m *mockCronEngine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// fire simulates a cron trigger for the given entry ID.
func (m *mockCronEngine) fire(id int) {
	m.mu.Lock()
	fn, ok := m.funcs[id]
	m.mu.Unlock()
	if ok {
		fn()
	}
}

func noop(context.Context) error { return nil }

// =============================================================================
// NewScheduler / AddJob
// =============================================================================

func TestNewScheduler_WhenNilEngine_ShouldPanic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewScheduler(nil) should panic")
		}
	}()
	NewScheduler(nil)
}

func TestScheduler_AddJob_ShouldRegisterWithEngine(t *testing.T) {
	engine := newMockCronEngine()
	s := NewScheduler(engine)

	err := s.AddJob(Job{ID: "job-1", Name: "Test Job", CronExpr: "*/5 * * * *", Run: noop})

	if err != nil {
		t.Fatalf("AddJob should succeed, got error: %v", err)
	}
	if engine.specs[1] != "*/5 * * * *" {
		t.Errorf("spec: %q", engine.specs[1])
	}
}

func TestScheduler_AddJob_WhenInvalid_ShouldReturnSentinel(t *testing.T) {
	cases := []struct {
		name string
		job  Job
		want error
	}{
		{"empty id", Job{CronExpr: "* * * * *", Run: noop}, ErrEmptyJobID},
		{"empty cron", Job{ID: "j", Run: noop}, ErrEmptyCron},
		{"nil run", Job{ID: "j", CronExpr: "* * * * *"}, ErrNilRun},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := NewScheduler(newMockCronEngine()).AddJob(tc.job)

			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestScheduler_AddJob_WhenDuplicateID_ShouldReturnError(t *testing.T) {
	s := NewScheduler(newMockCronEngine())
	job := Job{ID: "job-1", CronExpr: "*/5 * * * *", Run: noop}
	if err := s.AddJob(job); err != nil {
		t.Fatalf("first AddJob should succeed: %v", err)
	}

	err := s.AddJob(job)

	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("got %v", err)
	}
}

func TestScheduler_AddJob_WhenCronEngineReturnsError_ShouldWrapIt(t *testing.T) {
	engine := newMockCronEngine()
	engine.addErr = errors.New("invalid cron expression")
	s := NewScheduler(engine)

	err := s.AddJob(Job{ID: "job-1", CronExpr: "bad-cron", Run: noop})

	if err == nil || !strings.Contains(err.Error(), "invalid cron expression") {
		t.Fatalf("got %v", err)
	}
	if _, ok := s.GetJob("job-1"); ok {
		t.Error("failed job was kept")
	}
}

// =============================================================================
// Firing
// =============================================================================

func TestScheduler_WhenFired_ShouldRunJobWithStartContext(t *testing.T) {
	// Given
	type key struct{}
	engine := newMockCronEngine()
	s := NewScheduler(engine)
	var got any
	_ = s.AddJob(Job{ID: "job-1", CronExpr: "@hourly", Run: func(ctx context.Context) error {
		got = ctx.Value(key{})
		return nil
	}})
	s.Start(context.WithValue(context.Background(), key{}, "daemon"))

	// When
	engine.fire(1)

	// Then
	if got != "daemon" {
		t.Errorf("job context value: %v", got)
	}
	if !engine.started {
		t.Error("expected cron engine to be started")
	}
}

func TestScheduler_WhenJobFails_ShouldLogAndKeepJob(t *testing.T) {
	var buf bytes.Buffer
	engine := newMockCronEngine()
	s := NewScheduler(engine, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	_ = s.AddJob(Job{ID: "job-1", CronExpr: "@hourly", Run: func(context.Context) error { return errors.New("db locked") }})

	engine.fire(1)

	if !strings.Contains(buf.String(), "job failed") || !strings.Contains(buf.String(), "db locked") {
		t.Errorf("log: %s", buf.String())
	}
	if _, ok := s.GetJob("job-1"); !ok {
		t.Error("failed job was removed")
	}
}

func TestScheduler_WhenFiredWhileRunning_ShouldSkipTick(t *testing.T) {
	// Given: a job blocked inside its first run
	engine := newMockCronEngine()
	s := NewScheduler(engine)
	var runs atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	_ = s.AddJob(Job{ID: "job-1", CronExpr: "@hourly", Run: func(context.Context) error {
		if runs.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}})
	done := make(chan struct{})
	go func() { engine.fire(1); close(done) }()
	<-started

	// When: the schedule fires again
	engine.fire(1)
	close(release)
	<-done

	// Then
	if runs.Load() != 1 {
		t.Errorf("runs: %d", runs.Load())
	}
	engine.fire(1)
	if runs.Load() != 2 {
		t.Errorf("job did not run after the overlap: %d", runs.Load())
	}
}

func TestScheduler_RunNow_ShouldRunOutsideSchedule(t *testing.T) {
	s := NewScheduler(newMockCronEngine())
	ran := false
	_ = s.AddJob(Job{ID: "job-1", CronExpr: "@hourly", Run: func(context.Context) error { ran = true; return nil }})

	if err := s.RunNow(context.Background(), "job-1"); err != nil || !ran {
		t.Errorf("ran=%v err=%v", ran, err)
	}
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("got %v", err)
	}
}

// =============================================================================
// RemoveJob / ListJobs / Stop
// =============================================================================

func TestScheduler_RemoveJob_ShouldUnregisterFromEngine(t *testing.T) {
	engine := newMockCronEngine()
	s := NewScheduler(engine)
	_ = s.AddJob(Job{ID: "job-1", CronExpr: "@hourly", Run: noop})

	if err := s.RemoveJob("job-1"); err != nil {
		t.Fatal(err)
	}

	if len(engine.removed) != 1 || engine.removed[0] != 1 {
		t.Errorf("removed: %v", engine.removed)
	}
	if _, ok := s.GetJob("job-1"); ok {
		t.Error("job still listed")
	}
}

func TestScheduler_RemoveJob_WhenMissing_ShouldReturnError(t *testing.T) {
	s := NewScheduler(newMockCronEngine())

	if err := s.RemoveJob(""); !errors.Is(err, ErrEmptyJobID) {
		t.Errorf("got %v", err)
	}
	if err := s.RemoveJob("nope"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("got %v", err)
	}
}

func TestScheduler_ListJobs_ShouldBeSortedAndNeverNil(t *testing.T) {
	s := NewScheduler(newMockCronEngine())
	if jobs := s.ListJobs(); jobs == nil || len(jobs) != 0 {
		t.Fatalf("got %v", jobs)
	}
	_ = s.AddJob(Job{ID: "b", CronExpr: "@hourly", Run: noop})
	_ = s.AddJob(Job{ID: "a", CronExpr: "@daily", Run: noop})

	jobs := s.ListJobs()

	if len(jobs) != 2 || jobs[0].ID != "a" || jobs[1].ID != "b" {
		t.Errorf("got %+v", jobs)
	}
}

func TestScheduler_Stop_ShouldStopCronEngine(t *testing.T) {
	engine := newMockCronEngine()
	s := NewScheduler(engine)

	s.Start(context.Background())
	s.Stop()

	if !engine.stopped {
		t.Error("expected cron engine to be stopped")
	}
}
