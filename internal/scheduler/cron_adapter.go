package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// RobfigCronEngine adapts robfig/cron/v3 to the CronEngine interface.
type RobfigCronEngine struct {
	c *cron.Cron
}

// NewRobfigCronEngine creates a cron engine that accepts standard 5-field
// expressions and descriptors such as "@every 1h". Panics inside jobs are
// recovered and logged to logger (slog.Default when nil).
func NewRobfigCronEngine(logger *slog.Logger) *RobfigCronEngine {
	if logger == nil {
		logger = slog.Default()
	}
	l := cronLogger{logger}
	return &RobfigCronEngine{
		c: cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l))),
	}
}

// AddFunc adds a function to be called on the given schedule.
func (r *RobfigCronEngine) AddFunc(spec string, cmd func()) (int, error) {
	id, err := r.c.AddFunc(spec, cmd)
	return int(id), err
}

// Remove removes a previously registered entry by ID.
func (r *RobfigCronEngine) Remove(id int) {
	r.c.Remove(cron.EntryID(id))
}

// Start begins the cron scheduler in its own goroutine.
func (r *RobfigCronEngine) Start() {
	r.c.Start()
}

// Stop halts the cron scheduler and waits for running jobs to finish.
func (r *RobfigCronEngine) Stop() {
	<-r.c.Stop().Done()
}

// cronLogger routes cron's logr-style output to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
