// Package queue serializes work per channel: jobs for one lane run one at a
// time in submission order while different lanes run in parallel.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrEmptyLaneID is returned when Do is called with an empty lane ID.
var ErrEmptyLaneID = errors.New("queue: lane ID must not be empty")

// laneBuffer is the capacity of each lane's job channel.
const laneBuffer = 256

// DefaultIdleTimeout is how long a lane's worker waits for work before exiting.
const DefaultIdleTimeout = 5 * time.Minute

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

type lane struct {
	id      string
	jobs    chan job
	pending int // submitted but not yet picked up; guarded by Lanes.mu
}

// Lanes is a set of per-channel FIFO workers. A lane's worker goroutine is
// started on first use and exits after the idle timeout without work.
type Lanes struct {
	mu    sync.Mutex
	lanes map[string]*lane
	idle  time.Duration // fixed at construction
}

// Option configures Lanes.
type Option func(*Lanes)

// WithIdleTimeout sets how long an empty lane's worker lingers. Non-positive
// values keep DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(q *Lanes) {
		if d > 0 {
			q.idle = d
		}
	}
}

func New(opts ...Option) *Lanes {
	q := &Lanes{lanes: make(map[string]*lane), idle: DefaultIdleTimeout}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Do runs fn in laneID's lane and waits for it. A job whose context is done
// before its turn is skipped. Panics in fn are returned as errors.
func (q *Lanes) Do(ctx context.Context, laneID string, fn func(context.Context) error) error {
	if laneID == "" {
		return ErrEmptyLaneID
	}
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	l := q.reserve(laneID)

	select {
	case l.jobs <- j:
	case <-ctx.Done():
		q.release(l)
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserve returns laneID's lane with a pending slot taken, so the worker
// cannot retire it before the job arrives.
func (q *Lanes) reserve(laneID string) *lane {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[laneID]
	if !ok {
		l = &lane{id: laneID, jobs: make(chan job, laneBuffer)}
		q.lanes[laneID] = l
		go q.work(l)
	}
	l.pending++
	return l
}

func (q *Lanes) release(l *lane) {
	q.mu.Lock()
	l.pending--
	q.mu.Unlock()
}

func (q *Lanes) work(l *lane) {
	idle := time.NewTimer(q.idle)
	defer idle.Stop()
	for {
		select {
		case j := <-l.jobs:
			q.release(l)
			if err := j.ctx.Err(); err != nil {
				j.done <- err
			} else {
				j.done <- run(j)
			}
			idle.Reset(q.idle)
		case <-idle.C:
			q.mu.Lock()
			if l.pending == 0 && len(l.jobs) == 0 {
				delete(q.lanes, l.id)
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			idle.Reset(q.idle)
		}
	}
}

func run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: panic: %v", r)
		}
	}()
	return j.fn(j.ctx)
}

// Len is the number of lanes with a live worker.
func (q *Lanes) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}
