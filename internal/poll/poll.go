// Package poll runs a task on a fixed cadence.
package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is one poll. Errors are logged and do not stop the schedule.
type Task func(ctx context.Context) error

// Scheduler runs a task immediately and then once per interval, measured
// from the end of the previous run. Runs never overlap.
type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	task     Task
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a scheduler. Each run is bounded by timeout when it is
// positive.
func New(interval, timeout time.Duration, task Task, log zerolog.Logger) *Scheduler {
	return &Scheduler{interval: interval, timeout: timeout, task: task, log: log}
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start launches the loop. The first run starts right away without
// blocking the caller.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

// Stop cancels the loop and any in-flight run, then waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.run(ctx)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(s.interval)
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("poll panicked")
		}
	}()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := s.task(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Warn().Err(err).Dur("took", time.Since(start)).Msg("poll failed")
		}
		return
	}
	s.log.Debug().Dur("took", time.Since(start)).Msg("poll complete")
}
