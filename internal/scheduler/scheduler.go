// Package scheduler fires a pipeline on a fixed period with single-flight
// backpressure: a tick that arrives while the previous pipeline is still
// running is dropped, never queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/face-overlay/internal/logger"
	"github.com/dj-oyu/face-overlay/internal/metrics"
)

var (
	ErrRunning = errors.New("scheduler already started")
	ErrStopped = errors.New("scheduler stopped")
)

// TickFunc runs one pipeline. ctx is cancelled when the scheduler stops.
type TickFunc func(ctx context.Context) error

// Options configure a Scheduler
type Options struct {
	Log     logger.Module
	Metrics *metrics.Metrics
}

// Stats are cumulative tick counters
type Stats struct {
	Fired     uint64 `json:"fired"`
	Skipped   uint64 `json:"skipped"`
	Failed    uint64 `json:"failed"`
	Completed uint64 `json:"completed"`
	InFlight  bool   `json:"in_flight"`
}

// Scheduler runs TickFunc roughly every interval, at most one at a time
type Scheduler struct {
	interval time.Duration
	tick     TickFunc
	log      logger.Module
	metrics  *metrics.Metrics

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	stopped  atomic.Bool
	inFlight atomic.Bool
	wg       sync.WaitGroup

	fired     atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
	completed atomic.Uint64
}

// New creates a stopped Scheduler
func New(interval time.Duration, tick TickFunc, opts Options) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %v", interval)
	}
	if tick == nil {
		return nil, errors.New("tick function is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Scheduler{
		interval: interval,
		tick:     tick,
		log:      opts.Log,
		metrics:  opts.Metrics,
	}, nil
}

// Start begins firing. A scheduler can be started once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() {
		return ErrStopped
	}
	if s.started {
		return ErrRunning
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)

	s.log.Info("Started (interval=%v)", s.interval)
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

// fire starts one pipeline unless the scheduler is stopped or a pipeline is
// already in flight. Only the run goroutine calls it.
func (s *Scheduler) fire(ctx context.Context) bool {
	if s.stopped.Load() || ctx.Err() != nil {
		return false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		n := s.skipped.Add(1)
		s.metrics.TicksSkipped.Add(1)
		if n%25 == 1 {
			s.log.Debug("Tick dropped, request in flight (skipped=%d)", n)
		}
		return false
	}

	s.fired.Add(1)
	s.metrics.TicksFired.Add(1)
	s.wg.Add(1)
	go s.execute(ctx)
	return true
}

func (s *Scheduler) execute(ctx context.Context) {
	defer s.wg.Done()
	defer s.inFlight.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			s.metrics.TicksFailed.Add(1)
			s.log.Error("Tick panicked: %v", r)
		}
	}()

	if err := s.tick(ctx); err != nil {
		s.failed.Add(1)
		s.metrics.TicksFailed.Add(1)
		s.log.Debug("Tick failed: %v", err)
		return
	}
	s.completed.Add(1)
	s.metrics.TicksCompleted.Add(1)
}

// Stop cancels the timer and the context of any in-flight pipeline. Safe to
// call more than once and before Start.
func (s *Scheduler) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.log.Info("Stopped (fired=%d, skipped=%d, failed=%d)", s.fired.Load(), s.skipped.Load(), s.failed.Load())
}

// Wait blocks until the timer loop has exited and any in-flight pipeline has settled
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	s.wg.Wait()
}

// Stopped reports whether Stop has been called
func (s *Scheduler) Stopped() bool {
	return s.stopped.Load()
}

// Stats returns a snapshot of the tick counters
func (s *Scheduler) Stats() Stats {
	return Stats{
		Fired:     s.fired.Load(),
		Skipped:   s.skipped.Load(),
		Failed:    s.failed.Load(),
		Completed: s.completed.Load(),
		InFlight:  s.inFlight.Load(),
	}
}
