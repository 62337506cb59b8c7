package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dj-oyu/face-overlay/internal/metrics"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSingleFlightDropsTicks(t *testing.T) {
	release := make(chan struct{})
	var running, peak, calls atomic.Int32

	tick := func(ctx context.Context) error {
		calls.Add(1)
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer running.Add(-1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}

	m := metrics.New()
	s, err := New(2*time.Millisecond, tick, Options{Metrics: m})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The first call blocks; subsequent ticks must be dropped.
	waitFor(t, time.Second, func() bool { return s.Stats().Skipped >= 5 })
	if c := calls.Load(); c != 1 {
		t.Fatalf("tick called %d times while blocked, want 1", c)
	}

	close(release)
	waitFor(t, time.Second, func() bool { return calls.Load() >= 3 })

	s.Stop()
	s.Wait()

	if p := peak.Load(); p != 1 {
		t.Fatalf("peak concurrency = %d, want 1", p)
	}
	if m.TicksSkipped.Load() != s.Stats().Skipped {
		t.Fatalf("metrics skipped = %d, stats = %d", m.TicksSkipped.Load(), s.Stats().Skipped)
	}
	// Dropped ticks are never replayed.
	st := s.Stats()
	if st.Fired != uint64(calls.Load()) {
		t.Fatalf("fired = %d, calls = %d", st.Fired, calls.Load())
	}
}

func TestGateReleasedAfterErrorAndPanic(t *testing.T) {
	var calls atomic.Int32
	tick := func(ctx context.Context) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("transport down")
		case 2:
			panic("decoder exploded")
		}
		return nil
	}

	s, err := New(time.Millisecond, tick, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return calls.Load() >= 3 })
	s.Stop()
	s.Wait()

	st := s.Stats()
	if st.Failed != 2 {
		t.Fatalf("failed = %d, want 2", st.Failed)
	}
	if st.Completed < 1 {
		t.Fatalf("completed = %d", st.Completed)
	}
	if st.InFlight {
		t.Fatal("gate still held after Wait")
	}
}

func TestStopCancelsInFlightAndPreventsFurtherTicks(t *testing.T) {
	started := make(chan struct{}, 1)
	var cancelled atomic.Bool
	var calls atomic.Int32

	tick := func(ctx context.Context) error {
		calls.Add(1)
		started <- struct{}{}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}

	s, _ := New(time.Millisecond, tick, Options{})
	_ = s.Start(context.Background())
	<-started

	s.Stop()
	s.Stop()
	s.Wait()

	if !cancelled.Load() {
		t.Fatal("in-flight pipeline context not cancelled")
	}
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != n {
		t.Fatal("tick fired after Stop")
	}
	if s.fire(context.Background()) {
		t.Fatal("fire succeeded after Stop")
	}
}

func TestStartErrors(t *testing.T) {
	s, _ := New(time.Hour, func(context.Context) error { return nil }, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Start = %v, want ErrRunning", err)
	}
	s.Stop()
	s.Wait()

	stoppedFirst, _ := New(time.Hour, func(context.Context) error { return nil }, Options{})
	stoppedFirst.Stop()
	if err := stoppedFirst.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start after Stop = %v, want ErrStopped", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(0, func(context.Context) error { return nil }, Options{}); err == nil {
		t.Fatal("zero interval accepted")
	}
	if _, err := New(time.Second, nil, Options{}); err == nil {
		t.Fatal("nil tick accepted")
	}
}
