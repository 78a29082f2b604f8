package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobsRunOnTickWhenDue(t *testing.T) {
	s := New(20*time.Millisecond, nil)
	var calls atomic.Int32
	s.AddJob("sla-sweep", 10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got < 2 {
		t.Fatalf("job ran %d times in 100ms at a 20ms tick, want at least 2", got)
	}
}

func TestJobNotDueDoesNotRun(t *testing.T) {
	s := New(10*time.Millisecond, nil)
	var calls atomic.Int32
	s.AddJob("hourly", time.Hour, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(60 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("job ran %d times, want 0 (not due until an hour after registration)", got)
	}
}

func TestFailingJobDoesNotBlockOthers(t *testing.T) {
	s := New(10*time.Millisecond, nil)
	var okCalls atomic.Int32
	s.AddJob("failing", 10*time.Millisecond, func(ctx context.Context) error {
		return errors.New("boom")
	})
	s.AddJob("ok", 10*time.Millisecond, func(ctx context.Context) error {
		okCalls.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	if okCalls.Load() == 0 {
		t.Fatal("sibling job never ran after another job failed")
	}
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	s := New(5*time.Millisecond, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	s.AddJob("slow", time.Millisecond, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	s.Start(context.Background())
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight job finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop never returned after job finished")
	}
}
