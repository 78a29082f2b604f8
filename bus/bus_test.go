package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rogerkorantenng/shipit/event"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := New(Config{HistorySize: 16, WorkerPoolSize: 4, PublishTimeout: time.Second, DispatchTimeout: time.Second})
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := newTestBus(t)

	var got atomic.Value
	done := make(chan struct{})
	b.Subscribe(event.KindCodePushed, func(ctx context.Context, e event.Event) error {
		got.Store(e)
		close(done)
		return nil
	})

	e := event.New(event.KindCodePushed, event.Payload{"branch": "main"}, "test", nil)
	if err := b.Publish(e); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	delivered := got.Load().(event.Event)
	if delivered.ID != e.ID {
		t.Fatalf("got event %s, want %s", delivered.ID, e.ID)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)

	var calls int32
	id := b.Subscribe(event.KindCodePushed, func(ctx context.Context, e event.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	b.Unsubscribe(id)

	if err := b.Publish(event.New(event.KindCodePushed, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("handler invoked %d times after unsubscribe", calls)
	}
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	b := newTestBus(t)

	var secondCalled atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)

	b.Subscribe(event.KindDeployStarted, func(ctx context.Context, e event.Event) error {
		panic("boom")
	})
	b.Subscribe(event.KindDeployStarted, func(ctx context.Context, e event.Event) error {
		defer wg.Done()
		secondCalled.Store(true)
		return nil
	})

	if err := b.Publish(event.New(event.KindDeployStarted, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second handler never ran after first panicked")
	}

	if !secondCalled.Load() {
		t.Fatal("second handler did not run")
	}
}

func TestHandlerErrorDoesNotAbortDispatch(t *testing.T) {
	b := newTestBus(t)

	var ran atomic.Bool
	done := make(chan struct{})
	b.Subscribe(event.KindDeployStarted, func(ctx context.Context, e event.Event) error {
		return errors.New("handler failed")
	})
	b.Subscribe(event.KindDeployStarted, func(ctx context.Context, e event.Event) error {
		ran.Store(true)
		close(done)
		return nil
	})

	if err := b.Publish(event.New(event.KindDeployStarted, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sibling handler never ran")
	}
	if !ran.Load() {
		t.Fatal("sibling handler did not run")
	}
}

func TestHistoryOrderingAndFilters(t *testing.T) {
	b := newTestBus(t)

	proj1 := 1
	proj2 := 2
	events := []event.Event{
		event.New(event.KindCodePushed, nil, "test", &proj1),
		event.New(event.KindPROpened, nil, "test", &proj2),
		event.New(event.KindCodePushed, nil, "test", &proj1),
	}
	for _, e := range events {
		if err := b.Publish(e); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	time.Sleep(20 * time.Millisecond)

	all := b.History(0, nil, nil)
	if len(all) != 3 {
		t.Fatalf("got %d history entries, want 3", len(all))
	}
	if all[0].ID != events[0].ID || all[2].ID != events[2].ID {
		t.Fatal("history is not in chronological order")
	}

	kind := event.KindCodePushed
	filtered := b.History(0, &kind, nil)
	if len(filtered) != 2 {
		t.Fatalf("got %d code_pushed entries, want 2", len(filtered))
	}

	byProject := b.History(0, nil, &proj2)
	if len(byProject) != 1 || byProject[0].ID != events[1].ID {
		t.Fatal("project filter returned wrong events")
	}

	limited := b.History(1, nil, nil)
	if len(limited) != 1 || limited[0].ID != events[2].ID {
		t.Fatal("limit did not return the most recent event")
	}
}

func TestHistoryRingBufferWraps(t *testing.T) {
	b := New(Config{HistorySize: 2, WorkerPoolSize: 2})
	b.Start()
	defer b.Stop()

	ids := make([]string, 3)
	for i := range ids {
		e := event.New(event.KindCodePushed, nil, "test", nil)
		ids[i] = e.ID
		if err := b.Publish(e); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	all := b.History(0, nil, nil)
	if len(all) != 2 {
		t.Fatalf("got %d entries, want 2 (ring buffer capacity)", len(all))
	}
	if all[0].ID != ids[1] || all[1].ID != ids[2] {
		t.Fatal("ring buffer did not retain the two most recent events")
	}
}

func TestPublishAfterStopFails(t *testing.T) {
	b := New(Config{})
	b.Start()
	b.Stop()

	if err := b.Publish(event.New(event.KindCodePushed, nil, "test", nil)); !errors.Is(err, ErrBusStopped) {
		t.Fatalf("got %v, want ErrBusStopped", err)
	}
}

// TestSlowHandlerDoesNotBlockOtherKind proves a slow handler on one event
// kind cannot stall delivery of a different kind: dispatch runs on its own
// goroutine per event (see spawnDispatch), so the loop can pick up and
// deliver KindPROpened while KindCodePushed's handler is still sleeping.
func TestSlowHandlerDoesNotBlockOtherKind(t *testing.T) {
	b := New(Config{HistorySize: 16, WorkerPoolSize: 4, PublishTimeout: time.Second, DispatchTimeout: 5 * time.Second})
	b.Start()
	t.Cleanup(b.Stop)

	slowStarted := make(chan struct{})
	slowDone := make(chan struct{})
	b.Subscribe(event.KindCodePushed, func(ctx context.Context, e event.Event) error {
		close(slowStarted)
		time.Sleep(300 * time.Millisecond)
		close(slowDone)
		return nil
	})

	fastDone := make(chan struct{})
	b.Subscribe(event.KindPROpened, func(ctx context.Context, e event.Event) error {
		close(fastDone)
		return nil
	})

	if err := b.Publish(event.New(event.KindCodePushed, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case <-slowStarted:
	case <-time.After(time.Second):
		t.Fatal("slow handler never started")
	}

	if err := b.Publish(event.New(event.KindPROpened, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-fastDone:
	case <-slowDone:
		t.Fatal("slow handler finished before fast handler of a different kind was delivered")
	case <-time.After(time.Second):
		t.Fatal("fast handler was never invoked")
	}
}

func TestConcurrentPublishIsRaceFree(t *testing.T) {
	b := newTestBus(t)

	var count atomic.Int64
	b.Subscribe(event.KindCodePushed, func(ctx context.Context, e event.Event) error {
		count.Add(1)
		return nil
	})

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Publish(event.New(event.KindCodePushed, nil, "test", nil))
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for count.Load() < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := count.Load(); got != n {
		t.Fatalf("handler invoked %d times, want %d", got, n)
	}
}
