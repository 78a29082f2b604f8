package testintelligence

import (
	"context"
	"testing"
	"time"

	"github.com/rogerkorantenng/shipit/bus"
	"github.com/rogerkorantenng/shipit/event"
	"github.com/rogerkorantenng/shipit/llm"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(bus.Config{HistorySize: 16, WorkerPoolSize: 4, PublishTimeout: time.Second, DispatchTimeout: time.Second})
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func subscribeHandle(b *bus.Bus, a *Agent) {
	for _, kind := range a.SubscribedKinds() {
		b.Subscribe(kind, a.Handle)
	}
}

func TestHandlePublishesSuggestionsAndReportForInlineDiff(t *testing.T) {
	b := newTestBus(t)
	mock := llm.NewMockClient(`{"unit_tests":[{"name":"TestLogin","description":"covers happy path"}],
		"integration_tests":[],"edge_cases":["empty password"],"coverage_gaps":["no test for expired token"],
		"priority_order":["TestLogin"]}`)
	a := New(b, mock, nil, nil)
	subscribeHandle(b, a)

	suggestions := make(chan event.Event, 1)
	report := make(chan event.Event, 1)
	b.Subscribe(event.KindTestSuggestionsGenerated, func(ctx context.Context, e event.Event) error {
		suggestions <- e
		return nil
	})
	b.Subscribe(event.KindTestReportCreated, func(ctx context.Context, e event.Event) error {
		report <- e
		return nil
	})

	if err := b.Publish(event.New(event.KindPROpened, event.Payload{
		"mr_iid": 12, "diff": "+func Login() {}", "files": []string{"auth.go"},
	}, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case e := <-suggestions:
		if got := e.Payload.Int("unit_tests_count"); got != 1 {
			t.Fatalf("unit_tests_count = %d, want 1", got)
		}
	case <-time.After(time.Second):
		t.Fatal("test_suggestions_generated was never published")
	}

	select {
	case e := <-report:
		if got := e.Payload.Int("total_suggested"); got != 1 {
			t.Fatalf("total_suggested = %d, want 1", got)
		}
	case <-time.After(time.Second):
		t.Fatal("test_report_created was never published")
	}
}

func TestHandleSkipsWhenNoDiffAvailable(t *testing.T) {
	b := newTestBus(t)
	a := New(b, llm.NewMockClient("{}"), nil, nil)
	subscribeHandle(b, a)

	report := make(chan event.Event, 1)
	b.Subscribe(event.KindTestReportCreated, func(ctx context.Context, e event.Event) error {
		report <- e
		return nil
	})

	if err := b.Publish(event.New(event.KindCodePushed, event.Payload{"mr_iid": 1}, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case e := <-report:
		t.Fatalf("unexpected test_report_created with no diff: %+v", e)
	case <-time.After(150 * time.Millisecond):
	}
}
