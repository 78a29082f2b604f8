package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rogerkorantenng/shipit/bus"
	"github.com/rogerkorantenng/shipit/event"
	"github.com/rogerkorantenng/shipit/store"
)

type stubAgent struct {
	name    string
	kinds   []event.Kind
	handle  func(ctx context.Context, e event.Event) error
}

func (s *stubAgent) Name() string                    { return s.name }
func (s *stubAgent) Description() string             { return "stub agent for tests" }
func (s *stubAgent) SubscribedKinds() []event.Kind    { return s.kinds }
func (s *stubAgent) Handle(ctx context.Context, e event.Event) error {
	return s.handle(ctx, e)
}

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(bus.Config{HistorySize: 16, WorkerPoolSize: 4, PublishTimeout: time.Second, DispatchTimeout: time.Second})
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestRuntimeSuccessUpdatesMetrics(t *testing.T) {
	b := newTestBus(t)
	processed := make(chan struct{})
	stub := &stubAgent{
		name:  "product-intelligence",
		kinds: []event.Kind{event.KindTicketCreated},
		handle: func(ctx context.Context, e event.Event) error {
			close(processed)
			return nil
		},
	}
	rt := NewRuntime(stub, b, nil)
	rt.Register()

	if err := b.Publish(event.New(event.KindTicketCreated, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-processed:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	time.Sleep(20 * time.Millisecond)

	d := rt.Descriptor()
	if d.Status != StatusIdle {
		t.Fatalf("status = %v, want idle", d.Status)
	}
	if d.Metrics.EventsProcessed != 1 {
		t.Fatalf("events processed = %d, want 1", d.Metrics.EventsProcessed)
	}
	if d.Metrics.LastRun == nil {
		t.Fatal("last run not recorded")
	}
}

func TestRuntimeErrorEmitsAgentError(t *testing.T) {
	b := newTestBus(t)
	errSeen := make(chan event.Event, 1)
	b.Subscribe(event.KindAgentError, func(ctx context.Context, e event.Event) error {
		errSeen <- e
		return nil
	})

	stub := &stubAgent{
		name:  "security-compliance",
		kinds: []event.Kind{event.KindCodePushed},
		handle: func(ctx context.Context, e event.Event) error {
			return errors.New("boom")
		},
	}
	rt := NewRuntime(stub, b, nil)
	rt.Register()

	src := event.New(event.KindCodePushed, nil, "test", nil)
	if err := b.Publish(src); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case e := <-errSeen:
		if e.Payload["agent_name"] != "security-compliance" {
			t.Fatalf("agent_name = %v, want security-compliance", e.Payload["agent_name"])
		}
		if e.CorrelationID != src.ID {
			t.Fatalf("correlation id = %s, want %s", e.CorrelationID, src.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("agent_error was never published")
	}

	time.Sleep(20 * time.Millisecond)
	d := rt.Descriptor()
	if d.Status != StatusError {
		t.Fatalf("status = %v, want error", d.Status)
	}
	if d.Metrics.Errors != 1 {
		t.Fatalf("errors = %d, want 1", d.Metrics.Errors)
	}
}

func TestRuntimePanicIsRecovered(t *testing.T) {
	b := newTestBus(t)
	errSeen := make(chan struct{}, 1)
	b.Subscribe(event.KindAgentError, func(ctx context.Context, e event.Event) error {
		errSeen <- struct{}{}
		return nil
	})

	stub := &stubAgent{
		name:  "deployment-orchestrator",
		kinds: []event.Kind{event.KindDeployStarted},
		handle: func(ctx context.Context, e event.Event) error {
			panic("unexpected")
		},
	}
	rt := NewRuntime(stub, b, nil)
	rt.Register()

	if err := b.Publish(event.New(event.KindDeployStarted, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-errSeen:
	case <-time.After(time.Second):
		t.Fatal("panic did not surface as agent_error")
	}
}

func TestRuntimeDisabledAgentNoOps(t *testing.T) {
	b := newTestBus(t)
	called := make(chan struct{}, 1)
	stub := &stubAgent{
		name:  "test-intelligence",
		kinds: []event.Kind{event.KindPROpened},
		handle: func(ctx context.Context, e event.Event) error {
			called <- struct{}{}
			return nil
		},
	}
	rt := NewRuntime(stub, b, nil)
	rt.Register()
	rt.Disable()

	if err := b.Publish(event.New(event.KindPROpened, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	select {
	case <-called:
		t.Fatal("disabled agent handled an event")
	default:
	}

	if rt.Descriptor().Status != StatusDisabled {
		t.Fatalf("status = %v, want disabled", rt.Descriptor().Status)
	}

	rt.Enable()
	if err := b.Publish(event.New(event.KindPROpened, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("re-enabled agent did not handle the event")
	}
}

func TestRuntimeRecordsAuditEntryOnSuccessAndError(t *testing.T) {
	b := newTestBus(t)
	audit := store.NewAuditLog()
	pid := 7

	ok := make(chan struct{})
	okStub := &stubAgent{
		name:  "product-intelligence",
		kinds: []event.Kind{event.KindTicketCreated},
		handle: func(ctx context.Context, e event.Event) error {
			close(ok)
			return nil
		},
	}
	rt := NewRuntime(okStub, b, nil)
	rt.audit = audit
	rt.Register()

	failing := make(chan struct{})
	failStub := &stubAgent{
		name:  "security-compliance",
		kinds: []event.Kind{event.KindCodePushed},
		handle: func(ctx context.Context, e event.Event) error {
			close(failing)
			return errors.New("boom")
		},
	}
	failRT := NewRuntime(failStub, b, nil)
	failRT.audit = audit
	failRT.Register()

	if err := b.Publish(event.New(event.KindTicketCreated, nil, "test", &pid)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Publish(event.New(event.KindCodePushed, nil, "test", &pid)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, done := range []chan struct{}{ok, failing} {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler never ran")
		}
	}
	time.Sleep(20 * time.Millisecond)

	entries := audit.Recent(0, &pid)
	if len(entries) != 2 {
		t.Fatalf("got %d audit entries, want 2", len(entries))
	}

	var sawProcessed, sawError bool
	for _, e := range entries {
		switch e.SourceAgent {
		case "product-intelligence":
			sawProcessed = true
			if e.Status != "processed" || e.ErrorMessage != "" {
				t.Fatalf("product-intelligence entry = %+v, want status=processed with no error", e)
			}
		case "security-compliance":
			sawError = true
			if e.Status != "error" || e.ErrorMessage == "" {
				t.Fatalf("security-compliance entry = %+v, want status=error with a message", e)
			}
		}
	}
	if !sawProcessed || !sawError {
		t.Fatalf("missing expected audit entries: %+v", entries)
	}
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	b := newTestBus(t)
	reg := NewRegistry(b, nil, nil)

	calls := 0
	stub := &stubAgent{
		name:  "analytics-insights",
		kinds: []event.Kind{event.KindMetricsCollected},
		handle: func(ctx context.Context, e event.Event) error {
			calls++
			return nil
		},
	}

	rt1 := reg.Register(stub)
	rt2 := reg.Register(stub)
	if rt1 != rt2 {
		t.Fatal("Register returned a different Runtime for the same name")
	}

	if err := b.Publish(event.New(event.KindMetricsCollected, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if calls != 1 {
		t.Fatalf("handler invoked %d times, want 1 (no duplicate subscription)", calls)
	}
}

func TestRegistryStatusSortedByName(t *testing.T) {
	b := newTestBus(t)
	reg := NewRegistry(b, nil, nil)
	reg.Register(&stubAgent{name: "zzz-agent", handle: func(context.Context, event.Event) error { return nil }})
	reg.Register(&stubAgent{name: "aaa-agent", handle: func(context.Context, event.Event) error { return nil }})

	status := reg.Status()
	if len(status) != 2 || status[0].Name != "aaa-agent" || status[1].Name != "zzz-agent" {
		t.Fatalf("status not sorted by name: %+v", status)
	}
}

func TestRegistryWiresAuditLogIntoRegisteredRuntimes(t *testing.T) {
	b := newTestBus(t)
	audit := store.NewAuditLog()
	reg := NewRegistry(b, nil, audit)

	done := make(chan struct{})
	reg.Register(&stubAgent{
		name:  "analytics-insights",
		kinds: []event.Kind{event.KindMetricsCollected},
		handle: func(ctx context.Context, e event.Event) error {
			close(done)
			return nil
		},
	})

	if err := b.Publish(event.New(event.KindMetricsCollected, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	time.Sleep(20 * time.Millisecond)

	if len(audit.Recent(0, nil)) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(audit.Recent(0, nil)))
	}
}

func TestRegistryEnableDisableUnknownAgent(t *testing.T) {
	reg := NewRegistry(newTestBus(t), nil, nil)
	if reg.Enable("does-not-exist") {
		t.Fatal("Enable on unknown agent should report false")
	}
	if reg.Disable("does-not-exist") {
		t.Fatal("Disable on unknown agent should report false")
	}
}
