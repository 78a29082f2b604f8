package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rogerkorantenng/shipit/agent"
	"github.com/rogerkorantenng/shipit/bus"
	"github.com/rogerkorantenng/shipit/event"
	"github.com/rogerkorantenng/shipit/store"
)

type stubAgent struct {
	name   string
	kinds  []event.Kind
	handle func(ctx context.Context, e event.Event) error
}

func (s *stubAgent) Name() string                 { return s.name }
func (s *stubAgent) Description() string          { return "stub agent for api tests" }
func (s *stubAgent) SubscribedKinds() []event.Kind { return s.kinds }
func (s *stubAgent) Handle(ctx context.Context, e event.Event) error {
	if s.handle != nil {
		return s.handle(ctx, e)
	}
	return nil
}

func newTestAPI(t *testing.T) (*Handler, *bus.Bus, *agent.Registry, *store.ConfigStore, *store.CredentialStore, *store.AuditLog) {
	t.Helper()
	b := bus.New(bus.Config{HistorySize: 16, WorkerPoolSize: 4, PublishTimeout: time.Second, DispatchTimeout: time.Second})
	b.Start()
	t.Cleanup(b.Stop)

	configs := store.NewConfigStore()
	credentials := store.NewCredentialStore()
	audit := store.NewAuditLog()
	registry := agent.NewRegistry(b, nil, audit)

	h := New(b, registry, configs, credentials, audit, nil)
	return h, b, registry, configs, credentials, audit
}

func doRequest(h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var r *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		r = bytes.NewReader(raw)
	} else {
		r = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestFleetStatusReportsRegisteredAgents(t *testing.T) {
	h, _, registry, _, _, _ := newTestAPI(t)
	registry.Register(&stubAgent{name: "product-intelligence", kinds: []event.Kind{event.KindTicketCreated}})

	rec := doRequest(h.Mux(), http.MethodGet, "/agents/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		BusRunning bool             `json:"bus_running"`
		Agents     []agent.Descriptor `json:"agents"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.BusRunning {
		t.Fatal("bus_running = false, want true")
	}
	if len(body.Agents) != 1 || body.Agents[0].Name != "product-intelligence" {
		t.Fatalf("agents = %+v, want one product-intelligence entry", body.Agents)
	}
}

func TestUpdateAgentConfigTogglesLiveRuntime(t *testing.T) {
	h, b, registry, _, _, _ := newTestAPI(t)
	called := make(chan struct{}, 1)
	registry.Register(&stubAgent{
		name:  "security-compliance",
		kinds: []event.Kind{event.KindPROpened},
		handle: func(ctx context.Context, e event.Event) error {
			called <- struct{}{}
			return nil
		},
	})

	disabled := false
	rec := doRequest(h.Mux(), http.MethodPut, "/projects/1/agents/security-compliance", map[string]any{"enabled": &disabled})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if err := b.Publish(event.New(event.KindPROpened, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case <-called:
		t.Fatal("disabled agent still ran")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUpdateAgentConfigUnknownAgent(t *testing.T) {
	h, _, _, _, _, _ := newTestAPI(t)
	rec := doRequest(h.Mux(), http.MethodPut, "/projects/1/agents/does-not-exist", map[string]any{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTriggerAgentPublishesSyntheticEvent(t *testing.T) {
	h, b, registry, _, _, _ := newTestAPI(t)
	registry.Register(&stubAgent{name: "product-intelligence", kinds: []event.Kind{event.KindTicketCreated}})

	received := make(chan event.Event, 1)
	b.Subscribe(event.KindTicketCreated, func(ctx context.Context, e event.Event) error {
		received <- e
		return nil
	})

	rec := doRequest(h.Mux(), http.MethodPost, "/projects/5/agents/product-intelligence/trigger", map[string]any{"title": "Manual run"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	select {
	case e := <-received:
		if e.Payload.Str("title") != "Manual run" {
			t.Fatalf("title = %q, want Manual run", e.Payload.Str("title"))
		}
		if e.ProjectScope == nil || *e.ProjectScope != 5 {
			t.Fatalf("project scope = %v, want 5", e.ProjectScope)
		}
	case <-time.After(time.Second):
		t.Fatal("triggered event was never published")
	}
}

func TestTriggerAgentWithNoSubscriptionsConflicts(t *testing.T) {
	h, _, registry, _, _, _ := newTestAPI(t)
	registry.Register(&stubAgent{name: "idle-agent"})

	rec := doRequest(h.Mux(), http.MethodPost, "/projects/1/agents/idle-agent/trigger", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestListAuditEntriesReturnsPersistedOutcomes(t *testing.T) {
	h, _, _, _, _, audit := newTestAPI(t)
	pid := 3
	audit.Append(store.AuditEntry{EventID: "e1", EventType: "ticket_created", SourceAgent: "product-intelligence", ProjectID: &pid, Status: "processed"})
	audit.Append(store.AuditEntry{EventID: "e2", EventType: "code_pushed", SourceAgent: "security-compliance", ProjectID: &pid, Status: "error", ErrorMessage: "boom"})

	rec := doRequest(h.Mux(), http.MethodGet, "/projects/3/agents/audit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var entries []store.AuditEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
}

func TestListAuditEntriesWithNilAuditLogReturnsEmpty(t *testing.T) {
	b := bus.New(bus.Config{HistorySize: 4, WorkerPoolSize: 1, PublishTimeout: time.Second, DispatchTimeout: time.Second})
	b.Start()
	t.Cleanup(b.Stop)
	h := New(b, agent.NewRegistry(b, nil, nil), store.NewConfigStore(), store.NewCredentialStore(), nil, nil)

	rec := doRequest(h.Mux(), http.MethodGet, "/projects/1/agents/audit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var entries []store.AuditEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries, want 0", len(entries))
	}
}

func TestConnectionLifecycle(t *testing.T) {
	h, _, _, _, _, _ := newTestAPI(t)

	rec := doRequest(h.Mux(), http.MethodPost, "/projects/9/connections?service_type=gitlab", map[string]any{
		"base_url": "https://gitlab.example.com", "api_token": "secret-token",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rec.Code)
	}

	rec = doRequest(h.Mux(), http.MethodGet, "/projects/9/connections", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var conns []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&conns); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("got %d connections, want 1", len(conns))
	}
	if masked, _ := conns[0]["token_masked"].(string); masked == "secret-token" {
		t.Fatal("listConnections leaked the raw token")
	}

	rec = doRequest(h.Mux(), http.MethodGet, "/projects/9/connections/gitlab/reveal", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reveal status = %d, want 200", rec.Code)
	}
	var revealed map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&revealed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if revealed["api_token"] != "secret-token" {
		t.Fatalf("revealed token = %v, want secret-token", revealed["api_token"])
	}

	rec = doRequest(h.Mux(), http.MethodDelete, "/projects/9/connections/gitlab", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rec.Code)
	}

	rec = doRequest(h.Mux(), http.MethodDelete, "/projects/9/connections/gitlab", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}
