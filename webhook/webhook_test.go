package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rogerkorantenng/shipit/bus"
	"github.com/rogerkorantenng/shipit/event"
	"github.com/rogerkorantenng/shipit/store"
)

func newTestHandler(t *testing.T, credentials *store.CredentialStore, designSecret string) (*Handler, *bus.Bus) {
	t.Helper()
	b := bus.New(bus.Config{HistorySize: 16, WorkerPoolSize: 4, PublishTimeout: time.Second, DispatchTimeout: time.Second})
	b.Start()
	t.Cleanup(b.Stop)
	return New(b, credentials, designSecret, nil), b
}

func subscribeOne(b *bus.Bus, kind event.Kind) <-chan event.Event {
	ch := make(chan event.Event, 1)
	b.Subscribe(kind, func(ctx context.Context, e event.Event) error {
		ch <- e
		return nil
	})
	return ch
}

func postJSON(t *testing.T, h http.Handler, path string, headers map[string]string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func awaitOne(t *testing.T, ch <-chan event.Event, what string) event.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return event.Event{}
	}
}

func TestJiraIssueCreatedPublishesTicketCreated(t *testing.T) {
	h, b := newTestHandler(t, nil, "")
	ticketCreated := subscribeOne(b, event.KindTicketCreated)

	rec := postJSON(t, h.Mux(), "/webhooks/jira", nil, map[string]any{
		"webhookEvent": "jira:issue_created",
		"issue": map[string]any{
			"key": "SHIP-9",
			"fields": map[string]any{
				"summary":     "Add billing",
				"description": "Stripe integration",
				"status":      map[string]any{"name": "To Do"},
				"priority":    map[string]any{"name": "High"},
				"labels":      []any{"billing"},
			},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	e := awaitOne(t, ticketCreated, "ticket_created")
	if got := e.Payload.Str("key"); got != "SHIP-9" {
		t.Fatalf("key = %q, want SHIP-9", got)
	}
	if got := e.Payload.Str("priority"); got != "High" {
		t.Fatalf("priority = %q, want High", got)
	}
}

func TestJiraMalformedBodyIsSkippedNotRejected(t *testing.T) {
	h, _ := newTestHandler(t, nil, "")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/jira", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (malformed payloads are acknowledged, not rejected)", rec.Code)
	}
}

func TestGitLabPushToMainPublishesMergeToMain(t *testing.T) {
	h, b := newTestHandler(t, nil, "")
	mergeToMain := subscribeOne(b, event.KindMergeToMain)

	rec := postJSON(t, h.Mux(), "/webhooks/gitlab", map[string]string{"X-Gitlab-Event": "Push Hook"}, map[string]any{
		"ref":     "refs/heads/main",
		"project": map[string]any{"id": float64(100), "name": "shipit"},
		"commits": []any{
			map[string]any{"message": "fix bug", "author": map[string]any{"name": "alice"}},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	e := awaitOne(t, mergeToMain, "merge_to_main")
	if got := e.Payload.Str("ref"); got != "refs/heads/main" {
		t.Fatalf("ref = %q, want refs/heads/main", got)
	}
}

func TestGitLabPushToFeatureBranchPublishesCodePushed(t *testing.T) {
	h, b := newTestHandler(t, nil, "")
	codePushed := subscribeOne(b, event.KindCodePushed)

	postJSON(t, h.Mux(), "/webhooks/gitlab", map[string]string{"X-Gitlab-Event": "Push Hook"}, map[string]any{
		"ref":     "refs/heads/feature/x",
		"project": map[string]any{"id": float64(100), "name": "shipit"},
	})
	awaitOne(t, codePushed, "code_pushed")
}

func TestGitLabMergeRequestOpenPublishesPROpened(t *testing.T) {
	h, b := newTestHandler(t, nil, "")
	prOpened := subscribeOne(b, event.KindPROpened)

	postJSON(t, h.Mux(), "/webhooks/gitlab", map[string]string{"X-Gitlab-Event": "Merge Request Hook"}, map[string]any{
		"project": map[string]any{"id": float64(100)},
		"object_attributes": map[string]any{
			"action":             "open",
			"iid":                float64(7),
			"title":              "Add billing",
			"source_branch":      "feature/billing",
			"target_branch":      "main",
			"target_project_id":  float64(100),
		},
	})
	e := awaitOne(t, prOpened, "pr_opened")
	if got := e.Payload.Int("mr_iid"); got != 7 {
		t.Fatalf("mr_iid = %d, want 7", got)
	}
}

func TestGitLabResolvesProjectScopeFromCredentials(t *testing.T) {
	credentials := store.NewCredentialStore()
	credentials.Upsert(store.Credential{
		ProjectID: 42, ServiceKind: "gitlab", Enabled: true,
		Config: map[string]any{"project_id": "100"},
	})
	h, b := newTestHandler(t, credentials, "")
	pipelineStarted := subscribeOne(b, event.KindPipelineStarted)

	postJSON(t, h.Mux(), "/webhooks/gitlab", map[string]string{"X-Gitlab-Event": "Pipeline Hook"}, map[string]any{
		"project":           map[string]any{"id": float64(100)},
		"object_attributes": map[string]any{"id": float64(55), "ref": "main", "status": "running"},
	})
	e := awaitOne(t, pipelineStarted, "pipeline_started")
	if e.ProjectScope == nil || *e.ProjectScope != 42 {
		t.Fatalf("project scope = %v, want 42", e.ProjectScope)
	}
}

func TestFigmaValidSignaturePublishesDesignChanged(t *testing.T) {
	const secret = "shh"
	h, b := newTestHandler(t, nil, secret)
	designChanged := subscribeOne(b, event.KindDesignChanged)

	body, _ := json.Marshal(map[string]any{
		"event_type": "FILE_UPDATE",
		"file_key":   "abc123",
		"file_name":  "Homepage",
	})
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/figma", bytes.NewReader(body))
	req.Header.Set("X-Figma-Signature", sig)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	e := awaitOne(t, designChanged, "design_changed")
	if got := e.Payload.Str("file_key"); got != "abc123" {
		t.Fatalf("file_key = %q, want abc123", got)
	}
}

func TestFigmaInvalidSignatureIsRejected(t *testing.T) {
	h, b := newTestHandler(t, nil, "shh")
	designChanged := subscribeOne(b, event.KindDesignChanged)

	body, _ := json.Marshal(map[string]any{"event_type": "FILE_UPDATE", "file_key": "abc123"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/figma", bytes.NewReader(body))
	req.Header.Set("X-Figma-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	select {
	case e := <-designChanged:
		t.Fatalf("unexpected design_changed published: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}
