// Package api implements the fleet's operator HTTP surface: agent status
// and configuration, manual event triggers, the event log, and
// service-connection management, grounded on
// original_source/backend/app/api/agents.py. Routing uses bare net/http the
// same way webhook.Handler and internal/observability/healthcheck.go do.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rogerkorantenng/shipit/agent"
	"github.com/rogerkorantenng/shipit/bus"
	"github.com/rogerkorantenng/shipit/capability"
	"github.com/rogerkorantenng/shipit/event"
	"github.com/rogerkorantenng/shipit/store"
)

// Handler serves the operator API described in SPEC_FULL.md §6.3.
type Handler struct {
	bus         *bus.Bus
	registry    *agent.Registry
	configs     *store.ConfigStore
	credentials *store.CredentialStore
	audit       *store.AuditLog
	logger      *slog.Logger
}

func New(b *bus.Bus, registry *agent.Registry, configs *store.ConfigStore, credentials *store.CredentialStore, audit *store.AuditLog, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{bus: b, registry: registry, configs: configs, credentials: credentials, audit: audit, logger: logger}
}

// Mux returns the operator API endpoints.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /agents/status", h.fleetStatus)
	mux.HandleFunc("GET /projects/{pid}/agents", h.listProjectAgents)
	mux.HandleFunc("PUT /projects/{pid}/agents/{name}", h.updateAgentConfig)
	mux.HandleFunc("POST /projects/{pid}/agents/{name}/trigger", h.triggerAgent)
	mux.HandleFunc("GET /projects/{pid}/agents/events", h.listAgentEvents)
	mux.HandleFunc("GET /projects/{pid}/agents/audit", h.listAuditEntries)
	mux.HandleFunc("POST /projects/{pid}/connections", h.createConnection)
	mux.HandleFunc("GET /projects/{pid}/connections", h.listConnections)
	mux.HandleFunc("DELETE /projects/{pid}/connections/{kind}", h.deleteConnection)
	mux.HandleFunc("GET /projects/{pid}/connections/{kind}/reveal", h.revealConnection)
	mux.HandleFunc("POST /projects/{pid}/connections/{kind}/test", h.testConnection)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func pathInt(r *http.Request, name string) (int, error) {
	return strconv.Atoi(r.PathValue(name))
}

// fleetStatus reports every registered agent's descriptor plus whether the
// bus is currently dispatching, mirroring fleet_status's combined
// "is the system alive" + per-agent view.
func (h *Handler) fleetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"bus_running": h.bus.IsRunning(),
		"agents":      h.registry.Status(),
	})
}

// listProjectAgents merges each registered agent's runtime descriptor with
// the project's stored AgentConfig override, the same merge
// list_project_agents performs over AgentConfig rows.
func (h *Handler) listProjectAgents(w http.ResponseWriter, r *http.Request) {
	pid, err := pathInt(r, "pid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	var out []map[string]any
	for _, rt := range h.registry.All() {
		desc := rt.Descriptor()
		cfg := h.configs.GetOrDefault(pid, desc.Name)
		out = append(out, map[string]any{
			"name":                   desc.Name,
			"description":            desc.Description,
			"status":                 desc.Status,
			"enabled":                cfg.Enabled,
			"config":                 cfg.Config,
			"last_run_at":            cfg.LastRunAt,
			"total_events_processed": cfg.TotalEventsProcessed,
			"metrics":                desc.Metrics,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type updateAgentConfigBody struct {
	Enabled *bool          `json:"enabled"`
	Config  map[string]any `json:"config"`
}

// updateAgentConfig upserts the project's override and, when the body
// carries "enabled", also enables or disables the agent's live Runtime
// (fleet-wide, not only for this project) so the change takes effect
// immediately rather than only on the next dispatch.
func (h *Handler) updateAgentConfig(w http.ResponseWriter, r *http.Request) {
	pid, err := pathInt(r, "pid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	name := r.PathValue("name")
	if _, ok := h.registry.Get(name); !ok {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}

	var body updateAgentConfigBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	existing := h.configs.GetOrDefault(pid, name)
	if body.Enabled != nil {
		existing.Enabled = *body.Enabled
	}
	if body.Config != nil {
		existing.Config = body.Config
	}
	h.configs.Upsert(existing)

	if body.Enabled != nil {
		if *body.Enabled {
			h.registry.Enable(name)
		} else {
			h.registry.Disable(name)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// triggerAgent publishes a synthetic event of the agent's first subscribed
// kind so an operator can force a run outside its normal trigger. Caller
// data is merged over a single default key, triggered_by=operator, so the
// endpoint works even with no body at all; no per-agent demo payload is
// supplied.
func (h *Handler) triggerAgent(w http.ResponseWriter, r *http.Request) {
	pid, err := pathInt(r, "pid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	name := r.PathValue("name")
	rt, ok := h.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}
	kinds := rt.Descriptor().SubscribedKinds
	if len(kinds) == 0 {
		writeError(w, http.StatusConflict, "agent subscribes to nothing to trigger")
		return
	}

	payload := event.Payload{"triggered_by": "operator"}
	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	for k, v := range body {
		payload[k] = v
	}

	e := event.New(kinds[0], payload, "manual_trigger", &pid)
	if err := h.bus.Publish(e); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "event_id": e.ID, "kind": e.Kind})
}

// listAgentEvents returns the project's recent event history, optionally
// filtered by kind, the Go equivalent of list_agent_events's paginated
// AgentEvent query.
func (h *Handler) listAgentEvents(w http.ResponseWriter, r *http.Request) {
	pid, err := pathInt(r, "pid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	var kindFilter *event.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k := event.Kind(raw)
		kindFilter = &k
	}

	writeJSON(w, http.StatusOK, h.bus.History(limit, kindFilter, &pid))
}

// listAuditEntries returns the project's persisted agent-event audit trail
// (SPEC_FULL.md §3's Audit Event data model), distinct from listAgentEvents'
// live bus history: the audit log records each Runtime dispatch's outcome
// (status, error, processing time) rather than the raw event payload.
func (h *Handler) listAuditEntries(w http.ResponseWriter, r *http.Request) {
	pid, err := pathInt(r, "pid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	if h.audit == nil {
		writeJSON(w, http.StatusOK, []store.AuditEntry{})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, h.audit.Recent(limit, &pid))
}

type connectionBody struct {
	BaseURL  string         `json:"base_url"`
	APIToken string         `json:"api_token"`
	Config   map[string]any `json:"config"`
	Enabled  *bool          `json:"enabled"`
}

// createConnection upserts a project's connection to an external service,
// mirroring create_connection's upsert-by-(project, service_type) behavior.
func (h *Handler) createConnection(w http.ResponseWriter, r *http.Request) {
	pid, err := pathInt(r, "pid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	kind := r.URL.Query().Get("service_type")
	if kind == "" {
		writeError(w, http.StatusBadRequest, "service_type is required")
		return
	}

	var body connectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	h.credentials.Upsert(store.Credential{
		ProjectID:   pid,
		ServiceKind: kind,
		BaseURL:     body.BaseURL,
		APIToken:    body.APIToken,
		Config:      body.Config,
		Enabled:     enabled,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

// listConnections never returns a raw token, matching the masked listing
// expected of an operator-facing credential surface; use the reveal
// endpoint to retrieve the underlying value.
func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	pid, err := pathInt(r, "pid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	var out []map[string]any
	for _, c := range h.credentials.ListByProject(pid) {
		out = append(out, map[string]any{
			"service_kind": c.ServiceKind,
			"base_url":     c.BaseURL,
			"token_masked": c.Masked(),
			"config":       c.Config,
			"enabled":      c.Enabled,
			"created_at":   c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) deleteConnection(w http.ResponseWriter, r *http.Request) {
	pid, err := pathInt(r, "pid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	kind := r.PathValue("kind")
	if !h.credentials.Delete(pid, kind) {
		writeError(w, http.StatusNotFound, "no such connection")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// revealConnection returns the unmasked token. Kept as a separate endpoint
// from the listing so a casual "show me our connections" view never leaks
// credentials by default.
func (h *Handler) revealConnection(w http.ResponseWriter, r *http.Request) {
	pid, err := pathInt(r, "pid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	kind := r.PathValue("kind")
	cred, ok := h.credentials.Get(pid, kind)
	if !ok {
		writeError(w, http.StatusNotFound, "no such connection")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service_kind": cred.ServiceKind,
		"base_url":     cred.BaseURL,
		"api_token":    cred.APIToken,
		"config":       cred.Config,
	})
}

// testConnection dispatches to the matching capability adapter's
// TestConnection, the Go analogue of test_connection's per-service_type
// branch. SlackAdapter's TestConnection returns only an error where the
// other adapters return a result map, so its case is normalized into the
// same (map[string]any, error) shape the rest produce.
func (h *Handler) testConnection(w http.ResponseWriter, r *http.Request) {
	pid, err := pathInt(r, "pid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	kind := r.PathValue("kind")
	cred, ok := h.credentials.Get(pid, kind)
	if !ok {
		writeError(w, http.StatusNotFound, "no such connection")
		return
	}

	result, err := testConnectionFor(r.Context(), kind, cred)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
}

var errUnknownServiceKind = errors.New("api: unknown service kind")

func testConnectionFor(ctx context.Context, kind string, cred store.Credential) (map[string]any, error) {
	switch strings.ToLower(kind) {
	case "gitlab":
		return capability.NewGitLabAdapter(cred.BaseURL, cred.APIToken).TestConnection(ctx)
	case "jira":
		return capability.NewJiraAdapter(cred.BaseURL, cred.ConfigStr("email"), cred.APIToken).TestConnection(ctx)
	case "figma":
		return capability.NewFigmaAdapter(cred.APIToken).TestConnection(ctx)
	case "datadog":
		return capability.NewDatadogAdapter(cred.APIToken, cred.ConfigStr("app_key"), cred.ConfigStr("site")).TestConnection(ctx)
	case "sentry":
		return capability.NewSentryAdapter(cred.APIToken, cred.BaseURL).TestConnection(ctx)
	case "slack":
		if err := capability.NewSlackAdapter(cred.APIToken).TestConnection(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok"}, nil
	default:
		return nil, errUnknownServiceKind
	}
}
