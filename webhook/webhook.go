// Package webhook implements the fleet's inbound webhook ingress: issue
// tracker, VCS, and design-tool events translated into bus events,
// grounded on original_source/backend/app/api/webhooks.py. Routing uses
// bare net/http (http.NewServeMux) the same way
// internal/observability/healthcheck.go does — no router library is
// pulled in anywhere in this module.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rogerkorantenng/shipit/bus"
	"github.com/rogerkorantenng/shipit/event"
	"github.com/rogerkorantenng/shipit/store"
)

// Handler serves the three inbound webhook endpoints and resolves each
// external project/file identifier to this system's project scope via the
// credential store.
type Handler struct {
	bus          *bus.Bus
	credentials  *store.CredentialStore
	designSecret string
	logger       *slog.Logger
}

// New constructs a Handler. designSecret, if non-empty, is the shared
// secret the Figma endpoint verifies inbound HMAC-SHA256 signatures
// against (the design_webhook_secret configuration key).
func New(b *bus.Bus, credentials *store.CredentialStore, designSecret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{bus: b, credentials: credentials, designSecret: designSecret, logger: logger}
}

// Mux returns the webhook endpoints mounted under /webhooks/.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/jira", h.jira)
	mux.HandleFunc("/webhooks/gitlab", h.gitlab)
	mux.HandleFunc("/webhooks/figma", h.figma)
	return mux
}

func (h *Handler) resolveProjectID(serviceKind string, externalID string) *int {
	if externalID == "" || h.credentials == nil {
		return nil
	}
	cred, ok := h.credentials.FindByConfig(serviceKind, func(cfg map[string]any) bool {
		if pid, _ := cfg["project_id"].(string); pid == externalID {
			return true
		}
		if fk, _ := cfg["file_key"].(string); fk == externalID {
			return true
		}
		return false
	})
	if !ok {
		return nil
	}
	return &cred.ProjectID
}

func writeOK(w http.ResponseWriter, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if body == nil {
		body = map[string]any{"ok": true}
	}
	_ = json.NewEncoder(w).Encode(body)
}

// jira handles Jira's issue_created/issue_updated webhook events.
func (h *Handler) jira(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeOK(w, map[string]any{"ok": true, "skipped": true})
		return
	}

	webhookEvent, _ := body["webhookEvent"].(string)
	issue, _ := body["issue"].(map[string]any)
	issueKey, _ := issue["key"].(string)
	if issueKey == "" {
		writeOK(w, map[string]any{"ok": true, "skipped": true})
		return
	}

	fields, _ := issue["fields"].(map[string]any)
	statusObj, _ := fields["status"].(map[string]any)
	jiraStatus, _ := statusObj["name"].(string)
	priorityObj, _ := fields["priority"].(map[string]any)
	priority, _ := priorityObj["name"].(string)
	assigneeObj, _ := fields["assignee"].(map[string]any)
	assignee, _ := assigneeObj["displayName"].(string)
	title, _ := fields["summary"].(string)
	description, _ := fields["description"].(string)

	var labels []string
	if raw, ok := fields["labels"].([]any); ok {
		for _, l := range raw {
			if s, ok := l.(string); ok {
				labels = append(labels, s)
			}
		}
	}

	ticketData := event.Payload{
		"key":         issueKey,
		"title":       title,
		"description": description,
		"status":      jiraStatus,
		"priority":    priority,
		"assignee":    assignee,
		"labels":      labels,
	}

	projectID := h.resolveProjectID("jira", issueKey)

	switch webhookEvent {
	case "jira:issue_created":
		h.publish(r, event.KindTicketCreated, ticketData, "jira_webhook", projectID)
	case "jira:issue_updated":
		h.publish(r, event.KindTicketUpdated, ticketData, "jira_webhook", projectID)
	}

	writeOK(w, map[string]any{"ok": true, "updated": true, "issue_key": issueKey})
}

// gitlab handles GitLab's Push/Merge Request/Pipeline webhook events.
func (h *Handler) gitlab(w http.ResponseWriter, r *http.Request) {
	eventType := r.Header.Get("X-Gitlab-Event")
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeOK(w, nil)
		return
	}
	h.logger.InfoContext(r.Context(), "gitlab webhook received", "event_type", eventType)

	project, _ := body["project"].(map[string]any)
	objectAttrs, _ := body["object_attributes"].(map[string]any)

	glProjectID := numericField(project, "id")
	if glProjectID == "" && eventType == "Merge Request Hook" {
		glProjectID = numericField(objectAttrs, "target_project_id")
	}
	projectID := h.resolveProjectID("gitlab", glProjectID)

	switch eventType {
	case "Push Hook":
		ref, _ := body["ref"].(string)
		kind := event.KindCodePushed
		if strings.HasSuffix(ref, "/main") || strings.HasSuffix(ref, "/master") {
			kind = event.KindMergeToMain
		}
		projectName, _ := project["name"].(string)

		var commits []map[string]any
		if raw, ok := body["commits"].([]any); ok {
			limit := len(raw)
			if limit > 10 {
				limit = 10
			}
			for _, c := range raw[:limit] {
				cm, _ := c.(map[string]any)
				msg, _ := cm["message"].(string)
				author, _ := cm["author"].(map[string]any)
				name, _ := author["name"].(string)
				commits = append(commits, map[string]any{"message": msg, "author": name})
			}
		}

		h.publish(r, kind, event.Payload{
			"ref":                ref,
			"project_name":       projectName,
			"gitlab_project_id":  project["id"],
			"commits":            commits,
			"total_commits":      body["total_commits_count"],
		}, "gitlab_webhook", projectID)

	case "Merge Request Hook":
		action, _ := objectAttrs["action"].(string)
		mrData := event.Payload{
			"mr_iid":             objectAttrs["iid"],
			"title":              objectAttrs["title"],
			"source_branch":      objectAttrs["source_branch"],
			"target_branch":      objectAttrs["target_branch"],
			"author":             objectAttrs["author_id"],
			"gitlab_project_id":  objectAttrs["target_project_id"],
			"url":                objectAttrs["url"],
		}

		switch {
		case action == "open":
			h.publish(r, event.KindPROpened, mrData, "gitlab_webhook", projectID)
		case action == "merge":
			target, _ := objectAttrs["target_branch"].(string)
			kind := event.KindPRApproved
			if target == "main" || target == "master" {
				kind = event.KindMergeToMain
			}
			mrData["ref"] = target
			h.publish(r, kind, mrData, "gitlab_webhook", projectID)
		case action == "update" && objectAttrs["work_in_progress"] == false:
			h.publish(r, event.KindPRReadyForReview, mrData, "gitlab_webhook", projectID)
		case action == "approved":
			h.publish(r, event.KindPRApproved, mrData, "gitlab_webhook", projectID)
		}

	case "Pipeline Hook":
		status, _ := objectAttrs["status"].(string)
		pipelineData := event.Payload{
			"pipeline_id":        objectAttrs["id"],
			"ref":                objectAttrs["ref"],
			"status":             status,
			"gitlab_project_id":  project["id"],
		}
		switch status {
		case "running":
			h.publish(r, event.KindPipelineStarted, pipelineData, "gitlab_webhook", projectID)
		case "success":
			h.publish(r, event.KindPipelineCompleted, pipelineData, "gitlab_webhook", projectID)
		case "failed":
			h.publish(r, event.KindPipelineFailed, pipelineData, "gitlab_webhook", projectID)
		}
	}

	writeOK(w, nil)
}

// figma handles Figma's FILE_UPDATE webhook event, optionally verifying an
// HMAC-SHA256 signature when a design webhook secret is configured.
func (h *Handler) figma(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if h.designSecret != "" {
		mac := hmac.New(sha256.New, []byte(h.designSecret))
		mac.Write(raw)
		expected := hex.EncodeToString(mac.Sum(nil))
		signature := r.Header.Get("X-Figma-Signature")
		if !hmac.Equal([]byte(signature), []byte(expected)) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		writeOK(w, nil)
		return
	}

	eventType, _ := body["event_type"].(string)
	h.logger.InfoContext(r.Context(), "figma webhook received", "event_type", eventType)

	if eventType == "FILE_UPDATE" {
		fileKey, _ := body["file_key"].(string)
		fileName, _ := body["file_name"].(string)
		timestamp, _ := body["timestamp"].(string)
		projectID := h.resolveProjectID("figma", fileKey)

		h.publish(r, event.KindDesignChanged, event.Payload{
			"file_key":     fileKey,
			"file_name":    fileName,
			"timestamp":    timestamp,
			"triggered_by": body["triggered_by"],
		}, "figma_webhook", projectID)
	}

	writeOK(w, nil)
}

func (h *Handler) publish(r *http.Request, kind event.Kind, payload event.Payload, source string, projectID *int) {
	if err := h.bus.Publish(event.New(kind, payload, source, projectID)); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook: failed to publish event", "kind", kind, "error", err)
	}
}

func numericField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return ""
	}
}
