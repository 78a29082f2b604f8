package capability

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// statusToJira maps ShipIt's internal status vocabulary onto Jira's
// default workflow status names, mirroring jira_service.py's
// STATUS_TO_JIRA table.
var statusToJira = map[string]string{
	"todo":        "To Do",
	"in_progress": "In Progress",
	"done":        "Done",
	"blocked":     "Blocked",
}

var priorityToJira = map[string]string{
	"urgent": "Highest",
	"high":   "High",
	"medium": "Medium",
	"low":    "Low",
}

// JiraAdapter implements IssueTracker against the Jira Cloud REST API v3,
// grounded on original_source/backend/app/services/jira_service.py.
type JiraAdapter struct {
	baseURL string
	headers map[string]string
	client  *http.Client
}

// NewJiraAdapter constructs an adapter for the given site
// (e.g. "yourorg.atlassian.net") authenticated with email + API token
// Basic Auth.
func NewJiraAdapter(site, email, apiToken string) *JiraAdapter {
	return &JiraAdapter{
		baseURL: "https://" + strings.TrimRight(strings.TrimSpace(site), "/") + "/rest/api/3",
		headers: map[string]string{"Authorization": basicAuth(email, apiToken)},
		client:  defaultHTTPClient(),
	}
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// TestConnection verifies the credentials by calling /myself.
func (j *JiraAdapter) TestConnection(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := doJSON(ctx, j.client, http.MethodGet, j.baseURL+"/myself", j.headers, nil, &out)
	return out, err
}

// CreateIssue implements IssueTracker. Description is wrapped in a minimal
// Atlassian Document Format paragraph, as Jira's v3 API requires ADF
// rather than plain text.
func (j *JiraAdapter) CreateIssue(ctx context.Context, projectKey, summary, description, priority string) (map[string]any, error) {
	jiraPriority, ok := priorityToJira[priority]
	if !ok {
		jiraPriority = "Medium"
	}

	adfBody := map[string]any{
		"type":    "doc",
		"version": 1,
		"content": []map[string]any{
			{
				"type": "paragraph",
				"content": []map[string]any{
					{"type": "text", "text": descriptionOrDefault(description)},
				},
			},
		},
	}

	payload := map[string]any{
		"fields": map[string]any{
			"project":     map[string]any{"key": projectKey},
			"summary":     summary,
			"description": adfBody,
			"issuetype":   map[string]any{"name": "Task"},
			"priority":    map[string]any{"name": jiraPriority},
		},
	}

	var out map[string]any
	err := doJSON(ctx, j.client, http.MethodPost, j.baseURL+"/issue", j.headers, payload, &out)
	return out, err
}

func descriptionOrDefault(description string) string {
	if description == "" {
		return "No description"
	}
	return description
}

// Transition implements IssueTracker: looks up the available transitions
// for issueKey and executes the one whose target status name matches
// targetStatus (after mapping through statusToJira), case-insensitively.
func (j *JiraAdapter) Transition(ctx context.Context, issueKey, targetStatus string) error {
	jiraStatus, ok := statusToJira[targetStatus]
	if !ok {
		jiraStatus = targetStatus
	}

	var listed struct {
		Transitions []struct {
			ID string `json:"id"`
			To struct {
				Name string `json:"name"`
			} `json:"to"`
		} `json:"transitions"`
	}
	u := j.baseURL + "/issue/" + issueKey + "/transitions"
	if err := doJSON(ctx, j.client, http.MethodGet, u, j.headers, nil, &listed); err != nil {
		return err
	}

	var targetID string
	for _, t := range listed.Transitions {
		if strings.EqualFold(t.To.Name, jiraStatus) {
			targetID = t.ID
			break
		}
	}
	if targetID == "" {
		return errors.New("capability: no transition to status " + jiraStatus + " available for " + issueKey)
	}

	return doJSON(ctx, j.client, http.MethodPost, u, j.headers,
		map[string]any{"transition": map[string]any{"id": targetID}}, nil)
}

// Search implements IssueTracker using the project-scoped JQL the
// original always built: `project = <key> ORDER BY created DESC`.
func (j *JiraAdapter) Search(ctx context.Context, projectKey string, limit int) ([]map[string]any, error) {
	jql := fmt.Sprintf("project = %s ORDER BY created DESC", projectKey)
	var out struct {
		Issues []map[string]any `json:"issues"`
	}
	err := doJSON(ctx, j.client, http.MethodPost, j.baseURL+"/search/jql", j.headers, map[string]any{
		"jql":        jql,
		"maxResults": limit,
		"fields":     []string{"summary", "status", "priority", "description", "sprint"},
	}, &out)
	return out.Issues, err
}
