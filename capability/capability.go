// Package capability defines the vendor-agnostic traits agents depend on
// instead of a concrete SDK, plus HTTP-backed adapters implementing them.
//
// Each adapter is grounded on the matching original_source adapter
// (gitlab_adapter.py, figma_adapter.py, slack_adapter.py,
// monitoring_adapter.py, jira_service.py): same vendor endpoints, same
// one-client-per-credential construction, translated from httpx's
// AsyncClient-per-request idiom to a single *http.Client with
// context.Context-scoped per-call timeouts, using plain net/http
// throughout.
package capability

import "context"

// IssueTracker creates and moves work items in an external tracker (Jira).
type IssueTracker interface {
	CreateIssue(ctx context.Context, projectKey, summary, description, priority string) (map[string]any, error)
	Transition(ctx context.Context, issueKey, targetStatus string) error
	Search(ctx context.Context, projectKey string, limit int) ([]map[string]any, error)
}

// VersionControl is the source-control/CI surface agents act against
// (GitLab). AccessLevelDeveloper and AccessLevelMaintainer are the
// GitLab-specific reviewer-scoring thresholds, kept as named tunable
// constants rather than hidden magic numbers.
const (
	AccessLevelDeveloper = 30
	AccessLevelMaintainer = 40
)

type VersionControl interface {
	CreateBranch(ctx context.Context, projectID int, branchName, ref string) error
	CreateFile(ctx context.Context, projectID int, path, content, branch, commitMessage string) error
	CreateMergeRequest(ctx context.Context, projectID int, sourceBranch, targetBranch, title, description string) (map[string]any, error)
	GetDiff(ctx context.Context, projectID, mrIID int) (string, []string, error)
	AddMRComment(ctx context.Context, projectID, mrIID int, body string) error
	Merge(ctx context.Context, projectID, mrIID int) error
	ListMembers(ctx context.Context, projectID int) ([]ProjectMember, error)
	GetPipelines(ctx context.Context, projectID int, ref string, limit int) ([]map[string]any, error)
	TriggerPipeline(ctx context.Context, projectID int, ref string) error
	CreateDiscussion(ctx context.Context, projectID, mrIID int, body string) error
	GetCommits(ctx context.Context, projectID int, refName string, limit int) ([]map[string]any, error)
}

// ProjectMember is the subset of a VCS member listing the reviewer scorer
// needs.
type ProjectMember struct {
	ID          int
	Username    string
	Name        string
	AccessLevel int
}

// DesignTool reads design-file content (Figma).
type DesignTool interface {
	GetFile(ctx context.Context, fileKey string) (map[string]any, error)
	GetComponents(ctx context.Context, fileKey string) (map[string]any, error)
}

// ChatService posts operator-facing notifications (Slack).
type ChatService interface {
	PostMessage(ctx context.Context, channel, text string) error
}

// MonitoringIssues lists unresolved error-tracking issues (Sentry).
type MonitoringIssues interface {
	ListRecentUnresolved(ctx context.Context, orgSlug, projectSlug string, limit int) ([]map[string]any, error)
}

// MonitoringMetrics lists active alerting monitors (Datadog).
type MonitoringMetrics interface {
	ListAlertingMonitors(ctx context.Context, tags []string) ([]map[string]any, error)
}
