package capability

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// GitLabAdapter implements VersionControl against the GitLab REST API v4,
// grounded on original_source/backend/app/adapters/gitlab_adapter.py.
type GitLabAdapter struct {
	apiURL string
	token  string
	client *http.Client
}

// NewGitLabAdapter constructs an adapter rooted at baseURL (e.g.
// "https://gitlab.com") authenticated with a personal/project access token.
func NewGitLabAdapter(baseURL, token string) *GitLabAdapter {
	return &GitLabAdapter{
		apiURL: strings.TrimRight(baseURL, "/") + "/api/v4",
		token:  token,
		client: defaultHTTPClient(),
	}
}

func (g *GitLabAdapter) headers() map[string]string {
	return map[string]string{"PRIVATE-TOKEN": g.token}
}

// TestConnection verifies the token by fetching the authenticated user.
func (g *GitLabAdapter) TestConnection(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := doJSON(ctx, g.client, http.MethodGet, g.apiURL+"/user", g.headers(), nil, &out)
	return out, err
}

func (g *GitLabAdapter) CreateBranch(ctx context.Context, projectID int, branchName, ref string) error {
	if ref == "" {
		ref = "main"
	}
	u := fmt.Sprintf("%s/projects/%d/repository/branches", g.apiURL, projectID)
	return doJSON(ctx, g.client, http.MethodPost, u, g.headers(),
		map[string]any{"branch": branchName, "ref": ref}, nil)
}

func (g *GitLabAdapter) CreateFile(ctx context.Context, projectID int, path, content, branch, commitMessage string) error {
	u := fmt.Sprintf("%s/projects/%d/repository/files/%s", g.apiURL, projectID, url.PathEscape(path))
	return doJSON(ctx, g.client, http.MethodPost, u, g.headers(), map[string]any{
		"branch":         branch,
		"content":        content,
		"commit_message": commitMessage,
	}, nil)
}

func (g *GitLabAdapter) CreateMergeRequest(ctx context.Context, projectID int, sourceBranch, targetBranch, title, description string) (map[string]any, error) {
	if targetBranch == "" {
		targetBranch = "main"
	}
	u := fmt.Sprintf("%s/projects/%d/merge_requests", g.apiURL, projectID)
	var out map[string]any
	err := doJSON(ctx, g.client, http.MethodPost, u, g.headers(), map[string]any{
		"source_branch": sourceBranch,
		"target_branch": targetBranch,
		"title":         title,
		"description":   description,
	}, &out)
	return out, err
}

// GetDiff returns the concatenated unified diff and the list of changed
// file paths for a merge request.
func (g *GitLabAdapter) GetDiff(ctx context.Context, projectID, mrIID int) (string, []string, error) {
	u := fmt.Sprintf("%s/projects/%d/merge_requests/%d/diffs", g.apiURL, projectID, mrIID)
	var diffs []struct {
		NewPath string `json:"new_path"`
		Diff    string `json:"diff"`
	}
	if err := doJSON(ctx, g.client, http.MethodGet, u, g.headers(), nil, &diffs); err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	paths := make([]string, 0, len(diffs))
	for _, d := range diffs {
		paths = append(paths, d.NewPath)
		sb.WriteString(d.Diff)
		sb.WriteString("\n")
	}
	return sb.String(), paths, nil
}

func (g *GitLabAdapter) AddMRComment(ctx context.Context, projectID, mrIID int, body string) error {
	u := fmt.Sprintf("%s/projects/%d/merge_requests/%d/notes", g.apiURL, projectID, mrIID)
	return doJSON(ctx, g.client, http.MethodPost, u, g.headers(), map[string]any{"body": body}, nil)
}

// CreateDiscussion opens a resolvable MR discussion thread, distinct from
// a plain timeline comment (AddMRComment).
func (g *GitLabAdapter) CreateDiscussion(ctx context.Context, projectID, mrIID int, body string) error {
	u := fmt.Sprintf("%s/projects/%d/merge_requests/%d/discussions", g.apiURL, projectID, mrIID)
	return doJSON(ctx, g.client, http.MethodPost, u, g.headers(), map[string]any{"body": body}, nil)
}

func (g *GitLabAdapter) Merge(ctx context.Context, projectID, mrIID int) error {
	u := fmt.Sprintf("%s/projects/%d/merge_requests/%d/merge", g.apiURL, projectID, mrIID)
	return doJSON(ctx, g.client, http.MethodPut, u, g.headers(), nil, nil)
}

func (g *GitLabAdapter) ListMembers(ctx context.Context, projectID int) ([]ProjectMember, error) {
	u := withQuery(fmt.Sprintf("%s/projects/%d/members/all", g.apiURL, projectID), url.Values{"per_page": {"100"}})
	var raw []struct {
		ID          int    `json:"id"`
		Username    string `json:"username"`
		Name        string `json:"name"`
		AccessLevel int    `json:"access_level"`
	}
	if err := doJSON(ctx, g.client, http.MethodGet, u, g.headers(), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]ProjectMember, len(raw))
	for i, m := range raw {
		out[i] = ProjectMember{ID: m.ID, Username: m.Username, Name: m.Name, AccessLevel: m.AccessLevel}
	}
	return out, nil
}

func (g *GitLabAdapter) GetPipelines(ctx context.Context, projectID int, ref string, limit int) ([]map[string]any, error) {
	params := url.Values{"per_page": {strconv.Itoa(limit)}}
	if ref != "" {
		params.Set("ref", ref)
	}
	u := withQuery(fmt.Sprintf("%s/projects/%d/pipelines", g.apiURL, projectID), params)
	var out []map[string]any
	err := doJSON(ctx, g.client, http.MethodGet, u, g.headers(), nil, &out)
	return out, err
}

func (g *GitLabAdapter) TriggerPipeline(ctx context.Context, projectID int, ref string) error {
	if ref == "" {
		ref = "main"
	}
	u := fmt.Sprintf("%s/projects/%d/pipeline", g.apiURL, projectID)
	return doJSON(ctx, g.client, http.MethodPost, u, g.headers(), map[string]any{"ref": ref}, nil)
}

func (g *GitLabAdapter) GetCommits(ctx context.Context, projectID int, refName string, limit int) ([]map[string]any, error) {
	params := url.Values{"per_page": {strconv.Itoa(limit)}}
	if refName != "" {
		params.Set("ref_name", refName)
	}
	u := withQuery(fmt.Sprintf("%s/projects/%d/repository/commits", g.apiURL, projectID), params)
	var out []map[string]any
	err := doJSON(ctx, g.client, http.MethodGet, u, g.headers(), nil, &out)
	return out, err
}
