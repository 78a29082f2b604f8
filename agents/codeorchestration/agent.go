// Package codeorchestration implements the agent that turns analyzed
// requirements (or design notes, or an assigned issue) into a feature
// branch, scaffolded boilerplate, and a merge request template, grounded
// on original_source/backend/app/agents/code_orchestration.py.
package codeorchestration

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/rogerkorantenng/shipit/bus"
	"github.com/rogerkorantenng/shipit/capability"
	"github.com/rogerkorantenng/shipit/event"
	"github.com/rogerkorantenng/shipit/llm"
	"github.com/rogerkorantenng/shipit/store"
)

const Name = "code_orchestration"

var nonSlugRun = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lowercases text, collapses runs of non-alphanumeric characters to
// a single hyphen, trims leading/trailing hyphens, and truncates to
// maxLen — matching the original's _slugify helper exactly.
func slugify(text string, maxLen int) string {
	slug := strings.Trim(nonSlugRun.ReplaceAllString(strings.ToLower(text), "-"), "-")
	if len(slug) > maxLen {
		slug = slug[:maxLen]
	}
	return strings.TrimRight(slug, "-")
}

// Agent creates feature branches, generates scaffolding, and opens merge
// request templates for newly analyzed work.
type Agent struct {
	bus         *bus.Bus
	llm         llm.Client
	credentials *store.CredentialStore
	logger      *slog.Logger
}

func New(b *bus.Bus, c llm.Client, credentials *store.CredentialStore, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{bus: b, llm: c, credentials: credentials, logger: logger}
}

func (a *Agent) Name() string { return Name }

func (a *Agent) Description() string {
	return "Creates feature branches, generates boilerplate code, and opens merge request templates"
}

func (a *Agent) SubscribedKinds() []event.Kind {
	return []event.Kind{event.KindIssueAssigned, event.KindRequirementsAnalyzed, event.KindImplNotesGenerated}
}

func (a *Agent) Handle(ctx context.Context, e event.Event) error {
	switch e.Kind {
	case event.KindRequirementsAnalyzed:
		return a.handleRequirements(ctx, e)
	case event.KindIssueAssigned:
		return a.handleIssueAssigned(ctx, e)
	case event.KindImplNotesGenerated:
		return a.handleImplNotes(ctx, e)
	default:
		return nil
	}
}

func (a *Agent) handleRequirements(ctx context.Context, e event.Event) error {
	ticketKey := e.Payload.Str("ticket_key")
	if ticketKey == "" {
		ticketKey = "unknown"
	}
	analysis, _ := e.Payload["analysis"].(llm.RequirementsAnalysis)
	summary := analysis.Summary
	if summary == "" {
		summary = "task"
	}
	branchName := fmt.Sprintf("feature/%s-%s", ticketKey, slugify(summary, 40))
	a.logger.InfoContext(ctx, "creating branch", "branch", branchName)

	vcs, projectID := a.versionControl(e.ProjectScope)

	branchCreated := false
	if vcs != nil {
		if err := vcs.CreateBranch(ctx, projectID, branchName, ""); err != nil {
			a.logger.WarnContext(ctx, "code_orchestration: failed to create branch", "branch", branchName, "error", err)
		} else {
			branchCreated = true
		}
	}

	// Always publish, even without a real VCS connection, so downstream
	// agents see what this agent would do in demo mode.
	if err := a.bus.Publish(event.Derive(e, event.KindBranchCreated, event.Payload{
		"branch": branchName, "ticket_key": ticketKey,
	}, Name)); err != nil {
		return err
	}

	boilerplate := llm.GenerateBoilerplate(ctx, a.llm, requirementsMap(analysis), branchName)
	if len(boilerplate.Files) > 0 {
		if vcs != nil && branchCreated {
			limit := len(boilerplate.Files)
			if limit > 10 {
				limit = 10
			}
			for _, f := range boilerplate.Files[:limit] {
				if err := vcs.CreateFile(ctx, projectID, f.Path, f.Content, branchName, "scaffold: "+f.Description); err != nil {
					a.logger.WarnContext(ctx, "code_orchestration: failed to create file", "path", f.Path, "error", err)
				}
			}
		}

		paths := make([]string, len(boilerplate.Files))
		for i, f := range boilerplate.Files {
			paths[i] = f.Path
		}
		if err := a.bus.Publish(event.Derive(e, event.KindBoilerplateGenerated, event.Payload{
			"branch": branchName, "files": paths,
		}, Name)); err != nil {
			return err
		}
	}

	mrIID := 0
	if vcs != nil && branchCreated {
		mr, err := vcs.CreateMergeRequest(ctx, projectID, branchName, "",
			fmt.Sprintf("feat: %s - %s", ticketKey, orDefault(summary, "Implementation")),
			orDefault(boilerplate.PRDescription, "Auto-generated PR"))
		if err != nil {
			a.logger.WarnContext(ctx, "code_orchestration: failed to create merge request", "error", err)
		} else if iid, ok := mr["iid"].(float64); ok {
			mrIID = int(iid)
		}
	}

	return a.bus.Publish(event.Derive(e, event.KindPRTemplateCreated, event.Payload{
		"mr_iid": mrIID, "branch": branchName, "ticket_key": ticketKey,
	}, Name))
}

func (a *Agent) handleIssueAssigned(ctx context.Context, e event.Event) error {
	issueID := e.Payload.Str("issue_id")
	title := e.Payload.Str("title")
	if title == "" {
		title = "task"
	}
	branchName := fmt.Sprintf("feature/%s-%s", issueID, slugify(title, 40))

	vcs, projectID := a.versionControl(e.ProjectScope)
	if vcs != nil {
		if err := vcs.CreateBranch(ctx, projectID, branchName, ""); err != nil {
			a.logger.WarnContext(ctx, "code_orchestration: failed to create branch for issue", "issue_id", issueID, "error", err)
		}
	}

	if err := a.bus.Publish(event.Derive(e, event.KindBranchCreated, event.Payload{
		"branch": branchName, "issue_id": issueID,
	}, Name)); err != nil {
		return err
	}

	analysis, hasAnalysis := e.Payload["analysis"].(llm.RequirementsAnalysis)
	if !hasAnalysis {
		return nil
	}
	boilerplate := llm.GenerateBoilerplate(ctx, a.llm, requirementsMap(analysis), branchName)
	if len(boilerplate.Files) == 0 {
		return nil
	}
	paths := make([]string, len(boilerplate.Files))
	for i, f := range boilerplate.Files {
		paths[i] = f.Path
	}
	return a.bus.Publish(event.Derive(e, event.KindBoilerplateGenerated, event.Payload{
		"branch": branchName, "files": paths,
	}, Name))
}

func (a *Agent) handleImplNotes(ctx context.Context, e event.Event) error {
	ticketKey := e.Payload.Str("ticket_key")
	if ticketKey == "" {
		ticketKey = "design"
	}
	branchName := fmt.Sprintf("feature/%s-%s", ticketKey, slugify("design-implementation", 40))

	vcs, projectID := a.versionControl(e.ProjectScope)
	if vcs != nil {
		if err := vcs.CreateBranch(ctx, projectID, branchName, ""); err != nil {
			if !strings.Contains(strings.ToLower(err.Error()), "already exists") {
				a.logger.WarnContext(ctx, "code_orchestration: failed to create branch", "branch", branchName, "error", err)
				return nil
			}
			a.logger.InfoContext(ctx, "branch already exists, proceeding", "branch", branchName)
		}
	}

	return a.bus.Publish(event.Derive(e, event.KindBranchCreated, event.Payload{
		"branch": branchName, "source": "design_sync",
	}, Name))
}

// versionControl returns the project's connected GitLab adapter and its
// GitLab-side project ID, or (nil, 0) if no connection is configured.
func (a *Agent) versionControl(projectScope *int) (capability.VersionControl, int) {
	if projectScope == nil || a.credentials == nil {
		return nil, 0
	}
	cred, ok := a.credentials.Get(*projectScope, "gitlab")
	if !ok || !cred.Enabled {
		return nil, 0
	}
	glProjectID := cred.ConfigInt("project_id")
	if glProjectID == 0 {
		return nil, 0
	}
	return capability.NewGitLabAdapter(orDefault(cred.BaseURL, "https://gitlab.com"), cred.APIToken), glProjectID
}

func requirementsMap(a llm.RequirementsAnalysis) map[string]any {
	return map[string]any{
		"summary":                a.Summary,
		"complexity":             a.Complexity,
		"estimated_effort_hours": a.EstimatedEffortHours,
		"tags":                   a.Tags,
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
