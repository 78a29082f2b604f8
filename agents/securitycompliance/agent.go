// Package securitycompliance implements the agent that runs an AI-based
// security scan over a merge request's diff and posts findings back to the
// version-control system, grounded on
// original_source/backend/app/agents/security_compliance.py.
package securitycompliance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rogerkorantenng/shipit/bus"
	"github.com/rogerkorantenng/shipit/capability"
	"github.com/rogerkorantenng/shipit/event"
	"github.com/rogerkorantenng/shipit/llm"
	"github.com/rogerkorantenng/shipit/store"
)

const Name = "security_compliance"

const maxCommentLen = 60000

var severityEmoji = map[string]string{
	"critical": "[critical]",
	"high":     "[high]",
	"medium":   "[medium]",
	"low":      "[low]",
}

// Agent performs AI-based SAST scanning and publishes compliance findings,
// blocking the merge request when a critical vulnerability is found.
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
	return "Performs AI-based security scanning (SAST) and generates compliance reports for code changes"
}

func (a *Agent) SubscribedKinds() []event.Kind {
	return []event.Kind{event.KindPROpened, event.KindCodePushed}
}

func (a *Agent) Handle(ctx context.Context, e event.Event) error {
	mrIID := e.Payload.Int("mr_iid")
	a.logger.InfoContext(ctx, "security scan starting", "mr_iid", mrIID)

	vcs, glProjectID := a.versionControl(e.ProjectScope)

	diff, filePaths := a.diff(ctx, vcs, glProjectID, mrIID, e.Payload)
	if diff == "" {
		a.logger.InfoContext(ctx, "no diff content available, skipping scan")
		return nil
	}

	result := llm.SecurityScan(ctx, a.llm, diff, filePaths)

	var critical, high []llm.Vulnerability
	for _, v := range result.Vulnerabilities {
		switch v.Severity {
		case "critical":
			critical = append(critical, v)
		case "high":
			high = append(high, v)
		}
	}

	if mrIID != 0 && len(result.Vulnerabilities) > 0 && vcs != nil {
		postFindings(ctx, vcs, glProjectID, mrIID, result)
	}

	if len(critical) > 0 && mrIID != 0 {
		if vcs != nil {
			a.blockMerge(ctx, vcs, glProjectID, mrIID, critical, e)
		}
		if err := a.bus.Publish(event.Derive(e, event.KindMergeBlocked, event.Payload{
			"mr_iid":          mrIID,
			"reason":          fmt.Sprintf("%d critical vulnerabilities found", len(critical)),
			"vulnerabilities": critical,
		}, Name)); err != nil {
			return err
		}
	}

	if len(result.Vulnerabilities) > 0 {
		if err := a.bus.Publish(event.Derive(e, event.KindVulnerabilityFound, event.Payload{
			"mr_iid":          mrIID,
			"count":           len(result.Vulnerabilities),
			"critical":        len(critical),
			"high":            len(high),
			"vulnerabilities": result.Vulnerabilities,
		}, Name)); err != nil {
			return err
		}
	}

	if err := a.bus.Publish(event.Derive(e, event.KindSecurityScanComplete, event.Payload{
		"mr_iid":             mrIID,
		"passed":             result.Passed,
		"overall_risk":       result.OverallRisk,
		"vulnerability_count": len(result.Vulnerabilities),
		"summary":            result.Summary,
	}, Name)); err != nil {
		return err
	}

	return a.bus.Publish(event.Derive(e, event.KindComplianceReportGenerated, event.Payload{
		"mr_iid":      mrIID,
		"scan_result": result,
	}, Name))
}

// diff returns the MR's diff content, preferring whatever is already
// inline on the triggering event before falling back to the VCS.
func (a *Agent) diff(ctx context.Context, vcs capability.VersionControl, glProjectID, mrIID int, p event.Payload) (string, []string) {
	diffText, paths, err := capability.ResolveDiff(ctx, vcs, glProjectID, mrIID, p.Str("diff"), p.StrSlice("files"))
	if err != nil {
		a.logger.WarnContext(ctx, "security_compliance: failed to fetch diff", "error", err)
		return "", nil
	}
	return diffText, paths
}

func postFindings(ctx context.Context, vcs capability.VersionControl, glProjectID, mrIID int, result llm.SecurityScanResult) {
	var sb strings.Builder
	status := "FAILED"
	if result.Passed {
		status = "PASSED"
	}
	fmt.Fprintf(&sb, "## Security Scan Results\n\n**Overall Risk:** %s\n**Status:** %s\n\n", result.OverallRisk, status)

	if len(result.Vulnerabilities) > 0 {
		sb.WriteString("### Vulnerabilities Found\n\n")
		limit := len(result.Vulnerabilities)
		if limit > 10 {
			limit = 10
		}
		for _, v := range result.Vulnerabilities[:limit] {
			fmt.Fprintf(&sb, "- %s **%s** - %s: %s\n  - File: `%s`\n  - Fix: %s\n\n",
				severityEmoji[v.Severity], strings.ToUpper(v.Severity), v.Type, v.Description, v.File, v.Recommendation)
		}
	} else {
		sb.WriteString("No vulnerabilities detected.\n")
	}

	comment := sb.String()
	if len(comment) > maxCommentLen {
		comment = comment[:maxCommentLen] + "\n\n*...truncated*"
	}
	if err := vcs.AddMRComment(ctx, glProjectID, mrIID, comment); err != nil {
		slog.ErrorContext(ctx, "security_compliance: failed to post findings", "error", err)
	}
}

// blockMerge opens an unresolved discussion thread, which blocks merge
// under a VCS policy requiring all discussions resolved, and notifies chat.
func (a *Agent) blockMerge(ctx context.Context, vcs capability.VersionControl, glProjectID, mrIID int, critical []llm.Vulnerability, e event.Event) {
	var sb strings.Builder
	sb.WriteString("## MERGE BLOCKED - Critical Security Vulnerabilities\n\n" +
		"This merge request has been blocked due to critical security issues " +
		"that must be resolved before merging.\n\n")
	limit := len(critical)
	if limit > 5 {
		limit = 5
	}
	for _, v := range critical[:limit] {
		fmt.Fprintf(&sb, "- **%s** in `%s`: %s\n  Recommendation: %s\n\n", v.Type, v.File, v.Description, v.Recommendation)
	}
	sb.WriteString("\nResolve these issues and push a new commit to re-trigger the security scan. " +
		"Resolve this discussion thread once all issues are fixed.")

	if err := vcs.CreateDiscussion(ctx, glProjectID, mrIID, sb.String()); err != nil {
		a.logger.WarnContext(ctx, "security_compliance: failed to block merge", "mr_iid", mrIID, "error", err)
		return
	}

	message := fmt.Sprintf("*MERGE BLOCKED* - MR !%d\n%d critical vulnerabilities found. Merge is blocked until resolved.",
		mrIID, len(critical))
	if err := a.bus.Publish(event.Derive(e, event.KindChatNotification, event.Payload{"message": message}, Name)); err != nil {
		a.logger.WarnContext(ctx, "security_compliance: failed to publish block notification", "error", err)
	}
}

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
	baseURL := cred.BaseURL
	if baseURL == "" {
		baseURL = "https://gitlab.com"
	}
	return capability.NewGitLabAdapter(baseURL, cred.APIToken), glProjectID
}
