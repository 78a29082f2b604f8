// Package testintelligence implements the agent that suggests unit and
// integration tests, edge cases, and coverage gaps for a merge request's
// diff, grounded on
// original_source/backend/app/agents/test_intelligence.py.
package testintelligence

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

const Name = "test_intelligence"
const maxCommentLen = 60000

// Agent analyzes code changes to generate test suggestions, identify
// coverage gaps, and suggest edge cases.
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
	return "Analyzes code changes to generate test suggestions, identify coverage gaps, and suggest edge cases"
}

func (a *Agent) SubscribedKinds() []event.Kind {
	return []event.Kind{event.KindPROpened, event.KindCodePushed, event.KindSecurityScanComplete}
}

func (a *Agent) Handle(ctx context.Context, e event.Event) error {
	mrIID := e.Payload.Int("mr_iid")
	a.logger.InfoContext(ctx, "test analysis starting", "mr_iid", mrIID)

	vcs, glProjectID := a.versionControl(e.ProjectScope)
	diff, filePaths, err := capability.ResolveDiff(ctx, vcs, glProjectID, mrIID, e.Payload.Str("diff"), e.Payload.StrSlice("files"))
	if err != nil {
		a.logger.WarnContext(ctx, "test_intelligence: failed to fetch diff", "error", err)
	}
	if diff == "" {
		a.logger.InfoContext(ctx, "no diff available for test analysis")
		return nil
	}

	suggestions := llm.GenerateTestSuggestions(ctx, a.llm, diff, filePaths)

	if mrIID != 0 && vcs != nil {
		postSuggestions(ctx, a.logger, vcs, glProjectID, mrIID, suggestions)
	}

	if err := a.bus.Publish(event.Derive(e, event.KindTestSuggestionsGenerated, event.Payload{
		"mr_iid":                  mrIID,
		"unit_tests_count":        len(suggestions.UnitTests),
		"integration_tests_count": len(suggestions.IntegrationTests),
		"edge_cases":              suggestions.EdgeCases,
		"suggestions":             suggestions,
	}, Name)); err != nil {
		return err
	}

	return a.bus.Publish(event.Derive(e, event.KindTestReportCreated, event.Payload{
		"mr_iid":          mrIID,
		"total_suggested": len(suggestions.UnitTests) + len(suggestions.IntegrationTests),
		"coverage_gaps":   suggestions.CoverageGaps,
		"priority_order":  suggestions.PriorityOrder,
	}, Name))
}

func postSuggestions(ctx context.Context, logger *slog.Logger, vcs capability.VersionControl, glProjectID, mrIID int, s llm.TestSuggestions) {
	var sb strings.Builder
	sb.WriteString("## Test Suggestions\n\n")

	if len(s.UnitTests) > 0 {
		sb.WriteString("### Unit Tests\n")
		limit := min(len(s.UnitTests), 5)
		for _, t := range s.UnitTests[:limit] {
			fmt.Fprintf(&sb, "- **%s**: %s\n", orDefault(t.Name, "Test"), t.Description)
			if t.CodeHint != "" {
				fmt.Fprintf(&sb, "  ```\n  %s\n  ```\n", t.CodeHint)
			}
		}
		sb.WriteString("\n")
	}

	if len(s.IntegrationTests) > 0 {
		sb.WriteString("### Integration Tests\n")
		limit := min(len(s.IntegrationTests), 3)
		for _, t := range s.IntegrationTests[:limit] {
			fmt.Fprintf(&sb, "- **%s**: %s\n", orDefault(t.Name, "Test"), t.Description)
		}
		sb.WriteString("\n")
	}

	if len(s.EdgeCases) > 0 {
		sb.WriteString("### Edge Cases to Consider\n")
		for _, ec := range s.EdgeCases[:min(len(s.EdgeCases), 5)] {
			fmt.Fprintf(&sb, "- %s\n", ec)
		}
		sb.WriteString("\n")
	}

	if len(s.CoverageGaps) > 0 {
		sb.WriteString("### Coverage Gaps\n")
		for _, g := range s.CoverageGaps[:min(len(s.CoverageGaps), 5)] {
			fmt.Fprintf(&sb, "- %s\n", g)
		}
	}

	comment := sb.String()
	if len(comment) > maxCommentLen {
		comment = comment[:maxCommentLen] + "\n\n*...truncated*"
	}
	if err := vcs.AddMRComment(ctx, glProjectID, mrIID, comment); err != nil {
		logger.WarnContext(ctx, "test_intelligence: failed to post suggestions", "error", err)
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

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
