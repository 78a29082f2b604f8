// Package productintelligence implements the agent that turns a tracker
// ticket into structured requirements, story tickets, and a complexity
// estimate, grounded on
// original_source/backend/app/agents/product_intelligence.py.
package productintelligence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rogerkorantenng/shipit/bus"
	"github.com/rogerkorantenng/shipit/capability"
	"github.com/rogerkorantenng/shipit/event"
	"github.com/rogerkorantenng/shipit/llm"
	"github.com/rogerkorantenng/shipit/store"
)

// Name is this agent's registry key.
const Name = "product_intelligence"

// Agent analyzes tickets to extract requirements, stories, acceptance
// criteria, and complexity estimates.
type Agent struct {
	bus         *bus.Bus
	llm         llm.Client
	credentials *store.CredentialStore
	logger      *slog.Logger
}

// New constructs a product intelligence Agent.
func New(b *bus.Bus, c llm.Client, credentials *store.CredentialStore, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{bus: b, llm: c, credentials: credentials, logger: logger}
}

func (a *Agent) Name() string { return Name }

func (a *Agent) Description() string {
	return "Analyzes tickets to extract requirements, stories, acceptance criteria, and complexity estimates"
}

func (a *Agent) SubscribedKinds() []event.Kind {
	return []event.Kind{event.KindTicketCreated, event.KindTicketUpdated}
}

func (a *Agent) Handle(ctx context.Context, e event.Event) error {
	ticketKey := e.Payload.Str("key")
	a.logger.InfoContext(ctx, "analyzing ticket", "ticket_key", ticketKey)

	analysis := llm.AnalyzeRequirements(ctx, a.llm, llm.TicketInput{
		Title:       e.Payload.Str("title"),
		Description: e.Payload.Str("description"),
		Priority:    e.Payload.Str("priority"),
		Labels:      e.Payload.StrSlice("labels"),
	})

	if err := a.bus.Publish(event.Derive(e, event.KindRequirementsAnalyzed, event.Payload{
		"ticket_key": ticketKey,
		"analysis":   analysis,
		"stories":    analysis.Stories,
	}, Name)); err != nil {
		return err
	}

	if err := a.bus.Publish(event.Derive(e, event.KindComplexityTagged, event.Payload{
		"ticket_key":             ticketKey,
		"complexity":             analysis.Complexity,
		"estimated_effort_hours": analysis.EstimatedEffortHours,
		"tags":                   analysis.Tags,
	}, Name)); err != nil {
		return err
	}

	if len(analysis.Stories) > 0 {
		if err := a.bus.Publish(event.Derive(e, event.KindStoriesExtracted, event.Payload{
			"ticket_key": ticketKey,
			"stories":    analysis.Stories,
		}, Name)); err != nil {
			return err
		}
	}

	a.createTrackerIssues(ctx, e.ProjectScope, ticketKey, analysis.Stories)

	message := fmt.Sprintf("*Requirements Analyzed* for `%s`\nComplexity: %s | Effort: %gh | Stories: %d",
		orNA(ticketKey), analysis.Complexity, analysis.EstimatedEffortHours, len(analysis.Stories))
	return a.bus.Publish(event.Derive(e, event.KindChatNotification, event.Payload{
		"message": message,
	}, Name))
}

// createTrackerIssues files the first five extracted stories as issues in
// the project's configured external tracker, if one is connected. Failures
// are logged and swallowed: a missing or misconfigured tracker connection
// must never block requirements analysis from completing.
func (a *Agent) createTrackerIssues(ctx context.Context, projectScope *int, ticketKey string, stories []llm.Story) {
	if projectScope == nil || len(stories) == 0 || a.credentials == nil {
		return
	}

	cred, ok := a.credentials.Get(*projectScope, "jira")
	if !ok || !cred.Enabled {
		return
	}
	projectKey := cred.ConfigStr("project_key")
	if projectKey == "" {
		return
	}

	tracker := capability.NewJiraAdapter(cred.BaseURL, cred.ConfigStr("email"), cred.APIToken)

	limit := len(stories)
	if limit > 5 {
		limit = 5
	}
	for _, story := range stories[:limit] {
		description := fmt.Sprintf("**From ticket:** %s\n\n%s\n\n**Acceptance Criteria:**\n%s",
			ticketKey, story.Description, orNA(story.AcceptanceCriteria))
		if _, err := tracker.CreateIssue(ctx, projectKey, orDefault(story.Title, "Untitled"), description, "medium"); err != nil {
			a.logger.WarnContext(ctx, "product_intelligence: failed to create tracker issue", "error", err)
		}
	}
}

func orNA(s string) string {
	return orDefault(s, "N/A")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
