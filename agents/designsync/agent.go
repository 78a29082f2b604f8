// Package designsync implements the agent that reconciles Figma design
// changes against open tickets and produces implementation notes, grounded
// on original_source/backend/app/agents/design_sync.py.
package designsync

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

const Name = "design_sync"

// Agent syncs Figma design changes with open tickets, generates
// implementation notes, and files a tracker issue describing the work.
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
	return "Syncs Figma design changes with tickets, generates technical implementation notes, and files a tracker issue"
}

func (a *Agent) SubscribedKinds() []event.Kind {
	return []event.Kind{event.KindDesignChanged}
}

func (a *Agent) Handle(ctx context.Context, e event.Event) error {
	fileKey := e.Payload.Str("file_key")
	a.logger.InfoContext(ctx, "design change detected", "file_key", fileKey)

	designData := a.fetchDesignData(ctx, e.ProjectScope, fileKey)
	if len(designData) == 0 {
		designData = e.Payload.Map("demo_design_data")
	}
	if len(designData) == 0 {
		a.logger.InfoContext(ctx, "no design data available, skipping", "file_key", fileKey)
		return nil
	}

	ticketData := relatedTickets(e.Payload)

	notes := llm.GenerateImplementationNotes(ctx, a.llm, designData, ticketData)

	if err := a.bus.Publish(event.Derive(e, event.KindDesignCompared, event.Payload{
		"file_key":        fileKey,
		"alignment":       notes.DesignTicketAlignment,
		"component_specs": notes.ComponentSpecs,
	}, Name)); err != nil {
		return err
	}

	if err := a.bus.Publish(event.Derive(e, event.KindImplNotesGenerated, event.Payload{
		"file_key":             fileKey,
		"notes":                notes,
		"ticket_key":           ticketData["key"],
		"implementation_steps": notes.ImplementationSteps,
	}, Name)); err != nil {
		return err
	}

	a.fileTrackerIssue(ctx, e.ProjectScope, fileKey, notes)

	message := fmt.Sprintf("*Design Update* - Figma file `%s`\nAlignment with tickets: %s\nComponent specs generated: %d",
		fileKey, notes.DesignTicketAlignment, len(notes.ComponentSpecs))
	return a.bus.Publish(event.Derive(e, event.KindChatNotification, event.Payload{
		"message": message,
	}, Name))
}

// fetchDesignData loads file metadata and components from Figma via the
// project's connected design-tool credential. Any failure (no connection,
// transport error) yields an empty map so the caller falls back to inline
// demo data rather than aborting.
func (a *Agent) fetchDesignData(ctx context.Context, projectScope *int, fileKey string) map[string]any {
	if projectScope == nil || a.credentials == nil {
		return nil
	}
	cred, ok := a.credentials.Get(*projectScope, "figma")
	if !ok || !cred.Enabled {
		return nil
	}

	var tool capability.DesignTool = capability.NewFigmaAdapter(cred.APIToken)
	file, err := tool.GetFile(ctx, fileKey)
	if err != nil {
		a.logger.WarnContext(ctx, "design_sync: failed to fetch figma file", "error", err)
		return nil
	}
	components, err := tool.GetComponents(ctx, fileKey)
	if err != nil {
		a.logger.WarnContext(ctx, "design_sync: failed to fetch figma components", "error", err)
		return nil
	}

	meta, _ := components["meta"].(map[string]any)

	return map[string]any{
		"file_key":      fileKey,
		"name":          file["name"],
		"last_modified": file["lastModified"],
		"components":    meta["components"],
	}
}

// relatedTickets surfaces the open tickets an operator attached inline to
// the triggering event; this system has no task-tracking store of its own
// to query, so it relies on the caller (e.g. the webhook ingress or a
// scheduled sweep) to supply context.
func relatedTickets(p event.Payload) map[string]any {
	if tickets := p["related_tickets"]; tickets != nil {
		return map[string]any{"tickets": tickets}
	}
	return map[string]any{}
}

func (a *Agent) fileTrackerIssue(ctx context.Context, projectScope *int, fileKey string, notes llm.ImplementationNotes) {
	if projectScope == nil || len(notes.ImplementationSteps) == 0 || a.credentials == nil {
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

	var sb strings.Builder
	fmt.Fprintf(&sb, "**From Figma:** %s\n\n## Implementation Steps\n", fileKey)
	for i, step := range notes.ImplementationSteps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
	}
	if len(notes.ComponentSpecs) > 0 {
		sb.WriteString("\n## Component Specs\n")
		limit := len(notes.ComponentSpecs)
		if limit > 5 {
			limit = 5
		}
		for _, spec := range notes.ComponentSpecs[:limit] {
			fmt.Fprintf(&sb, "\n### %s\n", orDefault(spec.Name, "Component"))
			if spec.CSSChanges != "" {
				fmt.Fprintf(&sb, "CSS: %s\n", spec.CSSChanges)
			}
			if spec.Props != "" {
				fmt.Fprintf(&sb, "Props: %s\n", spec.Props)
			}
		}
	}

	tracker := capability.NewJiraAdapter(cred.BaseURL, cred.ConfigStr("email"), cred.APIToken)
	title := fmt.Sprintf("Design Implementation: %s", fileKey)
	if _, err := tracker.CreateIssue(ctx, projectKey, title, sb.String(), "medium"); err != nil {
		a.logger.WarnContext(ctx, "design_sync: failed to file tracker issue", "error", err)
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
