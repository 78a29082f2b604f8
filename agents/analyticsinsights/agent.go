// Package analyticsinsights implements the agent that analyzes velocity
// metrics, detects bottlenecks, and produces periodic reports, grounded on
// original_source/backend/app/agents/analytics_insights.py.
package analyticsinsights

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rogerkorantenng/shipit/bus"
	"github.com/rogerkorantenng/shipit/event"
	"github.com/rogerkorantenng/shipit/llm"
)

const Name = "analytics_insights"

// Agent turns collected velocity metrics into bottleneck alerts and
// periodic reports.
type Agent struct {
	bus    *bus.Bus
	llm    llm.Client
	logger *slog.Logger
}

func New(b *bus.Bus, c llm.Client, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{bus: b, llm: c, logger: logger}
}

func (a *Agent) Name() string { return Name }

func (a *Agent) Description() string {
	return "Collects velocity metrics, generates reports, detects bottlenecks, and provides AI-powered process improvement suggestions"
}

func (a *Agent) SubscribedKinds() []event.Kind {
	return []event.Kind{event.KindMetricsCollected}
}

// Handle analyzes whatever metrics the triggering metrics_collected event
// already carries. Unlike the original, which re-queried its own Task/
// Sprint/Activity tables on every event, this system has no persisted
// project-metrics store (SPEC_FULL.md scopes state to the in-memory store
// package), so the metrics_collected producer is expected to carry the
// metrics snapshot inline.
func (a *Agent) Handle(ctx context.Context, e event.Event) error {
	metrics := e.Payload.Map("metrics")
	if len(metrics) == 0 {
		a.logger.InfoContext(ctx, "no metrics on event, skipping analysis")
		return nil
	}
	return a.analyzeAndReport(ctx, e.ProjectScope, metrics, "", event.CorrelationOf(e))
}

// RunScheduledReports is the scheduler-job entry point for periodic
// reporting. projects maps a project ID to its current metrics snapshot;
// the composition root supplies it (there is no project registry to
// enumerate here the way the original's _get_active_project_ids queried
// one).
func (a *Agent) RunScheduledReports(ctx context.Context, projects map[int]map[string]any) error {
	for projectID, metrics := range projects {
		pid := projectID
		if len(metrics) == 0 {
			a.logger.InfoContext(ctx, "no metrics for project, skipping scheduled report", "project_id", pid)
			continue
		}
		if err := a.analyzeAndReport(ctx, &pid, metrics, "scheduled", ""); err != nil {
			a.logger.WarnContext(ctx, "analytics_insights: scheduled report failed", "project_id", pid, "error", err)
		}
	}
	return nil
}

func (a *Agent) analyzeAndReport(ctx context.Context, projectScope *int, metrics map[string]any, trigger, correlationID string) error {
	analysis := llm.AnalyzeMetrics(ctx, a.llm, metrics)

	base := event.New(event.KindReportGenerated, nil, Name, projectScope)
	if correlationID != "" {
		base.CorrelationID = correlationID
	}

	if len(analysis.Bottlenecks) > 0 {
		if err := a.bus.Publish(event.Derive(base, event.KindBottleneckDetected, event.Payload{
			"bottlenecks":     analysis.Bottlenecks,
			"recommendations": analysis.Recommendations,
		}, Name)); err != nil {
			return err
		}
	}

	report := event.Payload{
		"metrics":      metrics,
		"analysis":     analysis,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if trigger != "" {
		report["trigger"] = trigger
	}
	if err := a.bus.Publish(event.Derive(base, event.KindReportGenerated, report, Name)); err != nil {
		return err
	}

	label := "*Analytics Report*"
	if trigger == "scheduled" && projectScope != nil {
		label = fmt.Sprintf("*Scheduled Analytics Report* (Project #%d)", *projectScope)
	}
	message := fmt.Sprintf("%s\n%s\n\nSprint completion: %.0f%%\nVelocity trend: %s\nBottlenecks: %d",
		label, orDefault(analysis.ExecutiveSummary, "No summary available"),
		analysis.Predictions.SprintCompletionPct, analysis.Predictions.VelocityTrend, len(analysis.Bottlenecks))
	return a.bus.Publish(event.Derive(base, event.KindChatNotification, event.Payload{"message": message}, Name))
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
