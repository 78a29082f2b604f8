// Package deploymentorchestrator implements the agent that validates
// deploy readiness, triggers CI/CD, generates release notes, checks
// post-deploy health, and rolls back on failure, grounded on
// original_source/backend/app/agents/deployment_orchestrator.py.
package deploymentorchestrator

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

const Name = "deployment_orchestrator"

// DefaultErrorThreshold is the number of fresh Sentry issues tolerated in
// the post-deploy window before health is considered failed.
const DefaultErrorThreshold = 3

// DefaultHealthyWithNoMonitoring resolves the zero-monitoring-configured
// case: conservative (unhealthy), overridable per project via
// "deploy_health_default" in agent config.
const DefaultHealthyWithNoMonitoring = false

// Agent orchestrates a deployment end to end: readiness check, pipeline
// trigger, release notes, post-deploy health, and rollback on failure.
type Agent struct {
	bus         *bus.Bus
	llm         llm.Client
	credentials *store.CredentialStore
	configs     *store.ConfigStore
	logger      *slog.Logger
}

func New(b *bus.Bus, c llm.Client, credentials *store.CredentialStore, configs *store.ConfigStore, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{bus: b, llm: c, credentials: credentials, configs: configs, logger: logger}
}

func (a *Agent) Name() string { return Name }

func (a *Agent) Description() string {
	return "Orchestrates deployments: validates readiness, triggers CI/CD, generates release notes, monitors post-deploy, and handles rollbacks"
}

func (a *Agent) SubscribedKinds() []event.Kind {
	return []event.Kind{event.KindMergeToMain, event.KindPRAutoMerged, event.KindPRApproved}
}

func (a *Agent) Handle(ctx context.Context, e event.Event) error {
	a.logger.InfoContext(ctx, "deployment triggered", "project_id", projectIDOf(e.ProjectScope))

	ref := e.Payload.Str("ref")
	if ref == "" {
		ref = "main"
	}

	if issues := a.validateReadiness(ctx, e.ProjectScope); len(issues) > 0 {
		a.logger.WarnContext(ctx, "deployment blocked", "issues", issues)
		return a.bus.Publish(event.Derive(e, event.KindDeployFailed, event.Payload{
			"reason": "Readiness check failed",
			"issues": issues,
		}, Name))
	}

	if err := a.bus.Publish(event.Derive(e, event.KindDeployStarted, event.Payload{
		"ref":           ref,
		"trigger_event": string(e.Kind),
	}, Name)); err != nil {
		return err
	}

	vcs, glProjectID := a.versionControl(e.ProjectScope)
	pipelineResult := a.triggerPipeline(ctx, vcs, glProjectID, ref)
	releaseNotes := a.generateReleaseNotes(ctx, vcs, glProjectID, e.Payload.StrSlice("commit_messages"))

	if releaseNotes != nil {
		if err := a.bus.Publish(event.Derive(e, event.KindReleaseNotesGenerated, releaseNotes, Name)); err != nil {
			return err
		}
	}

	health := a.checkPostDeployHealth(ctx, e.ProjectScope)

	if health["healthy"].(bool) {
		if err := a.bus.Publish(event.Derive(e, event.KindDeployComplete, event.Payload{
			"pipeline":      pipelineResult,
			"release_notes": releaseNotes,
			"health_check":  health,
		}, Name)); err != nil {
			return err
		}
		message := fmt.Sprintf("*Deployment Complete*\nRef: `%s`\nHealth: All checks passed", ref)
		return a.bus.Publish(event.Derive(e, event.KindChatNotification, event.Payload{"message": message}, Name))
	}

	a.rollback(ctx, vcs, glProjectID, health)
	reason, _ := health["reason"].(string)
	if reason == "" {
		reason = "Health check failed"
	}
	if err := a.bus.Publish(event.Derive(e, event.KindRollbackTriggered, event.Payload{
		"reason": reason,
		"errors": health["errors"],
	}, Name)); err != nil {
		return err
	}
	message := fmt.Sprintf("*Deployment Rolled Back*\nReason: %s", reason)
	return a.bus.Publish(event.Derive(e, event.KindChatNotification, event.Payload{"message": message}, Name))
}

// validateReadiness has no task-tracking store to query in this system (see
// design_sync's related_tickets note for the same gap), so it always
// passes; the hook is kept so a future task store can plug in here the way
// the original queries its Task table.
func (a *Agent) validateReadiness(ctx context.Context, projectScope *int) []string {
	return nil
}

func (a *Agent) triggerPipeline(ctx context.Context, vcs capability.VersionControl, glProjectID int, ref string) map[string]any {
	if vcs == nil {
		return map[string]any{"status": "skipped", "reason": "no gitlab connection"}
	}
	if err := vcs.TriggerPipeline(ctx, glProjectID, ref); err != nil {
		a.logger.WarnContext(ctx, "deployment_orchestrator: failed to trigger pipeline", "error", err)
		return map[string]any{"status": "error"}
	}
	return map[string]any{"status": "triggered"}
}

func (a *Agent) generateReleaseNotes(ctx context.Context, vcs capability.VersionControl, glProjectID int, inlineMessages []string) event.Payload {
	var commitData []map[string]any

	if vcs != nil {
		commits, err := vcs.GetCommits(ctx, glProjectID, "main", 20)
		if err != nil {
			a.logger.WarnContext(ctx, "deployment_orchestrator: failed to fetch commits", "error", err)
		}
		for _, c := range commits {
			msg, _ := c["message"].(string)
			author, _ := c["author_name"].(string)
			commitData = append(commitData, map[string]any{"message": msg, "author": author})
		}
	}

	if len(commitData) == 0 && len(inlineMessages) > 0 {
		for _, m := range inlineMessages {
			commitData = append(commitData, map[string]any{"message": m, "author": "team"})
		}
	}

	if len(commitData) == 0 {
		return nil
	}

	notes := llm.GenerateReleaseNotes(ctx, a.llm, commitData, nil)
	return event.Payload{
		"version_summary":  notes.VersionSummary,
		"features":         notes.Features,
		"bugfixes":         notes.Bugfixes,
		"breaking_changes": notes.BreakingChanges,
		"notes":            notes.Notes,
	}
}

func (a *Agent) checkPostDeployHealth(ctx context.Context, projectScope *int) map[string]any {
	if projectScope == nil || a.credentials == nil {
		a.logger.WarnContext(ctx, "no project scope for health check, treating as unhealthy")
		return map[string]any{"healthy": false, "errors": []string{"No project scope"}, "reason": "No project scope", "checks_run": 0}
	}

	var errs []string
	checksRun := 0

	if cred, ok := a.credentials.Get(*projectScope, "sentry"); ok && cred.Enabled {
		checksRun++
		sentry := capability.NewSentryAdapter(cred.APIToken, cred.BaseURL)
		threshold := DefaultErrorThreshold
		if a.configs != nil {
			if t := a.configs.GetOrDefault(*projectScope, Name).Config["error_threshold"]; t != nil {
				if f, ok := t.(float64); ok && f > 0 {
					threshold = int(f)
				}
			}
		}
		issues, err := sentry.ListRecentUnresolved(ctx, cred.ConfigStr("org_slug"), cred.ConfigStr("project_slug"), 25)
		if err != nil {
			a.logger.WarnContext(ctx, "deployment_orchestrator: sentry check failed", "error", err)
		} else if len(issues) > threshold {
			errs = append(errs, fmt.Sprintf("%d new Sentry issues in last hour (threshold: %d)", len(issues), threshold))
		}
	}

	if cred, ok := a.credentials.Get(*projectScope, "datadog"); ok && cred.Enabled {
		checksRun++
		datadog := capability.NewDatadogAdapter(cred.APIToken, cred.ConfigStr("app_key"), cred.ConfigStr("site"))
		monitors, err := datadog.ListAlertingMonitors(ctx, nil)
		if err != nil {
			a.logger.WarnContext(ctx, "deployment_orchestrator: datadog check failed", "error", err)
		} else if len(monitors) > 0 {
			errs = append(errs, fmt.Sprintf("%d Datadog monitors in Alert state", len(monitors)))
		}
	}

	healthy := len(errs) == 0
	if checksRun == 0 {
		healthy = DefaultHealthyWithNoMonitoring
		if a.configs != nil {
			if d := a.configs.GetOrDefault(*projectScope, Name).Config["deploy_health_default"]; d != nil {
				switch v := d.(type) {
				case bool:
					healthy = v
				case string:
					healthy = v == "healthy"
				}
			}
		}
		if !healthy {
			errs = append(errs, "No monitoring configured")
		}
	}

	var reason any
	if len(errs) > 0 {
		reason = errs[0]
	}
	return map[string]any{"healthy": healthy, "errors": errs, "reason": reason, "checks_run": checksRun}
}

// rollback re-triggers the last successful main pipeline. The original
// passed ROLLBACK/ROLLBACK_PIPELINE_ID pipeline variables;
// capability.VersionControl.TriggerPipeline has no variables parameter, so
// this re-triggers plainly and logs which pipeline it is rolling back to.
func (a *Agent) rollback(ctx context.Context, vcs capability.VersionControl, glProjectID int, health map[string]any) {
	a.logger.WarnContext(ctx, "rollback triggered", "health", health)
	if vcs == nil {
		a.logger.ErrorContext(ctx, "no gitlab connection for rollback")
		return
	}

	pipelines, err := vcs.GetPipelines(ctx, glProjectID, "main", 10)
	if err != nil {
		a.logger.WarnContext(ctx, "deployment_orchestrator: failed to list pipelines for rollback", "error", err)
		return
	}
	var lastSuccess map[string]any
	for _, p := range pipelines {
		if status, _ := p["status"].(string); status == "success" {
			lastSuccess = p
			break
		}
	}
	if lastSuccess == nil {
		a.logger.ErrorContext(ctx, "no successful pipeline found on main for rollback")
		return
	}
	if err := vcs.TriggerPipeline(ctx, glProjectID, "main"); err != nil {
		a.logger.WarnContext(ctx, "deployment_orchestrator: failed to trigger rollback pipeline", "error", err)
		return
	}
	a.logger.InfoContext(ctx, "rollback pipeline triggered", "rolling_back_to", lastSuccess["id"])
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

func projectIDOf(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
