// Package event defines the immutable Event value and the closed set of
// event kinds that flow through the fleet's bus.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the discriminator of an Event. It never changes after construction.
type Kind string

// The closed enumeration of event kinds. Wire names are the original
// system's snake_case webhook/agent vocabulary.
const (
	KindTicketCreated  Kind = "ticket_created"
	KindTicketUpdated  Kind = "ticket_updated"
	KindCodePushed     Kind = "code_pushed"
	KindPROpened       Kind = "pr_opened"
	KindPRReadyForReview Kind = "pr_ready_for_review"
	KindPRApproved     Kind = "pr_approved"
	KindMergeToMain    Kind = "merge_to_main"
	KindIssueAssigned  Kind = "issue_assigned"

	KindPipelineStarted   Kind = "pipeline_started"
	KindPipelineCompleted Kind = "pipeline_completed"
	KindPipelineFailed    Kind = "pipeline_failed"

	KindDesignChanged Kind = "design_changed"

	KindRequirementsAnalyzed Kind = "requirements_analyzed"
	KindComplexityTagged     Kind = "complexity_tagged"
	KindStoriesExtracted     Kind = "stories_extracted"

	KindDesignCompared        Kind = "design_compared"
	KindImplNotesGenerated    Kind = "impl_notes_generated"

	KindBranchCreated      Kind = "branch_created"
	KindBoilerplateGenerated Kind = "boilerplate_generated"
	KindPRTemplateCreated  Kind = "pr_template_created"

	KindSecurityScanComplete     Kind = "security_scan_complete"
	KindVulnerabilityFound       Kind = "vulnerability_found"
	KindMergeBlocked             Kind = "merge_blocked"
	KindComplianceReportGenerated Kind = "compliance_report_generated"

	KindTestSuggestionsGenerated Kind = "test_suggestions_generated"
	KindTestReportCreated        Kind = "test_report_created"
	KindCoverageReport           Kind = "coverage_report"

	KindReviewersAssigned  Kind = "reviewers_assigned"
	KindReviewReminderSent Kind = "review_reminder_sent"
	KindReviewSLABreached  Kind = "review_sla_breached"
	KindPRAutoMerged       Kind = "pr_auto_merged"

	KindDeployStarted         Kind = "deploy_started"
	KindDeployComplete        Kind = "deploy_complete"
	KindDeployFailed          Kind = "deploy_failed"
	KindRollbackTriggered     Kind = "rollback_triggered"
	KindReleaseNotesGenerated Kind = "release_notes_generated"

	KindMetricsCollected  Kind = "metrics_collected"
	KindReportGenerated   Kind = "report_generated"
	KindBottleneckDetected Kind = "bottleneck_detected"

	KindChatNotification Kind = "chat_notification"
	KindAgentError       Kind = "agent_error"
)

// Payload is the semi-structured data carried by an Event. Its shape is
// determined by Kind; the bus itself never inspects it.
type Payload map[string]any

// Str returns the string at key, or "" if absent or of another type —
// the Go equivalent of the original system's pervasive dict.get(key, "").
func (p Payload) Str(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the int at key, accepting any JSON numeric representation,
// or 0 if absent.
func (p Payload) Int(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Float64 returns the float64 at key, or 0 if absent.
func (p Payload) Float64(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Bool returns the bool at key, or false if absent.
func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// StrSlice returns the string slice at key, tolerating the []any shape
// json.Unmarshal produces, or nil if absent.
func (p Payload) StrSlice(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Map returns the nested map at key, or nil if absent.
func (p Payload) Map(key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}

// Event is an immutable record of something that happened. Once constructed,
// Kind and Payload must not be mutated by consumers.
type Event struct {
	ID           string
	Kind         Kind
	Payload      Payload
	Source       string
	ProjectScope *int
	CorrelationID string
	Timestamp    time.Time
}

// New constructs an Event with a fresh ID and the current timestamp.
func New(kind Kind, payload Payload, source string, projectScope *int) Event {
	return Event{
		ID:           uuid.New().String(),
		Kind:         kind,
		Payload:      payload,
		Source:       source,
		ProjectScope: projectScope,
		Timestamp:    time.Now(),
	}
}

// Derive builds a new Event causally descending from e, propagating
// correlation per the fleet-wide rule: reuse e's correlation id if set,
// otherwise e's own id becomes the correlation id.
func Derive(e Event, kind Kind, payload Payload, source string) Event {
	out := New(kind, payload, source, e.ProjectScope)
	out.CorrelationID = CorrelationOf(e)
	return out
}

// CorrelationOf returns the id that should be used to correlate events
// descending from e: e.CorrelationID if set, else e.ID.
func CorrelationOf(e Event) string {
	if e.CorrelationID != "" {
		return e.CorrelationID
	}
	return e.ID
}

// Clone returns a shallow copy of e safe to hand to a caller outside the
// bus (the payload map itself is not deep-copied; consumers must still
// treat it as read-only per the Event invariant).
func (e Event) Clone() Event {
	clone := e
	if e.Payload != nil {
		clone.Payload = make(Payload, len(e.Payload))
		for k, v := range e.Payload {
			clone.Payload[k] = v
		}
	}
	return clone
}
