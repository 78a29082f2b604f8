package llm

import (
	"context"
	"errors"
	"testing"
)

func TestAnalyzeRequirementsParsesResponse(t *testing.T) {
	c := NewMockClient(`{"summary":"add login","stories":[{"title":"login","description":"d","acceptance_criteria":"a"}],"complexity":"low","estimated_effort_hours":2,"tags":["auth"],"related_topics":[]}`)
	result := AnalyzeRequirements(context.Background(), c, TicketInput{Title: "Add login"})
	if result.Complexity != "low" || len(result.Stories) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestAnalyzeRequirementsFallsBackOnCallError(t *testing.T) {
	c := &MockClient{CompleteFunc: func(ctx context.Context, system, user string, maxTokens int) (string, error) {
		return "", errors.New("boom")
	}}
	result := AnalyzeRequirements(context.Background(), c, TicketInput{Title: "Add login"})
	if result.Summary != "Add login" || result.Complexity != "medium" {
		t.Fatalf("unexpected fallback: %+v", result)
	}
}

func TestAnalyzeRequirementsFallsBackOnUnparsableJSON(t *testing.T) {
	c := NewMockClient("not json at all")
	result := AnalyzeRequirements(context.Background(), c, TicketInput{Title: "Add login"})
	if result.Summary != "Add login" {
		t.Fatalf("unexpected fallback: %+v", result)
	}
}

func TestSecurityScanForcesFailOnCriticalVuln(t *testing.T) {
	c := NewMockClient(`{"vulnerabilities":[{"severity":"critical","type":"sqli","file":"a.py","line":10,"description":"d","recommendation":"r"}],"overall_risk":"low","passed":true,"summary":"s"}`)
	result := SecurityScan(context.Background(), c, "diff", []string{"a.py"})
	if result.Passed {
		t.Fatal("passed should be forced false when a critical vulnerability is present")
	}
	if result.OverallRisk != "high" {
		t.Fatalf("overall_risk = %q, want high (escalated from low)", result.OverallRisk)
	}
}

func TestSecurityScanDropsInvalidSeverities(t *testing.T) {
	c := NewMockClient(`{"vulnerabilities":[{"severity":"catastrophic","type":"x"},{"severity":"low","type":"y"}],"overall_risk":"low","passed":true,"summary":"s"}`)
	result := SecurityScan(context.Background(), c, "diff", nil)
	if len(result.Vulnerabilities) != 1 || result.Vulnerabilities[0].Severity != "low" {
		t.Fatalf("expected only the valid-severity vuln to survive: %+v", result.Vulnerabilities)
	}
	if !result.Passed {
		t.Fatal("a low-severity-only scan should still pass")
	}
}

func TestSecurityScanFailsClosedOnCallError(t *testing.T) {
	c := &MockClient{CompleteFunc: func(ctx context.Context, system, user string, maxTokens int) (string, error) {
		return "", errors.New("boom")
	}}
	result := SecurityScan(context.Background(), c, "diff", nil)
	if result.Passed {
		t.Fatal("a failed scan call must fail closed, not report passed=true")
	}
}

func TestAnalyzeReviewComplexityNeverAutoMergesHigh(t *testing.T) {
	c := NewMockClient(`{"complexity":"high","risk_areas":["auth"],"recommended_expertise":[],"estimated_review_minutes":90,"summary":"s","auto_merge_eligible":true}`)
	result := AnalyzeReviewComplexity(context.Background(), c, "diff", 12)
	if result.AutoMergeEligible {
		t.Fatal("auto_merge_eligible must be forced false for high complexity")
	}
}

func TestAnalyzeReviewComplexityNormalizesInvalidEnum(t *testing.T) {
	c := NewMockClient(`{"complexity":"extreme","risk_areas":[],"recommended_expertise":[],"estimated_review_minutes":10,"summary":"s","auto_merge_eligible":true}`)
	result := AnalyzeReviewComplexity(context.Background(), c, "diff", 1)
	if result.Complexity != "medium" {
		t.Fatalf("complexity = %q, want medium (normalized from invalid value)", result.Complexity)
	}
}

func TestGenerateReleaseNotesFallsBackToCommitLog(t *testing.T) {
	c := &MockClient{CompleteFunc: func(ctx context.Context, system, user string, maxTokens int) (string, error) {
		return "", errors.New("boom")
	}}
	commits := []map[string]any{
		{"message": "fix: off-by-one\nmore detail"},
		{"message": "feat: add export"},
	}
	result := GenerateReleaseNotes(context.Background(), c, commits, nil)
	if len(result.Features) != 2 || result.Features[0] != "fix: off-by-one" {
		t.Fatalf("unexpected commit-derived notes: %+v", result)
	}
}

func TestAnalyzeMetricsClampsOutOfRangePercentage(t *testing.T) {
	c := NewMockClient(`{"bottlenecks":[],"predictions":{"sprint_completion_pct":150,"velocity_trend":"flying"},"recommendations":[],"executive_summary":"s"}`)
	result := AnalyzeMetrics(context.Background(), c, map[string]any{})
	if result.Predictions.SprintCompletionPct != 0 {
		t.Fatalf("out-of-range percentage should reset to 0, got %v", result.Predictions.SprintCompletionPct)
	}
	if result.Predictions.VelocityTrend != "stable" {
		t.Fatalf("invalid trend should reset to stable, got %q", result.Predictions.VelocityTrend)
	}
}

func TestGenerateBoilerplateDropsFilesWithoutPath(t *testing.T) {
	c := NewMockClient(`{"files":[{"path":"","content":"x"},{"path":"a.go","content":"y"}],"pr_description":"d","suggested_reviewers_criteria":"c"}`)
	result := GenerateBoilerplate(context.Background(), c, nil, "feature/x")
	if len(result.Files) != 1 || result.Files[0].Path != "a.go" {
		t.Fatalf("expected only the file with a path to survive: %+v", result.Files)
	}
	if result.Files[0].Description != "a.go" {
		t.Fatalf("missing description should default to the path, got %q", result.Files[0].Description)
	}
}
