// Package llm provides the fleet's AI client abstraction plus the
// per-prompt request/response helpers used by the nine agents.
//
// The Client shape mirrors agents/cortex/llm.Client: a single narrow
// method agents call through, with the prompt construction and response
// parsing living outside the interface. Cortex's Decide returns a
// multi-action orchestration Decision because it drives agent dispatch;
// the fleet's agents instead each need one JSON object back per call, so
// Complete is narrowed to system/user prompt in, raw text out, and each
// agent-specific prompt function in prompts.go does its own JSON
// extraction and validation — ported from
// original_source/backend/app/services/agent_ai_service.py.
package llm

import (
	"context"
	"time"
)

// Client sends a system/user prompt pair to an LLM and returns its raw
// text response.
type Client interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// CompleteTimeout is the per-call ceiling for an LLM completion request,
// the top of SPEC_FULL.md §5's 15-120s outbound-call range: LLM calls get
// the full 120s regardless of how long the caller's own context has left,
// since a dispatch-level deadline shorter than this would truncate every
// agent's LLM call before it has a chance to finish.
const CompleteTimeout = 120 * time.Second

// complete calls c.Complete under its own fresh CompleteTimeout deadline.
// ctx's own deadline and cancellation are stripped first
// (context.WithoutCancel keeps ctx's values, e.g. trace/logger context,
// but not its cancellation signal) so a caller-side deadline shorter than
// 120s — such as the bus's per-handler dispatch timeout — can't truncate
// the call before it has a real chance to finish; the call is still
// bounded, just by its own CompleteTimeout instead of an inherited one.
func complete(ctx context.Context, c Client, system, user string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CompleteTimeout)
	defer cancel()
	return c.Complete(ctx, system, user, maxTokens)
}
