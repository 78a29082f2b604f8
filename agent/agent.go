// Package agent defines the fleet's agent contract and the runtime wrapper
// that gives every agent uniform dispatch, metrics, and failure isolation.
//
// The wrapper itself mirrors the original BaseAgent (status transitions,
// running mean processing time, synthetic agent_error emission on failure)
// while its composition — an interface implemented by business logic plus a
// Runtime that owns lifecycle and bus subscriptions — keeps that lifecycle
// concern out of each agent's own handler code.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rogerkorantenng/shipit/bus"
	"github.com/rogerkorantenng/shipit/event"
	"github.com/rogerkorantenng/shipit/store"
)

// Status is the lifecycle state of a Runtime.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
	StatusDisabled Status = "disabled"
)

// Agent is the business-logic contract every concrete agent implements.
// Authors only write Handle; the Runtime supplies dispatch, metrics, and
// error isolation.
type Agent interface {
	Name() string
	Description() string
	SubscribedKinds() []event.Kind
	Handle(ctx context.Context, e event.Event) error
}

// Metrics is a point-in-time snapshot of a Runtime's counters.
type Metrics struct {
	EventsProcessed uint64
	Errors          uint64
	LastRun         *time.Time
	AvgProcessingMS float64
}

// Descriptor is the serializable view of a Runtime used by the fleet status
// and per-project agent endpoints.
type Descriptor struct {
	Name            string
	Description     string
	SubscribedKinds []event.Kind
	Enabled         bool
	Status          Status
	Metrics         Metrics
}

// Runtime wraps an Agent with the uniform dispatch contract described in
// SPEC_FULL.md §4.2: disabled agents no-op, status transitions
// idle→running→(idle|error), and a handler failure emits a correlated
// agent_error event instead of propagating.
type Runtime struct {
	agent  Agent
	bus    *bus.Bus
	logger *slog.Logger
	audit  *store.AuditLog

	mu       sync.Mutex
	enabled  bool
	status   Status
	metrics  Metrics
	totalMS  float64
	subs     []bus.SubscriptionID
}

// NewRuntime wraps agent for dispatch via bus. It does not subscribe until
// Register is called.
func NewRuntime(a Agent, b *bus.Bus, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		agent:   a,
		bus:     b,
		logger:  logger,
		enabled: true,
		status:  StatusIdle,
	}
}

// Register subscribes the wrapped agent to the bus for each of its declared
// kinds. Safe to call once per Runtime; the Registry guarantees this.
func (r *Runtime) Register() {
	for _, kind := range r.agent.SubscribedKinds() {
		id := r.bus.Subscribe(kind, r.dispatch)
		r.subs = append(r.subs, id)
	}
}

// Unregister removes all of this Runtime's bus subscriptions.
func (r *Runtime) Unregister() {
	for _, id := range r.subs {
		r.bus.Unsubscribe(id)
	}
	r.subs = nil
}

// Enable resumes dispatch delivery. If the agent was disabled it returns to
// idle; otherwise it is a no-op.
func (r *Runtime) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = true
	if r.status == StatusDisabled {
		r.status = StatusIdle
	}
}

// Disable stops the agent from acting on dispatched events. It remains
// subscribed (SPEC_FULL.md §4.3) so re-enabling needs no re-subscription.
func (r *Runtime) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = false
	r.status = StatusDisabled
}

// Descriptor returns a snapshot of the runtime's current state.
func (r *Runtime) Descriptor() Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Descriptor{
		Name:            r.agent.Name(),
		Description:     r.agent.Description(),
		SubscribedKinds: r.agent.SubscribedKinds(),
		Enabled:         r.enabled,
		Status:          r.status,
		Metrics:         r.metrics,
	}
}

func (r *Runtime) dispatch(ctx context.Context, e event.Event) error {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return nil
	}
	r.status = StatusRunning
	r.mu.Unlock()

	start := time.Now()
	err := r.safeHandle(ctx, e)
	elapsed := time.Since(start)

	r.mu.Lock()
	defer r.mu.Unlock()

	processingMS := float64(elapsed.Microseconds()) / 1000.0

	if err != nil {
		r.metrics.Errors++
		r.status = StatusError
		r.logger.ErrorContext(ctx, "agent handler failed",
			"agent", r.agent.Name(), "event_kind", e.Kind, "event_id", e.ID, "error", err)
		r.recordAudit(e, "error", err.Error(), processingMS)
		r.publishAgentError(e, err, elapsed)
		return nil
	}

	r.metrics.EventsProcessed++
	r.totalMS += processingMS
	r.metrics.AvgProcessingMS = r.totalMS / float64(r.metrics.EventsProcessed)
	now := time.Now()
	r.metrics.LastRun = &now
	r.status = StatusIdle
	r.recordAudit(e, "processed", "", processingMS)
	return nil
}

// recordAudit appends e's outcome to the audit trail, if one was configured.
func (r *Runtime) recordAudit(e event.Event, status, errMsg string, processingMS float64) {
	if r.audit == nil {
		return
	}
	r.audit.Append(store.AuditEntry{
		EventID:       e.ID,
		EventType:     string(e.Kind),
		SourceAgent:   r.agent.Name(),
		ProjectID:     e.ProjectScope,
		CorrelationID: event.CorrelationOf(e),
		Data:          e.Payload,
		Status:        status,
		ErrorMessage:  errMsg,
		ProcessingMS:  processingMS,
	})
}

// safeHandle recovers a panicking handler into a regular error so a single
// buggy agent can never take down the dispatch loop.
func (r *Runtime) safeHandle(ctx context.Context, e event.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("agent %s panicked handling %s: %v", r.agent.Name(), e.Kind, rec)
		}
	}()
	return r.agent.Handle(ctx, e)
}

func (r *Runtime) publishAgentError(e event.Event, cause error, elapsed time.Duration) {
	errEvent := event.Derive(e, event.KindAgentError, event.Payload{
		"agent_name":       r.agent.Name(),
		"source_event_kind": string(e.Kind),
		"message":          cause.Error(),
		"processing_ms":    float64(elapsed.Microseconds()) / 1000.0,
	}, r.agent.Name())

	if err := r.bus.Publish(errEvent); err != nil {
		r.logger.Error("agent: failed to publish agent_error", "agent", r.agent.Name(), "error", err)
	}
}
