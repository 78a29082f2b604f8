// Package bus implements the fleet's in-process publish/subscribe event
// dispatcher: a bounded worker pool drains a FIFO queue and fans each event
// out to its subscribed handlers, isolating their failures from each other
// and from the rest of the fleet.
//
// The dispatch idiom (buffered channel delivery, a goroutine per handler
// invocation with a select over completion/timeout, panic recovery around
// each invocation) is adapted from a gRPC event broker's subscriber
// fan-out, which does the same thing over network subscriber streams;
// here there is no wire protocol, only function values.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rogerkorantenng/shipit/event"
	"github.com/rogerkorantenng/shipit/internal/observability"
	"go.opentelemetry.io/otel/trace"
)

// ErrBusStopped is returned by Publish once the bus has been stopped.
var ErrBusStopped = errors.New("bus: stopped")

// ErrPublishTimeout is returned by Publish when the dispatch queue stays
// saturated for longer than the configured publish timeout.
var ErrPublishTimeout = errors.New("bus: publish timed out, dispatch queue saturated")

// Handler reacts to a dispatched event. A returned error is logged by the
// bus but never aborts dispatch to other handlers or other events.
type Handler func(ctx context.Context, e event.Event) error

// SubscriptionID identifies a single Subscribe call so it can later be
// removed with Unsubscribe. Handlers are plain func values and therefore
// not comparable in Go, so the bus hands back an opaque token instead of
// requiring the caller to pass the handler back in.
type SubscriptionID struct {
	kind  event.Kind
	token uint64
}

type subscriberEntry struct {
	token   uint64
	handler Handler
}

// Config controls the bus's queue depth, worker pool, and history capacity.
type Config struct {
	// HistorySize is the ring buffer capacity. Default 1000.
	HistorySize int
	// WorkerPoolSize bounds concurrent handler invocations. Default 32;
	// the bus does not know how many agents are registered, so the default
	// does not grow with the agent count.
	WorkerPoolSize int
	// PublishTimeout bounds how long Publish blocks while the queue is
	// saturated before failing with ErrPublishTimeout. Default 5s.
	PublishTimeout time.Duration
	// DispatchTimeout bounds a single handler invocation. Default 150s —
	// comfortably above llm.CompleteTimeout's 120s ceiling, since handlers
	// that call an LLM establish their own independent timeout for that
	// call (llm.complete) and this is only the outer backstop against a
	// handler that never returns at all. Dispatches now run on their own
	// goroutine (see spawnDispatch), so a long handler here only ties up
	// one worker-pool slot, not the whole dispatch loop.
	DispatchTimeout time.Duration
	Logger          *slog.Logger
	// Tracer and Metrics are both optional; when nil the bus dispatches
	// without tracing/metrics overhead (e.g. in unit tests).
	Tracer  *observability.TraceManager
	Metrics *observability.MetricsManager
}

func (c Config) withDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = 1000
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 32
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 150 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Bus is the in-process event dispatcher. Construct with New; a Bus must be
// started with Start before Publish is useful and stopped with Stop at
// shutdown. A Bus is safe for concurrent use.
type Bus struct {
	cfg Config

	subMu       sync.RWMutex
	subscribers map[event.Kind][]subscriberEntry
	nextToken   uint64

	histMu  sync.Mutex
	history []event.Event
	histPos int
	histLen int

	queue    chan event.Event
	sem      chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	runMu   sync.Mutex
	running bool
	stopped bool
}

// New constructs a Bus. Call Start to begin dispatching.
func New(cfg Config) *Bus {
	cfg = cfg.withDefaults()
	return &Bus{
		cfg:         cfg,
		subscribers: make(map[event.Kind][]subscriberEntry),
		history:     make([]event.Event, cfg.HistorySize),
		queue:       make(chan event.Event, cfg.WorkerPoolSize),
		sem:         make(chan struct{}, cfg.WorkerPoolSize),
		stopCh:      make(chan struct{}),
	}
}

// Subscribe adds h to the end of kind's handler list and returns a token
// that can later be passed to Unsubscribe.
func (b *Bus) Subscribe(kind event.Kind, h Handler) SubscriptionID {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.nextToken++
	token := b.nextToken
	b.subscribers[kind] = append(b.subscribers[kind], subscriberEntry{token: token, handler: h})
	return SubscriptionID{kind: kind, token: token}
}

// Unsubscribe removes the subscription identified by id, if still present.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	entries := b.subscribers[id.kind]
	for i, entry := range entries {
		if entry.token == id.token {
			b.subscribers[id.kind] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Start launches the dispatch loop. Idempotent.
func (b *Bus) Start() {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stopped = false
	b.wg.Add(1)
	go b.dispatchLoop()
}

// Stop cancels the dispatch loop and waits for in-flight handler
// invocations to finish or hit their deadline. Idempotent; Publish fails
// with ErrBusStopped after Stop returns.
func (b *Bus) Stop() {
	b.runMu.Lock()
	if !b.running || b.stopped {
		b.runMu.Unlock()
		return
	}
	b.stopped = true
	b.runMu.Unlock()

	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

// Publish appends e to history and enqueues it for dispatch. It blocks up
// to the configured publish timeout if the dispatch queue is saturated,
// returning ErrPublishTimeout on expiry, and ErrBusStopped if Stop has
// already been called.
func (b *Bus) Publish(e event.Event) error {
	b.runMu.Lock()
	stopped := b.stopped
	b.runMu.Unlock()
	if stopped {
		return ErrBusStopped
	}

	b.appendHistory(e)

	if b.cfg.Tracer != nil {
		_, span := b.cfg.Tracer.StartPublishSpan(context.Background(), string(e.Kind), string(e.Kind))
		defer span.End()
	}
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.IncrementEventsPublished(context.Background(), string(e.Kind), e.Source)
	}

	timer := time.NewTimer(b.cfg.PublishTimeout)
	defer timer.Stop()

	select {
	case b.queue <- e:
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.SetQueueDepth(context.Background(), 1)
		}
		return nil
	case <-b.stopCh:
		return ErrBusStopped
	case <-timer.C:
		return ErrPublishTimeout
	}
}

// History returns up to limit most recent events, most recent last,
// optionally filtered by kind and project scope. The returned slice is a
// copy safe for the caller to retain.
func (b *Bus) History(limit int, kind *event.Kind, project *int) []event.Event {
	b.histMu.Lock()
	snapshot := make([]event.Event, b.histLen)
	// history is a ring buffer; reconstruct chronological order.
	for i := 0; i < b.histLen; i++ {
		idx := (b.histPos - b.histLen + i + len(b.history)) % len(b.history)
		snapshot[i] = b.history[idx].Clone()
	}
	b.histMu.Unlock()

	var filtered []event.Event
	for _, e := range snapshot {
		if kind != nil && e.Kind != *kind {
			continue
		}
		if project != nil && (e.ProjectScope == nil || *e.ProjectScope != *project) {
			continue
		}
		filtered = append(filtered, e)
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

func (b *Bus) appendHistory(e event.Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	cap := len(b.history)
	b.history[b.histPos%cap] = e
	b.histPos++
	if b.histLen < cap {
		b.histLen++
	}
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()

	for {
		select {
		case e := <-b.queue:
			b.spawnDispatch(e)
		case <-b.stopCh:
			// Drain whatever is already queued so accepted publishes are
			// not silently dropped, then exit.
			for {
				select {
				case e := <-b.queue:
					b.spawnDispatch(e)
				default:
					return
				}
			}
		}
	}
}

// spawnDispatch runs dispatch for e on its own goroutine so a slow handler
// for one event kind never stalls the loop from picking up the next queued
// event, including one of a different kind. Concurrency across handler
// invocations (not dispatches) is still bounded by b.sem.
func (b *Bus) spawnDispatch(e event.Event) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.dispatch(e)
	}()
}

func (b *Bus) dispatch(e event.Event) {
	b.subMu.RLock()
	entries := append([]subscriberEntry(nil), b.subscribers[e.Kind]...)
	b.subMu.RUnlock()

	if len(entries) == 0 {
		return
	}

	if b.cfg.Metrics != nil {
		b.cfg.Metrics.SetQueueDepth(context.Background(), -1)
	}

	var handlerWG sync.WaitGroup
	for _, entry := range entries {
		b.sem <- struct{}{}
		handlerWG.Add(1)
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.SetDispatchWorkersActive(context.Background(), 1)
		}
		go func(h Handler) {
			defer handlerWG.Done()
			defer func() { <-b.sem }()
			if b.cfg.Metrics != nil {
				defer b.cfg.Metrics.SetDispatchWorkersActive(context.Background(), -1)
			}
			b.invoke(h, e)
		}(entry.handler)
	}
	handlerWG.Wait()
}

func (b *Bus) invoke(h Handler, e event.Event) {
	start := time.Now()

	var span trace.Span
	ctx := context.Background()
	if b.cfg.Tracer != nil {
		ctx, span = b.cfg.Tracer.StartConsumeSpan(ctx, e.Source, string(e.Kind))
		b.cfg.Tracer.AddAgentAttributes(span, "", string(e.Kind), map[string]interface{}(e.Payload))
		defer span.End()
	}

	defer func() {
		if r := recover(); r != nil {
			b.cfg.Logger.Error("bus: handler panicked",
				"event_kind", e.Kind, "event_id", e.ID, "panic", r)
			if span != nil {
				b.cfg.Tracer.AddAgentResult(span, "panicked", nil, "")
			}
			if b.cfg.Metrics != nil {
				b.cfg.Metrics.IncrementEventErrors(context.Background(), string(e.Kind), e.Source, "panic")
			}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, b.cfg.DispatchTimeout)
	defer cancel()

	err := h(ctx, e)

	if b.cfg.Metrics != nil {
		b.cfg.Metrics.RecordEventProcessingDuration(context.Background(), string(e.Kind), e.Source, time.Since(start))
		b.cfg.Metrics.IncrementEventsProcessed(context.Background(), string(e.Kind), e.Source, err == nil)
	}

	if err != nil {
		b.cfg.Logger.Error("bus: handler returned error",
			"event_kind", e.Kind, "event_id", e.ID, "error", err)
		if span != nil {
			b.cfg.Tracer.RecordError(span, err)
			b.cfg.Tracer.AddAgentResult(span, "error", nil, err.Error())
		}
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.IncrementEventErrors(context.Background(), string(e.Kind), e.Source, "handler_error")
		}
		return
	}
	if span != nil {
		b.cfg.Tracer.SetSpanSuccess(span)
		b.cfg.Tracer.AddAgentResult(span, "success", nil, "")
	}
}

// IsRunning reports whether Start has been called and Stop has not yet
// completed. Used by the operator status endpoint.
func (b *Bus) IsRunning() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.running && !b.stopped
}
