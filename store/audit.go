package store

import (
	"sync"
	"time"
)

// AuditEntry is one row of the agent-event audit trail, ported from
// models/agent_event.py's AgentEvent table.
type AuditEntry struct {
	EventID       string
	EventType     string
	SourceAgent   string
	ProjectID     *int
	CorrelationID string
	Data          map[string]any
	Status        string // "processed" or "error"
	ErrorMessage  string
	ProcessingMS  float64
	CreatedAt     time.Time
}

// AuditLog is an in-memory, append-only, mutex-guarded event audit trail.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewAuditLog constructs an empty AuditLog.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Append records entry, stamping CreatedAt if unset.
func (l *AuditLog) Append(entry AuditEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Recent returns up to limit most recent entries (most recent last),
// optionally filtered to a single project.
func (l *AuditLog) Recent(limit int, projectID *int) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var filtered []AuditEntry
	for _, e := range l.entries {
		if projectID != nil && (e.ProjectID == nil || *e.ProjectID != *projectID) {
			continue
		}
		filtered = append(filtered, e)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}
