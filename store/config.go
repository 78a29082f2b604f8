// Package store holds the fleet's per-project configuration, credential,
// and audit state in memory, mutex-guarded the way
// agents/cortex/state/memory.go guards its session map — field shapes are
// ported from the original's SQLAlchemy tables
// (models/{agent_state.py,service_connection.py,agent_event.py}) without
// any of the ORM/persistence machinery, since SPEC_FULL.md scopes the
// fleet runtime to in-memory state.
package store

import (
	"sync"
	"time"
)

// AgentConfig is a project's override of one agent's enabled flag and
// option map (error_threshold, min_reviewers, auto_merge, ...).
type AgentConfig struct {
	ProjectID             int
	AgentName             string
	Enabled               bool
	Config                map[string]any
	LastRunAt             *time.Time
	TotalEventsProcessed  int
}

type configKey struct {
	projectID int
	agentName string
}

// ConfigStore is an in-memory, mutex-guarded table of AgentConfig rows
// keyed by (project, agent).
type ConfigStore struct {
	mu   sync.RWMutex
	rows map[configKey]AgentConfig
}

// NewConfigStore constructs an empty ConfigStore.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{rows: make(map[configKey]AgentConfig)}
}

// Get returns the stored config for (projectID, agentName), if any.
func (s *ConfigStore) Get(projectID int, agentName string) (AgentConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[configKey{projectID, agentName}]
	return row, ok
}

// GetOrDefault returns the stored config, or {enabled: true, config: {}}
// if no row exists — the default an agent has before any operator
// override, matching agents.py's per-project listing behavior.
func (s *ConfigStore) GetOrDefault(projectID int, agentName string) AgentConfig {
	if row, ok := s.Get(projectID, agentName); ok {
		return row
	}
	return AgentConfig{ProjectID: projectID, AgentName: agentName, Enabled: true, Config: map[string]any{}}
}

// Upsert creates or replaces the config for (projectID, agentName).
func (s *ConfigStore) Upsert(row AgentConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[configKey{row.ProjectID, row.AgentName}] = row
}

// RecordRun updates LastRunAt and increments TotalEventsProcessed for an
// existing row; it is a no-op if no row exists yet (an agent with no
// explicit config still runs under GetOrDefault's defaults, but there is
// nothing to persist a run count into until an operator creates one).
func (s *ConfigStore) RecordRun(projectID int, agentName string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := configKey{projectID, agentName}
	row, ok := s.rows[key]
	if !ok {
		return
	}
	row.LastRunAt = &at
	row.TotalEventsProcessed++
	s.rows[key] = row
}

// ListByProject returns every stored AgentConfig for projectID.
func (s *ConfigStore) ListByProject(projectID int) []AgentConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AgentConfig
	for k, row := range s.rows {
		if k.projectID == projectID {
			out = append(out, row)
		}
	}
	return out
}
