package store

import (
	"sync"
	"time"
)

// Credential is one project's connection to an external service
// (gitlab, figma, slack, datadog, sentry, jira), ported from
// models/service_connection.py's ServiceConnection table.
type Credential struct {
	ProjectID   int
	ServiceKind string
	BaseURL     string
	APIToken    string
	Config      map[string]any
	Enabled     bool
	LastSyncAt  *time.Time
	CreatedAt   time.Time
}

// Masked returns the API token in a form safe to include in a listing
// response: its first four and last four characters joined with an
// ellipsis, or a short fixed placeholder for
// tokens too short to mask meaningfully.
func (c Credential) Masked() string {
	const keep = 4
	if len(c.APIToken) <= keep*2 {
		return "****"
	}
	return c.APIToken[:keep] + "..." + c.APIToken[len(c.APIToken)-keep:]
}

// ConfigStr returns the string at key in Config, or "" if absent.
func (c Credential) ConfigStr(key string) string {
	s, _ := c.Config[key].(string)
	return s
}

// ConfigInt returns the int at key in Config, accepting either a native
// int or the float64 shape json.Unmarshal produces, or 0 if absent.
func (c Credential) ConfigInt(key string) int {
	switch v := c.Config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

type credentialKey struct {
	projectID   int
	serviceKind string
}

// CredentialStore is an in-memory, mutex-guarded table of Credential rows
// keyed by (project, service kind).
type CredentialStore struct {
	mu   sync.RWMutex
	rows map[credentialKey]Credential
}

// NewCredentialStore constructs an empty CredentialStore.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{rows: make(map[credentialKey]Credential)}
}

// Get returns the stored credential for (projectID, serviceKind), including
// its raw token — used internally by capability adapters, never returned
// directly to an HTTP caller.
func (s *CredentialStore) Get(projectID int, serviceKind string) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[credentialKey{projectID, serviceKind}]
	return row, ok
}

// Upsert creates or replaces the credential for its (project, kind) key.
func (s *CredentialStore) Upsert(c Credential) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[credentialKey{c.ProjectID, c.ServiceKind}] = c
}

// Delete removes the credential for (projectID, serviceKind), reporting
// whether one existed.
func (s *CredentialStore) Delete(projectID int, serviceKind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credentialKey{projectID, serviceKind}
	if _, ok := s.rows[key]; !ok {
		return false
	}
	delete(s.rows, key)
	return true
}

// FindAnyEnabled returns the first enabled credential of serviceKind
// across all projects, for callers that act on an event with no project
// scope (e.g. a chat notification fired without a project_id) and fall
// back to "any connected workspace" the way the original did.
func (s *CredentialStore) FindAnyEnabled(serviceKind string) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, row := range s.rows {
		if k.serviceKind == serviceKind && row.Enabled {
			return row, true
		}
	}
	return Credential{}, false
}

// FindByConfig returns the first enabled credential of serviceKind whose
// Config satisfies match, e.g. resolving an inbound webhook's external
// project id (or Figma file key) back to the project that owns the
// connection. Mirrors the original's "scan every enabled connection of
// this type" lookup, done here over the in-memory table instead of a
// SELECT.
func (s *CredentialStore) FindByConfig(serviceKind string, match func(cfg map[string]any) bool) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, row := range s.rows {
		if k.serviceKind != serviceKind || !row.Enabled {
			continue
		}
		if match(row.Config) {
			return row, true
		}
	}
	return Credential{}, false
}

// ListByProject returns every stored Credential for projectID.
func (s *CredentialStore) ListByProject(projectID int) []Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Credential
	for k, row := range s.rows {
		if k.projectID == projectID {
			out = append(out, row)
		}
	}
	return out
}
