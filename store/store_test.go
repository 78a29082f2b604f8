package store

import (
	"testing"
	"time"
)

func TestConfigStoreGetOrDefault(t *testing.T) {
	s := NewConfigStore()
	cfg := s.GetOrDefault(1, "review-coordination")
	if !cfg.Enabled || cfg.Config == nil {
		t.Fatalf("unexpected default: %+v", cfg)
	}

	s.Upsert(AgentConfig{ProjectID: 1, AgentName: "review-coordination", Enabled: false, Config: map[string]any{"auto_merge": true}})
	cfg2 := s.GetOrDefault(1, "review-coordination")
	if cfg2.Enabled {
		t.Fatal("upserted row should override the default")
	}
	if cfg2.Config["auto_merge"] != true {
		t.Fatalf("config not persisted: %+v", cfg2.Config)
	}
}

func TestConfigStoreRecordRunNoOpWithoutRow(t *testing.T) {
	s := NewConfigStore()
	s.RecordRun(1, "does-not-exist", time.Now())
	if _, ok := s.Get(1, "does-not-exist"); ok {
		t.Fatal("RecordRun should not create a row")
	}
}

func TestConfigStoreRecordRunIncrementsCount(t *testing.T) {
	s := NewConfigStore()
	s.Upsert(AgentConfig{ProjectID: 1, AgentName: "test-intelligence", Enabled: true})
	s.RecordRun(1, "test-intelligence", time.Now())
	s.RecordRun(1, "test-intelligence", time.Now())

	row, _ := s.Get(1, "test-intelligence")
	if row.TotalEventsProcessed != 2 {
		t.Fatalf("total events processed = %d, want 2", row.TotalEventsProcessed)
	}
	if row.LastRunAt == nil {
		t.Fatal("last run not recorded")
	}
}

func TestCredentialMaskedHidesMiddle(t *testing.T) {
	c := Credential{APIToken: "glpat-abcdefghijklmnop"}
	masked := c.Masked()
	if masked == c.APIToken {
		t.Fatal("masked token should not equal the raw token")
	}
	if masked[:4] != "glpa" {
		t.Fatalf("masked token should retain the first 4 chars, got %q", masked)
	}
}

func TestCredentialMaskedShortToken(t *testing.T) {
	c := Credential{APIToken: "short"}
	if c.Masked() != "****" {
		t.Fatalf("short token should mask to a fixed placeholder, got %q", c.Masked())
	}
}

func TestCredentialStoreCRUD(t *testing.T) {
	s := NewCredentialStore()
	s.Upsert(Credential{ProjectID: 1, ServiceKind: "gitlab", APIToken: "tok"})

	if _, ok := s.Get(1, "gitlab"); !ok {
		t.Fatal("credential not stored")
	}
	if len(s.ListByProject(1)) != 1 {
		t.Fatal("expected one credential for project 1")
	}
	if !s.Delete(1, "gitlab") {
		t.Fatal("Delete should report true for an existing row")
	}
	if s.Delete(1, "gitlab") {
		t.Fatal("Delete should report false for an already-deleted row")
	}
}

func TestAuditLogRecentFiltersByProjectAndLimit(t *testing.T) {
	l := NewAuditLog()
	p1, p2 := 1, 2
	l.Append(AuditEntry{EventID: "a", ProjectID: &p1})
	l.Append(AuditEntry{EventID: "b", ProjectID: &p2})
	l.Append(AuditEntry{EventID: "c", ProjectID: &p1})

	all := l.Recent(0, nil)
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}

	byProject := l.Recent(0, &p1)
	if len(byProject) != 2 || byProject[0].EventID != "a" || byProject[1].EventID != "c" {
		t.Fatalf("unexpected project filter result: %+v", byProject)
	}

	limited := l.Recent(1, &p1)
	if len(limited) != 1 || limited[0].EventID != "c" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}
