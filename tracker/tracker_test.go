package tracker

import (
	"sync"
	"testing"
)

func TestWithLockCreatesRecordOnFirstAccess(t *testing.T) {
	tr := New()
	key := Key{ProjectID: 1, MRIID: 42}

	err := tr.WithLock(key, func(rec *Record) error {
		rec.AutoMergeEligible = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}

	rec, ok := tr.Get(key)
	if !ok {
		t.Fatal("record was not created")
	}
	if !rec.AutoMergeEligible {
		t.Fatal("mutation was not persisted")
	}
	if rec.OpenedAt.IsZero() {
		t.Fatal("OpenedAt was not set on creation")
	}
}

func TestConcurrentUpdatesToSameKeyDoNotRace(t *testing.T) {
	tr := New()
	key := Key{ProjectID: 1, MRIID: 7}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = tr.WithLock(key, func(rec *Record) error {
			rec.SecurityPassed = true
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		_ = tr.WithLock(key, func(rec *Record) error {
			rec.TestsPassed = true
			return nil
		})
	}()
	wg.Wait()

	rec, ok := tr.Get(key)
	if !ok {
		t.Fatal("record missing")
	}
	if !rec.SecurityPassed || !rec.TestsPassed {
		t.Fatalf("lost an update: %+v", rec)
	}
}

func TestOrderIndependentArrivalReachesReadyOnce(t *testing.T) {
	tr := New()
	keyA := Key{ProjectID: 1, MRIID: 1}
	keyB := Key{ProjectID: 1, MRIID: 2}

	apply := func(k Key, security, tests bool) {
		_ = tr.WithLock(k, func(rec *Record) error {
			rec.AutoMergeEligible = true
			if security {
				rec.SecurityPassed = true
			}
			if tests {
				rec.TestsPassed = true
			}
			return nil
		})
	}

	apply(keyA, true, false)
	apply(keyA, false, true)

	apply(keyB, false, true)
	apply(keyB, true, false)

	recA, _ := tr.Get(keyA)
	recB, _ := tr.Get(keyB)
	if !recA.Ready(true) || !recB.Ready(true) {
		t.Fatalf("arrival order should not affect readiness: A=%+v B=%+v", recA, recB)
	}
}

func TestReadyRequiresAutoMergeEnabled(t *testing.T) {
	rec := Record{AutoMergeEligible: true, SecurityPassed: true, TestsPassed: true}
	if rec.Ready(false) {
		t.Fatal("Ready should require auto_merge_enabled")
	}
	if !rec.Ready(true) {
		t.Fatal("Ready should be true when all signals and the flag are set")
	}
}

func TestWithLockDeleteRemovesRecord(t *testing.T) {
	tr := New()
	key := Key{ProjectID: 3, MRIID: 9}
	_ = tr.WithLock(key, func(rec *Record) error {
		rec.SecurityPassed = true
		return nil
	})

	err := tr.WithLock(key, func(rec *Record) error {
		return ErrDelete
	})
	if err != nil {
		t.Fatalf("WithLock delete: %v", err)
	}

	if _, ok := tr.Get(key); ok {
		t.Fatal("record should have been deleted")
	}
}

func TestWithLockErrorLeavesRecordUnchanged(t *testing.T) {
	tr := New()
	key := Key{ProjectID: 1, MRIID: 5}
	_ = tr.WithLock(key, func(rec *Record) error {
		rec.SecurityPassed = true
		return nil
	})

	errBoom := &boomErr{}
	err := tr.WithLock(key, func(rec *Record) error {
		rec.SecurityPassed = false
		return errBoom
	})
	if err != errBoom {
		t.Fatalf("expected boomErr, got %v", err)
	}

	rec, _ := tr.Get(key)
	if !rec.SecurityPassed {
		t.Fatal("record should not have been persisted when fn returned an error")
	}
}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }
