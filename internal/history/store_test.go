package history

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestRecordAndList(t *testing.T) {
	store := newTestStore(t)

	run := &Run{
		UserID:       7,
		SessionID:    "abc",
		Prompt:       "add tests",
		Outcome:      OutcomeSuccess,
		ExitCode:     0,
		CreatedFiles: []string{"a_test.go", "b_test.go"},
		DurationMS:   1500,
	}
	if err := store.Record(run); err != nil {
		t.Fatalf("record: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("ID not filled in")
	}

	runs, err := store.ListByUser(7, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	got := runs[0]
	if got.Prompt != "add tests" || got.Outcome != OutcomeSuccess {
		t.Fatalf("unexpected run: %+v", got)
	}
	if len(got.CreatedFiles) != 2 || got.CreatedFiles[0] != "a_test.go" {
		t.Fatalf("created files: %v", got.CreatedFiles)
	}
}

func TestListOrderAndLimit(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		run := &Run{
			UserID:    7,
			SessionID: "s",
			Prompt:    string(rune('a' + i)),
			Outcome:   OutcomeError,
			Error:     "boom",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Record(run); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	runs, err := store.ListByUser(7, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("limit not honored: %d", len(runs))
	}
	if runs[0].Prompt != "e" || runs[2].Prompt != "c" {
		t.Fatalf("wrong order: %s %s %s", runs[0].Prompt, runs[1].Prompt, runs[2].Prompt)
	}
}

func TestListIsolatesUsers(t *testing.T) {
	store := newTestStore(t)

	store.Record(&Run{UserID: 1, SessionID: "s", Prompt: "mine", Outcome: OutcomeSuccess})
	store.Record(&Run{UserID: 2, SessionID: "s", Prompt: "theirs", Outcome: OutcomeCancelled})

	runs, err := store.ListByUser(1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 || runs[0].Prompt != "mine" {
		t.Fatalf("cross-user leakage: %+v", runs)
	}
}
