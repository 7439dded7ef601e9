package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "sessions"), t.TempDir(), 24*time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestActiveCreatesAndReuses(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.Active(7)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if sess.ID == "" || sess.UserID != 7 {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if !strings.HasSuffix(sess.WorkingDirectory, "user_7") {
		t.Fatalf("working directory: %q", sess.WorkingDirectory)
	}

	sess.AddMessage("user", "hello", nil)
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, err := store.Active(7)
	if err != nil {
		t.Fatalf("active again: %v", err)
	}
	if again.ID != sess.ID {
		t.Fatalf("expected same session, got %s and %s", sess.ID, again.ID)
	}
	if len(again.Messages) != 1 || again.Messages[0].Content != "hello" {
		t.Fatalf("messages not persisted: %+v", again.Messages)
	}
}

func TestActiveExpiresAfterTimeout(t *testing.T) {
	store := newTestStore(t)
	store.timeout = time.Minute

	sess, err := store.Active(7)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	sess.LastActivity = time.Now().UTC().Add(-2 * time.Minute)
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	fresh, err := store.Active(7)
	if err != nil {
		t.Fatalf("active after expiry: %v", err)
	}
	if fresh.ID == sess.ID {
		t.Fatal("expired session should be superseded")
	}

	// The old session is still switchable.
	old, err := store.Switch(7, sess.ID)
	if err != nil {
		t.Fatalf("switch to expired session: %v", err)
	}
	if old.ID != sess.ID {
		t.Fatalf("switched to %s, want %s", old.ID, sess.ID)
	}
}

func TestResetKeepsOldSessions(t *testing.T) {
	store := newTestStore(t)

	first, _ := store.Active(7)
	second, err := store.Reset(7)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("reset must create a new session")
	}

	listed, err := store.List(7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(listed))
	}
	for _, ls := range listed {
		if ls.Active != (ls.Session.ID == second.ID) {
			t.Fatalf("active flag wrong: %+v", ls)
		}
	}
}

func TestSwitchPrefixMatching(t *testing.T) {
	store := newTestStore(t)
	sess, _ := store.Active(7)

	got, err := store.Switch(7, sess.ID[:8])
	if err != nil {
		t.Fatalf("switch by prefix: %v", err)
	}
	if got.ID != sess.ID {
		t.Fatalf("switched to %s, want %s", got.ID, sess.ID)
	}

	if _, err := store.Switch(7, "zzzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrderedByActivity(t *testing.T) {
	store := newTestStore(t)

	old, _ := store.Active(7)
	old.LastActivity = time.Now().UTC().Add(-time.Hour)
	store.Save(old)

	recent, _ := store.Reset(7)

	listed, err := store.List(7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if listed[0].Session.ID != recent.ID {
		t.Fatalf("newest first expected, got %s", listed[0].Session.ID)
	}
}

func TestLegacyMigration(t *testing.T) {
	store := newTestStore(t)

	legacy := Session{
		UserID:       7,
		ID:           "legacy-session-id",
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
		LastActivity: time.Now().UTC(),
	}
	legacy.Messages = []Message{{Role: "user", Content: "old talk", Timestamp: time.Now().UTC()}}
	data, _ := json.Marshal(legacy)
	legacyPath := filepath.Join(store.dir, "user_7.json")
	if err := os.WriteFile(legacyPath, data, 0o644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}

	sess, err := store.Active(7)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if sess.ID != "legacy-session-id" {
		t.Fatalf("legacy session not adopted: %s", sess.ID)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Content != "old talk" {
		t.Fatalf("legacy messages lost: %+v", sess.Messages)
	}
	if _, err := os.Stat(legacyPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("legacy file should be removed after migration")
	}
}

func TestAlwaysApprovedRoundTrip(t *testing.T) {
	store := newTestStore(t)

	tools, err := store.AlwaysApproved(7)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(tools) != 0 {
		t.Fatalf("expected no tools, got %v", tools)
	}

	if err := store.SaveAlwaysApproved(7, []string{"Write", "Bash"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	tools, err = store.AlwaysApproved(7)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tools) != 2 || tools[0] != "Bash" || tools[1] != "Write" {
		t.Fatalf("tools: %v", tools)
	}
}

func TestApproveToolDedupes(t *testing.T) {
	sess := &Session{}
	sess.ApproveTool("Bash")
	sess.ApproveTool("Bash")
	sess.ApproveTool("Write")
	if len(sess.ApprovedTools) != 2 {
		t.Fatalf("approved tools: %v", sess.ApprovedTools)
	}
}
