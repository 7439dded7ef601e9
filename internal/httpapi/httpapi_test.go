package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ewahl/claudegram/internal/history"
	"github.com/ewahl/claudegram/internal/session"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	sessions, err := session.NewStore(filepath.Join(t.TempDir(), "sessions"), t.TempDir(), 24*time.Hour)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	hist, err := history.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new history store: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })
	return New(sessions, hist)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	w := get(t, testServer(t), "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
}

func TestListSessionsEndpoint(t *testing.T) {
	s := testServer(t)

	sess, err := s.sessions.Active(7)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sess.AddMessage("user", "hello there", nil)
	if err := s.sessions.Save(sess); err != nil {
		t.Fatalf("save session: %v", err)
	}

	w := get(t, s, "/api/users/7/sessions")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var summaries []sessionSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 session, got %d", len(summaries))
	}
	if summaries[0].ID != sess.ID || !summaries[0].Active {
		t.Fatalf("unexpected summary: %+v", summaries[0])
	}
	if summaries[0].Messages != 1 || summaries[0].Preview != "hello there" {
		t.Fatalf("unexpected summary: %+v", summaries[0])
	}
}

func TestListRunsEndpoint(t *testing.T) {
	s := testServer(t)

	run := &history.Run{UserID: 7, SessionID: "s", Prompt: "do things", Outcome: history.OutcomeSuccess}
	if err := s.history.Record(run); err != nil {
		t.Fatalf("record run: %v", err)
	}

	w := get(t, s, "/api/users/7/runs?limit=5")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var runs []*history.Run
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(runs) != 1 || runs[0].Prompt != "do things" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestListRunsBadParams(t *testing.T) {
	s := testServer(t)

	if w := get(t, s, "/api/users/notanumber/runs"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad user id, got %d", w.Code)
	}
	if w := get(t, s, "/api/users/7/runs?limit=0"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
}
