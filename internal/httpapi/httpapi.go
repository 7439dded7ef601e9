// Package httpapi exposes a read-only HTTP API over sessions and run
// history, for dashboards and debugging.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ewahl/claudegram/internal/history"
	"github.com/ewahl/claudegram/internal/session"
)

// Server serves the claudegram HTTP API.
type Server struct {
	sessions *session.Store
	history  *history.Store
	router   chi.Router
}

// New wires the API to its stores.
func New(sessions *session.Store, hist *history.Store) *Server {
	s := &Server{sessions: sessions, history: hist}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("HTTP API listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api/users/{userID}", func(r chi.Router) {
		r.Get("/sessions", s.handleListSessions)
		r.Get("/runs", s.handleListRuns)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

type sessionSummary struct {
	ID           string    `json:"id"`
	Active       bool      `json:"active"`
	Messages     int       `json:"messages"`
	Preview      string    `json:"preview"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func userIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	return id, err == nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	listed, err := s.sessions.List(userID)
	if err != nil {
		log.Printf("Error listing sessions for user %d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	summaries := make([]sessionSummary, 0, len(listed))
	for _, ls := range listed {
		summaries = append(summaries, sessionSummary{
			ID:           ls.Session.ID,
			Active:       ls.Active,
			Messages:     len(ls.Session.Messages),
			Preview:      ls.Session.Preview(),
			CreatedAt:    ls.Session.CreatedAt,
			LastActivity: ls.Session.LastActivity,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.history.ListByUser(userID, limit)
	if err != nil {
		log.Printf("Error listing runs for user %d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
