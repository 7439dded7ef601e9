// Package session persists per-user conversation state as JSON files,
// one directory per user with an index of known sessions.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means no session matched the given id or prefix.
	ErrNotFound = errors.New("session not found")
	// ErrAmbiguous means a prefix matched more than one session.
	ErrAmbiguous = errors.New("session id prefix is ambiguous")
)

// Message is one entry in a session's conversation history.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Session is one conversation thread. Its ID is stable for the life of
// the thread and keys the CLI-side context continuation.
type Session struct {
	UserID           int64     `json:"user_id"`
	ID               string    `json:"session_id"`
	Messages         []Message `json:"messages"`
	WorkingDirectory string    `json:"working_directory"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	ApprovedTools    []string  `json:"approved_tools"`
}

// AddMessage appends to the history and touches the activity timestamp.
func (s *Session) AddMessage(role, content string, metadata map[string]any) {
	now := time.Now().UTC()
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: now,
		Metadata:  metadata,
	})
	s.LastActivity = now
}

// ApproveTool grants a tool for the rest of this session.
func (s *Session) ApproveTool(name string) {
	for _, t := range s.ApprovedTools {
		if t == name {
			return
		}
	}
	s.ApprovedTools = append(s.ApprovedTools, name)
	sort.Strings(s.ApprovedTools)
}

// Expired reports whether the session has been idle longer than timeout.
func (s *Session) Expired(timeout time.Duration) bool {
	return time.Since(s.LastActivity) > timeout
}

// Preview returns the first user message, truncated for session lists.
func (s *Session) Preview() string {
	for _, msg := range s.Messages {
		if msg.Role != "user" {
			continue
		}
		if len(msg.Content) > 60 {
			return msg.Content[:60] + "..."
		}
		return msg.Content
	}
	return "(empty session)"
}

type index struct {
	ActiveSessionID string   `json:"active_session_id"`
	SessionIDs      []string `json:"session_ids"`
}

// ListedSession pairs a session with whether it is the user's active one.
type ListedSession struct {
	Session *Session
	Active  bool
}

// Store reads and writes sessions under a data directory. Callers
// serialize requests per user; the store itself does no locking.
type Store struct {
	dir          string
	workspaceDir string
	timeout      time.Duration
}

// NewStore creates the data directory if needed. workspaceDir is where
// per-user working directories are placed; timeout is the inactivity
// span after which a fresh session supersedes the active one.
func NewStore(dir, workspaceDir string, timeout time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions dir: %w", err)
	}
	return &Store{dir: dir, workspaceDir: workspaceDir, timeout: timeout}, nil
}

func (st *Store) userDir(userID int64) (string, error) {
	dir := filepath.Join(st.dir, fmt.Sprintf("user_%d", userID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating user dir: %w", err)
	}
	return dir, nil
}

func (st *Store) sessionPath(userID int64, sessionID string) string {
	return filepath.Join(st.dir, fmt.Sprintf("user_%d", userID), sessionID+".json")
}

func (st *Store) indexPath(userID int64) string {
	return filepath.Join(st.dir, fmt.Sprintf("user_%d", userID), "index.json")
}

// WorkDir is the per-user workspace the CLI runs in.
func (st *Store) WorkDir(userID int64) string {
	return filepath.Join(st.workspaceDir, fmt.Sprintf("user_%d", userID))
}

func (st *Store) loadIndex(userID int64) index {
	var idx index
	data, err := os.ReadFile(st.indexPath(userID))
	if err != nil {
		return idx
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		log.Printf("Corrupt session index for user %d: %v", userID, err)
		return index{}
	}
	return idx
}

func (st *Store) saveIndex(userID int64, idx index) error {
	if _, err := st.userDir(userID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := os.WriteFile(st.indexPath(userID), data, 0o644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}

// migrateLegacy moves a pre-multi-session single file, dir/user_<id>.json,
// into the directory layout. Runs once; the legacy file is removed either
// way.
func (st *Store) migrateLegacy(userID int64) {
	legacy := filepath.Join(st.dir, fmt.Sprintf("user_%d.json", userID))
	if _, err := os.Stat(legacy); err != nil {
		return
	}
	defer os.Remove(legacy)

	if _, err := os.Stat(st.indexPath(userID)); err == nil {
		return
	}

	data, err := os.ReadFile(legacy)
	if err != nil {
		log.Printf("Reading legacy session file for user %d: %v", userID, err)
		return
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil || sess.ID == "" {
		log.Printf("Skipping unrecognized legacy session file for user %d", userID)
		return
	}

	if err := st.Save(&sess); err != nil {
		log.Printf("Migrating legacy session for user %d: %v", userID, err)
		return
	}
	if err := st.saveIndex(userID, index{ActiveSessionID: sess.ID, SessionIDs: []string{sess.ID}}); err != nil {
		log.Printf("Writing migrated index for user %d: %v", userID, err)
		return
	}
	log.Printf("Migrated legacy session for user %d: %s", userID, sess.ID)
}

func (st *Store) load(userID int64, sessionID string) (*Session, error) {
	data, err := os.ReadFile(st.sessionPath(userID, sessionID))
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", sessionID, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Save writes a session file.
func (st *Store) Save(sess *Session) error {
	if _, err := st.userDir(sess.UserID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.WriteFile(st.sessionPath(sess.UserID, sess.ID), data, 0o644); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

// Active returns the user's active session, creating a fresh one on
// first contact or when the active session has expired. Expired sessions
// stay on disk and remain switchable.
func (st *Store) Active(userID int64) (*Session, error) {
	st.migrateLegacy(userID)

	idx := st.loadIndex(userID)
	if idx.ActiveSessionID != "" {
		sess, err := st.load(userID, idx.ActiveSessionID)
		if err == nil {
			if !sess.Expired(st.timeout) {
				return sess, nil
			}
			log.Printf("Session %s for user %d expired, starting a new one", sess.ID, userID)
		} else {
			log.Printf("Loading active session for user %d: %v", userID, err)
		}
	}
	return st.create(userID, idx)
}

// Reset starts a new session; prior sessions stay switchable.
func (st *Store) Reset(userID int64) (*Session, error) {
	st.migrateLegacy(userID)
	return st.create(userID, st.loadIndex(userID))
}

func (st *Store) create(userID int64, idx index) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		UserID:           userID,
		ID:               uuid.NewString(),
		WorkingDirectory: st.WorkDir(userID),
		CreatedAt:        now,
		LastActivity:     now,
	}
	if err := st.Save(sess); err != nil {
		return nil, err
	}

	idx.ActiveSessionID = sess.ID
	idx.SessionIDs = append(idx.SessionIDs, sess.ID)
	if err := st.saveIndex(userID, idx); err != nil {
		return nil, err
	}
	log.Printf("Created session %s for user %d", sess.ID, userID)
	return sess, nil
}

// Switch makes an existing session active. A unique id prefix is
// accepted; an exact match wins over an ambiguous prefix.
func (st *Store) Switch(userID int64, idOrPrefix string) (*Session, error) {
	st.migrateLegacy(userID)
	idx := st.loadIndex(userID)

	var matches []string
	for _, sid := range idx.SessionIDs {
		if sid == idOrPrefix {
			matches = []string{sid}
			break
		}
		if len(idOrPrefix) > 0 && len(sid) >= len(idOrPrefix) && sid[:len(idOrPrefix)] == idOrPrefix {
			matches = append(matches, sid)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	if len(matches) > 1 {
		return nil, ErrAmbiguous
	}

	sess, err := st.load(userID, matches[0])
	if err != nil {
		// Drop the stale index entry.
		kept := idx.SessionIDs[:0]
		for _, sid := range idx.SessionIDs {
			if sid != matches[0] {
				kept = append(kept, sid)
			}
		}
		idx.SessionIDs = kept
		if saveErr := st.saveIndex(userID, idx); saveErr != nil {
			log.Printf("Pruning stale session %s for user %d: %v", matches[0], userID, saveErr)
		}
		return nil, ErrNotFound
	}

	idx.ActiveSessionID = sess.ID
	if err := st.saveIndex(userID, idx); err != nil {
		return nil, err
	}
	log.Printf("Switched user %d to session %s", userID, sess.ID)
	return sess, nil
}

// List returns every loadable session for a user, newest activity first.
func (st *Store) List(userID int64) ([]ListedSession, error) {
	st.migrateLegacy(userID)
	idx := st.loadIndex(userID)

	var sessions []ListedSession
	for _, sid := range idx.SessionIDs {
		sess, err := st.load(userID, sid)
		if err != nil {
			log.Printf("Skipping unreadable session %s for user %d: %v", sid, userID, err)
			continue
		}
		sessions = append(sessions, ListedSession{Session: sess, Active: sid == idx.ActiveSessionID})
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Session.LastActivity.After(sessions[j].Session.LastActivity)
	})
	return sessions, nil
}

type alwaysApproved struct {
	Tools []string `json:"tools"`
}

// AlwaysApproved returns the tools the user approved permanently.
func (st *Store) AlwaysApproved(userID int64) ([]string, error) {
	path := filepath.Join(st.dir, fmt.Sprintf("user_%d", userID), "always_approved.json")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading always-approved tools: %w", err)
	}
	var aa alwaysApproved
	if err := json.Unmarshal(data, &aa); err != nil {
		return nil, fmt.Errorf("decoding always-approved tools: %w", err)
	}
	return aa.Tools, nil
}

// SaveAlwaysApproved persists the user's permanent tool approvals.
func (st *Store) SaveAlwaysApproved(userID int64, tools []string) error {
	if _, err := st.userDir(userID); err != nil {
		return err
	}
	sorted := append([]string{}, tools...)
	sort.Strings(sorted)
	data, err := json.MarshalIndent(alwaysApproved{Tools: sorted}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding always-approved tools: %w", err)
	}
	path := filepath.Join(st.dir, fmt.Sprintf("user_%d", userID), "always_approved.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing always-approved tools: %w", err)
	}
	return nil
}
