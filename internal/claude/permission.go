package claude

import (
	"context"
	"sync"
)

// PermissionRequest is one pending approval decision. Its outcome cell
// resolves exactly once; later resolutions are silent no-ops.
type PermissionRequest struct {
	ID        string
	ToolNames []string
	ToolInput map[string]any

	outcome chan bool
	once    sync.Once
}

func (r *PermissionRequest) resolve(approved bool) {
	r.once.Do(func() {
		r.outcome <- approved
		close(r.outcome)
	})
}

// Await blocks until the request is resolved or the context expires.
// Context expiry counts as denial.
func (r *PermissionRequest) Await(ctx context.Context) bool {
	select {
	case approved := <-r.outcome:
		return approved
	case <-ctx.Done():
		return false
	}
}

// PermissionManager is a keyed registry of pending permission requests.
// The transport layer resolves requests from button callbacks; the
// orchestrator awaits them. Deadlines are the caller's concern.
type PermissionManager struct {
	mu      sync.Mutex
	pending map[string]*PermissionRequest
}

// NewPermissionManager creates an empty registry.
func NewPermissionManager() *PermissionManager {
	return &PermissionManager{pending: make(map[string]*PermissionRequest)}
}

// Create registers a new pending request under requestID.
func (m *PermissionManager) Create(requestID string, toolNames []string, toolInput map[string]any) *PermissionRequest {
	req := &PermissionRequest{
		ID:        requestID,
		ToolNames: toolNames,
		ToolInput: toolInput,
		outcome:   make(chan bool, 1),
	}
	m.mu.Lock()
	m.pending[requestID] = req
	m.mu.Unlock()
	return req
}

// Resolve settles a pending request. Returns false if the request is
// unknown or already resolved; that is not an error.
func (m *PermissionManager) Resolve(requestID string, approved bool) bool {
	m.mu.Lock()
	req, ok := m.pending[requestID]
	delete(m.pending, requestID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	req.resolve(approved)
	return true
}

// Cancel resolves an outstanding request as denied.
func (m *PermissionManager) Cancel(requestID string) {
	m.Resolve(requestID, false)
}

// CancelAll drains every outstanding request as denied. Used at shutdown.
func (m *PermissionManager) CancelAll() {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[string]*PermissionRequest)
	m.mu.Unlock()
	for _, req := range pending {
		req.resolve(false)
	}
}
