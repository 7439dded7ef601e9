package claude

import (
	"context"
	"testing"
	"time"
)

func TestPermissionApprove(t *testing.T) {
	m := NewPermissionManager()
	req := m.Create("req-1", []string{"Bash"}, map[string]any{"command": "ls"})

	go func() {
		if !m.Resolve("req-1", true) {
			t.Error("resolve should succeed for a pending request")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !req.Await(ctx) {
		t.Fatal("expected approval")
	}
}

func TestPermissionResolveIdempotent(t *testing.T) {
	m := NewPermissionManager()
	req := m.Create("req-1", []string{"Bash"}, nil)

	if !m.Resolve("req-1", false) {
		t.Fatal("first resolve should succeed")
	}
	if m.Resolve("req-1", true) {
		t.Fatal("second resolve must be a no-op")
	}
	if m.Resolve("unknown", true) {
		t.Fatal("unknown id must be a no-op")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if req.Await(ctx) {
		t.Fatal("first resolution wins; expected denial")
	}
}

func TestPermissionAwaitDeadline(t *testing.T) {
	m := NewPermissionManager()
	req := m.Create("req-1", []string{"Bash"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if req.Await(ctx) {
		t.Fatal("deadline expiry must read as denial")
	}
}

func TestPermissionCancelAll(t *testing.T) {
	m := NewPermissionManager()
	a := m.Create("a", []string{"Bash"}, nil)
	b := m.Create("b", []string{"Write"}, nil)

	m.CancelAll()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if a.Await(ctx) || b.Await(ctx) {
		t.Fatal("cancelled requests must resolve as denied")
	}
	if m.Resolve("a", true) {
		t.Fatal("registry should be empty after CancelAll")
	}
}
