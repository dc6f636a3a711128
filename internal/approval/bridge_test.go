package approval

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jeffs/claudechic/internal/backend"
)

// request runs RequestApproval in a goroutine and returns the decision
// channel plus the published request.
func request(t *testing.T, b *Bridge, sessionID, tool string) (<-chan backend.Decision, *Request) {
	t.Helper()
	out := make(chan backend.Decision, 1)
	go func() {
		out <- b.RequestApproval(context.Background(), sessionID, tool, json.RawMessage(`{}`))
	}()
	select {
	case req := <-b.Requests():
		return out, req
	case <-time.After(2 * time.Second):
		t.Fatal("request was never published")
		return nil, nil
	}
}

func TestResolveAllow(t *testing.T) {
	b := NewBridge(4)
	out, req := request(t, b, "s1", "Bash")

	if err := b.Resolve(req.ID, backend.Allow); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if d := <-out; d != backend.Allow {
		t.Errorf("expected allow, got %s", d)
	}
	if b.Pending("s1") != 0 {
		t.Error("resolved request still pending")
	}
}

func TestResolveUnknown(t *testing.T) {
	b := NewBridge(4)
	if err := b.Resolve("nope", backend.Allow); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	t.Run("DoubleResolve", func(t *testing.T) {
		out, req := request(t, b, "s1", "Bash")
		b.Resolve(req.ID, backend.Deny)
		<-out
		if err := b.Resolve(req.ID, backend.Allow); !errors.Is(err, ErrNotFound) {
			t.Errorf("second resolve should fail with ErrNotFound, got %v", err)
		}
	})
}

func TestAllowAll(t *testing.T) {
	b := NewBridge(4)
	out, req := request(t, b, "s1", "Edit")

	if err := b.Resolve(req.ID, backend.AllowAll); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	// The caller sees a plain allow.
	if d := <-out; d != backend.Allow {
		t.Errorf("expected allow, got %s", d)
	}

	// The second request for the same (session, tool) resolves
	// instantly with no pending entry.
	d := b.RequestApproval(context.Background(), "s1", "Edit", nil)
	if d != backend.Allow {
		t.Errorf("expected instant allow, got %s", d)
	}
	if b.Pending("s1") != 0 {
		t.Errorf("auto-allowed request left a pending entry")
	}

	// Other sessions still prompt.
	out2, req2 := request(t, b, "s2", "Edit")
	b.Resolve(req2.ID, backend.Deny)
	if d := <-out2; d != backend.Deny {
		t.Errorf("expected deny for the other session, got %s", d)
	}
}

func TestAllowAllToolClass(t *testing.T) {
	b := NewBridge(4)
	b.SetToolClass([]string{"Edit", "Write", "MultiEdit"})

	out, req := request(t, b, "s1", "Edit")
	b.Resolve(req.ID, backend.AllowAll)
	<-out

	// Class members are covered without further prompts.
	if d := b.RequestApproval(context.Background(), "s1", "Write", nil); d != backend.Allow {
		t.Errorf("expected class member auto-allowed, got %s", d)
	}
	// Tools outside the class still prompt.
	out2, req2 := request(t, b, "s1", "Bash")
	b.Resolve(req2.ID, backend.Deny)
	if d := <-out2; d != backend.Deny {
		t.Errorf("expected deny for out-of-class tool, got %s", d)
	}
}

func TestContextCancelDenies(t *testing.T) {
	b := NewBridge(4)
	ctx, cancel := context.WithCancel(context.Background())

	out := make(chan backend.Decision, 1)
	go func() {
		out <- b.RequestApproval(ctx, "s1", "Bash", nil)
	}()
	<-b.Requests()

	cancel()
	select {
	case d := <-out:
		if d != backend.Deny {
			t.Errorf("expected deny on cancellation, got %s", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request never resolved")
	}
	if b.Pending("s1") != 0 {
		t.Error("cancelled request still pending")
	}
}

func TestDenyPending(t *testing.T) {
	b := NewBridge(4)

	// Establish a standing rule first.
	out, req := request(t, b, "s1", "Edit")
	b.Resolve(req.ID, backend.AllowAll)
	<-out

	out2, _ := request(t, b, "s1", "Bash")
	b.DenyPending("s1")
	if d := <-out2; d != backend.Deny {
		t.Errorf("expected deny, got %s", d)
	}

	// DenyPending preserves auto-allow rules.
	if d := b.RequestApproval(context.Background(), "s1", "Edit", nil); d != backend.Allow {
		t.Errorf("auto-allow rule lost: got %s", d)
	}
}

func TestCloseSession(t *testing.T) {
	b := NewBridge(4)

	out, req := request(t, b, "s1", "Edit")
	b.Resolve(req.ID, backend.AllowAll)
	<-out

	out2, _ := request(t, b, "s1", "Bash")
	b.CloseSession("s1")
	if d := <-out2; d != backend.Deny {
		t.Errorf("expected deny on close, got %s", d)
	}
	if b.Pending("s1") != 0 {
		t.Error("closed session still has pending requests")
	}

	// Auto-allow rules die with the session.
	out3 := make(chan backend.Decision, 1)
	go func() {
		out3 <- b.RequestApproval(context.Background(), "s1", "Edit", nil)
	}()
	select {
	case req := <-b.Requests():
		b.Resolve(req.ID, backend.Deny)
		if d := <-out3; d != backend.Deny {
			t.Errorf("expected deny, got %s", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fresh prompt after close")
	}
}
