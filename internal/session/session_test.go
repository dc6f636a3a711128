package session

import (
	"testing"
	"time"

	"github.com/jeffs/claudechic/internal/backend"
)

func TestStatusTransitions(t *testing.T) {
	t.Run("IdleToBusy", func(t *testing.T) {
		s := &Session{}
		if !s.MarkBusy() {
			t.Fatal("MarkBusy should succeed from idle")
		}
		if s.Status() != StatusBusy {
			t.Errorf("expected busy, got %s", s.Status())
		}
	})

	t.Run("BusyRejectsSecondStart", func(t *testing.T) {
		s := &Session{}
		s.MarkBusy()
		if s.MarkBusy() {
			t.Error("MarkBusy should fail while busy")
		}
	})

	t.Run("ApprovalRoundTrip", func(t *testing.T) {
		s := &Session{}
		s.MarkBusy()
		if !s.MarkNeedsInput() {
			t.Fatal("MarkNeedsInput should succeed from busy")
		}
		if s.Status() != StatusNeedsInput {
			t.Errorf("expected needs_input, got %s", s.Status())
		}
		if !s.MarkResumed() {
			t.Fatal("MarkResumed should succeed from needs_input")
		}
		if s.Status() != StatusBusy {
			t.Errorf("expected busy, got %s", s.Status())
		}
	})

	t.Run("NeedsInputOnlyFromBusy", func(t *testing.T) {
		s := &Session{}
		if s.MarkNeedsInput() {
			t.Error("MarkNeedsInput should be a no-op while idle")
		}
		if s.MarkResumed() {
			t.Error("MarkResumed should be a no-op while idle")
		}
	})
}

func TestApply(t *testing.T) {
	t.Run("CompleteWhileBusy", func(t *testing.T) {
		s := &Session{}
		s.MarkBusy()
		if !s.Apply(backend.EventResponseComplete) {
			t.Fatal("expected a status change")
		}
		if s.Status() != StatusIdle {
			t.Errorf("expected idle, got %s", s.Status())
		}
	})

	t.Run("DuplicateCompleteIsNoOp", func(t *testing.T) {
		s := &Session{}
		s.MarkBusy()
		s.Apply(backend.EventResponseComplete)
		if s.Apply(backend.EventResponseComplete) {
			t.Error("second complete should not change status")
		}
		if s.Status() != StatusIdle {
			t.Errorf("expected idle, got %s", s.Status())
		}
	})

	t.Run("ErrorForcesIdle", func(t *testing.T) {
		s := &Session{}
		s.MarkBusy()
		s.MarkNeedsInput()
		if !s.Apply(backend.EventError) {
			t.Fatal("expected a status change")
		}
		if s.Status() != StatusIdle {
			t.Errorf("expected idle, got %s", s.Status())
		}
	})

	t.Run("EventsWhileIdleRejected", func(t *testing.T) {
		kinds := []backend.EventKind{
			backend.EventStreamChunk,
			backend.EventToolStarted,
			backend.EventToolResult,
			backend.EventResponseComplete,
			backend.EventError,
		}
		for _, k := range kinds {
			s := &Session{}
			if s.Apply(k) {
				t.Errorf("%s while idle should be rejected", k)
			}
			if s.Status() != StatusIdle {
				t.Errorf("%s while idle moved status to %s", k, s.Status())
			}
		}
	})

	t.Run("ChunkAfterCancelRejected", func(t *testing.T) {
		s := &Session{}
		s.MarkBusy()
		s.CancelInteraction()
		if s.Apply(backend.EventStreamChunk) {
			t.Error("a leftover chunk must not restart the interaction")
		}
		if s.Status() != StatusIdle {
			t.Errorf("expected idle, got %s", s.Status())
		}
		if !s.MarkBusy() {
			t.Error("session must accept a new interaction after cancel")
		}
	})

	t.Run("ChunkResumesFromNeedsInput", func(t *testing.T) {
		s := &Session{}
		s.MarkBusy()
		s.MarkNeedsInput()
		if !s.Apply(backend.EventStreamChunk) {
			t.Fatal("expected a status change")
		}
		if s.Status() != StatusBusy {
			t.Errorf("expected busy, got %s", s.Status())
		}
	})

	t.Run("EveryKindHandledInEveryState", func(t *testing.T) {
		kinds := []backend.EventKind{
			backend.EventStreamChunk,
			backend.EventToolStarted,
			backend.EventToolResult,
			backend.EventResponseComplete,
			backend.EventError,
		}
		starts := []func(s *Session){
			func(s *Session) {},
			func(s *Session) { s.MarkBusy() },
			func(s *Session) { s.MarkBusy(); s.MarkNeedsInput() },
		}
		for _, start := range starts {
			for _, k := range kinds {
				s := &Session{}
				start(s)
				s.Apply(k) // must not panic, any result is legal
				if got := s.Status(); got != StatusIdle && got != StatusBusy && got != StatusNeedsInput {
					t.Fatalf("status escaped the machine: %v", got)
				}
			}
		}
	})
}

func TestCancelInteraction(t *testing.T) {
	s := &Session{}
	s.MarkBusy()
	s.MarkNeedsInput()

	cancelled := false
	s.AdoptConnection(nil, func() { cancelled = true })
	s.CancelInteraction()

	if !cancelled {
		t.Error("cancel func was not invoked")
	}
	if s.Status() != StatusIdle {
		t.Errorf("expected idle after cancel, got %s", s.Status())
	}

	// Second cancel must be harmless.
	s.CancelInteraction()
}

func TestStreamingState(t *testing.T) {
	s := &Session{}
	s.AppendText("Hello, ")
	s.AppendText("world")
	if got := s.StreamedText(); got != "Hello, world" {
		t.Errorf("expected accumulated text, got %q", got)
	}
	s.ResetStream()
	if got := s.StreamedText(); got != "" {
		t.Errorf("expected empty after reset, got %q", got)
	}
}

func TestToolTracking(t *testing.T) {
	s := &Session{}
	now := time.Now()
	s.OpenTool("t1", "Bash", now)
	s.OpenTool("t2", "Edit", now)

	if s.OpenToolCount() != 2 {
		t.Fatalf("expected 2 open tools, got %d", s.OpenToolCount())
	}

	tc := s.CloseTool("t1")
	if tc == nil || tc.Name != "Bash" {
		t.Fatalf("expected the Bash entry back, got %+v", tc)
	}
	if s.CloseTool("t1") != nil {
		t.Error("closing twice should return nil")
	}
	if s.OpenToolCount() != 1 {
		t.Errorf("expected 1 open tool, got %d", s.OpenToolCount())
	}

	// Terminal events drop the remaining entries.
	s.MarkBusy()
	s.Apply(backend.EventResponseComplete)
	if s.OpenToolCount() != 0 {
		t.Errorf("expected open tools cleared, got %d", s.OpenToolCount())
	}
}
