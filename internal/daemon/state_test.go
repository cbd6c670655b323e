package daemon

import (
	"errors"
	"testing"
)

func TestStateMachine_HappyPath(t *testing.T) {
	m := NewStateMachine()
	if m.Current() != StateIdle {
		t.Fatalf("initial state = %v, want Idle", m.Current())
	}
	if err := m.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if m.Current() != StateCapturing {
		t.Fatalf("state = %v, want Capturing", m.Current())
	}
	if err := m.EndCapture(); err != nil {
		t.Fatalf("EndCapture: %v", err)
	}
	if m.Current() != StateFlushing {
		t.Fatalf("state = %v, want Flushing", m.Current())
	}
	// Resume.
	if err := m.StartCapture(); err != nil {
		t.Fatalf("resume StartCapture: %v", err)
	}
	if m.Current() != StateCapturing {
		t.Fatalf("state = %v, want Capturing after resume", m.Current())
	}
	m.Stop()
	if m.Current() != StateStopped {
		t.Fatalf("state = %v, want Stopped", m.Current())
	}
}

func TestStateMachine_RejectsDoubleStart(t *testing.T) {
	m := NewStateMachine()
	if err := m.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	err := m.StartCapture()
	if err == nil {
		t.Fatal("expected error starting capture twice")
	}
	var ite *ErrInvalidTransition
	if !errors.As(err, &ite) {
		t.Errorf("expected *ErrInvalidTransition, got %T: %v", err, err)
	}
}

func TestStateMachine_RejectsEndWithoutStart(t *testing.T) {
	m := NewStateMachine()
	if err := m.EndCapture(); err == nil {
		t.Fatal("expected error ending capture that never started")
	}
}

func TestStateMachine_StopIsTerminal(t *testing.T) {
	m := NewStateMachine()
	m.Stop()
	m.Stop() // idempotent
	if m.Current() != StateStopped {
		t.Fatalf("state = %v, want Stopped", m.Current())
	}
	if err := m.StartCapture(); !errors.Is(err, ErrTerminated) {
		t.Errorf("StartCapture after Stop: got %v, want ErrTerminated", err)
	}
	if err := m.EndCapture(); !errors.Is(err, ErrTerminated) {
		t.Errorf("EndCapture after Stop: got %v, want ErrTerminated", err)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateIdle:      "idle",
		StateCapturing: "capturing",
		StateFlushing:  "flushing",
		StateStopped:   "stopped",
		State(99):      "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
