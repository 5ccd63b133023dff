package state

import (
	"testing"
	"time"
)

func TestSessionStateAppendTurnTrimsToMaxTurns(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := NewSessionState("s1", "ws", "chat", now)
	for i := 0; i < MaxTurns+5; i++ {
		s.AppendTurn(Turn{Query: "q", FinalResponse: "a"}, now)
	}
	if len(s.Turns) != MaxTurns {
		t.Fatalf("len(Turns) = %d, want %d", len(s.Turns), MaxTurns)
	}
	if s.Version != MaxTurns+5+1 {
		t.Fatalf("Version = %d, want %d", s.Version, MaxTurns+5+1)
	}
}

func TestSessionStateMergeContextOverwrites(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := NewSessionState("s1", "ws", "chat", now)
	s.MergeContext(map[string]any{"department": "Eng"}, now)
	s.MergeContext(map[string]any{"department": "Sales", "region": "APAC"}, now)

	if s.Context["department"] != "Sales" {
		t.Fatalf("Context[department] = %v, want Sales", s.Context["department"])
	}
	if s.Context["region"] != "APAC" {
		t.Fatalf("Context[region] = %v, want APAC", s.Context["region"])
	}
}

func TestSessionStateValidateRejectsEmptyID(t *testing.T) {
	t.Parallel()

	s := NewSessionState("", "ws", "chat", time.Now())
	if err := s.Validate(); err != ErrInvalidSessionID {
		t.Fatalf("Validate() error = %v, want ErrInvalidSessionID", err)
	}
}
