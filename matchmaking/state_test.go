package matchmaking

import (
	"testing"
	"time"

	"gomoku-match-core/eventlog"
)

func joinEvent(playerID string, at time.Time) eventlog.QueueEvent {
	return eventlog.QueueEvent{EventID: eventlog.NewEventID(), PlayerID: playerID, Action: eventlog.PlayerJoined, At: at}
}

func leaveEvent(playerID string) eventlog.QueueEvent {
	return eventlog.QueueEvent{EventID: eventlog.NewEventID(), PlayerID: playerID, Action: eventlog.PlayerLeft, At: time.Now()}
}

func TestFoldJoinAppendsFIFO(t *testing.T) {
	s := NewState()
	base := time.Now()
	Fold(s, joinEvent("alice", base))
	Fold(s, joinEvent("bob", base.Add(time.Second)))

	if len(s.Waiting) != 2 {
		t.Fatalf("len(Waiting) = %d, want 2", len(s.Waiting))
	}
	if s.Waiting[0].PlayerID != "alice" || s.Waiting[1].PlayerID != "bob" {
		t.Fatalf("FIFO order wrong: %+v", s.Waiting)
	}
	if s.TotalJoined != 2 {
		t.Fatalf("TotalJoined = %d, want 2", s.TotalJoined)
	}
}

func TestFoldDuplicateJoinIgnored(t *testing.T) {
	s := NewState()
	Fold(s, joinEvent("alice", time.Now()))
	Fold(s, joinEvent("alice", time.Now()))

	if len(s.Waiting) != 1 {
		t.Fatalf("len(Waiting) = %d, want 1 (duplicate join must be ignored)", len(s.Waiting))
	}
	if s.TotalJoined != 1 {
		t.Fatalf("TotalJoined = %d, want 1", s.TotalJoined)
	}
}

func TestFoldLeaveRemovesFromWaiting(t *testing.T) {
	s := NewState()
	Fold(s, joinEvent("alice", time.Now()))
	Fold(s, joinEvent("bob", time.Now()))
	Fold(s, leaveEvent("alice"))

	if s.isWaiting("alice") {
		t.Fatal("alice still waiting after PLAYER_LEFT")
	}
	if !s.isWaiting("bob") {
		t.Fatal("bob should still be waiting")
	}
}

func TestFoldLeaveClearsMatched(t *testing.T) {
	s := NewState()
	Fold(s, joinEvent("alice", time.Now()))
	s.Matched["alice"] = struct{}{}
	Fold(s, leaveEvent("alice"))

	if s.isMatched("alice") {
		t.Fatal("alice still marked matched after compensating PLAYER_LEFT")
	}
}

func TestReadyPairRequiresTwoUnmatched(t *testing.T) {
	s := NewState()
	if _, _, ok := s.ReadyPair(); ok {
		t.Fatal("ReadyPair should be false on empty state")
	}
	Fold(s, joinEvent("alice", time.Now()))
	if _, _, ok := s.ReadyPair(); ok {
		t.Fatal("ReadyPair should be false with only one waiting player")
	}
	Fold(s, joinEvent("bob", time.Now()))
	a, b, ok := s.ReadyPair()
	if !ok || a != "alice" || b != "bob" {
		t.Fatalf("ReadyPair = %q, %q, %v, want alice, bob, true", a, b, ok)
	}
}

func TestReadyPairSkipsAlreadyMatched(t *testing.T) {
	s := NewState()
	Fold(s, joinEvent("alice", time.Now()))
	Fold(s, joinEvent("bob", time.Now()))
	Fold(s, joinEvent("carol", time.Now()))
	s.Matched["alice"] = struct{}{}

	a, b, ok := s.ReadyPair()
	if !ok || a != "bob" || b != "carol" {
		t.Fatalf("ReadyPair = %q, %q, %v, want bob, carol, true", a, b, ok)
	}
}

func TestThreeSimultaneousJoinsYieldOnePairOneWaiting(t *testing.T) {
	s := NewState()
	base := time.Now()
	Fold(s, joinEvent("alice", base))
	Fold(s, joinEvent("bob", base))
	Fold(s, joinEvent("carol", base))

	a, b, ok := s.ReadyPair()
	if !ok {
		t.Fatal("expected a ready pair among three simultaneous joiners")
	}
	s.Matched[a] = struct{}{}
	s.Matched[b] = struct{}{}

	if _, _, ok := s.ReadyPair(); ok {
		t.Fatal("only one pair should be ready, leaving exactly one player waiting")
	}
	oldest, ok := s.OldestUnmatched()
	if !ok {
		t.Fatal("expected one unmatched player remaining")
	}
	if oldest == a || oldest == b {
		t.Fatalf("OldestUnmatched returned an already-matched player: %s", oldest)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewState()
	Fold(s, joinEvent("alice", time.Now()))
	s.Matched["bob"] = struct{}{}

	cp := s.Clone()
	cp.Waiting[0].PlayerID = "mutated"
	delete(cp.Matched, "bob")

	if s.Waiting[0].PlayerID != "alice" {
		t.Fatal("mutating clone's Waiting affected original")
	}
	if !s.isMatched("bob") {
		t.Fatal("mutating clone's Matched affected original")
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	events := []eventlog.QueueEvent{
		joinEvent("alice", time.Now()),
		joinEvent("bob", time.Now()),
		joinEvent("carol", time.Now()),
		leaveEvent("carol"),
		joinEvent("dave", time.Now()),
	}

	replay := func() *State {
		s := NewState()
		for _, ev := range events {
			Fold(s, ev)
		}
		return s
	}

	s1, s2 := replay(), replay()
	if len(s1.Waiting) != len(s2.Waiting) || s1.TotalJoined != s2.TotalJoined {
		t.Fatalf("replay not deterministic: %+v vs %+v", s1, s2)
	}
	for i := range s1.Waiting {
		if s1.Waiting[i].PlayerID != s2.Waiting[i].PlayerID {
			t.Fatalf("replay order diverged at index %d", i)
		}
	}
}
