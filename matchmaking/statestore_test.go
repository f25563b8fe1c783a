package matchmaking

import (
	"path/filepath"
	"testing"
	"time"

	"gomoku-match-core/eventlog"
)

func TestStateStoreFreshLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ss, err := OpenStateStore(path)
	if err != nil {
		t.Fatalf("OpenStateStore: %v", err)
	}
	defer ss.Close()

	state, offset, err := ss.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if offset != -1 {
		t.Fatalf("offset = %d, want -1 for a fresh store", offset)
	}
	if len(state.Waiting) != 0 {
		t.Fatalf("expected empty state, got %+v", state)
	}
}

func TestStateStoreCommitAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ss, err := OpenStateStore(path)
	if err != nil {
		t.Fatalf("OpenStateStore: %v", err)
	}

	state := NewState()
	Fold(state, joinEvent("alice", time.Now()))
	Fold(state, joinEvent("bob", time.Now()))
	if err := ss.Commit(state, 42); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := ss.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ss2, err := OpenStateStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ss2.Close()

	got, offset, err := ss2.Load()
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if offset != 42 {
		t.Fatalf("offset = %d, want 42", offset)
	}
	if len(got.Waiting) != 2 || got.Waiting[0].PlayerID != "alice" || got.Waiting[1].PlayerID != "bob" {
		t.Fatalf("reloaded state mismatch: %+v", got)
	}
	if got.TotalJoined != 2 {
		t.Fatalf("TotalJoined = %d, want 2", got.TotalJoined)
	}
}

func TestStateStoreCommitIsAtomicAcrossStateAndOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ss, err := OpenStateStore(path)
	if err != nil {
		t.Fatalf("OpenStateStore: %v", err)
	}
	defer ss.Close()

	state := NewState()
	Fold(state, joinEvent("alice", time.Now()))
	if err := ss.Commit(state, 1); err != nil {
		t.Fatalf("first Commit: %v", err)
	}

	state2 := state.Clone()
	Fold(state2, eventlog.QueueEvent{EventID: "e2", PlayerID: "bob", Action: eventlog.PlayerJoined, At: time.Now()})
	if err := ss.Commit(state2, 2); err != nil {
		t.Fatalf("second Commit: %v", err)
	}

	got, offset, err := ss.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if offset != 2 {
		t.Fatalf("offset = %d, want 2 (state and offset must advance together)", offset)
	}
	if len(got.Waiting) != 2 {
		t.Fatalf("expected both commits reflected, got %+v", got)
	}
}
