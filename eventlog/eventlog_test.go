package eventlog

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEventIDUnique(t *testing.T) {
	a := NewEventID()
	b := NewEventID()
	if a == "" || b == "" {
		t.Fatal("NewEventID returned empty string")
	}
	if a == b {
		t.Fatal("NewEventID returned duplicate ids")
	}
}

func TestQueueEventRoundTrip(t *testing.T) {
	ev := QueueEvent{
		EventID:  NewEventID(),
		PlayerID: "alice",
		Action:   PlayerJoined,
		At:       time.Now().UTC().Truncate(time.Second),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got QueueEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != ev {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, ev)
	}
}

func TestGameMoveEventBoardRoundTrip(t *testing.T) {
	board := make([][]int, 15)
	for i := range board {
		board[i] = make([]int, 15)
	}
	board[7][7] = 1
	ev := GameMoveEvent{
		EventID:    NewEventID(),
		GameID:     "g1",
		MoveNumber: 1,
		ActorType:  "HUMAN",
		PlayerID:   "alice",
		Row:        7,
		Col:        7,
		StoneColor: "BLACK",
		BoardAfter: board,
		At:         time.Now().UTC().Truncate(time.Second),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got GameMoveEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.BoardAfter[7][7] != 1 {
		t.Fatalf("BoardAfter[7][7] = %d, want 1", got.BoardAfter[7][7])
	}
}
