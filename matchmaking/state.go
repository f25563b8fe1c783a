// Package matchmaking implements the Matchmaking Aggregator: a materialized
// FIFO queue over queue-events with a deduplication guard and a durable
// state store for crash recovery.
package matchmaking

import (
	"time"

	"gomoku-match-core/eventlog"
)

// WaitingEntry is one FIFO-ordered waiting player.
type WaitingEntry struct {
	PlayerID string    `json:"playerId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// State is the materialized aggregation over queue-events (§3 MatchmakingState).
type State struct {
	// Waiting preserves insertion order; FIFO position is index order.
	Waiting []WaitingEntry `json:"waiting"`
	// Matched is the dedup guard (§4.3 M1/M3).
	Matched map[string]struct{} `json:"matched"`

	TotalJoined         uint64 `json:"totalJoined"`
	TotalMatchesCreated uint64 `json:"totalMatchesCreated"`
}

// NewState returns an empty MatchmakingState.
func NewState() *State {
	return &State{Matched: make(map[string]struct{})}
}

func (s *State) waitingIndex(playerID string) int {
	for i, e := range s.Waiting {
		if e.PlayerID == playerID {
			return i
		}
	}
	return -1
}

func (s *State) isWaiting(playerID string) bool {
	return s.waitingIndex(playerID) >= 0
}

func (s *State) isMatched(playerID string) bool {
	_, ok := s.Matched[playerID]
	return ok
}

// Fold applies one QueueEvent to state, per §4.3's event-handling rules. It
// is a pure function: same (state, event) always yields the same resulting
// state, which is what makes replaying the event stream from the beginning
// reconstruct identical state (M4).
func Fold(s *State, ev eventlog.QueueEvent) {
	switch ev.Action {
	case eventlog.PlayerJoined:
		if !s.isWaiting(ev.PlayerID) && !s.isMatched(ev.PlayerID) {
			s.Waiting = append(s.Waiting, WaitingEntry{PlayerID: ev.PlayerID, JoinedAt: ev.At})
			s.TotalJoined++
		}
	case eventlog.PlayerLeft, eventlog.PlayerTimeout:
		if idx := s.waitingIndex(ev.PlayerID); idx >= 0 {
			s.Waiting = append(s.Waiting[:idx], s.Waiting[idx+1:]...)
		}
		delete(s.Matched, ev.PlayerID)
	}
}

// Clone returns a deep copy that shares no slice or map with s, so mutating
// the copy never affects the original.
func (s *State) Clone() *State {
	cp := &State{
		Waiting:             append([]WaitingEntry(nil), s.Waiting...),
		Matched:             make(map[string]struct{}, len(s.Matched)),
		TotalJoined:         s.TotalJoined,
		TotalMatchesCreated: s.TotalMatchesCreated,
	}
	for k := range s.Matched {
		cp.Matched[k] = struct{}{}
	}
	return cp
}

// ReadyPair returns the two FIFO-oldest non-matched waiting players, and
// true if M2 holds (at least two such players exist).
func (s *State) ReadyPair() (a, b string, ok bool) {
	found := make([]string, 0, 2)
	for _, e := range s.Waiting {
		if s.isMatched(e.PlayerID) {
			continue
		}
		found = append(found, e.PlayerID)
		if len(found) == 2 {
			return found[0], found[1], true
		}
	}
	return "", "", false
}

// OldestUnmatched returns the FIFO-oldest waiting player not already
// matched, and false if there is none.
func (s *State) OldestUnmatched() (string, bool) {
	for _, e := range s.Waiting {
		if !s.isMatched(e.PlayerID) {
			return e.PlayerID, true
		}
	}
	return "", false
}
