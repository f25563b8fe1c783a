// Package session implements the Session Store: the in-memory authoritative
// record of every live GameSession, keyed by gameId, with per-game exclusive
// mutation and TTL-based eviction.
package session

import (
	"log/slog"
	"sync"
	"time"

	"gomoku-match-core/gameerrors"
)

const (
	BoardSize  = 15
	WinLength  = 5
	TotalCells = BoardSize * BoardSize
)

type GameType string

const (
	HumanVsHuman GameType = "HUMAN_VS_HUMAN"
	HumanVsAI    GameType = "HUMAN_VS_AI"
)

type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusAbandoned  Status = "ABANDONED"
)

type WinnerType string

const (
	WinnerNone    WinnerType = "NONE"
	WinnerPlayer1 WinnerType = "PLAYER1"
	WinnerPlayer2 WinnerType = "PLAYER2"
	WinnerAI      WinnerType = "AI"
	WinnerDraw    WinnerType = "DRAW"
)

type AIDifficulty string

const (
	AIEasy   AIDifficulty = "EASY"
	AIMedium AIDifficulty = "MEDIUM"
	AIHard   AIDifficulty = "HARD"
	AIExpert AIDifficulty = "EXPERT"
)

// ActorType distinguishes a human player's move from an AI-generated one.
type ActorType string

const (
	ActorHuman ActorType = "HUMAN"
	ActorAI    ActorType = "AI"
)

// Move is one entry in a GameSession's moveHistory.
type Move struct {
	MoveNumber int       `json:"moveNumber"`
	ActorType  ActorType `json:"actorType"`
	PlayerID   string    `json:"playerId,omitempty"`
	Row        int       `json:"row"`
	Col        int       `json:"col"`
	StoneColor string    `json:"stoneColor"`
	TookMs     int64     `json:"tookMs"`
	At         time.Time `json:"at"`
}

// GameSession is the live authoritative state of one game. Zero value is not
// meaningful; always construct through New.
type GameSession struct {
	GameID       string
	GameType     GameType
	Status       Status
	Player1ID    string
	Player2ID    string
	AIDifficulty AIDifficulty

	Board         [BoardSize][BoardSize]int
	CurrentPlayer int
	MoveCount     int
	MoveHistory   []Move

	WinnerType WinnerType
	WinnerID   string

	StartedAt      time.Time
	LastActivityAt time.Time
	EndedAt        time.Time

	// turnStartedAt is set when the session is created. The tookMs field of a
	// move record is computed from LastActivityAt, not from this field.
	turnStartedAt time.Time

	// DisconnectedPlayer is 0 (none), 1 or 2.
	DisconnectedPlayer int
	ReconnectDeadline  time.Time
}

// New constructs a fresh GameSession obeying invariants I2/I5/I6.
func New(gameID, player1ID, player2ID string, aiDifficulty AIDifficulty, now time.Time) *GameSession {
	gt := HumanVsHuman
	if player2ID == "" {
		gt = HumanVsAI
	}
	return &GameSession{
		GameID:             gameID,
		GameType:           gt,
		Status:             StatusInProgress,
		Player1ID:          player1ID,
		Player2ID:          player2ID,
		AIDifficulty:       aiDifficulty,
		CurrentPlayer:      1,
		WinnerType:         WinnerNone,
		StartedAt:          now,
		LastActivityAt:     now,
		turnStartedAt:      now,
		DisconnectedPlayer: 0,
	}
}

// clone returns a deep copy so callers never observe or mutate store-internal
// state outside of updateWith.
func (s *GameSession) clone() *GameSession {
	cp := *s
	cp.MoveHistory = append([]Move(nil), s.MoveHistory...)
	return &cp
}

// PlayerNumber returns 1, 2 or 0 (not a participant) for actorID.
func (s *GameSession) PlayerNumber(actorID string) int {
	switch actorID {
	case s.Player1ID:
		return 1
	case s.Player2ID:
		if actorID != "" {
			return 2
		}
	}
	return 0
}

// entry wraps a session with its own lock so two updateWith calls on
// different gameIds never contend with each other.
type entry struct {
	mu               sync.Mutex
	session          *GameSession
	reconnectCancel  chan struct{}
}

// Store holds all live sessions, keyed by gameId.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	ttl      time.Duration
	log      *slog.Logger
	stopCh   chan struct{}
}

// NewStore creates an empty Session Store with the given idle TTL.
func NewStore(ttl time.Duration, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		log:     log,
		stopCh:  make(chan struct{}),
	}
}

// Create inserts a new session. Fails with gameerrors.ErrGameExists if gameId
// is already present.
func (st *Store) Create(s *GameSession) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.entries[s.GameID]; exists {
		return gameerrors.ErrGameExists
	}
	st.entries[s.GameID] = &entry{session: s}
	st.log.Info("session created", "tag", "session", "gameId", s.GameID, "gameType", s.GameType)
	return nil
}

// Get returns a defensive copy of the session, or gameerrors.ErrGameNotFound.
func (st *Store) Get(gameID string) (*GameSession, error) {
	e := st.lookup(gameID)
	if e == nil {
		return nil, gameerrors.ErrGameNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone(), nil
}

func (st *Store) lookup(gameID string) *entry {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.entries[gameID]
}

// UpdateWith acquires the per-game exclusive lock, applies fn to a working
// copy of the session, and commits it only if fn succeeds. fn returning an
// error leaves the stored session untouched; the error is returned verbatim
// to the caller. On success, LastActivityAt is refreshed (resetting the TTL)
// and the committed copy is returned.
func (st *Store) UpdateWith(gameID string, fn func(*GameSession) error) (*GameSession, error) {
	e := st.lookup(gameID)
	if e == nil {
		return nil, gameerrors.ErrGameNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	working := e.session.clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.LastActivityAt = time.Now()
	e.session = working
	return working.clone(), nil
}

// Delete removes a session unconditionally.
func (st *Store) Delete(gameID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.entries, gameID)
}

// HandleDisconnect starts (or is a no-op if one is already running) a
// disconnect grace window for playerNum in gameID. If the window elapses
// without a matching HandleReconnect, onTimeout is invoked with the
// (forfeited) terminal session.
func (st *Store) HandleDisconnect(gameID string, playerNum int, grace time.Duration, onOpponentNotified func(*GameSession, int), onTimeout func(*GameSession)) error {
	e := st.lookup(gameID)
	if e == nil {
		return gameerrors.ErrGameNotFound
	}
	e.mu.Lock()
	if e.session.Status != StatusInProgress || e.session.DisconnectedPlayer != 0 {
		e.mu.Unlock()
		return nil
	}
	deadline := time.Now().Add(grace)
	working := e.session.clone()
	working.DisconnectedPlayer = playerNum
	working.ReconnectDeadline = deadline
	working.LastActivityAt = time.Now()
	e.session = working
	cancel := make(chan struct{})
	e.reconnectCancel = cancel
	notified := working.clone()
	e.mu.Unlock()

	if onOpponentNotified != nil {
		onOpponentNotified(notified, playerNum)
	}

	go func() {
		select {
		case <-time.After(grace):
			st.expireDisconnect(gameID, playerNum, cancel, onTimeout)
		case <-cancel:
		case <-st.stopCh:
		}
	}()
	return nil
}

func (st *Store) expireDisconnect(gameID string, playerNum int, cancel chan struct{}, onTimeout func(*GameSession)) {
	e := st.lookup(gameID)
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.reconnectCancel != cancel || e.session.DisconnectedPlayer != playerNum {
		e.mu.Unlock()
		return
	}
	e.reconnectCancel = nil
	working := e.session.clone()
	forfeitByPlayerNum(working, playerNum, time.Now())
	e.session = working
	result := working.clone()
	e.mu.Unlock()

	st.log.Info("session forfeited on disconnect timeout", "tag", "session", "gameId", gameID, "player", playerNum)
	if onTimeout != nil {
		onTimeout(result)
	}
}

// HandleReconnect cancels a pending disconnect grace window for gameID and
// clears the disconnected marker, if one is active for playerNum.
func (st *Store) HandleReconnect(gameID string, playerNum int) (*GameSession, error) {
	e := st.lookup(gameID)
	if e == nil {
		return nil, gameerrors.ErrGameNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.DisconnectedPlayer == playerNum && e.reconnectCancel != nil {
		close(e.reconnectCancel)
		e.reconnectCancel = nil
		working := e.session.clone()
		working.DisconnectedPlayer = 0
		working.ReconnectDeadline = time.Time{}
		e.session = working
	}
	return e.session.clone(), nil
}

// StartJanitor runs an idle-eviction sweep every interval until stopped via
// Stop. Terminal sessions idle past the TTL are deleted outright; live
// sessions idle past the TTL are forfeited to ABANDONED and onAbandon is
// invoked with the terminal snapshot before eviction.
func (st *Store) StartJanitor(interval time.Duration, onAbandon func(*GameSession)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				st.sweep(onAbandon)
			case <-st.stopCh:
				return
			}
		}
	}()
}

func (st *Store) sweep(onAbandon func(*GameSession)) {
	now := time.Now()
	st.mu.RLock()
	ids := make([]string, 0, len(st.entries))
	for id := range st.entries {
		ids = append(ids, id)
	}
	st.mu.RUnlock()

	for _, id := range ids {
		e := st.lookup(id)
		if e == nil {
			continue
		}
		e.mu.Lock()
		idleFor := now.Sub(e.session.LastActivityAt)
		if idleFor < st.ttl {
			e.mu.Unlock()
			continue
		}
		if e.session.Status != StatusInProgress {
			e.mu.Unlock()
			st.Delete(id)
			continue
		}
		working := e.session.clone()
		forfeitByPlayerNum(working, 0, now) // 0: abandon both sides, no winner (WinnerNone)
		e.session = working
		snapshot := working.clone()
		e.mu.Unlock()

		st.log.Info("session evicted: idle TTL exceeded", "tag", "session", "gameId", id)
		if onAbandon != nil {
			onAbandon(snapshot)
		}
		st.Delete(id)
	}
}

// Stop halts the janitor and any pending disconnect timers.
func (st *Store) Stop() {
	close(st.stopCh)
}

// forfeitByPlayerNum marks the session ABANDONED. playerNum 1 or 2 names the
// side that forfeits (the other side, or AI, wins); playerNum 0 is used by
// the TTL janitor for an idle session with neither side forfeiting to a
// winner.
func forfeitByPlayerNum(s *GameSession, playerNum int, now time.Time) {
	s.Status = StatusAbandoned
	s.EndedAt = now
	switch playerNum {
	case 1:
		if s.GameType == HumanVsAI {
			s.WinnerType = WinnerAI
			s.WinnerID = ""
		} else {
			s.WinnerType = WinnerPlayer2
			s.WinnerID = s.Player2ID
		}
	case 2:
		s.WinnerType = WinnerPlayer1
		s.WinnerID = s.Player1ID
	default:
		s.WinnerType = WinnerNone
		s.WinnerID = ""
	}
}
