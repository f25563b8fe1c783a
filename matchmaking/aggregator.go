package matchmaking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"gomoku-match-core/eventlog"
	"gomoku-match-core/session"
)

var aiDifficulties = []session.AIDifficulty{session.AIEasy, session.AIMedium, session.AIHard, session.AIExpert}

// Aggregator is the single-threaded fold loop described in §4.3/§5: it owns
// MatchmakingState exclusively and is the only goroutine that mutates it.
// Join/leave requests reach it indirectly, by publishing QueueEvents that
// its own consumption loop later folds — the same indirection the spec
// requires for match-cleanup events.
type Aggregator struct {
	producer      *eventlog.Producer
	consumer      *eventlog.Consumer
	store         *StateStore
	aiPairTimeout time.Duration
	log           *slog.Logger

	// onMatchCreated is invoked synchronously from the fold loop so the
	// caller (server wiring) can create the GameSession and push
	// /user/queue/match-found notifications before the next event folds.
	onMatchCreated func(ev eventlog.MatchCreatedEvent)

	mu      sync.Mutex
	pending map[string]chan eventlog.MatchCreatedEvent
}

// NewAggregator constructs an Aggregator. onMatchCreated may be nil.
func NewAggregator(producer *eventlog.Producer, consumer *eventlog.Consumer, store *StateStore, aiPairTimeout time.Duration, onMatchCreated func(eventlog.MatchCreatedEvent), log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		producer:       producer,
		consumer:       consumer,
		store:          store,
		aiPairTimeout:  aiPairTimeout,
		onMatchCreated: onMatchCreated,
		log:            log,
		pending:        make(map[string]chan eventlog.MatchCreatedEvent),
	}
}

// Enqueue publishes a PLAYER_JOINED event and returns a channel that
// receives the MatchCreatedEvent once the fold loop pairs this player
// (human partner or AI fallback). The channel is buffered(1) and
// unregistered once delivered or on LeaveQueue.
func (a *Aggregator) Enqueue(ctx context.Context, playerID string) (<-chan eventlog.MatchCreatedEvent, error) {
	ch := make(chan eventlog.MatchCreatedEvent, 1)
	a.mu.Lock()
	a.pending[playerID] = ch
	a.mu.Unlock()

	ev := eventlog.QueueEvent{EventID: eventlog.NewEventID(), PlayerID: playerID, Action: eventlog.PlayerJoined, At: time.Now()}
	if err := a.producer.PublishQueueEvent(ctx, ev); err != nil {
		a.mu.Lock()
		delete(a.pending, playerID)
		a.mu.Unlock()
		return nil, fmt.Errorf("publish PLAYER_JOINED: %w", err)
	}
	return ch, nil
}

// LeaveQueue publishes a PLAYER_LEFT event for playerID.
func (a *Aggregator) LeaveQueue(ctx context.Context, playerID string) error {
	a.mu.Lock()
	delete(a.pending, playerID)
	a.mu.Unlock()

	ev := eventlog.QueueEvent{EventID: eventlog.NewEventID(), PlayerID: playerID, Action: eventlog.PlayerLeft, At: time.Now()}
	return a.producer.PublishQueueEvent(ctx, ev)
}

// Run is the aggregator's single-threaded loop: it recovers state from the
// StateStore, consumes queue-events from the recovered offset, folds each
// event, pairs ready players, and commits (state, offset) atomically after
// every fold. It also owns the AI-pairing fallback timers. Run blocks until
// ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	state, lastOffset, err := a.store.Load()
	if err != nil {
		a.log.Error("failed to recover matchmaking state, starting empty", "tag", "matchmaking", "err", err)
		state, lastOffset = NewState(), -1
	}
	a.log.Info("matchmaking aggregator recovered", "tag", "matchmaking", "waiting", len(state.Waiting), "totalJoined", state.TotalJoined)

	msgCh := make(chan kafka.Message)
	fetchErrCh := make(chan struct{})
	go func() {
		for {
			msg, err := a.consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case fetchErrCh <- struct{}{}:
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	aiTimeoutCh := make(chan string)
	aiTimers := make(map[string]*time.Timer)
	stopAITimer := func(playerID string) {
		if t, ok := aiTimers[playerID]; ok {
			t.Stop()
			delete(aiTimers, playerID)
		}
	}
	defer func() {
		for _, t := range aiTimers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fetchErrCh:
			continue
		case playerID := <-aiTimeoutCh:
			delete(aiTimers, playerID)
			a.handleAITimeout(ctx, state, playerID)
			if err := a.store.Commit(state, lastOffset); err != nil {
				a.log.Error("state commit failed after AI pairing", "tag", "matchmaking", "err", err)
			}
		case msg := <-msgCh:
			ev, err := decodeQueueEvent(msg)
			if err != nil {
				a.log.Error("dropping undecodable queue event", "tag", "matchmaking", "err", err)
				_ = a.consumer.Commit(ctx, msg)
				continue
			}

			Fold(state, ev)

			switch ev.Action {
			case eventlog.PlayerJoined:
				if state.isWaiting(ev.PlayerID) && !state.isMatched(ev.PlayerID) {
					pid := ev.PlayerID
					timer := time.AfterFunc(a.aiPairTimeout, func() {
						select {
						case aiTimeoutCh <- pid:
						case <-ctx.Done():
						}
					})
					stopAITimer(pid)
					aiTimers[pid] = timer
				}
			case eventlog.PlayerLeft, eventlog.PlayerTimeout:
				stopAITimer(ev.PlayerID)
			}

			for {
				pA, pB, ok := state.ReadyPair()
				if !ok {
					break
				}
				stopAITimer(pA)
				stopAITimer(pB)
				a.createMatch(ctx, state, pA, pB)
			}

			lastOffset = msg.Offset
			if err := a.store.Commit(state, lastOffset); err != nil {
				a.log.Error("state commit failed", "tag", "matchmaking", "err", err)
			}
			if err := a.consumer.Commit(ctx, msg); err != nil {
				a.log.Error("offset commit failed", "tag", "matchmaking", "err", err)
			}
		}
	}
}

func decodeQueueEvent(msg kafka.Message) (eventlog.QueueEvent, error) {
	var ev eventlog.QueueEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// createMatch mints a gameId for (playerA, playerB), marks both matched,
// emits MatchCreatedEvent, notifies waiters, and emits the two compensating
// PLAYER_LEFT events the spec requires (§4.3).
func (a *Aggregator) createMatch(ctx context.Context, state *State, playerA, playerB string) {
	gameID := uuid.NewString()
	ev := eventlog.MatchCreatedEvent{
		EventID:   eventlog.NewEventID(),
		GameID:    gameID,
		GameType:  string(session.HumanVsHuman),
		Player1ID: playerA,
		Player2ID: playerB,
		Source:    eventlog.SourceMatchmaking,
		At:        time.Now(),
	}
	state.Matched[playerA] = struct{}{}
	state.Matched[playerB] = struct{}{}
	state.TotalMatchesCreated++

	a.log.Info("match created", "tag", "matchmaking", "gameId", gameID, "player1", playerA, "player2", playerB)
	a.producer.PublishMatchCreated(ctx, ev)
	if a.onMatchCreated != nil {
		a.onMatchCreated(ev)
	}
	a.deliver(playerA, ev)
	a.deliver(playerB, ev)

	for _, p := range [2]string{playerA, playerB} {
		leaveEv := eventlog.QueueEvent{EventID: eventlog.NewEventID(), PlayerID: p, Action: eventlog.PlayerLeft, At: time.Now()}
		if err := a.producer.PublishQueueEvent(ctx, leaveEv); err != nil {
			a.log.Error("compensating PLAYER_LEFT publish failed", "tag", "matchmaking", "player", p, "err", err)
		}
	}
}

func (a *Aggregator) handleAITimeout(ctx context.Context, state *State, playerID string) {
	if !state.isWaiting(playerID) || state.isMatched(playerID) {
		return
	}
	gameID := uuid.NewString()
	difficulty := aiDifficulties[rand.Intn(len(aiDifficulties))]
	ev := eventlog.MatchCreatedEvent{
		EventID:      eventlog.NewEventID(),
		GameID:       gameID,
		GameType:     string(session.HumanVsAI),
		Player1ID:    playerID,
		AIDifficulty: string(difficulty),
		Source:       eventlog.SourceAIGame,
		At:           time.Now(),
	}
	state.Matched[playerID] = struct{}{}
	state.TotalMatchesCreated++

	a.log.Info("AI pairing fallback", "tag", "matchmaking", "gameId", gameID, "player", playerID, "difficulty", difficulty)
	a.producer.PublishMatchCreated(ctx, ev)
	if a.onMatchCreated != nil {
		a.onMatchCreated(ev)
	}
	a.deliver(playerID, ev)

	leaveEv := eventlog.QueueEvent{EventID: eventlog.NewEventID(), PlayerID: playerID, Action: eventlog.PlayerLeft, At: time.Now()}
	if err := a.producer.PublishQueueEvent(ctx, leaveEv); err != nil {
		a.log.Error("compensating PLAYER_LEFT publish failed", "tag", "matchmaking", "player", playerID, "err", err)
	}
}

func (a *Aggregator) deliver(playerID string, ev eventlog.MatchCreatedEvent) {
	a.mu.Lock()
	ch, ok := a.pending[playerID]
	if ok {
		delete(a.pending, playerID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}
