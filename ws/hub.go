package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gomoku-match-core/aibridge"
	"gomoku-match-core/config"
	"gomoku-match-core/eventlog"
	"gomoku-match-core/matchmaking"
	"gomoku-match-core/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub is the Delivery Layer (§4.5): it tracks live connections, their topic
// subscriptions, and routes ingress SEND frames into the Session Store and
// Move Engine, broadcasting the result and mirroring it to the event log.
type Hub struct {
	Config     *config.Config
	Sessions   *session.Store
	Aggregator *matchmaking.Aggregator
	Producer   *eventlog.Producer
	AI         *aibridge.Client
	log        *slog.Logger

	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[*Client]bool
	byUser  map[string]map[*Client]bool
	topics  map[string]map[*Client]bool
}

// NewHub constructs a Hub. aggregator and ai may be nil (queue/PvAI features
// degrade gracefully).
func NewHub(cfg *config.Config, sessions *session.Store, aggregator *matchmaking.Aggregator, producer *eventlog.Producer, ai *aibridge.Client, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		Config:     cfg,
		Sessions:   sessions,
		Aggregator: aggregator,
		Producer:   producer,
		AI:         ai,
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		topics:     make(map[string]map[*Client]bool),
	}
}

// Run is the Hub's connection-lifecycle loop. Run as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.log.Info("hub: shutdown signal received", "tag", "ws")
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.log.Info("client connected", "tag", "ws", "total", len(h.clients))
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

// ServeWS upgrades an HTTP request to a websocket and spins up the
// connection's read/write pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "tag", "ws", "err", err)
		return
	}
	c := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]struct{}),
		games:         make(map[string]struct{}),
	}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	if c.userID != "" {
		if set, ok := h.byUser[c.userID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.byUser, c.userID)
			}
		}
	}
	for dest := range c.subscriptions {
		if set, ok := h.topics[dest]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.topics, dest)
			}
		}
	}
	close(c.send)
	h.mu.Unlock()
	h.log.Info("client disconnected", "tag", "ws", "total", len(h.clients))

	h.startDisconnectGrace(c)
}

// startDisconnectGrace begins the disconnect grace window for every live
// game the closed connection was a participant of. HandleDisconnect itself
// is a no-op if a grace window for that player is already running, so a
// second tab closing on the same game costs nothing extra.
func (h *Hub) startDisconnectGrace(c *Client) {
	if c.userID == "" {
		return
	}
	for gameID := range c.games {
		sess, err := h.Sessions.Get(gameID)
		if err != nil {
			continue
		}
		playerNum := sess.PlayerNumber(c.userID)
		if playerNum == 0 {
			continue
		}
		h.Sessions.HandleDisconnect(gameID, playerNum, h.Config.ReconnectGrace(),
			func(s *session.GameSession, pn int) {
				h.Broadcast("/topic/game/"+gameID, disconnectPayload(s, pn))
			},
			func(s *session.GameSession) {
				h.broadcastAndEmit(s)
			},
		)
	}
}

func (h *Hub) subscribe(c *Client, destination string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.subscriptions[destination] = struct{}{}
	set, ok := h.topics[destination]
	if !ok {
		set = make(map[*Client]bool)
		h.topics[destination] = set
	}
	set[c] = true
}

func (h *Hub) bindUser(c *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.userID = userID
	set, ok := h.byUser[userID]
	if !ok {
		set = make(map[*Client]bool)
		h.byUser[userID] = set
	}
	set[c] = true
}

// Broadcast pushes a MESSAGE frame to every connection subscribed to
// destination (e.g. /topic/game/{gameId}).
func (h *Hub) Broadcast(destination string, payload interface{}) {
	frame, err := newMessageFrame(destination, payload)
	if err != nil {
		h.log.Error("marshal broadcast frame failed", "tag", "ws", "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.topics[destination] {
		c.trySend(frame)
	}
}

// SendToUser delivers a MESSAGE frame only to connections whose principal is
// userID and which are subscribed to destination (e.g. /user/queue/match-found).
func (h *Hub) SendToUser(userID, destination string, payload interface{}) {
	frame, err := newMessageFrame(destination, payload)
	if err != nil {
		h.log.Error("marshal user message frame failed", "tag", "ws", "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byUser[userID] {
		if _, ok := c.subscriptions[destination]; ok {
			c.trySend(frame)
		}
	}
}

// broadcastAndEmit pushes the post-move game state to /topic/game/{gameId}
// and mirrors the move into the event log (§4.5 dual-path emission).
func (h *Hub) broadcastAndEmit(s *session.GameSession) {
	h.Broadcast("/topic/game/"+s.GameID, ToGameStateView(s))

	if len(s.MoveHistory) == 0 {
		return
	}
	last := s.MoveHistory[len(s.MoveHistory)-1]
	ev := eventlog.GameMoveEvent{
		EventID:      eventlog.NewEventID(),
		GameID:       s.GameID,
		MoveNumber:   last.MoveNumber,
		ActorType:    string(last.ActorType),
		PlayerID:     last.PlayerID,
		AIDifficulty: string(s.AIDifficulty),
		Row:          last.Row,
		Col:          last.Col,
		StoneColor:   last.StoneColor,
		TookMs:       last.TookMs,
		BoardAfter:   toBoardSlice(s.Board),
		At:           last.At,
	}
	if s.Status != session.StatusInProgress {
		ev.Terminal = true
		ev.Status = string(s.Status)
		ev.WinnerType = string(s.WinnerType)
		ev.WinnerID = s.WinnerID
	}
	if h.Producer != nil {
		h.Producer.PublishGameMove(context.Background(), ev)
	}
}

// OnMatchCreated is wired as the Matchmaking Aggregator's onMatchCreated
// hook: it materializes the GameSession and notifies both players.
func (h *Hub) OnMatchCreated(ev eventlog.MatchCreatedEvent) {
	s := session.New(ev.GameID, ev.Player1ID, ev.Player2ID, session.AIDifficulty(ev.AIDifficulty), time.Now())
	if err := h.Sessions.Create(s); err != nil {
		h.log.Error("failed to materialize matched session", "tag", "ws", "gameId", ev.GameID, "err", err)
		return
	}
	h.notifyMatchFound(ev.Player1ID, ev, 1)
	if ev.Player2ID != "" {
		h.notifyMatchFound(ev.Player2ID, ev, 2)
	}
}

func (h *Hub) notifyMatchFound(userID string, ev eventlog.MatchCreatedEvent, playerNumber int) {
	h.SendToUser(userID, "/user/queue/match-found", MatchFoundPayload{
		GameID:           ev.GameID,
		GameType:         ev.GameType,
		AIDifficulty:     ev.AIDifficulty,
		YourPlayerNumber: playerNumber,
		YourColor:        colorForPlayer(playerNumber),
	})
}
