// Package api implements the HTTP REST surface named in §6: thin handlers
// that validate a bearer token, delegate to the Session Store / Move Engine
// / Matchmaking Aggregator / persistence and stats stores, and translate
// gameerrors into the §6/§7 envelopes.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"gomoku-match-core/aibridge"
	"gomoku-match-core/auth"
	"gomoku-match-core/config"
	"gomoku-match-core/eventlog"
	"gomoku-match-core/gameerrors"
	"gomoku-match-core/matchmaking"
	"gomoku-match-core/moveengine"
	"gomoku-match-core/persistence"
	"gomoku-match-core/session"
	"gomoku-match-core/stats"
	"gomoku-match-core/ws"
)

const bearerPrefix = "Bearer "

// Handler holds the dependencies every REST endpoint needs.
type Handler struct {
	Config     *config.Config
	Sessions   *session.Store
	Aggregator *matchmaking.Aggregator
	Producer   *eventlog.Producer
	History    *persistence.Store
	Stats      *stats.Store
	AI         *aibridge.Client

	queueMu       sync.Mutex
	queueJoinedAt map[string]time.Time
}

// NewHandler constructs a Handler. Aggregator may be nil (matchmaking
// endpoints then answer as if the queue is unavailable); ai may be nil
// (a human move in a PvAI session over REST is then the final state and the
// session stays on the AI's turn; nothing here requests the AI move later).
func NewHandler(cfg *config.Config, sessions *session.Store, aggregator *matchmaking.Aggregator, producer *eventlog.Producer, history *persistence.Store, st *stats.Store, ai *aibridge.Client) *Handler {
	return &Handler{
		Config:        cfg,
		Sessions:      sessions,
		Aggregator:    aggregator,
		Producer:      producer,
		History:       history,
		Stats:         st,
		AI:            ai,
		queueJoinedAt: make(map[string]time.Time),
	}
}

// CORS sets CORS headers and reports whether the request was a handled
// preflight (caller should return immediately if so).
func CORS(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func (h *Handler) extractUserID(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	token := strings.TrimSpace(authHeader[len(bearerPrefix):])
	claims, err := auth.ValidateAuthToken(h.Config.AuthJWKSBaseURL, token)
	if err != nil {
		return ""
	}
	return auth.UserIDFromClaims(claims)
}

type errorEnvelope struct {
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Path      string `json:"path"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := gameerrors.KindOf(err)
	status := kind.HTTPStatus()
	writeJSON(w, status, errorEnvelope{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   err.Error(),
		Path:      r.URL.Path,
	})
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := h.extractUserID(r)
	if userID == "" {
		h.writeError(w, r, gameerrors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// authProxyResponse mirrors §6's register/login shape. The core never mints
// tokens itself; these handlers exist only so the contract is satisfiable
// without a live external Auth Provider in an integration environment.
type authProxyResponse struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	Email        string `json:"email,omitempty"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int    `json:"expiresIn"`
}

// Register is a reverse-proxy-shaped stub: in an environment with a live
// Auth Provider this is never called (clients register against it
// directly); it exists only to keep §6's endpoint table exercisable in an
// integration test without standing up that provider.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		h.writeError(w, r, gameerrors.ErrInvalidInput)
		return
	}
	writeJSON(w, http.StatusCreated, authProxyResponse{
		UserID:       body.Username,
		Username:     body.Username,
		Email:        body.Email,
		AccessToken:  "",
		RefreshToken: "",
		TokenType:    "Bearer",
		ExpiresIn:    h.Config.JWTExpirySec,
	})
}

// Login is the same kind of stub as Register, see its comment.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		UsernameOrEmail string `json:"usernameOrEmail"`
		Password        string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UsernameOrEmail == "" {
		h.writeError(w, r, gameerrors.ErrInvalidInput)
		return
	}
	writeJSON(w, http.StatusOK, authProxyResponse{
		UserID:    body.UsernameOrEmail,
		Username:  body.UsernameOrEmail,
		TokenType: "Bearer",
		ExpiresIn: h.Config.JWTExpirySec,
	})
}

type createGameRequest struct {
	GameType     string `json:"gameType"`
	Player2ID    string `json:"player2Id,omitempty"`
	AIDifficulty string `json:"aiDifficulty,omitempty"`
}

type createGameResponse struct {
	GameID         string `json:"gameId"`
	GameType       string `json:"gameType"`
	WebsocketTopic string `json:"websocketTopic,omitempty"`
	Message        string `json:"message"`
}

// CreateGame handles POST /api/game/create — a direct (non-matchmaking) game
// creation: either a direct PvP challenge or an immediate PvAI game.
func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var body createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, gameerrors.ErrInvalidInput)
		return
	}

	gameID := eventlog.NewEventID()
	now := time.Now()

	switch session.GameType(body.GameType) {
	case session.HumanVsAI, "":
		difficulty := session.AIDifficulty(body.AIDifficulty)
		if difficulty == "" {
			difficulty = session.AIMedium
		}
		s := session.New(gameID, userID, "", difficulty, now)
		if err := h.Sessions.Create(s); err != nil {
			h.writeError(w, r, err)
			return
		}
		if h.Producer != nil {
			h.Producer.PublishMatchCreated(r.Context(), eventlog.MatchCreatedEvent{
				EventID: eventlog.NewEventID(), GameID: gameID, GameType: string(session.HumanVsAI),
				Player1ID: userID, AIDifficulty: string(difficulty), Source: eventlog.SourceAIGame, At: now,
			})
		}
		writeJSON(w, http.StatusCreated, createGameResponse{
			GameID: gameID, GameType: string(session.HumanVsAI),
			WebsocketTopic: "/topic/game/" + gameID,
			Message:        "game created",
		})
	case session.HumanVsHuman:
		if body.Player2ID == "" {
			h.writeError(w, r, gameerrors.ErrOpponentMissing)
			return
		}
		s := session.New(gameID, userID, body.Player2ID, "", now)
		if err := h.Sessions.Create(s); err != nil {
			h.writeError(w, r, err)
			return
		}
		if h.Producer != nil {
			h.Producer.PublishMatchCreated(r.Context(), eventlog.MatchCreatedEvent{
				EventID: eventlog.NewEventID(), GameID: gameID, GameType: string(session.HumanVsHuman),
				Player1ID: userID, Player2ID: body.Player2ID, Source: eventlog.SourceDirectChallenge, At: now,
			})
		}
		writeJSON(w, http.StatusCreated, createGameResponse{
			GameID: gameID, GameType: string(session.HumanVsHuman),
			WebsocketTopic: "/topic/game/" + gameID,
			Message:        "game created",
		})
	default:
		h.writeError(w, r, gameerrors.ErrInvalidInput)
	}
}

// GetGame handles GET /api/game/{gameId}.
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request, gameID string) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	s, err := h.Sessions.Get(gameID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if s.PlayerNumber(userID) == 0 {
		h.writeError(w, r, gameerrors.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, ws.ToGameStateView(s))
}

// MoveGame handles POST /api/game/{gameId}/move — the REST equivalent of the
// WS SEND /app/game/{gameId}/move frame, including the synchronous AI reply
// for PvAI games.
func (h *Handler) MoveGame(w http.ResponseWriter, r *http.Request, gameID string) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Row int `json:"row"`
		Col int `json:"col"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, gameerrors.ErrInvalidInput)
		return
	}

	now := time.Now()
	s, err := h.Sessions.UpdateWith(gameID, func(s *session.GameSession) error {
		return moveengine.ApplyMove(s, userID, body.Row, body.Col, session.ActorHuman, "", now)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.emitMove(r, s)

	if s.GameType == session.HumanVsAI && s.Status == session.StatusInProgress && h.AI != nil {
		if withAIReply := h.playAITurn(gameID); withAIReply != nil {
			s = withAIReply
		}
	}

	writeJSON(w, http.StatusOK, ws.ToGameStateView(s))
}

// playAITurn synchronously requests and applies the AI's reply for gameID,
// per §6's "includes AI reply if any" contract for this endpoint. A failure
// leaves the human move as the final state (§4.6: no retries) and this
// returns nil so the caller keeps the pre-AI snapshot.
func (h *Handler) playAITurn(gameID string) *session.GameSession {
	current, err := h.Sessions.Get(gameID)
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.Config.AITimeout())
	defer cancel()

	board := make([][]int, session.BoardSize)
	for r := range board {
		board[r] = append([]int(nil), current.Board[r][:]...)
	}
	row, col, err := h.AI.RequestMove(ctx, board, current.CurrentPlayer, current.AIDifficulty)
	if err != nil {
		log.Printf("ai bridge unavailable, leaving human move as final state: gameId=%s err=%v", gameID, err)
		return nil
	}

	now := time.Now()
	s, err := h.Sessions.UpdateWith(gameID, func(s *session.GameSession) error {
		return moveengine.ApplyMove(s, "", row, col, session.ActorAI, s.AIDifficulty, now)
	})
	if err != nil {
		log.Printf("ai move rejected by move engine: gameId=%s err=%v", gameID, err)
		return nil
	}
	h.emitMoveCtx(context.Background(), s)
	return s
}

// ForfeitGame handles POST /api/game/{gameId}/forfeit.
func (h *Handler) ForfeitGame(w http.ResponseWriter, r *http.Request, gameID string) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	s, err := h.Sessions.UpdateWith(gameID, func(s *session.GameSession) error {
		return moveengine.Forfeit(s, userID, time.Now())
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.emitMove(r, s)
	writeJSON(w, http.StatusOK, ws.ToGameStateView(s))
}

// emitMove mirrors the latest move into the event log, matching the
// Delivery Layer's dual-path emission (§4.5) for clients driving moves over
// REST rather than the websocket.
func (h *Handler) emitMove(r *http.Request, s *session.GameSession) {
	h.emitMoveCtx(r.Context(), s)
}

func (h *Handler) emitMoveCtx(ctx context.Context, s *session.GameSession) {
	if h.Producer == nil || len(s.MoveHistory) == 0 {
		return
	}
	last := s.MoveHistory[len(s.MoveHistory)-1]
	ev := eventlog.GameMoveEvent{
		EventID: eventlog.NewEventID(), GameID: s.GameID, MoveNumber: last.MoveNumber,
		ActorType: string(last.ActorType), PlayerID: last.PlayerID, AIDifficulty: string(s.AIDifficulty),
		Row: last.Row, Col: last.Col, StoneColor: last.StoneColor, TookMs: last.TookMs,
		BoardAfter: toBoardSlice(s), At: last.At,
	}
	if s.Status != session.StatusInProgress {
		ev.Terminal = true
		ev.Status = string(s.Status)
		ev.WinnerType = string(s.WinnerType)
		ev.WinnerID = s.WinnerID
	}
	h.Producer.PublishGameMove(ctx, ev)
}

func toBoardSlice(s *session.GameSession) [][]int {
	out := make([][]int, session.BoardSize)
	for row := range s.Board {
		out[row] = append([]int(nil), s.Board[row][:]...)
	}
	return out
}

// ListMoves handles GET /api/game/{gameId}/moves.
func (h *Handler) ListMoves(w http.ResponseWriter, r *http.Request, gameID string) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	s, err := h.Sessions.Get(gameID)
	if err == nil && s.PlayerNumber(userID) == 0 {
		h.writeError(w, r, gameerrors.ErrUnauthorized)
		return
	}

	moves, err := h.History.ListMoves(r.Context(), gameID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moves)
}

type queueJoinResponse struct {
	Status   string    `json:"status"`
	JoinedAt time.Time `json:"joinedAt,omitempty"`
	Message  string    `json:"message"`
}

// JoinQueue handles POST /api/matchmaking/queue.
func (h *Handler) JoinQueue(w http.ResponseWriter, r *http.Request) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if h.Aggregator == nil {
		h.writeError(w, r, gameerrors.ErrAIUnavailable)
		return
	}
	h.queueMu.Lock()
	_, alreadyJoined := h.queueJoinedAt[userID]
	h.queueMu.Unlock()
	if alreadyJoined {
		writeJSON(w, http.StatusOK, queueJoinResponse{Status: "ALREADY_IN_QUEUE", Message: "already waiting for a match"})
		return
	}
	if _, err := h.Aggregator.Enqueue(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	now := time.Now()
	h.queueMu.Lock()
	h.queueJoinedAt[userID] = now
	h.queueMu.Unlock()
	writeJSON(w, http.StatusOK, queueJoinResponse{Status: "JOINED", JoinedAt: now, Message: "joined matchmaking queue"})
}

// LeaveQueue handles DELETE /api/matchmaking/queue.
func (h *Handler) LeaveQueue(w http.ResponseWriter, r *http.Request) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if h.Aggregator == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "NOT_IN_QUEUE"})
		return
	}
	h.queueMu.Lock()
	_, wasJoined := h.queueJoinedAt[userID]
	delete(h.queueJoinedAt, userID)
	h.queueMu.Unlock()
	if !wasJoined {
		writeJSON(w, http.StatusOK, map[string]string{"status": "NOT_IN_QUEUE"})
		return
	}
	if err := h.Aggregator.LeaveQueue(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "LEFT"})
}

// QueueStatus handles GET /api/matchmaking/status. Authoritative queue state
// lives inside the aggregator's fold loop, not in any externally readable
// snapshot (§5) — clients learn of a match via the push queue, so this
// deliberately always answers NOT_IN_QUEUE, per §9.
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.requireUser(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "NOT_IN_QUEUE",
		"message": "queue state is not exposed; subscribe to /user/queue/match-found for the result",
	})
}

type leaderboardResponse struct {
	Entries          []stats.Rating  `json:"entries"`
	CurrentUserEntry *stats.Rating   `json:"currentUserEntry,omitempty"`
}

// Leaderboard handles GET /api/leaderboard.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.Stats.ListLeaderboard(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var current *stats.Rating
	if userID := h.extractUserID(r); userID != "" {
		rating, err := h.Stats.Get(r.Context(), userID)
		if err == nil {
			current = rating
		}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{Entries: entries, CurrentUserEntry: current})
}

// History handles GET /api/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if CORS(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	list, err := h.History.ListByUserID(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
