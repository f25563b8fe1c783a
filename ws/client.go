package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"gomoku-match-core/auth"
	"gomoku-match-core/gameerrors"
	"gomoku-match-core/moveengine"
	"gomoku-match-core/session"
	"gomoku-match-core/wsutil"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one live /ws connection. It is registered with a Hub and runs
// its own read/write pump goroutines.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	userID        string
	authenticated bool
	subscriptions map[string]struct{}
	games         map[string]struct{}
}

// trySend hands data to the client's write pump without blocking the caller
// and without panicking if the client has already disconnected and its send
// channel was closed out from under a concurrent broadcaster (§5). A client
// whose outbound buffer is full is disconnected instead of being waited on.
func (c *Client) trySend(data []byte) {
	if len(c.send) == cap(c.send) {
		c.conn.Close()
		return
	}
	wsutil.SafeSend(c.send, data)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Error("websocket read error", "tag", "ws", "err", err)
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(data)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	f, err := ParseFrame(data)
	if err != nil {
		c.sendErrorFrame(gameerrors.KindValidation.WSCode(), "malformed frame", "")
		return
	}

	switch f.Command {
	case "CONNECT":
		c.handleConnect(f)
	case "SUBSCRIBE":
		c.handleSubscribe(f)
	case "SEND":
		c.handleSend(f)
	default:
		c.sendErrorFrame(gameerrors.KindValidation.WSCode(), "unknown frame command: "+f.Command, "")
	}
}

func (c *Client) handleConnect(f *Frame) {
	token := f.Headers["Authorization"]
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		token = f.Headers["token"]
	}
	if token == "" || c.hub.Config.AuthJWKSBaseURL == "" {
		c.hub.log.Error("connect rejected: no credentials or auth not configured", "tag", "ws")
		return
	}
	claims, err := auth.ValidateAuthToken(c.hub.Config.AuthJWKSBaseURL, token)
	if err != nil {
		c.hub.log.Error("connect rejected: token validation failed", "tag", "ws", "err", err)
		return
	}
	userID := auth.UserIDFromClaims(claims)
	c.hub.bindUser(c, userID)
	c.authenticated = true
	connected := &Frame{Command: "CONNECTED", Headers: map[string]string{"userId": userID}}
	c.trySend(connected.Marshal())
}

func (c *Client) handleSubscribe(f *Frame) {
	dest := f.Headers["destination"]
	if dest == "" {
		c.sendErrorFrame(gameerrors.KindValidation.WSCode(), "missing destination", "")
		return
	}
	if strings.HasPrefix(dest, "/user/") && !c.authenticated {
		c.sendErrorFrame(gameerrors.KindUnauthorized.WSCode(), "authentication required", dest)
		return
	}
	c.hub.subscribe(c, dest)

	if gameID, ok := parseGameTopic(dest); ok && c.authenticated {
		c.trackGame(gameID)
		c.resumeAfterDisconnect(gameID)
	}
}

// parseGameTopic extracts gameId from "/topic/game/{gameId}".
func parseGameTopic(dest string) (string, bool) {
	const prefix = "/topic/game/"
	if !strings.HasPrefix(dest, prefix) {
		return "", false
	}
	gameID := strings.TrimPrefix(dest, prefix)
	return gameID, gameID != ""
}

func (c *Client) trackGame(gameID string) {
	c.games[gameID] = struct{}{}
}

// resumeAfterDisconnect cancels a pending forfeit-on-timeout grace window
// for this player in gameID, if one is running, and tells the opponent the
// player is back (§4.1).
func (c *Client) resumeAfterDisconnect(gameID string) {
	before, err := c.hub.Sessions.Get(gameID)
	if err != nil {
		return
	}
	playerNum := before.PlayerNumber(c.userID)
	if playerNum == 0 || before.DisconnectedPlayer != playerNum {
		return
	}
	sess, err := c.hub.Sessions.HandleReconnect(gameID, playerNum)
	if err != nil {
		return
	}
	c.hub.Broadcast("/topic/game/"+gameID, reconnectPayload(sess, playerNum))
}

func (c *Client) handleSend(f *Frame) {
	dest := f.Headers["destination"]
	gameID, action, ok := parseAppDestination(dest)
	if !ok {
		c.sendErrorFrame(gameerrors.KindValidation.WSCode(), "unknown destination: "+dest, dest)
		return
	}
	if !c.authenticated {
		c.sendErrorFrame(gameerrors.KindUnauthorized.WSCode(), "authentication required", dest)
		return
	}

	switch action {
	case "move":
		c.handleMove(gameID, f.Body)
	case "forfeit":
		c.handleForfeit(gameID)
	default:
		c.sendErrorFrame(gameerrors.KindValidation.WSCode(), "unknown action: "+action, dest)
	}
}

// parseAppDestination matches "/app/game/{gameId}/move" or ".../forfeit".
func parseAppDestination(dest string) (gameID, action string, ok bool) {
	const prefix = "/app/game/"
	if !strings.HasPrefix(dest, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(dest, prefix)
	idx := strings.LastIndex(rest, "/")
	if idx < 0 {
		return "", "", false
	}
	gameID, action = rest[:idx], rest[idx+1:]
	if gameID == "" || (action != "move" && action != "forfeit") {
		return "", "", false
	}
	return gameID, action, true
}

func (c *Client) handleMove(gameID string, body []byte) {
	var payload MovePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.sendErrorFrame(gameerrors.KindValidation.WSCode(), "invalid move payload", gameID)
		return
	}

	now := time.Now()
	sess, err := c.hub.Sessions.UpdateWith(gameID, func(s *session.GameSession) error {
		return moveengine.ApplyMove(s, c.userID, payload.Row, payload.Col, session.ActorHuman, "", now)
	})
	if err != nil {
		c.sendTypedError(err, gameID)
		return
	}
	c.hub.broadcastAndEmit(sess)

	if sess.GameType == session.HumanVsAI && sess.Status == session.StatusInProgress && c.hub.AI != nil {
		c.playAITurn(gameID)
	}
}

func (c *Client) handleForfeit(gameID string) {
	now := time.Now()
	sess, err := c.hub.Sessions.UpdateWith(gameID, func(s *session.GameSession) error {
		return moveengine.Forfeit(s, c.userID, now)
	})
	if err != nil {
		c.sendTypedError(err, gameID)
		return
	}
	c.hub.broadcastAndEmit(sess)
}

// playAITurn synchronously requests the AI's move (bounded 30s) and applies
// it, per §4.5 step 4. A failure leaves the session IN_PROGRESS with the
// human move already applied; no AI move event is emitted.
func (c *Client) playAITurn(gameID string) {
	current, err := c.hub.Sessions.Get(gameID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.hub.Config.AITimeout())
	defer cancel()

	board := make([][]int, session.BoardSize)
	for r := range board {
		board[r] = append([]int(nil), current.Board[r][:]...)
	}
	row, col, err := c.hub.AI.RequestMove(ctx, board, current.CurrentPlayer, current.AIDifficulty)
	if err != nil {
		c.hub.log.Error("AI bridge unavailable, leaving human move as final state", "tag", "ws", "gameId", gameID, "err", err)
		return
	}

	now := time.Now()
	sess, err := c.hub.Sessions.UpdateWith(gameID, func(s *session.GameSession) error {
		return moveengine.ApplyMove(s, "", row, col, session.ActorAI, s.AIDifficulty, now)
	})
	if err != nil {
		c.hub.log.Error("AI move rejected by move engine", "tag", "ws", "gameId", gameID, "err", err)
		return
	}
	c.hub.broadcastAndEmit(sess)
}

// sendTypedError delivers err to this connection's /user/queue/errors
// subscription only; the user's other connections receive nothing.
func (c *Client) sendTypedError(err error, gameID string) {
	kind := gameerrors.KindOf(err)
	frame, ferr := newMessageFrame("/user/queue/errors", ErrorPayload{
		ErrorCode:     kind.WSCode(),
		Message:       err.Error(),
		ExceptionType: "",
	})
	if ferr != nil {
		return
	}
	c.hub.mu.RLock()
	_, subscribed := c.subscriptions["/user/queue/errors"]
	c.hub.mu.RUnlock()
	if subscribed {
		c.trySend(frame)
	}
}

func (c *Client) sendErrorFrame(code, message, destination string) {
	frame, err := newErrorFrame(destination, ErrorPayload{ErrorCode: code, Message: message})
	if err != nil {
		return
	}
	c.trySend(frame)
}
