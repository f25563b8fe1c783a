package ws

import "gomoku-match-core/session"

// MovePayload is the body of a SEND to /app/game/{gameId}/move.
type MovePayload struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// ErrorPayload is the body of a server-pushed ERROR frame / a MESSAGE to
// /user/queue/errors (§6, §7).
type ErrorPayload struct {
	ErrorCode     string `json:"errorCode"`
	Message       string `json:"message"`
	ExceptionType string `json:"exceptionType"`
}

// ConnectionStatusPayload notifies the opponent of a disconnect/reconnect
// on /topic/game/{gameId} (§4.1's grace window is informational only — it
// never replays state).
type ConnectionStatusPayload struct {
	GameID       string `json:"gameId"`
	PlayerNumber int    `json:"playerNumber"`
	Status       string `json:"status"`
	Deadline     string `json:"deadline,omitempty"`
}

func disconnectPayload(s *session.GameSession, playerNum int) ConnectionStatusPayload {
	return ConnectionStatusPayload{
		GameID:       s.GameID,
		PlayerNumber: playerNum,
		Status:       "opponent_reconnecting",
		Deadline:     s.ReconnectDeadline.UTC().Format(rfc3339),
	}
}

func reconnectPayload(s *session.GameSession, playerNum int) ConnectionStatusPayload {
	return ConnectionStatusPayload{
		GameID:       s.GameID,
		PlayerNumber: playerNum,
		Status:       "opponent_reconnected",
	}
}

// MatchFoundPayload is the body of a MESSAGE to /user/queue/match-found.
type MatchFoundPayload struct {
	GameID           string `json:"gameId"`
	GameType         string `json:"gameType"`
	AIDifficulty     string `json:"aiDifficulty,omitempty"`
	YourPlayerNumber int    `json:"yourPlayerNumber"`
	YourColor        string `json:"yourColor"`
}

// GameStateView is the wire projection of a GameSession (§6).
type GameStateView struct {
	GameID        string     `json:"gameId"`
	GameType      string     `json:"gameType"`
	Status        string     `json:"status"`
	Player1ID     string     `json:"player1Id"`
	Player2ID     string     `json:"player2Id,omitempty"`
	AIDifficulty  string     `json:"aiDifficulty,omitempty"`
	Board         [][]int    `json:"board"`
	CurrentPlayer int        `json:"currentPlayer"`
	MoveCount     int        `json:"moveCount"`
	WinnerType    string     `json:"winnerType"`
	WinnerID      string     `json:"winnerId,omitempty"`
	StartedAt     string     `json:"startedAt"`
	EndedAt       string     `json:"endedAt,omitempty"`
	LastActivity  string     `json:"lastActivity"`
}

func toBoardSlice(board [session.BoardSize][session.BoardSize]int) [][]int {
	out := make([][]int, session.BoardSize)
	for r := range board {
		out[r] = append([]int(nil), board[r][:]...)
	}
	return out
}

// ToGameStateView builds the REST/WS projection of a live session.
func ToGameStateView(s *session.GameSession) GameStateView {
	v := GameStateView{
		GameID:        s.GameID,
		GameType:      string(s.GameType),
		Status:        string(s.Status),
		Player1ID:     s.Player1ID,
		Player2ID:     s.Player2ID,
		AIDifficulty:  string(s.AIDifficulty),
		Board:         toBoardSlice(s.Board),
		CurrentPlayer: s.CurrentPlayer,
		MoveCount:     s.MoveCount,
		WinnerType:    string(s.WinnerType),
		WinnerID:      s.WinnerID,
		StartedAt:     s.StartedAt.UTC().Format(rfc3339),
		LastActivity:  s.LastActivityAt.UTC().Format(rfc3339),
	}
	if !s.EndedAt.IsZero() {
		v.EndedAt = s.EndedAt.UTC().Format(rfc3339)
	}
	return v
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

func colorForPlayer(playerNum int) string {
	if playerNum == 2 {
		return "WHITE"
	}
	return "BLACK"
}
