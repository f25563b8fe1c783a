// Package moveengine validates and applies moves against a GameSession. It
// is pure given the session: no I/O, no locking — callers run it inside
// session.Store.UpdateWith so mutation is serialized per gameId.
package moveengine

import (
	"time"

	"gomoku-match-core/gameerrors"
	"gomoku-match-core/session"
)

// axis deltas for the four lines a five-in-a-row can run along.
var axes = [4][2]int{
	{0, 1},  // horizontal
	{1, 0},  // vertical
	{1, 1},  // diagonal down-right
	{1, -1}, // diagonal down-left
}

func stoneColor(playerNum int) string {
	if playerNum == 1 {
		return "BLACK"
	}
	return "WHITE"
}

// ApplyMove runs the §4.2 legality pipeline in order, writes the stone,
// appends the Move record and runs termination detection. It returns the
// first legality violation encountered, leaving s untouched on error — the
// caller's session.Store.UpdateWith discards the working copy in that case.
func ApplyMove(s *session.GameSession, actorID string, row, col int, actorType session.ActorType, aiDifficultyUsed session.AIDifficulty, now time.Time) error {
	if s.Status != session.StatusInProgress {
		return gameerrors.ErrGameCompleted
	}

	playerNum := s.PlayerNumber(actorID)
	if actorType == session.ActorAI {
		// The AI acts as whichever side is not player1 (player2 slot in PvAI).
		playerNum = 2
	} else if playerNum == 0 {
		return gameerrors.ErrUnauthorized
	}

	if playerNum != s.CurrentPlayer {
		return gameerrors.ErrNotYourTurn
	}

	if row < 0 || row >= session.BoardSize || col < 0 || col >= session.BoardSize {
		return gameerrors.ErrInvalidMove
	}
	if s.Board[row][col] != 0 {
		return gameerrors.ErrInvalidMove
	}

	var took int64
	if !s.LastActivityAt.IsZero() {
		took = now.Sub(s.LastActivityAt).Milliseconds()
	}

	s.Board[row][col] = playerNum
	s.MoveCount++
	s.MoveHistory = append(s.MoveHistory, session.Move{
		MoveNumber: s.MoveCount,
		ActorType:  actorType,
		PlayerID:   actorID,
		Row:        row,
		Col:        col,
		StoneColor: stoneColor(playerNum),
		TookMs:     took,
		At:         now,
	})

	if hasFiveInARow(s, row, col, playerNum) {
		s.Status = session.StatusCompleted
		s.EndedAt = now
		if playerNum == 1 {
			s.WinnerType = session.WinnerPlayer1
			s.WinnerID = s.Player1ID
		} else if s.GameType == session.HumanVsAI {
			s.WinnerType = session.WinnerAI
			s.WinnerID = ""
		} else {
			s.WinnerType = session.WinnerPlayer2
			s.WinnerID = s.Player2ID
		}
		return nil
	}

	if s.MoveCount == session.TotalCells {
		s.Status = session.StatusCompleted
		s.EndedAt = now
		s.WinnerType = session.WinnerDraw
		s.WinnerID = ""
		return nil
	}

	s.CurrentPlayer = 3 - s.CurrentPlayer
	return nil
}

// hasFiveInARow scans all four axes through (row,col), counting the
// just-placed stone plus consecutive same-valued cells in both directions.
func hasFiveInARow(s *session.GameSession, row, col, playerNum int) bool {
	for _, ax := range axes {
		count := 1
		count += countDirection(s, row, col, ax[0], ax[1], playerNum)
		count += countDirection(s, row, col, -ax[0], -ax[1], playerNum)
		if count >= session.WinLength {
			return true
		}
	}
	return false
}

func countDirection(s *session.GameSession, row, col, dRow, dCol, playerNum int) int {
	count := 0
	r, c := row+dRow, col+dCol
	for r >= 0 && r < session.BoardSize && c >= 0 && c < session.BoardSize && s.Board[r][c] == playerNum {
		count++
		r += dRow
		c += dCol
	}
	return count
}

// Forfeit is the distinct player-initiated forfeit operation: the acting
// player's side loses immediately.
func Forfeit(s *session.GameSession, actorID string, now time.Time) error {
	if s.Status != session.StatusInProgress {
		return gameerrors.ErrGameCompleted
	}
	playerNum := s.PlayerNumber(actorID)
	if playerNum == 0 {
		return gameerrors.ErrUnauthorized
	}

	s.Status = session.StatusAbandoned
	s.EndedAt = now
	if playerNum == 1 {
		if s.GameType == session.HumanVsAI {
			s.WinnerType = session.WinnerAI
			s.WinnerID = ""
		} else {
			s.WinnerType = session.WinnerPlayer2
			s.WinnerID = s.Player2ID
		}
	} else {
		s.WinnerType = session.WinnerPlayer1
		s.WinnerID = s.Player1ID
	}
	return nil
}
