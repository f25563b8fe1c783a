// Package persistence implements the Persistence Consumer (§4.7): it
// consumes match-created and game-move-made events and writes durable
// Game/GameMove rows, idempotently under at-least-once delivery.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gomoku-match-core/eventlog"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS games (
	game_id       TEXT PRIMARY KEY,
	game_type     TEXT NOT NULL,
	player1_id    TEXT NOT NULL,
	player2_id    TEXT NOT NULL DEFAULT '',
	ai_difficulty TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL,
	status        TEXT NOT NULL,
	winner_type   TEXT NOT NULL DEFAULT 'NONE',
	winner_id     TEXT NOT NULL DEFAULT '',
	board         JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_games_player1 ON games(player1_id);
CREATE INDEX IF NOT EXISTS idx_games_player2 ON games(player2_id);
CREATE TABLE IF NOT EXISTS game_moves (
	game_id     TEXT NOT NULL REFERENCES games(game_id),
	move_number INT  NOT NULL,
	actor_type  TEXT NOT NULL,
	player_id   TEXT NOT NULL DEFAULT '',
	row_idx     INT  NOT NULL,
	col_idx     INT  NOT NULL,
	stone_color TEXT NOT NULL,
	took_ms     BIGINT NOT NULL DEFAULT 0,
	at          TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (game_id, move_number),
	UNIQUE (game_id, row_idx, col_idx)
);
`

// Store persists games and moves to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres and ensures the schema exists. If
// databaseURL is empty, NewStore returns (nil, nil) and the Persistence
// Consumer runs with no durable sink — matching the teacher's
// optional-persistence convention.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// RecordMatchCreated inserts the WAITING-status game row. Safe to call twice
// for the same gameId (ON CONFLICT DO NOTHING) since match-created may be
// redelivered.
func (s *Store) RecordMatchCreated(ctx context.Context, ev eventlog.MatchCreatedEvent) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO games (game_id, game_type, player1_id, player2_id, ai_difficulty, source, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'WAITING')
		ON CONFLICT (game_id) DO NOTHING`,
		ev.GameID, ev.GameType, ev.Player1ID, ev.Player2ID, ev.AIDifficulty, string(ev.Source))
	return err
}

// RecordMove writes one GameMove row and, if the move is terminal, updates
// the game row's status/winner/board. (gameId, moveNumber) and
// (gameId, row, col) uniqueness make this idempotent under redelivery.
func (s *Store) RecordMove(ctx context.Context, ev eventlog.GameMoveEvent) error {
	if s == nil || s.pool == nil {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO game_moves (game_id, move_number, actor_type, player_id, row_idx, col_idx, stone_color, took_ms, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (game_id, move_number) DO NOTHING`,
		ev.GameID, ev.MoveNumber, ev.ActorType, ev.PlayerID, ev.Row, ev.Col, ev.StoneColor, ev.TookMs, ev.At)
	if err != nil {
		return err
	}

	if ev.Terminal {
		_, err = tx.Exec(ctx, `
			UPDATE games SET status = $1, winner_type = $2, winner_id = $3, board = $4, ended_at = $5
			WHERE game_id = $6`,
			ev.Status, ev.WinnerType, ev.WinnerID, ev.BoardAfter, ev.At, ev.GameID)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GameRecord is one games row, as returned by ListByUserID and Get.
type GameRecord struct {
	GameID       string
	GameType     string
	Player1ID    string
	Player2ID    string
	AIDifficulty string
	Status       string
	WinnerType   string
	WinnerID     string
	CreatedAt    time.Time
	EndedAt      *time.Time
}

// ListMoves returns every recorded move for gameId ordered by moveNumber.
func (s *Store) ListMoves(ctx context.Context, gameID string) ([]eventlog.GameMoveEvent, error) {
	if s == nil || s.pool == nil {
		return []eventlog.GameMoveEvent{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT move_number, actor_type, player_id, row_idx, col_idx, stone_color, took_ms, at
		FROM game_moves WHERE game_id = $1 ORDER BY move_number`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []eventlog.GameMoveEvent
	for rows.Next() {
		var m eventlog.GameMoveEvent
		m.GameID = gameID
		if err := rows.Scan(&m.MoveNumber, &m.ActorType, &m.PlayerID, &m.Row, &m.Col, &m.StoneColor, &m.TookMs, &m.At); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListByUserID returns games a user participated in, newest first.
func (s *Store) ListByUserID(ctx context.Context, userID string) ([]GameRecord, error) {
	if s == nil || s.pool == nil {
		return []GameRecord{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT game_id, game_type, player1_id, player2_id, ai_difficulty, status, winner_type, winner_id, created_at, ended_at
		FROM games WHERE player1_id = $1 OR player2_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GameRecord
	for rows.Next() {
		var r GameRecord
		if err := rows.Scan(&r.GameID, &r.GameType, &r.Player1ID, &r.Player2ID, &r.AIDifficulty, &r.Status, &r.WinnerType, &r.WinnerID, &r.CreatedAt, &r.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one game row by id, or (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, gameID string) (*GameRecord, error) {
	if s == nil || s.pool == nil {
		return nil, nil
	}
	var r GameRecord
	err := s.pool.QueryRow(ctx, `
		SELECT game_id, game_type, player1_id, player2_id, ai_difficulty, status, winner_type, winner_id, created_at, ended_at
		FROM games WHERE game_id = $1`, gameID).
		Scan(&r.GameID, &r.GameType, &r.Player1ID, &r.Player2ID, &r.AIDifficulty, &r.Status, &r.WinnerType, &r.WinnerID, &r.CreatedAt, &r.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}
