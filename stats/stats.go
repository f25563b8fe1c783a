// Package stats implements the Stats Updater (§4.8): on each terminal move
// of a PvP game it recomputes both players' Elo-style rating and
// win/loss/draw counters; a PvAI game updates only the human player's
// counters and leaves the rating unchanged.
package stats

import (
	"context"
	"errors"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	kHighActivity    = 16
	kLowActivity     = 32
	provisionalGames = 30
	initialRating    = 1000
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS player_ratings (
	player_id      TEXT PRIMARY KEY,
	rating         INT NOT NULL DEFAULT 1000,
	games_played   INT NOT NULL DEFAULT 0,
	wins           INT NOT NULL DEFAULT 0,
	losses         INT NOT NULL DEFAULT 0,
	draws          INT NOT NULL DEFAULT 0,
	win_streak     INT NOT NULL DEFAULT 0,
	peak_rating    INT NOT NULL DEFAULT 1000,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_player_ratings_rating ON player_ratings(rating DESC);
`

// Store persists per-player ratings to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres and ensures the schema exists. Empty
// databaseURL disables persistence (nil, nil), matching the rest of the
// module's optional-store convention.
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

// kFor returns the K-factor for a player with gamesPlayed completed games:
// 32 while still establishing a rating (<30 games), 16 thereafter.
func kFor(gamesPlayed int) float64 {
	if gamesPlayed < provisionalGames {
		return kLowActivity
	}
	return kHighActivity
}

// expectedScore is the standard Elo expectation for a player rated `me`
// against an opponent rated `opp`.
func expectedScore(me, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-me)/400))
}

// computeEloUpdates returns the new ratings for two players given their
// current ratings, games played, and outcome (winnerIdx 0, 1, or -1 draw).
func computeEloUpdates(r0, r1, games0, games1, winnerIdx int) (newR0, newR1 int) {
	var score0, score1 float64
	switch winnerIdx {
	case 0:
		score0, score1 = 1, 0
	case 1:
		score0, score1 = 0, 1
	default:
		score0, score1 = 0.5, 0.5
	}
	e0 := expectedScore(r0, r1)
	e1 := expectedScore(r1, r0)
	delta0 := kFor(games0) * (score0 - e0)
	delta1 := kFor(games1) * (score1 - e1)
	newR0 = r0 + int(math.Round(delta0))
	newR1 = r1 + int(math.Round(delta1))
	if newR0 < 0 {
		newR0 = 0
	}
	if newR1 < 0 {
		newR1 = 0
	}
	return newR0, newR1
}

// Rating is one player's current stats row.
type Rating struct {
	PlayerID    string
	Rating      int
	GamesPlayed int
	Wins        int
	Losses      int
	Draws       int
	WinStreak   int
	PeakRating  int
}

func (s *Store) ensureRow(ctx context.Context, tx pgx.Tx, playerID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO player_ratings (player_id, rating, peak_rating) VALUES ($1, $2, $2)
		ON CONFLICT (player_id) DO NOTHING`, playerID, initialRating)
	return err
}

func (s *Store) loadRow(ctx context.Context, tx pgx.Tx, playerID string) (Rating, error) {
	var r Rating
	r.PlayerID = playerID
	err := tx.QueryRow(ctx, `
		SELECT rating, games_played, wins, losses, draws, win_streak, peak_rating
		FROM player_ratings WHERE player_id = $1`, playerID).
		Scan(&r.Rating, &r.GamesPlayed, &r.Wins, &r.Losses, &r.Draws, &r.WinStreak, &r.PeakRating)
	return r, err
}

func (s *Store) saveRow(ctx context.Context, tx pgx.Tx, r Rating) error {
	_, err := tx.Exec(ctx, `
		UPDATE player_ratings
		SET rating = $1, games_played = $2, wins = $3, losses = $4, draws = $5,
			win_streak = $6, peak_rating = $7, updated_at = now()
		WHERE player_id = $8`,
		r.Rating, r.GamesPlayed, r.Wins, r.Losses, r.Draws, r.WinStreak, r.PeakRating, r.PlayerID)
	return err
}

// UpdateAfterHumanVsHuman recomputes both players' ratings and counters
// after a terminal PvP game. winnerIdx is 0 (player1), 1 (player2), or -1
// (draw).
func (s *Store) UpdateAfterHumanVsHuman(ctx context.Context, player1ID, player2ID string, winnerIdx int) error {
	if s == nil || s.pool == nil {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.ensureRow(ctx, tx, player1ID); err != nil {
		return err
	}
	if err := s.ensureRow(ctx, tx, player2ID); err != nil {
		return err
	}
	r0, err := s.loadRow(ctx, tx, player1ID)
	if err != nil {
		return err
	}
	r1, err := s.loadRow(ctx, tx, player2ID)
	if err != nil {
		return err
	}

	newR0, newR1 := computeEloUpdates(r0.Rating, r1.Rating, r0.GamesPlayed, r1.GamesPlayed, winnerIdx)
	r0.Rating, r1.Rating = newR0, newR1
	r0.GamesPlayed++
	r1.GamesPlayed++

	switch winnerIdx {
	case 0:
		r0.Wins++
		r0.WinStreak++
		r1.Losses++
		r1.WinStreak = 0
	case 1:
		r1.Wins++
		r1.WinStreak++
		r0.Losses++
		r0.WinStreak = 0
	default:
		r0.Draws++
		r1.Draws++
		r0.WinStreak = 0
		r1.WinStreak = 0
	}
	if r0.Rating > r0.PeakRating {
		r0.PeakRating = r0.Rating
	}
	if r1.Rating > r1.PeakRating {
		r1.PeakRating = r1.Rating
	}

	if err := s.saveRow(ctx, tx, r0); err != nil {
		return err
	}
	if err := s.saveRow(ctx, tx, r1); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateAfterHumanVsAI updates only the human player's win/loss/draw
// counters (rating is left unchanged, per §4.8). humanWon is nil for a draw.
func (s *Store) UpdateAfterHumanVsAI(ctx context.Context, humanID string, humanWon *bool) error {
	if s == nil || s.pool == nil {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.ensureRow(ctx, tx, humanID); err != nil {
		return err
	}
	r, err := s.loadRow(ctx, tx, humanID)
	if err != nil {
		return err
	}
	r.GamesPlayed++
	switch {
	case humanWon == nil:
		r.Draws++
		r.WinStreak = 0
	case *humanWon:
		r.Wins++
		r.WinStreak++
	default:
		r.Losses++
		r.WinStreak = 0
	}
	if err := s.saveRow(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get returns one player's rating row, or (nil, nil) if they have never
// completed a game.
func (s *Store) Get(ctx context.Context, playerID string) (*Rating, error) {
	if s == nil || s.pool == nil {
		return nil, nil
	}
	var r Rating
	r.PlayerID = playerID
	err := s.pool.QueryRow(ctx, `
		SELECT rating, games_played, wins, losses, draws, win_streak, peak_rating
		FROM player_ratings WHERE player_id = $1`, playerID).
		Scan(&r.Rating, &r.GamesPlayed, &r.Wins, &r.Losses, &r.Draws, &r.WinStreak, &r.PeakRating)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// ListLeaderboard returns the top players by rating descending.
func (s *Store) ListLeaderboard(ctx context.Context, limit, offset int) ([]Rating, error) {
	if s == nil || s.pool == nil {
		return []Rating{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `
		SELECT player_id, rating, games_played, wins, losses, draws, win_streak, peak_rating
		FROM player_ratings ORDER BY rating DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Rating
	for rows.Next() {
		var r Rating
		if err := rows.Scan(&r.PlayerID, &r.Rating, &r.GamesPlayed, &r.Wins, &r.Losses, &r.Draws, &r.WinStreak, &r.PeakRating); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
