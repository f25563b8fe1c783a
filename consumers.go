package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"gomoku-match-core/config"
	"gomoku-match-core/eventlog"
	"gomoku-match-core/persistence"
	"gomoku-match-core/session"
	"gomoku-match-core/stats"
)

// runPersistenceConsumer is the Persistence Consumer (§4.7): it tails
// match-created and game-move-made and writes durable rows. It is a no-op
// loop (reads and discards) when no database is configured, so the rest of
// the system behaves the same with or without a durable sink.
func runPersistenceConsumer(ctx context.Context, cfg *config.Config, store *persistence.Store, log *slog.Logger) {
	matchConsumer := eventlog.NewConsumer(eventlog.ConsumerConfig{
		Brokers: cfg.KafkaBrokers, Topic: eventlog.TopicMatchCreated, GroupID: "persistence-consumer",
	}, log)
	defer matchConsumer.Close()
	go matchConsumer.Run(ctx, func(ctx context.Context, msg kafka.Message) error {
		var ev eventlog.MatchCreatedEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Error("persistence: decode match-created failed", "tag", "persistence", "err", err)
			return nil
		}
		if err := store.RecordMatchCreated(ctx, ev); err != nil {
			log.Error("persistence: RecordMatchCreated failed", "tag", "persistence", "gameId", ev.GameID, "err", err)
			return err
		}
		return nil
	})

	moveConsumer := eventlog.NewConsumer(eventlog.ConsumerConfig{
		Brokers: cfg.KafkaBrokers, Topic: eventlog.TopicGameMove, GroupID: "persistence-consumer",
	}, log)
	defer moveConsumer.Close()
	moveConsumer.Run(ctx, func(ctx context.Context, msg kafka.Message) error {
		var ev eventlog.GameMoveEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Error("persistence: decode game-move-made failed", "tag", "persistence", "err", err)
			return nil
		}
		if err := store.RecordMove(ctx, ev); err != nil {
			log.Error("persistence: RecordMove failed", "tag", "persistence", "gameId", ev.GameID, "err", err)
			return err
		}
		return nil
	})
}

// runStatsConsumer is the Stats Updater (§4.8): it tails game-move-made for
// terminal moves and recomputes the participants' ratings. It looks up each
// terminal move's participants and game type from the persisted game row,
// since GameMoveEvent itself carries no player identities beyond the mover.
func runStatsConsumer(ctx context.Context, cfg *config.Config, history *persistence.Store, store *stats.Store, log *slog.Logger) {
	consumer := eventlog.NewConsumer(eventlog.ConsumerConfig{
		Brokers: cfg.KafkaBrokers, Topic: eventlog.TopicGameMove, GroupID: "stats-updater",
	}, log)
	defer consumer.Close()
	consumer.Run(ctx, func(ctx context.Context, msg kafka.Message) error {
		var ev eventlog.GameMoveEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Error("stats: decode game-move-made failed", "tag", "stats", "err", err)
			return nil
		}
		if !ev.Terminal {
			return nil
		}
		game, err := history.Get(ctx, ev.GameID)
		if err != nil {
			log.Error("stats: lookup game failed", "tag", "stats", "gameId", ev.GameID, "err", err)
			return err
		}
		if game == nil {
			return nil
		}
		return applyStatsUpdate(ctx, store, game, ev)
	})
}

func applyStatsUpdate(ctx context.Context, store *stats.Store, game *persistence.GameRecord, ev eventlog.GameMoveEvent) error {
	if game.GameType == string(session.HumanVsAI) {
		var humanWon *bool
		switch session.WinnerType(ev.WinnerType) {
		case session.WinnerPlayer1:
			won := true
			humanWon = &won
		case session.WinnerAI:
			won := false
			humanWon = &won
		case session.WinnerDraw:
			humanWon = nil
		default:
			return nil
		}
		return store.UpdateAfterHumanVsAI(ctx, game.Player1ID, humanWon)
	}

	var winnerIdx int
	switch session.WinnerType(ev.WinnerType) {
	case session.WinnerPlayer1:
		winnerIdx = 0
	case session.WinnerPlayer2:
		winnerIdx = 1
	case session.WinnerDraw:
		winnerIdx = -1
	default:
		return nil
	}
	return store.UpdateAfterHumanVsHuman(ctx, game.Player1ID, game.Player2ID, winnerIdx)
}
