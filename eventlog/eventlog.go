// Package eventlog implements the Event Log: append-only, partitioned,
// persistent topics (queue-events, match-created, game-move-made, and a
// dead-letter topic) on top of Kafka, with the producer/consumer contracts
// from §4.4.
package eventlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	TopicQueueEvents  = "queue-events"
	TopicMatchCreated = "match-created"
	TopicGameMove     = "game-move-made"
	TopicDeadLetter   = "dead-letter"

	globalQueueKey = "global-queue"
)

// QueueAction is the tagged variant the Matchmaking Aggregator folds over.
type QueueAction string

const (
	PlayerJoined QueueAction = "PLAYER_JOINED"
	PlayerLeft   QueueAction = "PLAYER_LEFT"
	PlayerTimeout QueueAction = "PLAYER_TIMEOUT"
)

type QueueEvent struct {
	EventID  string      `json:"eventId"`
	PlayerID string      `json:"playerId"`
	Action   QueueAction `json:"action"`
	At       time.Time   `json:"at"`
}

type MatchSource string

const (
	SourceMatchmaking    MatchSource = "MATCHMAKING"
	SourceDirectChallenge MatchSource = "DIRECT_CHALLENGE"
	SourceAIGame         MatchSource = "AI_GAME"
)

type MatchCreatedEvent struct {
	EventID      string      `json:"eventId"`
	GameID       string      `json:"gameId"`
	GameType     string      `json:"gameType"`
	Player1ID    string      `json:"player1Id"`
	Player2ID    string      `json:"player2Id,omitempty"`
	AIDifficulty string      `json:"aiDifficulty,omitempty"`
	Source       MatchSource `json:"source"`
	At           time.Time   `json:"at"`
}

type GameMoveEvent struct {
	EventID      string    `json:"eventId"`
	GameID       string    `json:"gameId"`
	MoveNumber   int       `json:"moveNumber"`
	ActorType    string    `json:"actorType"`
	PlayerID     string    `json:"playerId,omitempty"`
	AIDifficulty string    `json:"aiDifficulty,omitempty"`
	Row          int       `json:"row"`
	Col          int       `json:"col"`
	StoneColor   string    `json:"stoneColor"`
	TookMs       int64     `json:"tookMs"`
	BoardAfter   [][]int   `json:"boardAfter"`
	At           time.Time `json:"at"`
	// Terminal carries the session's terminal fields when this move ended
	// the game, so the Persistence Consumer need not replay the whole board.
	Terminal   bool   `json:"terminal,omitempty"`
	Status     string `json:"status,omitempty"`
	WinnerType string `json:"winnerType,omitempty"`
	WinnerID   string `json:"winnerId,omitempty"`
}

// NewEventID mints an eventId. Split out so producers never hand-roll ids.
func NewEventID() string { return uuid.NewString() }

// Producer publishes to the Event Log's topics. Queue events are published
// synchronously (must not be lost before ack); move and match events are
// published asynchronously as a shadow path that must never block the
// caller's critical section.
type Producer struct {
	syncWriter  *kafka.Writer
	asyncWriter *kafka.Writer
	dlqWriter   *kafka.Writer
	log         *slog.Logger

	mu    sync.Mutex
	stats Stats
}

type Stats struct {
	Published int64
	Dropped   int64
}

type ProducerConfig struct {
	Brokers    []string
	Partitions int
}

// NewProducer builds the three kafka.Writer instances backing the topics.
// The queue-events writer uses RequiredAcks=all and is never Async so a
// PLAYER_JOINED cannot silently vanish; the move/match writer is Async with
// bounded retries, matching the "fire-and-await-ack, drop after bounded
// retry" contract in §4.4.
func NewProducer(cfg ProducerConfig, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	mkWriter := func(topic string, async bool) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        async,
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			Compression:  kafka.Snappy,
			MaxAttempts:  3,
			ErrorLogger:  kafka.LoggerFunc(func(msg string, args ...interface{}) { log.Error("kafka writer error", "tag", "eventlog") }),
		}
	}
	return &Producer{
		syncWriter: mkWriter(TopicQueueEvents, false),
		// asyncWriter serves both match-created and game-move-made, so it
		// carries no Writer.Topic — kafka-go rejects a message that sets
		// Topic when the Writer already has one — and each publishAsync
		// call sets Message.Topic instead.
		asyncWriter: mkWriter("", true),
		dlqWriter:   mkWriter(TopicDeadLetter, true),
		log:         log,
	}
}

// PublishQueueEvent is the synchronous producer path for queue-events.
func (p *Producer) PublishQueueEvent(ctx context.Context, ev QueueEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = p.syncWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(globalQueueKey),
		Value: data,
		Time:  ev.At,
	})
	if err == nil {
		p.mu.Lock()
		p.stats.Published++
		p.mu.Unlock()
	}
	return err
}

// PublishMatchCreated is the asynchronous shadow-path producer for match-created.
func (p *Producer) PublishMatchCreated(ctx context.Context, ev MatchCreatedEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("marshal match-created failed", "tag", "eventlog", "err", err)
		return
	}
	p.publishAsync(ctx, TopicMatchCreated, []byte(ev.GameID), data)
}

// PublishGameMove is the asynchronous shadow-path producer for game-move-made.
func (p *Producer) PublishGameMove(ctx context.Context, ev GameMoveEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("marshal game-move failed", "tag", "eventlog", "err", err)
		return
	}
	p.publishAsync(ctx, TopicGameMove, []byte(ev.GameID), data)
}

func (p *Producer) publishAsync(ctx context.Context, topic string, key, value []byte) {
	err := p.asyncWriter.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		p.log.Error("shadow-path publish failed, routing to dead-letter", "tag", "eventlog", "topic", topic, "err", err)
		p.mu.Lock()
		p.stats.Dropped++
		p.mu.Unlock()
		dlqErr := p.dlqWriter.WriteMessages(ctx, kafka.Message{Key: key, Value: value, Time: time.Now()})
		if dlqErr != nil {
			p.log.Error("dead-letter publish also failed", "tag", "eventlog", "err", dlqErr)
		}
		return
	}
	p.mu.Lock()
	p.stats.Published++
	p.mu.Unlock()
}

func (p *Producer) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close flushes and closes every writer.
func (p *Producer) Close() error {
	_ = p.syncWriter.Close()
	_ = p.asyncWriter.Close()
	_ = p.dlqWriter.Close()
	return nil
}

// Consumer reads one topic and invokes handle per message, committing the
// offset only after handle returns nil — the at-least-once contract in §4.4.
// Downstream idempotency (by (gameId, moveNumber) or eventId) is the
// handler's responsibility.
type Consumer struct {
	reader *kafka.Reader
	log    *slog.Logger
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

func NewConsumer(cfg ConsumerConfig, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		log: log,
	}
}

// Run reads messages until ctx is cancelled, calling handle for each and
// committing only on success.
func (c *Consumer) Run(ctx context.Context, handle func(ctx context.Context, msg kafka.Message) error) {
	for {
		msg, err := c.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if err := handle(ctx, msg); err != nil {
			c.log.Error("handler failed, message will be redelivered", "tag", "eventlog", "topic", c.reader.Config().Topic, "err", err)
			continue
		}
		if err := c.Commit(ctx, msg); err != nil {
			c.log.Error("commit failed", "tag", "eventlog", "err", err)
		}
	}
}

// Fetch reads the next message without committing it. Callers that need to
// interleave consumption with other event sources (timers, local requests)
// use Fetch/Commit directly instead of Run.
func (c *Consumer) Fetch(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil && ctx.Err() == nil {
		c.log.Error("fetch message failed", "tag", "eventlog", "topic", c.reader.Config().Topic, "err", err)
	}
	return msg, err
}

// Commit advances the consumer offset past msg.
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	return c.reader.CommitMessages(ctx, msg)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
