package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gomoku-match-core/aibridge"
	"gomoku-match-core/api"
	"gomoku-match-core/config"
	"gomoku-match-core/eventlog"
	"gomoku-match-core/loghandler"
	"gomoku-match-core/matchmaking"
	"gomoku-match-core/persistence"
	"gomoku-match-core/session"
	"gomoku-match-core/stats"
	"gomoku-match-core/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found; using environment variables.")
	}

	cfg := config.Load()
	log := slog.New(loghandler.NewCompactHandler(os.Stdout, slog.LevelInfo))
	slog.SetDefault(log)

	if cfg.AuthJWKSBaseURL == "" {
		log.Warn("AUTH_JWKS_BASE_URL is not set — websocket CONNECT and REST auth will reject all tokens", "tag", "main")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	historyStore, err := persistence.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect persistence store", "tag", "main", "err", err)
		os.Exit(1)
	}
	if historyStore != nil {
		defer historyStore.Close()
	}
	statsStore, err := stats.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect stats store", "tag", "main", "err", err)
		os.Exit(1)
	}
	if statsStore != nil {
		defer statsStore.Close()
	}

	producer := eventlog.NewProducer(eventlog.ProducerConfig{
		Brokers:    cfg.KafkaBrokers,
		Partitions: cfg.EventPartitions,
	}, log)
	defer producer.Close()

	sessions := session.NewStore(cfg.SessionTTL(), log)
	sessions.StartJanitor(5*time.Minute, func(s *session.GameSession) {
		log.Info("session abandoned by janitor", "tag", "main", "gameId", s.GameID)
	})
	defer sessions.Stop()

	aiClient := aibridge.NewClient(cfg.AIServiceURL, cfg.AITimeout())

	stateStore, err := matchmaking.OpenStateStore(cfg.StateDir)
	if err != nil {
		log.Error("failed to open matchmaking state store", "tag", "main", "err", err)
		os.Exit(1)
	}
	defer stateStore.Close()

	queueConsumer := eventlog.NewConsumer(eventlog.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   eventlog.TopicQueueEvents,
		GroupID: "matchmaking-aggregator",
	}, log)
	defer queueConsumer.Close()

	hub := ws.NewHub(cfg, sessions, nil, producer, aiClient, log)
	aggregator := matchmaking.NewAggregator(producer, queueConsumer, stateStore, cfg.AIPairTimeout(), hub.OnMatchCreated, log)
	hub.Aggregator = aggregator

	sessions.StartJanitor(5*time.Minute, func(s *session.GameSession) {
		log.Info("session abandoned by janitor", "tag", "main", "gameId", s.GameID)
		hub.Broadcast("/topic/game/"+s.GameID, ws.ToGameStateView(s))
	})
	defer sessions.Stop()

	go hub.Run(ctx)
	go aggregator.Run(ctx)
	go runPersistenceConsumer(ctx, cfg, historyStore, log)
	go runStatsConsumer(ctx, cfg, historyStore, statsStore, log)

	handler := api.NewHandler(cfg, sessions, aggregator, producer, historyStore, statsStore, aiClient)
	mux := http.NewServeMux()
	registerRoutes(mux, handler, hub)

	addr := fmt.Sprintf(":%d", cfg.WSPort)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info("gomoku match core listening", "tag", "main", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "tag", "main", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, draining", "tag", "main")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "tag", "main", "err", err)
	}
}

// registerRoutes wires §6's REST table plus the /ws upgrade endpoint.
func registerRoutes(mux *http.ServeMux, h *api.Handler, hub *ws.Hub) {
	mux.HandleFunc("/ws", hub.ServeWS)

	mux.HandleFunc("/api/auth/register", h.Register)
	mux.HandleFunc("/api/auth/login", h.Login)

	mux.HandleFunc("/api/game/create", h.CreateGame)
	mux.HandleFunc("/api/game/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/game/")
		parts := strings.Split(rest, "/")
		if len(parts) == 0 || parts[0] == "" {
			http.NotFound(w, r)
			return
		}
		gameID := parts[0]
		switch {
		case len(parts) == 1:
			h.GetGame(w, r, gameID)
		case len(parts) == 2 && parts[1] == "move":
			h.MoveGame(w, r, gameID)
		case len(parts) == 2 && parts[1] == "forfeit":
			h.ForfeitGame(w, r, gameID)
		case len(parts) == 2 && parts[1] == "moves":
			h.ListMoves(w, r, gameID)
		default:
			http.NotFound(w, r)
		}
	})

	mux.HandleFunc("/api/matchmaking/queue", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.JoinQueue(w, r)
		case http.MethodDelete:
			h.LeaveQueue(w, r)
		case http.MethodOptions:
			api.CORS(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/matchmaking/status", h.QueueStatus)

	mux.HandleFunc("/api/leaderboard", h.Leaderboard)
	mux.HandleFunc("/api/history", h.History)
}
