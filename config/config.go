package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all configurable parameters for the session/matchmaking core.
type Config struct {
	WSPort int `json:"ws_port"`

	// SessionTTL is the idle duration after which a live GameSession becomes
	// eligible for eviction.
	SessionTTLSec int `json:"session_ttl_sec"`
	// ReconnectGraceSec is the grace window after a connection drop before
	// the session is forfeited to the opponent.
	ReconnectGraceSec int `json:"reconnect_grace_sec"`

	// AIServiceURL is the external AI oracle's base URL; the AI Bridge posts
	// move requests to AIServiceURL + "/move".
	AIServiceURL string `json:"ai_service_url"`
	AITimeoutSec int    `json:"ai_timeout_sec"`
	// AIPairTimeoutSec bounds how long a waiting matchmaking entry waits for
	// a human partner before being paired against the AI instead.
	AIPairTimeoutSec int `json:"ai_pair_timeout_sec"`

	// AuthJWKSBaseURL is the Auth Provider base URL used to validate bearer tokens.
	AuthJWKSBaseURL   string `json:"auth_jwks_base_url"`
	JWTExpirySec      int    `json:"jwt_expiry_sec"`
	JWTRefreshExpSec  int    `json:"jwt_refresh_expiry_sec"`

	// DatabaseURL configures the Persistence Consumer / Stats Updater. Empty
	// disables persistence entirely (optional downstream tail).
	DatabaseURL string `json:"database_url"`

	// KafkaBrokers are the Event Log bootstrap servers.
	KafkaBrokers    []string `json:"kafka_brokers"`
	EventPartitions int      `json:"event_partitions"`
	EventRetention  string   `json:"event_retention"`

	// StateDir is the Matchmaking Aggregator's durable state store path.
	StateDir string `json:"state_dir"`
}

// SessionTTL returns the configured session TTL as a time.Duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSec) * time.Second
}

// ReconnectGrace returns the configured reconnect grace window.
func (c *Config) ReconnectGrace() time.Duration {
	return time.Duration(c.ReconnectGraceSec) * time.Second
}

// AITimeout returns the configured AI Bridge request timeout.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AITimeoutSec) * time.Second
}

// AIPairTimeout returns the configured matchmaking-to-AI fallback timeout.
func (c *Config) AIPairTimeout() time.Duration {
	return time.Duration(c.AIPairTimeoutSec) * time.Second
}

// Defaults returns a Config populated with the values named in the spec.
func Defaults() *Config {
	return &Config{
		WSPort:            8080,
		SessionTTLSec:     2 * 60 * 60,
		ReconnectGraceSec: 120,
		AIServiceURL:      "http://localhost:9090",
		AITimeoutSec:      30,
		AIPairTimeoutSec:  15,
		JWTExpirySec:      15 * 60,
		JWTRefreshExpSec:  7 * 24 * 60 * 60,
		KafkaBrokers:      []string{"localhost:9092"},
		EventPartitions:   3,
		EventRetention:    "168h", // 7 days
		StateDir:          "./data/matchmaking-state",
	}
}

// Load reads configuration from an optional config.json file, then applies
// environment variable overrides. Fields absent from both sources retain
// their default values.
func Load() *Config {
	cfg := Defaults()

	if f, err := os.Open("config.json"); err == nil {
		defer f.Close()
		if err := json.NewDecoder(f).Decode(cfg); err != nil {
			log.Printf("Warning: failed to parse config.json: %v", err)
		}
	}

	overrideInt(&cfg.WSPort, "WS_PORT")
	overrideInt(&cfg.SessionTTLSec, "SESSION_TTL_SEC")
	overrideInt(&cfg.ReconnectGraceSec, "RECONNECT_GRACE_SEC")
	overrideString(&cfg.AIServiceURL, "AI_SERVICE_URL")
	overrideInt(&cfg.AITimeoutSec, "AI_TIMEOUT_SEC")
	overrideInt(&cfg.AIPairTimeoutSec, "AI_PAIR_TIMEOUT_SEC")
	overrideString(&cfg.AuthJWKSBaseURL, "AUTH_JWKS_BASE_URL")
	overrideInt(&cfg.JWTExpirySec, "JWT_EXPIRY_SEC")
	overrideInt(&cfg.JWTRefreshExpSec, "JWT_REFRESH_EXPIRY_SEC")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideInt(&cfg.EventPartitions, "EVENT_PARTITIONS")
	overrideString(&cfg.EventRetention, "EVENT_RETENTION")
	overrideString(&cfg.StateDir, "STATE_DIR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitCSV(brokers)
	}

	return cfg
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func overrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*field = n
		} else {
			log.Printf("Warning: invalid value for %s: %q", envKey, val)
		}
	}
}

func overrideString(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}
