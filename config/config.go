// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For source credentials, use ValidateSourceReady.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chat-indexer/backend/db"
	"github.com/onnwee/chat-indexer/backend/ingest"
)

const (
	defaultHTTPAddr      = ":8080"
	defaultBackfillLimit = 200
)

type Config struct {
	// Twitch
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchClientID     string
	TwitchClientSecret string

	// Monitored chats, consulted once at startup
	MonitoredChats ingest.MonitoredChats

	// Backfill
	BackfillOnStart    bool
	BackfillLimit      int
	BatchSize          int
	ResolveConcurrency int

	// Database
	DBDsn          string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnMaxLife  time.Duration

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// use ValidateSourceReady() when the live source is required.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	chats, err := ParseMonitoredChats(os.Getenv("MONITORED_CHATS"))
	if err != nil {
		return nil, fmt.Errorf("invalid MONITORED_CHATS: %w", err)
	}
	cfg.MonitoredChats = chats

	if v := os.Getenv("BACKFILL_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKFILL_ON_START: %w", err)
		}
		cfg.BackfillOnStart = b
	}
	if cfg.BackfillLimit, err = intEnv("BACKFILL_LIMIT", defaultBackfillLimit); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = intEnv("BATCH_SIZE", ingest.DefaultBatchSize); err != nil {
		return nil, err
	}
	if cfg.ResolveConcurrency, err = intEnv("RESOLVE_CONCURRENCY", ingest.DefaultResolveConcurrency); err != nil {
		return nil, err
	}

	// DB
	cfg.DBDsn = os.Getenv("DB_DSN")
	if cfg.DBDsn == "" {
		// Default to local Postgres (matches docker-compose).
		cfg.DBDsn = db.DefaultDSN
	}
	if cfg.DBMaxOpenConns, err = intEnv("DB_MAX_OPEN_CONNS", 0); err != nil {
		return nil, err
	}
	if cfg.DBMaxIdleConns, err = intEnv("DB_MAX_IDLE_CONNS", 0); err != nil {
		return nil, err
	}
	if v := os.Getenv("DB_CONN_MAX_LIFETIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
		}
		cfg.DBConnMaxLife = d
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}

	return cfg, nil
}

// ValidateSourceReady checks the credentials the Twitch source needs: app
// credentials for Helix lookups and a bot login for live chat.
func (c *Config) ValidateSourceReady() error {
	var missing []string
	for name, v := range map[string]string{
		"TWITCH_CLIENT_ID":     c.TwitchClientID,
		"TWITCH_CLIENT_SECRET": c.TwitchClientSecret,
		"TWITCH_BOT_USERNAME":  c.TwitchBotUsername,
		"TWITCH_OAUTH_TOKEN":   c.TwitchOAuthToken,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing twitch env: require %s", strings.Join(missing, ", "))
	}
	if len(c.MonitoredChats) == 0 {
		return fmt.Errorf("MONITORED_CHATS is empty")
	}
	return nil
}

// ParseMonitoredChats parses "id=name,id=name". Whitespace around entries is
// ignored; a later duplicate id overrides an earlier one.
func ParseMonitoredChats(s string) (ingest.MonitoredChats, error) {
	out := ingest.MonitoredChats{}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idStr, name, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q: want id=name", entry)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry, err)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("entry %q: empty name", entry)
		}
		out[id] = name
	}
	return out, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}
