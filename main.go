// Command backend is the entrypoint of the chat indexer.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres, verifies connectivity and bootstraps the schema.
//   - Optionally backfills recent history of every monitored chat.
//   - Writes live messages of monitored chats as they arrive.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /chats and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/chat-indexer/backend/chat"
	"github.com/onnwee/chat-indexer/backend/config"
	"github.com/onnwee/chat-indexer/backend/db"
	"github.com/onnwee/chat-indexer/backend/ingest"
	"github.com/onnwee/chat-indexer/backend/server"
	"github.com/onnwee/chat-indexer/backend/telemetry"
	"github.com/onnwee/chat-indexer/backend/twitch"
	"github.com/onnwee/chat-indexer/backend/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateSourceReady(); err != nil {
		slog.Error("source not configured", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chat-indexer", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()
	slog.Info("telemetry initialized", slog.Bool("tracing", telemetry.IsTracingEnabled()))

	// DB
	database, err := db.Connect(cfg.DBDsn, db.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLife,
	})
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.Ping(context.Background(), database, 10*time.Second); err != nil {
		slog.Error("database unreachable", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("database connected")

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	// Best-effort early token fetch so credential problems show up at startup.
	ctx2, cancel := context.WithTimeout(ctx, 8*time.Second)
	if tok, err := tokens.Get(ctx2); err != nil {
		slog.Warn("twitch app token fetch failed", slog.Any("err", err))
	} else if len(tok) > 6 {
		slog.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
	}
	cancel()

	registry := ingest.NewRegistry(database, cfg.MonitoredChats)
	telemetry.SetMonitoredChats(registry.Len())
	chats := registry.Chats()
	chatIDs := make([]int64, 0, len(chats))
	for _, c := range chats {
		chatIDs = append(chatIDs, c.ID)
	}
	slog.Info("monitoring chats", slog.Int("chat_count", len(chats)), slog.Any("chats", chats))

	source := &twitch.Source{
		Helix:       &twitchapi.HelixClient{AppTokenSource: tokens, ClientID: cfg.TwitchClientID},
		BotUsername: cfg.TwitchBotUsername,
		OAuthToken:  cfg.TwitchOAuthToken,
		ChatIDs:     chatIDs,
	}
	indexer := &chat.Indexer{
		Source:        source,
		Registry:      registry,
		Writer:        ingest.NewWriter(database, source, ingest.WithResolveConcurrency(cfg.ResolveConcurrency)),
		BackfillLimit: cfg.BackfillLimit,
		BatchSize:     cfg.BatchSize,
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	workers := []func(context.Context){
		// HTTP server (health/readiness/chats/metrics)
		func(ctx context.Context) {
			if err := server.Start(ctx, database, registry, cfg.HTTPAddr); err != nil {
				slog.Error("http server exited with error", slog.Any("err", err))
			}
		},
		func(ctx context.Context) {
			if err := indexer.Run(ctx); err != nil {
				slog.Error("live indexing stopped", slog.Any("err", err))
				stop()
			}
		},
	}
	if cfg.BackfillOnStart {
		workers = append(workers, func(ctx context.Context) {
			if err := indexer.Backfill(ctx); err != nil {
				slog.Warn("backfill finished with failures", slog.Any("err", err))
				return
			}
			slog.Info("backfill finished")
		})
	} else {
		slog.Info("backfill disabled (BACKFILL_ON_START not set)")
	}

	runWorkers(ctx, workers...)
	slog.Info("shutdown complete")
}

// runWorkers starts every worker and, once ctx is done, waits for all of them
// to return.
func runWorkers(ctx context.Context, workers ...func(context.Context)) {
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w(ctx)
		}()
	}

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()
}
