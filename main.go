// Command twitch-chat-metrics follows one Twitch channel's chat and keeps
// live analytics over it. It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres, runs migrations and records chat rows.
//   - Loads the settings file and restarts ingestion whenever the channel changes.
//   - Fans normalized chat events out to the overview, giveaway, history and
//     live feed consumers through a single delivery boundary.
//   - Exposes an HTTP API with /healthz, /status, /metrics and the analytics views.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/twitch-chat-metrics/analytics"
	"github.com/onnwee/twitch-chat-metrics/chat"
	"github.com/onnwee/twitch-chat-metrics/config"
	"github.com/onnwee/twitch-chat-metrics/db"
	"github.com/onnwee/twitch-chat-metrics/server"
	"github.com/onnwee/twitch-chat-metrics/settings"
	"github.com/onnwee/twitch-chat-metrics/store"
	"github.com/onnwee/twitch-chat-metrics/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		telemetry.InitLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	telemetry.InitLogger(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	shutdownTracing, err := telemetry.InitTracing(context.Background(), telemetry.TracingOptions{
		ServiceName:    "twitch-chat-metrics",
		ServiceVersion: cfg.ServiceVersion,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Error("tracer shutdown failed", slog.Any("err", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB (optional)
	var database *sql.DB
	var sender store.BatchSender
	if cfg.RecorderEnabled() {
		pool, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer pool.Close()
		database = db.SQL(pool)
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()

		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.Prepare(database, func() error { return db.Migrate(ctx, database) }); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
		sender = pool
	} else {
		slog.Info("chat recorder disabled (DB_DSN not set)")
	}

	// Settings
	source, err := settings.NewSource(cfg.SettingsFile, settings.Settings{TwitchChannel: cfg.TwitchChannel})
	if err != nil {
		slog.Error("failed to load settings", slog.String("path", cfg.SettingsFile), slog.Any("err", err))
		os.Exit(1)
	}
	source.Watch()

	// Consumers and delivery boundary
	overview := analytics.NewOverview()
	giveaway := analytics.NewGiveaway("")
	history := analytics.NewHistory(source.Current().ChatBuffer)
	feed := analytics.NewFeed()
	consumers := []chat.Consumer{overview, giveaway, history, feed}

	var recorder *store.Recorder
	if sender != nil {
		recorder = store.NewRecorder(ctx, sender, store.BatchConfig{
			MaxBatch:     cfg.RecorderMaxBatch,
			FlushEvery:   cfg.RecorderFlushEvery,
			QueueSize:    cfg.RecorderQueueSize,
			FlushTimeout: cfg.RecorderFlushTimeout,
		}, nil)
		consumers = append(consumers, recorder)
	}

	dispatcher := chat.NewDispatcher(cfg.ChatQueueSize, consumers...)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(ctx)
	}()

	supervisor, err := chat.NewSupervisor(chat.SupervisorConfig{
		Dial: chat.DialIRC(chat.IRCOptions{
			Address:     cfg.IRCAddress,
			DisableTLS:  !cfg.IRCTLS,
			JoinTimeout: cfg.ChatJoinTimeout,
		}),
		Boundary: dispatcher,
	})
	if err != nil {
		slog.Error("failed to create supervisor", slog.Any("err", err))
		os.Exit(1)
	}

	go followSettings(ctx, source, dispatcher, history, supervisor)

	startPprof()

	handler := server.NewMux(ctx, server.Deps{
		Supervisor: supervisor,
		Dispatcher: dispatcher,
		Overview:   overview,
		Giveaway:   giveaway,
		History:    history,
		Feed:       feed,
		Settings:   source,
		DB:         database,
	}, cfg)
	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, handler); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := supervisor.Close(closeCtx); err != nil {
		slog.Warn("sessions did not stop in time", slog.Any("err", err))
	}
	<-dispatcherDone
	if recorder != nil {
		select {
		case <-recorder.Done():
		case <-closeCtx.Done():
			slog.Warn("recorder did not flush in time")
		}
	}
}

// followSettings applies every settings change: the history is resized on
// the dispatcher goroutine and ingestion restarts on the (possibly same)
// channel, which also resets every consumer.
func followSettings(ctx context.Context, source *settings.Source, d *chat.Dispatcher, history *analytics.History, sup *chat.Supervisor) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-source.Updates():
			if err := d.Do(ctx, func() { history.SetCapacity(st.ChatBuffer) }); err != nil {
				slog.Warn("resize history failed", slog.Any("err", err))
			}
			if err := sup.Apply(ctx, chat.ChannelChanged{Channel: st.TwitchChannel}); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("restart chat session failed", slog.String("channel", st.TwitchChannel), slog.Any("err", err))
			}
		}
	}
}

// startPprof enables profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
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
