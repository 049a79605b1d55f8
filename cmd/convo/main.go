// Command convo runs the conversational bot: Telegram channel dispatch, the
// flow engine, the Gemini collaborator, and the SQLite stores.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/convo/channels"
	"github.com/hazyhaar/convo/config"
	"github.com/hazyhaar/convo/dbopen"
	"github.com/hazyhaar/convo/flow"
	"github.com/hazyhaar/convo/gemini"
	"github.com/hazyhaar/convo/observability"
	"github.com/hazyhaar/convo/store"
	_ "modernc.org/sqlite"
)

func main() {
	cfg, err := config.Load(env("CONVO_CONFIG", "config.yaml"))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// User store.
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Channels DB drives the dispatcher's hot-reload.
	chDB, err := dbopen.Open(cfg.ChannelsPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open channels db", "error", err)
		os.Exit(1)
	}
	defer chDB.Close()
	if err := channels.Init(chDB); err != nil {
		slog.Error("init channels schema", "error", err)
		os.Exit(1)
	}

	// Observability DB: flow events + heartbeats.
	evDB, err := dbopen.Open(cfg.EventsPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open events db", "error", err)
		os.Exit(1)
	}
	defer evDB.Close()
	if err := observability.Init(evDB); err != nil {
		slog.Error("init events schema", "error", err)
		os.Exit(1)
	}
	events := observability.NewEventLogger(evDB)

	// AI collaborator.
	ai, err := gemini.New(ctx, gemini.Config{
		APIKey:      cfg.Gemini.APIKey,
		TextModel:   cfg.Gemini.TextModel,
		VisionModel: cfg.Gemini.VisionModel,
		Timeout:     cfg.Gemini.Timeout,
		MaxRetries:  cfg.Gemini.MaxRetries,
	}, gemini.WithLogger(logger))
	if err != nil {
		slog.Error("gemini client", "error", err)
		os.Exit(1)
	}

	// Conversation engine.
	engine := flow.New(st, ai,
		flow.WithLogger(logger),
		flow.WithRecorder(&eventRecorder{log: events}),
	)

	// Dispatcher with per-sender ordered dispatch.
	d := channels.NewDispatcher(engine.Handle,
		channels.WithLogger(logger),
		channels.WithMaxConcurrent(16),
	)
	d.RegisterPlatform("telegram", channels.TelegramFactory())
	d.RegisterPlatform("webhook", channels.WebhookFactory())
	defer d.Close()

	// Seed the default Telegram channel when a token is configured. Further
	// channels are managed by editing the channels table directly.
	if cfg.Telegram.BotToken != "" {
		tgCfg, _ := json.Marshal(channels.TelegramConfig{
			BotToken:    cfg.Telegram.BotToken,
			PollTimeout: cfg.Telegram.PollTimeout,
		})
		admin := channels.NewAdmin(chDB)
		if err := admin.UpsertChannel(ctx, "tg_main", "telegram", true, tgCfg); err != nil {
			slog.Error("seed telegram channel", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("no telegram bot token configured; waiting for channels table entries")
	}

	go d.Watch(ctx, chDB, 200*time.Millisecond)

	// Liveness heartbeats.
	hb := observability.NewHeartbeatWriter(evDB, "convo", 15*time.Second)
	hb.Start(ctx)

	// Daily retention cleanup.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := observability.Cleanup(ctx, evDB, observability.RetentionConfig{
					EventsDays:     cfg.Retention.EventsDays,
					HeartbeatsDays: cfg.Retention.HeartbeatsDays,
				})
				if err != nil {
					slog.Error("retention cleanup", "error", err)
				}
			}
		}
	}()

	slog.Info("convo started",
		"store", cfg.StorePath,
		"channels", cfg.ChannelsPath,
		"text_model", cfg.Gemini.TextModel)

	<-ctx.Done()
	slog.Info("shutting down")
}

// eventRecorder bridges the flow engine's Recorder to the observability log.
type eventRecorder struct {
	log *observability.EventLogger
}

func (r *eventRecorder) Record(ctx context.Context, identity string, f flow.Flow, s flow.State, action string, success bool) {
	r.log.LogEvent(ctx, observability.FlowEvent{
		Identity: identity,
		Flow:     f.String(),
		State:    s.String(),
		Action:   action,
		Success:  success,
	})
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
