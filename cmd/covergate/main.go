package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/covergate/covergate/internal/audio"
	"github.com/covergate/covergate/internal/calllog"
	"github.com/covergate/covergate/internal/classify"
	"github.com/covergate/covergate/internal/config"
	"github.com/covergate/covergate/internal/dialogue"
	"github.com/covergate/covergate/internal/elevenlabs"
	"github.com/covergate/covergate/internal/events"
	"github.com/covergate/covergate/internal/openai"
	"github.com/covergate/covergate/internal/router"
	"github.com/covergate/covergate/internal/session"
	"github.com/covergate/covergate/internal/webhook"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("covergate starting", "port", cfg.Port)

	if err := cfg.Validate(); err != nil {
		slog.Error("missing configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// LLM clients: one for the dialogue persona, one for classification.
	llm := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.UpstreamTimeout)
	classifierLLM := openai.NewClient(cfg.OpenAIAPIKey, cfg.ClassifierModel, cfg.UpstreamTimeout)
	slog.Info("openai clients ready", "dialogue_model", cfg.OpenAIModel, "classifier_model", cfg.ClassifierModel)

	tts := elevenlabs.NewClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.VoiceStability, cfg.VoiceSimilarity, cfg.UpstreamTimeout)
	slog.Info("elevenlabs client ready", "voice_id", cfg.ElevenLabsVoiceID)

	// Session store: Redis when configured, in-process otherwise.
	var sessions session.Store
	if cfg.RedisURL != "" {
		rs, err := session.NewRedisStore(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rs.Close()
		sessions = rs
		slog.Info("redis session store ready", "ttl", cfg.SessionTTL)
	} else {
		ms := session.NewMemoryStore(cfg.SessionTTL)
		go ms.Sweep(ctx, cfg.SweepInterval, slog.Default())
		sessions = ms
		slog.Info("memory session store ready", "ttl", cfg.SessionTTL, "sweep", cfg.SweepInterval)
	}

	// Call log (optional — covergate works without it, just no audit trail).
	var callLog *calllog.Store
	if cfg.DatabaseURL != "" {
		cl, err := calllog.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer cl.Close()
		if err := cl.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure call log schema", "error", err)
			os.Exit(1)
		}
		callLog = cl
		slog.Info("call log connected")
	} else {
		slog.Warn("call log not configured — routing decisions will not be audited")
	}

	// Event publisher (optional).
	var publisher *events.Publisher
	if cfg.NatsURL != "" {
		pub, err := events.NewPublisher(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		publisher = pub
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured — running without call events")
	}

	engine := dialogue.NewEngine(llm, sessions, slog.Default())
	route := router.New(router.Numbers{
		Insured:   cfg.InsuredNumber,
		Uninsured: cfg.UninsuredNumber,
	}, slog.Default())
	classifier := classify.New(classifierLLM, slog.Default())
	clips := audio.NewCache(cfg.SessionTTL)

	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := clips.Cleanup(); n > 0 {
					slog.Info("expired audio clips", "count", n)
				}
			}
		}
	}()

	srv := webhook.NewServer(cfg.Port, webhook.Deps{
		Engine:            engine,
		Router:            route,
		Classifier:        classifier,
		TTS:               tts,
		STT:               classifierLLM,
		Sessions:          sessions,
		Locks:             session.NewCallLocks(),
		Audio:             clips,
		CallLog:           callLog,
		Events:            publisher,
		Logger:            slog.Default(),
		PublicBaseURL:     cfg.PublicBaseURL,
		TwilioAccountSID:  cfg.TwilioAccountSID,
		TwilioAuthToken:   cfg.TwilioAuthToken,
		TwilioPhoneNumber: cfg.TwilioPhoneNumber,
		UpstreamTimeout:   cfg.UpstreamTimeout,
	})

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("covergate ready", "port", cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("covergate stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
