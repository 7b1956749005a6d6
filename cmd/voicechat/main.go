package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/voice-relay/internal/blob"
	"github.com/skypro1111/voice-relay/internal/capture"
	"github.com/skypro1111/voice-relay/internal/chat"
	"github.com/skypro1111/voice-relay/internal/config"
	"github.com/skypro1111/voice-relay/internal/dispatch"
	"github.com/skypro1111/voice-relay/internal/metrics"
	"github.com/skypro1111/voice-relay/internal/server"
	"github.com/skypro1111/voice-relay/internal/session"
	"github.com/skypro1111/voice-relay/internal/store"
	"github.com/skypro1111/voice-relay/internal/tts"
	"github.com/skypro1111/voice-relay/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-relay"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Client starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("webhook_url", cfg.Webhook.URL),
		slog.Int("max_retries", cfg.Webhook.MaxRetries),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("vad_threshold", cfg.VAD.Threshold),
		slog.Float64("silence_duration", cfg.VAD.SilenceDuration),
		slog.Bool("conversation_mode", cfg.Session.ConversationMode),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("log_level", cfg.Logging.Level),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Client failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Client stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(registry)

	history, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer history.Close()

	blobs := blob.NewStore(cfg.Store.MaxBlobs)

	client, err := dispatch.NewClient(dispatchConfig(cfg.Webhook), dispatch.Dependencies{
		Blobs:   blobs,
		Logger:  logger.With("component", "dispatch"),
		Metrics: appMetrics,
	})
	if err != nil {
		return fmt.Errorf("create dispatch client: %w", err)
	}

	narrator := tts.NewNarrator(
		newSynthesizer(cfg.TTS),
		tts.CommandPlayer{Command: cfg.TTS.PlayerCommand},
		speakerFor(cfg.TTS.SpeakerCommand),
		logger.With("component", "tts"),
		appMetrics,
	)

	out := newConsole(os.Stdout)

	var feed *server.Feed
	if cfg.HTTP.Enabled {
		feed = server.NewFeed(logger.With("component", "feed"))
	}

	chatSvc, err := chat.NewService(chat.Dependencies{
		Sender:   client,
		Store:    history,
		Narrator: narrator,
		Blobs:    blobs,
		Logger:   logger.With("component", "chat"),
		Metrics:  appMetrics,
		OnMessage: func(m store.Message) {
			out.printMessage(m)
			feed.PublishMessage(m)
		},
	})
	if err != nil {
		return fmt.Errorf("create chat service: %w", err)
	}
	if err := chatSvc.Load(ctx); err != nil {
		return err
	}
	settings, err := seedSettings(ctx, chatSvc, cfg)
	if err != nil {
		return err
	}

	controller, err := session.NewController(session.Config{
		RestartDelay:     cfg.Session.GetRestartDelay(),
		ConversationMode: cfg.Session.ConversationMode || settings.ConversationMode,
		VAD: vad.Config{
			Threshold:       cfg.VAD.Threshold,
			SilenceDuration: cfg.VAD.GetSilenceDuration(),
			FrameInterval:   cfg.VAD.GetFrameInterval(),
			FrameSize:       cfg.VAD.FrameSize,
		},
	}, session.Dependencies{
		Microphone: capture.NewPortAudio(capture.Config{
			SampleRate:      cfg.Audio.SampleRate,
			Channels:        cfg.Audio.Channels,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
			ChunkBuffer:     cfg.Audio.ChunkBuffer,
			AnalyserSize:    cfg.VAD.FrameSize,
		}, logger.With("component", "capture")),
		Sender:  chatSvc,
		Logger:  logger.With("component", "session"),
		Metrics: appMetrics,
		OnEvent: func(ev session.Event) {
			out.printEvent(ev)
			feed.PublishSession(ev)
			// Dispatch failures already have an error entry in history.
			if ev.Type == session.EventSendFailed && !errors.Is(ev.Err, dispatch.ErrDispatch) {
				chatSvc.ReportError(ctx, ev.Err)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("create session controller: %w", err)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(server.Config{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
		}, server.Dependencies{
			Chat:     chatSvc,
			Recorder: controller,
			Dispatch: client,
			Blobs:    blobs,
			Feed:     feed,
			Gatherer: registry,
			Logger:   logger.With("component", "http"),
			Metrics:  appMetrics,
		})
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("start HTTP server: %w", err)
		}
	}

	for _, m := range chatSvc.History() {
		out.printMessage(m)
	}
	out.printHelp()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	repl := &repl{
		chat:     chatSvc,
		recorder: controller,
		out:      out,
		logger:   logger,
	}
	replDone := make(chan struct{})
	go func() {
		defer close(replDone)
		repl.run(ctx, os.Stdin)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-replDone:
		logger.Info("Input closed, shutting down")
	}

	logger.Info("Starting graceful shutdown...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := controller.Close(); err != nil {
		logger.Error("Error closing session controller", slog.String("error", err.Error()))
	}

	repl.wait()

	if err := chatSvc.Close(shutdownCtx); err != nil {
		logger.Error("Error saving chat state", slog.String("error", err.Error()))
	}

	sessionStats := controller.GetStats()
	dispatchStats := client.GetStats()
	logger.Info("Final client statistics",
		slog.Uint64("sessions_started", sessionStats.SessionsStarted),
		slog.Uint64("sessions_sent", sessionStats.SessionsSent),
		slog.Uint64("auto_stops", sessionStats.AutoStops),
		slog.Uint64("dispatch_requests", dispatchStats.TotalRequests),
		slog.Uint64("dispatch_failures", dispatchStats.FailedRequests),
		slog.Uint64("dispatch_retries", dispatchStats.TotalRetries),
	)

	return nil
}

// dispatchConfig maps the webhook section onto the client. A configured zero
// means no retries.
func dispatchConfig(cfg config.WebhookConfig) dispatch.Config {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = dispatch.NoRetries
	}
	return dispatch.Config{
		Endpoint:         cfg.URL,
		Timeout:          cfg.GetTimeoutDuration(),
		MaxRetries:       maxRetries,
		BaseBackoff:      cfg.GetBaseBackoff(),
		MaxResponseBytes: cfg.MaxResponseBytes,
		UserAgent:        serviceName + "/" + serviceVersion,
	}
}

// newSynthesizer builds the speech client with its own timeout-bound HTTP client.
func newSynthesizer(cfg config.TTSConfig) *tts.ElevenLabs {
	return tts.NewElevenLabs(tts.Config{
		ModelID:         cfg.ModelID,
		Stability:       cfg.Stability,
		SimilarityBoost: cfg.SimilarityBoost,
		Timeout:         cfg.GetTimeoutDuration(),
	}, nil)
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil
	default:
		s, err := store.NewSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return s, nil
	}
}

func speakerFor(command []string) tts.Speaker {
	if len(command) == 0 {
		return nil
	}
	return tts.CommandSpeaker{Command: command}
}

// seedSettings fills narration credentials from configuration when the user
// has not saved any.
func seedSettings(ctx context.Context, svc *chat.Service, cfg *config.Config) (store.Settings, error) {
	current := svc.Settings()
	if current.APIKey != "" || cfg.TTS.APIKey == "" {
		return current, nil
	}

	return svc.UpdateSettings(ctx, func(s *store.Settings) {
		s.APIKey = cfg.TTS.APIKey
		if s.VoiceID == "" {
			s.VoiceID = cfg.TTS.VoiceID
		}
		if cfg.TTS.Endpoint != "" {
			s.TTSEndpoint = cfg.TTS.Endpoint
		}
	})
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// stdout carries the chat transcript, so logs default to stderr.
	var output *os.File
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
