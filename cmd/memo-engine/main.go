package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/memo-engine/internal/api"
	"github.com/snarg/memo-engine/internal/catalog"
	"github.com/snarg/memo-engine/internal/config"
	"github.com/snarg/memo-engine/internal/device/portaudio"
	"github.com/snarg/memo-engine/internal/engine"
	"github.com/snarg/memo-engine/internal/events"
	"github.com/snarg/memo-engine/internal/metrics"
	"github.com/snarg/memo-engine/internal/mqttclient"
	"github.com/snarg/memo-engine/internal/storage"
	"github.com/snarg/memo-engine/internal/transcribe"
)

var version = "dev"

// stats feeds the scrape-time gauges.
type stats struct {
	*engine.Engine
	bus *events.Bus
}

func (s stats) SSESubscriberCount() int { return s.bus.SubscriberCount() }

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&overrides.DataDir, "data-dir", "", "Directory holding the catalog and recordings")
	flag.StringVar(&overrides.AudioDir, "audio-dir", "", "Directory for recordings (default data dir)")
	flag.StringVar(&overrides.WhisperURL, "whisper-url", "", "Whisper transcription endpoint")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("memo-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.DataDir, cfg.AudioDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create data directory")
		}
	}

	// Storage
	storeLog := log.With().Str("component", "storage").Logger()
	store, services, err := storage.New(cfg.S3, cfg.AudioDir, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	for _, svc := range services {
		svc.Start()
	}
	recordings := storage.NewRecordings(store)
	log.Info().Str("type", store.Type()).Str("dir", cfg.AudioDir).Msg("recording storage ready")

	// Events
	bus := events.NewBus(cfg.EventRingSize)

	// Catalog
	cat := catalog.Open(catalog.Options{
		Store:    catalog.NewFileStore(cfg.CatalogFile),
		Locate:   recordings.Location,
		OnChange: bus.CatalogChanged,
		Log:      log.With().Str("component", "catalog").Logger(),
	})
	var watcher *catalog.Watcher
	if cfg.WatchCatalog {
		watcher = catalog.NewWatcher(cat, cfg.CatalogFile, log)
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("catalog watcher disabled")
			watcher = nil
		}
	}

	// Transcription backend
	backend, err := transcribe.NewBackend(transcribe.BackendOptions{
		Provider:           cfg.STTProvider,
		SampleRate:         cfg.STTSampleRate,
		WhisperURL:         cfg.WhisperURL,
		WhisperModel:       cfg.WhisperModel,
		Language:           cfg.WhisperLanguage,
		ElevenLabsAPIKey:   cfg.ElevenLabsAPIKey,
		ElevenLabsModel:    cfg.ElevenLabsModel,
		ElevenLabsKeyterms: cfg.ElevenLabsKeyterms,
		Timeout:            cfg.WhisperTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure transcription backend")
	}

	// Audio devices
	host, err := portaudio.Open()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audio")
	}

	// Engine
	eng, err := engine.New(engine.Options{
		Host:              host,
		Catalog:           cat,
		Recordings:        recordings,
		Transcriber:       backend,
		Prompt:            cfg.STTPrompt,
		TranscribeTimeout: cfg.WhisperTimeout,
		STTSampleRate:     cfg.STTSampleRate,
		STTMaxSeconds:     cfg.STTMaxSeconds,
		STTPollInterval:   cfg.STTPollInterval,
		PublishEvent:      bus.PublishMap,
		OnError: func(pipeline, id string, err error) {
			log.Warn().Err(err).Str("pipeline", pipeline).Str("id", id).Msg("pipeline reported an error")
		},
		Log: log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start audio pipelines")
	}

	prometheus.MustRegister(metrics.NewCollector(stats{Engine: eng, bus: bus}))

	// MQTT
	var mqtt *mqttclient.Client
	if cfg.MQTT.Enabled() {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			Log:         mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		mqtt.SetMessageHandler(mqttclient.CommandHandler(cfg.MQTT.TopicPrefix, eng, mqttLog))
		bus.Forward(mqtt.Forward)
	}

	// HTTP Server
	opts := api.ServerOptions{
		Config:    cfg,
		Engine:    eng,
		Events:    bus,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	}
	if mqtt != nil {
		opts.MQTT = mqtt
	}
	srv := api.NewServer(opts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	// Pipelines flush pending work into the catalog before it closes.
	eng.Close()
	if watcher != nil {
		watcher.Stop()
	}
	cat.Close()

	// Deliver the last catalog events before the broker connection goes.
	bus.Close()
	if mqtt != nil {
		mqtt.Close()
	}
	for _, svc := range services {
		svc.Stop()
	}
	if err := host.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to terminate audio")
	}

	log.Info().Msg("memo-engine stopped")
}
