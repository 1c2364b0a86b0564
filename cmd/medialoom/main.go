package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/medialoom/medialoom/internal/acquire"
	"github.com/medialoom/medialoom/internal/config"
	"github.com/medialoom/medialoom/internal/database"
	"github.com/medialoom/medialoom/internal/download"
	"github.com/medialoom/medialoom/internal/downloadclient"
	"github.com/medialoom/medialoom/internal/events"
	"github.com/medialoom/medialoom/internal/logger"
	"github.com/medialoom/medialoom/internal/scheduler"
	"github.com/medialoom/medialoom/internal/store"
	"github.com/medialoom/medialoom/internal/transcode"
)

func main() {
	// .env values feed the MEDIALOOM_* environment overrides.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	stream := logger.NewStreamWriter(nil, 0)

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Path:   cfg.Logging.Path,
		Stream: stream,
	})
	defer log.Close()

	bus := events.NewBus(log.Logger)
	stream.SetPublisher(bus)

	log.Info().
		Str("logLevel", cfg.Logging.Level).
		Str("database", cfg.Database.Path).
		Msg("Starting medialoom")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	st := store.New(db.Conn())
	registry := downloadclient.DefaultRegistry()

	var settings acquire.SettingsProvider
	var antiBot acquire.AntiBotFetcher
	if cfg.Downloads.FlareSolverrURL != "" {
		antiBot = acquire.NewFlareSolverr(cfg.Downloads.FlareSolverrURL, log.Logger)
		settings = acquire.StaticSettings{UseAntiBot: true}
		log.Info().Str("endpoint", cfg.Downloads.FlareSolverrURL).Msg("Anti-bot fetching enabled")
	}
	resolver := acquire.NewResolver(settings, antiBot, log.Logger)

	downloadService := download.NewService(st, registry, resolver, bus, log.Logger)
	transcodeManager := transcode.NewManager(st, nil, nil, bus, log.Logger)

	broadcaster := download.NewBroadcaster(downloadService, bus, log.Logger)
	broadcaster.Start()
	defer broadcaster.Stop()

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	if err := sched.Register(scheduler.Task{
		ID:       "status-refresh",
		Name:     "Download status refresh",
		Interval: cfg.Downloads.StatusRefreshInterval,
		Func: func(ctx context.Context) error {
			broadcaster.Trigger()
			return nil
		},
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule status refresh")
	}

	if err := sched.Register(scheduler.Task{
		ID:         "transcode-eviction",
		Name:       "Stale transcode eviction",
		Interval:   cfg.Transcode.EvictionInterval,
		RunOnStart: true,
		Func: func(ctx context.Context) error {
			_, err := transcodeManager.EvictStale(ctx, cfg.Transcode.EvictionAge)
			return err
		},
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule transcode eviction")
	}

	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Warn().Err(err).Msg("Scheduler shutdown failed")
		}
	}()

	log.Info().Msg("medialoom started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")
}
