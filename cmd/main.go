package main

import (
	"chat-sync/contract"
	"chat-sync/infrastructure/bus"
	"chat-sync/infrastructure/remote"
	"chat-sync/infrastructure/storage"
	"chat-sync/internal"
	"chat-sync/observability"
	"chat-sync/runtime/workers"
	"chat-sync/services"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and owns their lifetime, so deferred cleanup
// always runs before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Change bus & remote store
	changeBus, err := openBus(log, config)
	if err != nil {
		return err
	}
	defer func() { _ = changeBus.Close() }()
	store := remote.NewStore(log,
		storage.NewMessageRepository(db, log),
		storage.NewChannelRepository(db, log),
		changeBus)

	// 4. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	recorder, err := observability.NewRecorder(registry)
	if err != nil {
		return fmt.Errorf("metrics registration failed: %w", err)
	}
	defer recorder.Close()

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Session
	identity := services.NewIdentityProvider(config.UserID)
	session := services.NewSession(log, store, identity, config.Session(), recorder)
	defer session.Close()
	if err = session.Start(ctx); err != nil {
		log.Error("Initial load failed, live sync will catch up", "error", err)
	}
	if config.DefaultChannel != "" && identity.CurrentUserID() != "" {
		if err = session.SelectChannel(ctx, config.DefaultChannel); err != nil {
			log.Warn("Default channel unavailable", "channel", config.DefaultChannel, "error", err)
		}
	}

	// 7. Supervised workers
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		workers.NewMetricsServerWorker(log, config.MetricsPort, registry),
		workers.NewReporterWorker(log, session, config.ReportInterval),
		workers.NewConsoleWorker(log, session, identity, os.Stdin, os.Stdout),
	)
	log.Info("Chat sync running", "user", identity.CurrentUserID(), "metrics_port", config.MetricsPort)
	sup.Run(ctx)

	log.Info("Program stopped cleanly")
	return nil
}

func openBus(log *slog.Logger, config internal.Config) (contract.IChangeBus, error) {
	if config.NatsURL == "" {
		log.Info("No NATS_URL, using the in-process change bus")
		return bus.NewHub(log), nil
	}
	natsBus, err := bus.NewNatsBus(log, bus.NatsConfig{
		URL:           config.NatsURL,
		Name:          config.NatsName,
		ReconnectWait: config.RetryBaseDelay,
		Timeout:       config.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("change bus failed: %w", err)
	}
	return natsBus, nil
}
