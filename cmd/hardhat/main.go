package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/hardhat/internal/alert"
	"github.com/ssd-technologies/hardhat/internal/config"
	"github.com/ssd-technologies/hardhat/internal/hub"
	"github.com/ssd-technologies/hardhat/internal/ingest"
	"github.com/ssd-technologies/hardhat/internal/logger"
	"github.com/ssd-technologies/hardhat/internal/metrics"
	"github.com/ssd-technologies/hardhat/internal/mirror"
	"github.com/ssd-technologies/hardhat/internal/mqttingest"
	"github.com/ssd-technologies/hardhat/internal/registry"
	"github.com/ssd-technologies/hardhat/internal/server"
	"github.com/ssd-technologies/hardhat/internal/state"
	"github.com/ssd-technologies/hardhat/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "hardhat")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("hardhat stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	persister, closePersister, err := openPersister(cfg)
	if err != nil {
		return err
	}
	defer closePersister()

	reg := registry.New(persister)
	n, err := reg.Load()
	if err != nil {
		return err
	}
	log.Info("registry loaded",
		zap.Int("workers", n),
		zap.String("backend", cfg.RegistryBackend),
		zap.String("path", cfg.RegistryPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	engine := alert.NewEngine(alert.Thresholds{
		TemperatureC: cfg.TemperatureThreshold,
		GasPPM:       cfg.GasThreshold,
	})
	limits := engine.Thresholds()
	log.Info("alert thresholds",
		zap.Float64("temperature_c", limits.TemperatureC),
		zap.Float64("gas_ppm", limits.GasPPM),
	)
	store := state.NewStore(engine, state.WithDirectory(reg))
	h := hub.New(func() any { return store.GetAll() },
		hub.WithLogger(log.Named("hub")),
		hub.WithMetrics(m),
	)

	svcOpts := []ingest.Option{
		ingest.WithLogger(log.Named("ingest")),
		ingest.WithMetrics(m),
		ingest.WithHeartbeatTimeout(cfg.HeartbeatTimeout),
	}

	mirrorDone := make(chan struct{})
	if cfg.Redis.Enabled() {
		client, err := mirror.Dial(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		mr := mirror.New(client, cfg.Redis.Buffer,
			mirror.WithLogger(log.Named("mirror")),
			mirror.WithMetrics(m),
		)
		svcOpts = append(svcOpts, ingest.WithSinks(mr))
		go func() {
			mr.Run(ctx)
			log.Info("redis mirror stopped", zap.Uint64("dropped", mr.Dropped()))
			close(mirrorDone)
		}()
		log.Info("redis mirror enabled", zap.String("addr", cfg.Redis.Addr))
	} else {
		close(mirrorDone)
	}

	svc := ingest.New(store, reg, h, svcOpts...)

	if cfg.MQTT.Enabled() {
		sub := mqttingest.New(cfg.MQTT, svc,
			mqttingest.WithLogger(log.Named("mqtt")),
			mqttingest.WithMetrics(m),
		)
		if err := sub.Connect(); err != nil {
			return err
		}
		defer sub.Close()
	}

	srv := server.New(svc, h, server.Config{
		StaticDir:       cfg.StaticDir,
		ClientBuffer:    cfg.ClientBuffer,
		IngestRateLimit: cfg.IngestRateLimit,
		WSRateLimit:     cfg.WSRateLimit,
		SweepInterval:   cfg.SweepInterval,
	}, server.WithLogger(log.Named("server")), server.WithMetrics(m))
	srv.StartWorkers(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
	}()

	log.Info("hardhat listening",
		zap.String("addr", "http://localhost:"+cfg.Port),
		zap.String("helmet_endpoint", "/api/sensor-data"),
		zap.String("realtime_endpoint", "/ws"),
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	<-mirrorDone
	return nil
}

// openPersister opens the configured registration backend.
func openPersister(cfg *config.Config) (registry.Persister, func(), error) {
	switch cfg.RegistryBackend {
	case config.BackendJSON:
		return registry.NewFileStore(cfg.RegistryPath), func() {}, nil
	default:
		db, err := storage.NewDB(cfg.RegistryPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open registry database: %w", err)
		}
		return db, func() { db.Close() }, nil
	}
}
