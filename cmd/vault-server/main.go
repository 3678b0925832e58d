// Package main is the entry point for the vault simulation server.
// It only handles dependency injection and server initialization.
// NO business logic belongs here.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/rules"
	"github.com/MRamiBalles/vaultsim/server/internal/engine"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/blob"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/cache"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/lock"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/notify"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/storage"
	"github.com/MRamiBalles/vaultsim/server/internal/network"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/config"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/metrics"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/optimization"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/otel"
)

func main() {
	addr := flag.String("addr", "", "listen address (overrides VAULT_ADDR)")
	profile := flag.String("profile", "", "optimization profile: default, stress or low (overrides VAULT_PROFILE)")
	balanceFile := flag.String("balance", "", "balance JSON file (overrides VAULT_BALANCE_FILE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[VAULT-SERVER] %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *profile != "" {
		cfg.Profile = *profile
	}
	if *balanceFile != "" {
		cfg.BalanceFile = *balanceFile
	}

	appLogger, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	if err != nil {
		log.Fatalf("[VAULT-SERVER] logger: %v", err)
	}
	defer appLogger.Sync()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("server stopped with error", zap.Error(err))
		appLogger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tuning, err := optimization.ForProfile(cfg.Profile)
	if err != nil {
		return err
	}
	balance, err := rules.LoadBalance(cfg.BalanceFile)
	if err != nil {
		return err
	}

	shutdownTracing, err := otel.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	m := metrics.New()

	appLogger.Info("Opening vault store...", zap.String("driver", cfg.DB.Driver))
	repo, closeDB, err := openStore(cfg.DB, tuning)
	if err != nil {
		return err
	}
	defer closeDB()

	hub := network.NewHub(appLogger, m, network.HubConfig{
		BroadcastBuffer: tuning.BroadcastChannelBuffer,
		ClientBuffer:    tuning.ClientSendBuffer,
		MaxPerVault:     tuning.MaxClientsPerVault,
	})
	sinks := []events.Sink{hub}

	var (
		leaser     lock.Leaser = lock.NewMemoryLeaser()
		vaultCache *cache.VaultCache
	)
	if cfg.Redis.Addr != "" {
		poolSize := cfg.Redis.PoolSize
		if poolSize == 0 {
			poolSize = tuning.RedisPoolSize
		}
		client := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, poolSize)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		leaser = lock.NewRedisLeaser(client, "")
		vaultCache = cache.NewVaultCache(cache.GoRedis{Client: client}, 0)
		sinks = append(sinks, notify.NewRedisStreamSink(client, cfg.Redis.Stream, cfg.Redis.MaxLen))
		appLogger.Info("Redis lease, cache and event stream enabled", zap.String("addr", cfg.Redis.Addr))
	} else {
		appLogger.Warn("No Redis configured; vault leases are process-local")
	}

	if cfg.MQTT.Broker != "" {
		mq, err := notify.NewMQTTClient(cfg.MQTT)
		if err != nil {
			return err
		}
		defer mq.Disconnect()
		sinks = append(sinks, notify.NewMQTTSink(mq, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS))
		appLogger.Info("MQTT event sink enabled", zap.String("broker", cfg.MQTT.Broker))
	}

	blobs, err := openBlobs(ctx, cfg.Blob)
	if err != nil {
		return err
	}

	orch := engine.NewOrchestrator(engine.Deps{
		Repo:       repo,
		Leaser:     leaser,
		Dispatcher: events.NewDispatcher(appLogger, m, sinks...),
		Blobs:      blobs,
		Cache:      vaultCache,
		Logger:     appLogger,
		Metrics:    m,
		Balance:    balance,
	}, engine.SettingsFromConfig(cfg.Tick))

	workers := cfg.Tick.Workers
	if workers == 0 {
		workers = tuning.TickWorkers
	}
	scheduler := engine.NewScheduler(orch, repo, nil, appLogger, m, engine.SchedulerConfig{
		Interval:    cfg.Tick.Interval,
		MinInterval: cfg.Tick.MinInterval,
		Workers:     workers,
		BatchLimit:  cfg.Tick.BatchLimit,
	})

	go hub.Run(ctx)
	go scheduler.Start(ctx)
	go adviseTuning(ctx, m, tuning, appLogger)

	mux := http.NewServeMux()
	network.NewVaultAPI(orch, engine.NewActions(orch), repo, hub, m, appLogger, cfg.AdminToken).RegisterRoutes(mux)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP API & WS Server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	appLogger.Info("Shutting down...")
	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(c config.DatabaseConfig, tuning *optimization.Config) (*storage.SQLRepository, func(), error) {
	maxOpen, maxIdle := c.MaxConns, c.MaxIdle
	if maxOpen == 0 {
		maxOpen = tuning.DBMaxOpenConns
	}
	if maxIdle == 0 {
		maxIdle = tuning.DBMaxIdleConns
	}

	switch c.Driver {
	case "postgres":
		db, err := storage.InitPostgres(c.GetDSN(), maxOpen, maxIdle)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewSQLRepository(db, storage.DialectPostgres), func() { db.Close() }, nil
	default:
		db, err := storage.InitSQLite(c.Path)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewSQLRepository(db, storage.DialectSQLite), func() { db.Close() }, nil
	}
}

func openBlobs(ctx context.Context, c config.BlobConfig) (blob.Store, error) {
	if c.Backend == "s3" {
		return blob.NewS3Store(ctx, blob.S3Config{
			Bucket:    c.Bucket,
			Prefix:    c.Prefix,
			Region:    c.Region,
			Endpoint:  c.Endpoint,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
			PathStyle: c.UsePathStyle,
		})
	}
	return blob.NewFSStore(c.Dir)
}

// adviseTuning logs sizing advice from the live metrics every few minutes.
func adviseTuning(ctx context.Context, m *metrics.Collector, current *optimization.Config, appLogger *logger.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec := optimization.Analyze(m.Snapshot())
			if len(rec.Notes) == 0 {
				continue
			}
			next := optimization.ApplyRecommendations(current, rec)
			appLogger.Warn("tuning advice",
				zap.Strings("notes", rec.Notes),
				zap.Int("tick_workers", next.TickWorkers),
				zap.Int("db_max_open_conns", next.DBMaxOpenConns),
				zap.Int("client_send_buffer", next.ClientSendBuffer))
		}
	}
}
