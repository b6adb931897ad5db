package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/komunitin/komunitin-sub000/internal/accounting"
	"github.com/komunitin/komunitin-sub000/internal/api"
	"github.com/komunitin/komunitin-sub000/internal/config"
	"github.com/komunitin/komunitin-sub000/internal/data/cache"
	"github.com/komunitin/komunitin-sub000/internal/data/postgres"
	"github.com/komunitin/komunitin-sub000/internal/features/creditonpayment"
	"github.com/komunitin/komunitin-sub000/internal/federation"
	"github.com/komunitin/komunitin-sub000/internal/keystore"
	"github.com/komunitin/komunitin-sub000/internal/logger"
	"github.com/komunitin/komunitin-sub000/internal/platform/persistence"
	"github.com/komunitin/komunitin-sub000/internal/settlement"
	"github.com/komunitin/komunitin-sub000/internal/settlement/horizon"
)

func main() {
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("accounting_api")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)
	log.Info("Starting accounting API", "app_name", cfg.Application.Name, "env", cfg.Application.Env)

	if cfg.Postgres.MigrationsPath != "" {
		if err := persistence.RunMigrations(log, cfg.Postgres.URL, cfg.Postgres.MigrationsPath); err != nil {
			log.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}
	}

	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	redisDB, err := persistence.NewRedis(appCtx, log, &cfg.Redis)
	if err != nil {
		log.Error("Failed to initialize Redis", "error", err)
		os.Exit(1)
	}

	masterKey, err := keystore.MasterKey(cfg.Security.MasterPassword, cfg.Security.MasterSalt)
	if err != nil {
		log.Error("Failed to derive master key", "error", err)
		os.Exit(1)
	}
	sponsor, err := settlement.KeypairFromSecret(cfg.Security.SponsorSecret)
	if err != nil {
		log.Error("Failed to parse sponsor secret", "error", err)
		os.Exit(1)
	}
	channels, err := channelKeys(masterKey, cfg.Settlement.Channels)
	if err != nil {
		log.Error("Failed to derive channel accounts", "error", err)
		os.Exit(1)
	}

	network := horizon.NewClient(log, cfg.Settlement.HorizonURL, cfg.Settlement.HTTPTimeout)
	settlementCfg := settlement.DefaultConfig()
	settlementCfg.NetworkPassphrase = cfg.Settlement.NetworkPassphrase
	settlementCfg.Domain = cfg.Settlement.Domain
	settlementCfg.TransactionTimeout = cfg.Settlement.TransactionTimeout
	settlementCfg.RateLimit = cfg.Settlement.RateLimit
	if cfg.Settlement.RateWindow > 0 {
		settlementCfg.RateWindow = cfg.Settlement.RateWindow
	}
	if cfg.Settlement.QuoteRetries > 0 {
		settlementCfg.QuoteRetries = cfg.Settlement.QuoteRetries
		settlementCfg.QuoteRetryInterval = cfg.Settlement.QuoteRetryInterval
	}
	ledger := settlement.NewClient(log, network, settlementCfg, channels)
	if err := ledger.EnsureChannels(appCtx, sponsor); err != nil {
		log.Error("Failed to set up channel accounts", "error", err)
		os.Exit(1)
	}

	bus, err := accounting.NewEventBus(log, cfg.WorkerPool.Size)
	if err != nil {
		log.Error("Failed to create event bus", "error", err)
		os.Exit(1)
	}

	store := postgres.NewStore(log, postgresDB)
	accountingService := accounting.NewService(log, store, ledger, bus, accounting.Config{
		BaseURL:    cfg.Federation.BaseURL,
		MasterKey:  masterKey,
		Sponsor:    sponsor,
		HTTPClient: &http.Client{Timeout: cfg.Federation.HTTPTimeout},
		SweepBatch: cfg.Sweep.BatchSize,
	})
	creditonpayment.NewListener(log, accountingService).Register(bus)

	sweeper := accounting.NewSweeper(log, accountingService, store.Currencies(), cache.NewLocker(log, redisDB.Client()), cfg.Sweep.Interval)

	server := api.NewServer(log, cfg, accountingService, api.Auth{
		Users:       federation.NewUserTokens(cfg.Security.JWTSecret, cfg.Security.JWTIssuer),
		Servers:     federation.NewExternalVerifier(),
		Idempotency: cache.NewIdempotencyStore(log, redisDB.Client(), cfg.Redis.IdempotencyTTL, cfg.Redis.LockTimeout),
	},
		api.HealthCheck{Name: "postgres", Ping: postgresDB.Ping},
		api.HealthCheck{Name: "redis", Ping: redisDB.Ping},
	)

	errChan := make(chan error, 1)
	var wg sync.WaitGroup

	go func() {
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Start(appCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	log.Info("Starting graceful shutdown...")

	// Stop taking requests before the background work stops.
	if err = server.Stop(context.Background()); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	cancelAppCtx()
	wg.Wait()

	// Let running listeners finish.
	bus.Shutdown()

	if err = redisDB.Close(); err != nil {
		log.Error("Error closing Redis connection", "error", err)
	}
	postgresDB.Close()

	if serverErr != nil {
		log.Error("Accounting API shutdown with errors", "error", serverErr)
		os.Exit(1)
	}
	log.Info("Accounting API shutdown completed successfully")
}

// channelKeys derives the channel accounts from the master key, so every
// replica uses the same ones without storing them.
func channelKeys(masterKey []byte, n int) ([]*settlement.Keypair, error) {
	seeds, err := keystore.DeriveSeeds(masterKey, "channels", n)
	if err != nil {
		return nil, err
	}
	channels := make([]*settlement.Keypair, 0, n)
	for _, seed := range seeds {
		kp, err := settlement.KeypairFromSeed(seed)
		if err != nil {
			return nil, err
		}
		channels = append(channels, kp)
	}
	return channels, nil
}
