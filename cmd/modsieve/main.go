package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modsieve/modsieve/internal/buildinfo"
	"github.com/modsieve/modsieve/internal/config"
	"github.com/modsieve/modsieve/internal/engine"
	"github.com/modsieve/modsieve/internal/redisx"
	"github.com/modsieve/modsieve/internal/repo"
	"github.com/modsieve/modsieve/internal/rulefn"
	"github.com/modsieve/modsieve/internal/store"
	"github.com/modsieve/modsieve/internal/stream"
)

func main() {
	// 1. Load and validate environment config
	cfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	log.Printf("modsieve %s (%s) starting...", buildinfo.Version, buildinfo.GitCommit)
	ctx := context.Background()

	// 2. Database
	db, err := store.Open(ctx, store.DSN(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName))
	if err != nil {
		log.Printf("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	if err := db.Migrate(); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		db.Close()
		os.Exit(1)
	}
	log.Printf("Database initialized.")

	// 3. Redis
	rc, err := redisx.Dial(ctx, cfg.RedisAddr(), cfg.RedisUser, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		db.Close()
		os.Exit(1)
	}

	// 4. Rule functions and matcher
	reg := engine.NewRegistry()
	if err := rulefn.RegisterAll(reg); err != nil {
		log.Printf("Failed to register rule functions: %v", err)
		os.Exit(1)
	}

	var provider engine.Provider
	var providerCloser io.Closer
	if cfg.RPCEnabled {
		log.Printf("Initializing hybrid function provider (rpc target: %s)", cfg.RPCURL)
		hybrid, err := engine.NewHybridProvider(reg, cfg.RPCURL, cfg.RPCTimeout)
		if err != nil {
			log.Printf("Failed to initialize rpc provider: %v", err)
			os.Exit(1)
		}
		provider = hybrid
		providerCloser = hybrid
	} else {
		log.Printf("Initializing local function provider")
		provider = engine.NewLocalProvider(reg)
	}
	matcher := engine.NewMatcher(provider)

	// 5. Rule repository: initial load plus background sync
	repository := repo.New(db, rc, repo.Config{
		Channel:      cfg.RulesChannel,
		PollInterval: cfg.RuleSyncInterval,
	})
	if err := repository.Load(ctx); err != nil {
		log.Printf("Failed to load rules: %v", err)
		os.Exit(1)
	}
	repository.StartSync()

	// 6. Dispatcher and worker fleet
	dispatcher := stream.NewDispatcher(rc, cfg.ActionStreamKey)
	workerCfg := stream.WorkerConfig{
		Group:            cfg.ConsumerGroup,
		Consumer:         cfg.ConsumerName,
		BatchSize:        int64(cfg.BatchSize),
		Concurrency:      cfg.WorkerConcurrency,
		RecoveryEnabled:  cfg.EnableRecovery,
		RecoveryInterval: cfg.RecoveryInterval,
		MinIdleTime:      cfg.MinIdleTime,
	}
	manager := stream.NewManager(repository, func(fid int64, streamKey string) stream.ManagedWorker {
		return stream.NewWorker(rc, repository, matcher, dispatcher, fid, streamKey, workerCfg)
	}, cfg.StreamKey)
	manager.Start()

	// 7. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)

	manager.Stop()
	repository.StopSync()
	if providerCloser != nil {
		providerCloser.Close()
	}
	rc.Close()
	db.Close()
	log.Printf("Exiting.")
}
