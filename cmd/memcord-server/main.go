// Package main provides the memcord server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/memcord/memcord/internal/admission"
	"github.com/memcord/memcord/internal/auth"
	"github.com/memcord/memcord/internal/config"
	"github.com/memcord/memcord/internal/coordinator"
	"github.com/memcord/memcord/internal/embedding"
	"github.com/memcord/memcord/internal/fusion"
	"github.com/memcord/memcord/internal/history"
	"github.com/memcord/memcord/internal/metrics"
	"github.com/memcord/memcord/internal/relation"
	"github.com/memcord/memcord/internal/server"
	"github.com/memcord/memcord/internal/session"
	"github.com/memcord/memcord/internal/store"
	"github.com/memcord/memcord/internal/store/chromemstore"
	"github.com/memcord/memcord/internal/store/surreal"
)

func main() {
	wipe := flag.Bool("wipe", false, "wipe all data from the graph store on startup (testing only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		if err := closeLog(); err != nil {
			slog.Error("failed to close log file", "error", err)
		}
	}()
	slog.SetDefault(logger)

	logger.Info("starting memcord-server", "addr", cfg.ListenAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	graphClient, err := surreal.NewClient(ctx, surreal.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	cancel()
	if err != nil {
		logger.Error("failed to connect to graph store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := graphClient.Close(context.Background()); err != nil {
			logger.Error("failed to close graph store", "error", err)
		}
	}()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	err = graphClient.InitSchema(ctx)
	cancel()
	if err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	if *wipe || os.Getenv("MEMCORD_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := graphClient.WipeData(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to wipe graph store", "error", err)
			os.Exit(1)
		}
		logger.Warn("graph store wiped")
	}

	var vec store.VectorStore
	if cfg.VectorPath != "" {
		vec, err = chromemstore.NewPersistent(cfg.VectorPath, logger)
	} else {
		vec, err = chromemstore.New(logger)
	}
	if err != nil {
		logger.Error("failed to open vector store", "error", err)
		os.Exit(1)
	}

	embedder, err := embedding.New(cfg)
	if err != nil {
		logger.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}
	logger.Info("embedder ready", "model", embedder.Model(), "dimension", embedder.Dimension())

	if cfg.JWTSecret == "" {
		logger.Error("MEMCORD_JWT_SECRET must be set")
		os.Exit(1)
	}

	collector := metrics.NewCollector()
	ledger := history.NewLedger(graphClient, logger)
	relations := relation.NewManager(graphClient, ledger, collector, cfg.TraverseDepthCap, logger)

	sessions := session.NewManager(session.Config{
		SilenceWindow: cfg.SessionSilenceWindow,
		IdleTimeout:   cfg.SessionIdleTimeout,
		SendBuffer:    cfg.SessionSendBuffer,
		ChunkSize:     cfg.StreamChunkSize,
	}, logger)

	coord, err := coordinator.New(vec, graphClient, embedder, relations, ledger, sessions, collector,
		coordinator.Config{
			StoreTimeout:   cfg.StoreTimeout,
			WriteRetries:   cfg.WriteRetries,
			RetryBackoff:   cfg.RetryBackoff,
			IdempotencyTTL: cfg.IdempotencyTTL,
		}, logger)
	if err != nil {
		logger.Error("failed to create coordinator", "error", err)
		os.Exit(1)
	}

	queries := fusion.New(vec, graphClient, embedder, collector, fusion.Config{
		QueryFanout:   cfg.QueryFanout,
		SuggestFanout: cfg.SuggestFanout,
		StoreTimeout:  cfg.StoreTimeout,
	}, logger)

	admit := admission.NewController(map[admission.Class]admission.Limits{
		admission.ClassHTTP:   {PerMinute: cfg.HTTPRatePerMinute, Burst: cfg.HTTPBurst},
		admission.ClassStream: {PerMinute: cfg.StreamRatePerMinute, Burst: cfg.StreamBurst},
	}, logger)

	srv := server.New(cfg.ListenAddr, coord, queries, relations, ledger, sessions, admit,
		auth.NewValidator(cfg.JWTSecret), embedder, collector, logger)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(runCtx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
