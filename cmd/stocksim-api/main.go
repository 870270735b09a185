package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stocksim/internal/api"
	"stocksim/internal/auth"
	"stocksim/internal/config"
	"stocksim/internal/db"
	"stocksim/internal/game"
	"stocksim/internal/kv"
	"stocksim/internal/market"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var store kv.Store = kv.NewMemory()
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		pg := kv.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("ensure schema failed", "err", err)
			os.Exit(1)
		}
		store = pg
	} else {
		logger.Warn("DATABASE_URL not set, game state is kept in memory")
	}

	series, err := market.Generate(cfg.MarketSeed, market.DefaultRoster, game.HorizonDays)
	if err != nil {
		logger.Error("generate market", "err", err)
		os.Exit(1)
	}

	issuer := auth.NewIssuer(store,
		auth.WithBcryptCost(cfg.BcryptCost),
		auth.WithTTLs(cfg.AccessTTL, cfg.RefreshTTL),
	)
	server := api.New(api.Config{
		Warmup:       cfg.Warmup,
		StartingCash: cfg.StartingCash,
		MaxDays:      cfg.MaxDays,
	}, logger, issuer, store, series)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("stocksim api listening", "addr", cfg.Addr, "seed", cfg.MarketSeed, "warmup", cfg.Warmup.String())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
