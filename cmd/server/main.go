package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/fenggwsx/RoomChat/internal/auth"
	"github.com/fenggwsx/RoomChat/internal/config"
	"github.com/fenggwsx/RoomChat/internal/logging"
	"github.com/fenggwsx/RoomChat/internal/server"
	"github.com/fenggwsx/RoomChat/internal/storage"
	"github.com/fenggwsx/RoomChat/internal/storage/redis"
	"github.com/fenggwsx/RoomChat/internal/storage/sqlite"
)

func main() {
	cfg := config.LoadServerConfig()
	logger := logging.New(cfg.IsDevelopment(), cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("init storage")
	}
	defer store.Close()

	authn, err := auth.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("init authenticator")
	}

	app := server.NewApp(cfg, store, authn, logger)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown")
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.MessageStore, error) {
	if cfg.Driver == config.DriverRedis {
		return redis.NewStore(ctx, cfg)
	}
	return sqlite.NewStore(cfg)
}
