package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"alumnet/internal/chat"
	"alumnet/internal/config"
	"alumnet/internal/database"
	"alumnet/internal/logging"
	"alumnet/internal/server"

	"github.com/redis/go-redis/v9"
)

func gracefulShutdown(fiberServer *server.FiberServer, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	l := logging.L()
	l.Info().Msg("shutting down gracefully, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	// Open chat connections are closed first; in-flight requests get 5 seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fiberServer.ShutdownWithContext(ctx); err != nil {
		l.Error().Err(err).Msg("server forced to shutdown")
	}

	l.Info().Msg("server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		l := logging.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "alumnet-api",
	})
	l := logging.L()

	if err := cfg.Validate(); err != nil {
		l.Fatal().Err(err).Msg("invalid configuration")
	}

	l.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Name).
		Bool("redis", cfg.Redis.Enabled).
		Bool("history_on_join", cfg.Chat.HistoryOnJoin).
		Msg("server starting")

	ctx := context.Background()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	mongoStore := chat.NewMongoStore(db.GetDatabase())
	if err := mongoStore.EnsureIndexes(ctx); err != nil {
		l.Fatal().Err(err).Msg("failed to create chat indexes")
	}

	var store chat.Store = mongoStore
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = chat.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			l.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		store = chat.NewCachedStore(mongoStore, redisClient, cfg.Redis.Prefix, cfg.Redis.CacheTTL)
		l.Info().Str("address", cfg.Redis.Address).Dur("ttl", cfg.Redis.CacheTTL).Msg("chat history cache enabled")
	}

	srv := server.New(cfg, db, store)
	if err := srv.EnsureIndexes(ctx); err != nil {
		l.Fatal().Err(err).Msg("failed to create user indexes")
	}
	srv.RegisterFiberRoutes()

	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := srv.Listen(addr); err != nil {
			l.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(srv, done)

	// Wait for the graceful shutdown to complete
	<-done
	l.Info().Msg("graceful shutdown complete")
}
