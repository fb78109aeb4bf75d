// Command migrate creates the indexes the API relies on. The API also does
// this on startup; run it ahead of a deploy to build indexes on large
// collections without delaying the first boot.
package main

import (
	"context"
	"time"

	"alumnet/internal/chat"
	"alumnet/internal/config"
	"alumnet/internal/database"
	"alumnet/internal/logging"
	"alumnet/internal/users"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		l := logging.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "alumnet-migrate"})
	l := logging.L()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	l.Info().Msg("creating user indexes")
	if err := users.NewUserService(db.GetDatabase()).EnsureIndexes(ctx); err != nil {
		l.Fatal().Err(err).Msg("failed to create user indexes")
	}

	l.Info().Msg("creating chat message indexes")
	if err := chat.NewMongoStore(db.GetDatabase()).EnsureIndexes(ctx); err != nil {
		l.Fatal().Err(err).Msg("failed to create chat indexes")
	}

	l.Info().Msg("migration completed")
}
