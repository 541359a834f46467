// cmd/seeder/main.go
package main

import (
	"context"
	"os"

	"github.com/unclebandit/smsleopard-broadcast/internal/config"
	"github.com/unclebandit/smsleopard-broadcast/internal/db"
	"github.com/unclebandit/smsleopard-broadcast/internal/logging"
)

// Usage: seeder [file.sql ...]
// Applies migrations, then executes each seed file in order.
func main() {
	cfg, err := config.Load()
	log := logging.Component(logging.New(cfg.Log), "seeder")
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	conn, dialect, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx, conn, dialect); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	seedFiles := os.Args[1:]
	if len(seedFiles) == 0 {
		seedFiles = []string{"seed/tenants.sql"}
	}
	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to read seed file")
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to execute seed file")
		}
		log.Info().Str("file", file).Msg("seeded")
	}
	log.Info().Msg("database seeding completed successfully")
}
