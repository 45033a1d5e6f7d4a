package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/legasicrypto/borrowing-protocol/internal/observability"
	"github.com/legasicrypto/borrowing-protocol/internal/persistence"
	"github.com/legasicrypto/borrowing-protocol/internal/projection"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|rebuild>")
		fmt.Println("  up      - apply all pending migrations")
		fmt.Println("  down    - roll back the last migration")
		fmt.Println("  rebuild - truncate and rebuild read-model tables from the event log")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  POSTGRES_URL    - Postgres connection string (required)")
		fmt.Println("  MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
		os.Exit(1)
	}

	log := observability.NewLogger("migrate")

	pgURL := os.Getenv("POSTGRES_URL")
	if pgURL == "" {
		pgURL = "postgres://localhost:5432/borrowing?sslmode=disable"
	}

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, migrationsDir)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
		log.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate down")
		}
		log.Info().Msg("last migration rolled back")

	case "rebuild":
		if err := projection.RebuildProjections(ctx, db, observability.NewMetrics()); err != nil {
			log.Fatal().Err(err).Msg("projection rebuild")
		}
		log.Info().Msg("projections rebuilt from event log")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'rebuild')\n", os.Args[1])
		os.Exit(1)
	}
}
