package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/config"
	"github.com/travelhub/reservation-core/internal/database"
)

const usage = `Usage: migrate [-database-url URL] <command> [args]

Commands:
  up                   Apply all pending migrations
  up-to VERSION        Apply migrations up to VERSION
  down                 Roll back the latest migration
  down-to VERSION      Roll back to VERSION
  redo                 Roll back and re-apply the latest migration
  status               Print migration status
  version              Print the current schema version
`

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	var dbURL string
	flag.StringVar(&dbURL, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.NewConnection(ctx, config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     2,
		MaxIdleConnections: 1,
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	command := flag.Arg(0)
	if err := database.Migrate(ctx, db.DB.DB, command, flag.Args()[1:]...); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
	logger.WithField("command", command).Info("Migration finished")
}
