package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/clock"
	"github.com/travelhub/reservation-core/internal/config"
	"github.com/travelhub/reservation-core/internal/database"
	"github.com/travelhub/reservation-core/internal/services"
)

// purge-holds runs the nightly hold purge once, outside the server
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	var (
		dbURL     string
		retention int
	)
	flag.StringVar(&dbURL, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.IntVar(&retention, "retention-days", 7, "delete released and expired holds resolved more than this many days ago")
	flag.Parse()

	_ = godotenv.Load()
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}
	if retention < 1 {
		logger.Fatal("-retention-days must be at least 1")
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

	store := database.NewStore(db)
	svc := services.NewCronService(store.Holds(), clock.NewSystem(), "", retention, nil, logger)

	purged, err := svc.RunPurgeNow(ctx)
	if err != nil {
		logger.Fatalf("Purge failed: %v", err)
	}
	logger.WithField("purged", purged).Info("Hold purge finished")
}
