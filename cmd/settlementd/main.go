package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/agrilink-dev/settlement_layer/internal/app"
	"github.com/agrilink-dev/settlement_layer/internal/config"
	"github.com/agrilink-dev/settlement_layer/internal/storage/postgres"
	"github.com/agrilink-dev/settlement_layer/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	log := logger.NewDefault("settlementd")

	cfg, err := config.Load("config/policy.yaml")
	if err != nil {
		log.WithError(err).Error("configuration load failed")
		os.Exit(1)
	}

	var stores app.Stores
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Error("database open failed")
			os.Exit(1)
		}
		defer db.Close()

		if err := postgres.Migrate(db); err != nil {
			log.WithError(err).Error("database migration failed")
			os.Exit(1)
		}

		store := postgres.New(db)
		stores = app.Stores{
			Vaults:      store,
			Settlements: store,
			Receipts:    store,
			Wallets:     store,
			Farms:       store,
			Members:     store,
		}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}

	application, err := app.New(cfg, stores)
	if err != nil {
		log.WithError(err).Error("application init failed")
		os.Exit(1)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("startup failed")
		os.Exit(1)
	}
	log.WithField("addr", cfg.HTTPAddr).Info("settlement layer up")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	application.Stop(shutdownCtx)
}
