package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"donation-service/config"
	"donation-service/internal/repository"
	"donation-service/internal/usecase"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Renewal scheduler: run from cron. Creates pending renewals for recurring
// donation chains that are due.
func main() {
	dryRun := flag.Bool("dry-run", false, "count due chains without creating renewals")
	flag.Parse()

	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	recurringUC := usecase.NewRecurringUsecase(repository.NewDonationRepository(dbPool), logger)

	report, err := recurringUC.ProcessDue(ctx, *dryRun)
	if err != nil {
		logger.Fatal("recurring run failed", zap.Error(err))
	}

	logger.Info("recurring run finished",
		zap.Bool("dry_run", *dryRun),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed))
	fmt.Printf("{\"processed\": %d, \"failed\": %d}\n", report.Processed, report.Failed)
}
