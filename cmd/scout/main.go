package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/application"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/infrastructure/csprcloud"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/infrastructure/csvfile"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/infrastructure/postgres"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/config"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/logger"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return 1
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Environment)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	pipeline, err := config.LoadPipeline(cfg.PipelinePath)
	if err != nil {
		log.Errorw("Failed to load pipeline configuration", "error", err)
		return 1
	}

	log.Infow("Starting Casper delegation scout",
		"api", cfg.CSPRCloud.BaseURL,
		"request_interval", cfg.CSPRCloud.RequestInterval(),
		"voting_windows", len(pipeline.Voting.Windows),
		"corrections", len(pipeline.Corrections),
		"output_dir", cfg.Output.Dir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var snapshots domain.SnapshotRepository
	if cfg.Database.URL != "" {
		db, err := postgres.NewConnection(&cfg.Database, log)
		if err != nil {
			log.Errorw("Failed to connect to database", "error", err)
			return 1
		}
		defer db.Close()

		if err := postgres.RunMigrations(db, log); err != nil {
			log.Errorw("Failed to run migrations", "error", err)
			return 1
		}

		snapshots = postgres.NewRepository(db, log)
	}

	client := csprcloud.NewClient(
		cfg.CSPRCloud.BaseURL,
		cfg.CSPRCloud.APIKey,
		cfg.CSPRCloud.RequestTimeout,
		csprcloud.NewLimiter(cfg.CSPRCloud.RequestLimit, cfg.CSPRCloud.RequestPeriod),
		log,
	)

	service := application.NewService(
		client,
		pipeline,
		csvfile.NewWriter(cfg.Output.Dir, log),
		snapshots,
		log,
	)

	_, runErr := service.Run(ctx)

	if cfg.Metrics.TextfilePath != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			log.Errorw("Failed to write metrics textfile", "error", err, "path", cfg.Metrics.TextfilePath)
		}
	}

	if runErr != nil {
		log.Errorw("Run produced no output", "error", runErr)
		return 1
	}

	return 0
}
