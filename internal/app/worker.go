package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/solai17/bytefeed/internal/cli"
	"github.com/solai17/bytefeed/internal/config"
	"github.com/solai17/bytefeed/internal/db"
)

func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	schedule := fs.String("schedule", "*/5 * * * *", "Cron schedule for batch runs")
	immediate := fs.Bool("immediate", true, "Run one batch immediately on startup")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "worker does not accept positional arguments")
		return 2
	}

	cfg, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.NewPool(dbCtx, cfg)
	dbCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	processor := buildProcessor(pool, cfg, logger)

	// Batches never overlap; a due run is skipped while one is still going.
	var running sync.Mutex
	runBatch := func() {
		if !running.TryLock() {
			logger.Warn().Msg("previous batch still running, skipping this tick")
			return
		}
		defer running.Unlock()

		batchCtx, batchCancel := context.WithTimeout(ctx, batchBudget(cfg))
		defer batchCancel()

		report, err := processor.ProcessBatch(batchCtx)
		if err != nil {
			logger.Error().Err(err).Msg("batch failed")
			return
		}
		logger.Info().
			Int("fetched", report.Fetched).
			Int("completed", report.Completed).
			Int("requeued", report.Requeued).
			Int("failed", report.Failed).
			Int64("recovered", report.Recovered).
			Msg("batch finished")
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(*schedule, runBatch); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid cron schedule %q: %v\n", *schedule, err)
		return 2
	}

	logger.Info().Str("schedule", *schedule).Msg("worker started")
	scheduler.Start()

	if *immediate {
		runBatch()
	}

	<-ctx.Done()

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info().Msg("worker stopped")
	return 0
}

// batchBudget bounds one scheduled batch run.
func batchBudget(cfg *config.Config) time.Duration {
	perItem := cfg.QueueItemTimeout + cfg.QueueInterItemDelay
	budget := time.Duration(cfg.QueueBatchSize) * perItem
	if budget < time.Minute {
		budget = time.Minute
	}
	return budget
}
