package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/solai17/bytefeed/internal/cli"
	"github.com/solai17/bytefeed/internal/config"
	"github.com/solai17/bytefeed/internal/db"
	"github.com/solai17/bytefeed/internal/extract"
	"github.com/solai17/bytefeed/internal/logging"
	"github.com/solai17/bytefeed/internal/queue"
)

// loadConfig resolves the .env file and parses the environment.
func loadConfig(envLoader *cli.EnvLoader) (*config.Config, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func connectPool(timeout time.Duration, envLoader *cli.EnvLoader) (context.Context, context.CancelFunc, *db.Pool, *config.Config, error) {
	cfg, err := loadConfig(envLoader)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return ctx, cancel, pool, cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func buildPipeline(cfg *config.Config, logger zerolog.Logger) *extract.Pipeline {
	providers := extract.NewProviderChain(cfg)
	return extract.NewPipeline(providers, extract.Options{
		MinByteLength:    cfg.ByteMinLength,
		MaxByteLength:    cfg.ByteMaxLength,
		QualityThreshold: cfg.QualityThreshold,
	}, logger)
}

func buildProcessor(pool *db.Pool, cfg *config.Config, logger zerolog.Logger) *queue.Processor {
	return queue.NewProcessor(pool, buildPipeline(cfg, logger), queue.Options{
		BatchSize:   cfg.QueueBatchSize,
		MaxAttempts: cfg.QueueMaxAttempts,
		StaleWindow: cfg.QueueStaleWindow,
		ItemDelay:   cfg.QueueInterItemDelay,
		ItemTimeout: cfg.QueueItemTimeout,
	}, logger)
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
