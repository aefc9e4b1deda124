package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"BF_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"BF_DB_MAX_CONNS" default:"8"`

	// Processing queue.
	QueueBatchSize      int           `envconfig:"BF_QUEUE_BATCH_SIZE" default:"10"`
	QueueMaxAttempts    int           `envconfig:"BF_QUEUE_MAX_ATTEMPTS" default:"3"`
	QueueStaleWindow    time.Duration `envconfig:"BF_QUEUE_STALE_WINDOW" default:"10m"`
	QueueInterItemDelay time.Duration `envconfig:"BF_QUEUE_ITEM_DELAY" default:"2s"`
	QueueItemTimeout    time.Duration `envconfig:"BF_QUEUE_ITEM_TIMEOUT" default:"5m"`

	// Extraction pipeline.
	ProviderTimeout  time.Duration `envconfig:"BF_PROVIDER_TIMEOUT" default:"60s"`
	ByteMinLength    int           `envconfig:"BF_BYTE_MIN_LENGTH" default:"30"`
	ByteMaxLength    int           `envconfig:"BF_BYTE_MAX_LENGTH" default:"500"`
	QualityThreshold float64       `envconfig:"BF_QUALITY_THRESHOLD" default:"0.65"`

	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel    string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GroqAPIKey     string `envconfig:"GROQ_API_KEY" default:""`
	GroqModel      string `envconfig:"GROQ_MODEL" default:"llama-3.3-70b-versatile"`
	DeepSeekAPIKey string `envconfig:"DEEPSEEK_API_KEY" default:""`
	DeepSeekModel  string `envconfig:"DEEPSEEK_MODEL" default:"deepseek-chat"`
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel    string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	// Feed ranking.
	FeedDefaultPageSize     int           `envconfig:"BF_FEED_PAGE_SIZE" default:"20"`
	FeedMaxPageSize         int           `envconfig:"BF_FEED_MAX_PAGE_SIZE" default:"100"`
	FeedCandidateMultiplier int           `envconfig:"BF_FEED_CANDIDATE_MULTIPLIER" default:"5"`
	FeedDiversityCap        int           `envconfig:"BF_FEED_DIVERSITY_CAP" default:"2"`
	FeedRecencyWindow       time.Duration `envconfig:"BF_FEED_RECENCY_WINDOW" default:"720h"`
	FeedTrendingWindow      time.Duration `envconfig:"BF_FEED_TRENDING_WINDOW" default:"24h"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("BF_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("BF_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("BF_DB_MIN_CONNS (%d) cannot exceed BF_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.QueueBatchSize < 1 {
		return fmt.Errorf("BF_QUEUE_BATCH_SIZE must be >= 1")
	}
	if c.QueueMaxAttempts < 1 {
		return fmt.Errorf("BF_QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if c.QueueStaleWindow < time.Minute {
		return fmt.Errorf("BF_QUEUE_STALE_WINDOW must be >= 1m")
	}
	if c.QueueInterItemDelay < 0 {
		return fmt.Errorf("BF_QUEUE_ITEM_DELAY must be >= 0")
	}
	if c.ByteMinLength < 1 || c.ByteMaxLength <= c.ByteMinLength {
		return fmt.Errorf("byte length bounds are invalid: min=%d max=%d", c.ByteMinLength, c.ByteMaxLength)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("BF_QUALITY_THRESHOLD must be in [0,1]")
	}
	if c.FeedMaxPageSize < 1 {
		return fmt.Errorf("BF_FEED_MAX_PAGE_SIZE must be >= 1")
	}
	if c.FeedDefaultPageSize < 1 || c.FeedDefaultPageSize > c.FeedMaxPageSize {
		return fmt.Errorf("BF_FEED_PAGE_SIZE must be between 1 and BF_FEED_MAX_PAGE_SIZE (%d)", c.FeedMaxPageSize)
	}
	if c.FeedCandidateMultiplier < 1 {
		return fmt.Errorf("BF_FEED_CANDIDATE_MULTIPLIER must be >= 1")
	}
	if c.FeedDiversityCap < 1 {
		return fmt.Errorf("BF_FEED_DIVERSITY_CAP must be >= 1")
	}
	return nil
}
