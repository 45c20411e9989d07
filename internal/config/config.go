package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Blockfrost struct {
		ProjectID string `split_words:"true" required:"true"`
		BaseURL   string `split_words:"true" default:"https://cardano-mainnet.blockfrost.io/api/v0"`
	}

	IPFS struct {
		ProjectID  string `split_words:"true"`
		GatewayURL string `split_words:"true" default:"https://ipfs.blockfrost.io/api/v0/ipfs/gateway"`
	}

	CollectionsURL string   `envconfig:"COLLECTIONS_URL" default:"https://api.book.io/api/v0/collections"`
	CollectionIDs  []string `envconfig:"COLLECTION_IDS"`

	HTTPTimeout        time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	HTTPRetries        int           `envconfig:"HTTP_RETRIES" default:"3"`
	FetchTimeout       time.Duration `envconfig:"FETCH_TIMEOUT" default:"2m"`
	FetchMaxAttempts   int           `envconfig:"FETCH_MAX_ATTEMPTS" default:"3"`
	FetchRetryInterval time.Duration `envconfig:"FETCH_RETRY_INTERVAL" default:"1s"`
	MaxFileSize        int64         `envconfig:"MAX_FILE_SIZE" default:"104857600"`
	MaxParallel        int           `envconfig:"MAX_PARALLEL" default:"1"`
	StaleTempAge       time.Duration `envconfig:"STALE_TEMP_AGE" default:"1h"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	LedgerPath        string `envconfig:"LEDGER_PATH"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool          `split_words:"true"`
		MetricsAddr  string        `split_words:"true"`
		OTLPEndpoint string        `envconfig:"OTLP_ENDPOINT"`
		OTLPInterval time.Duration `envconfig:"OTLP_INTERVAL" default:"10s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case strings.TrimSpace(c.Blockfrost.ProjectID) == "":
		return fmt.Errorf("BLOCKFROST_PROJECT_ID must not be empty")
	case c.MaxParallel < 1:
		return fmt.Errorf("MAX_PARALLEL must be at least 1, got %d", c.MaxParallel)
	case c.FetchMaxAttempts < 1:
		return fmt.Errorf("FETCH_MAX_ATTEMPTS must be at least 1, got %d", c.FetchMaxAttempts)
	case c.MaxFileSize <= 0:
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	case c.HTTPRetries < 0:
		return fmt.Errorf("HTTP_RETRIES must not be negative, got %d", c.HTTPRetries)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
