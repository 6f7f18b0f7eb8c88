package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	GeminiAPIKey string        `env:"GEMINI_API_KEY"`
	GeminiModel  string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	RetryCount   int           `env:"API_RETRY_COUNT" envDefault:"3"`
	RetryDelay   time.Duration `env:"API_RETRY_DELAY" envDefault:"2s"`
	Timeout      time.Duration `env:"API_TIMEOUT" envDefault:"60s"`

	MaxTurns    int    `env:"SILVERTONGUE_MAX_TURNS" envDefault:"7"`
	MaxSanity   int    `env:"SILVERTONGUE_MAX_SANITY" envDefault:"100"`
	ContentDir  string `env:"SILVERTONGUE_CONTENT_DIR"`
	ArchivePath string `env:"SILVERTONGUE_ARCHIVE" envDefault:".saves/battles.db"`
	LogFile     string `env:"SILVERTONGUE_LOG_FILE" envDefault:"silvertongue.log"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads dotenv files (default ".env") without overriding variables that
// are already set, then parses the environment. Missing dotenv files are fine.
func Load(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	return &cfg, nil
}

// Validate checks ranges. The API key is only required for the real backend.
func (c *Config) Validate(needAPIKey bool) error {
	if needAPIKey && c.GeminiAPIKey == "" {
		return errors.New("config: GEMINI_API_KEY environment variable is not set")
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("config: max turns must be at least 1, got %d", c.MaxTurns)
	}
	if c.MaxSanity < 1 {
		return fmt.Errorf("config: max sanity must be at least 1, got %d", c.MaxSanity)
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("config: retry count must not be negative, got %d", c.RetryCount)
	}
	if c.RetryDelay < 0 || c.Timeout < 0 {
		return errors.New("config: durations must not be negative")
	}
	return nil
}
