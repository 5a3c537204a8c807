package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	CSPRCloud CSPRCloud
	Output    Output
	Database  Database
	Logging   Logging
	Metrics   Metrics
	// PipelinePath points at the YAML table of voting windows, tenure
	// offsets, corrections and eligibility bounds.
	PipelinePath string
}

type CSPRCloud struct {
	BaseURL        string
	APIKey         string
	RequestLimit   int
	RequestPeriod  time.Duration
	RequestTimeout time.Duration
}

type Output struct {
	Dir string
}

// Database is optional. An empty URL disables the snapshot sink.
type Database struct {
	URL               string
	MaxConnections    int
	MaxIdleTime       time.Duration
	ConnectionTimeout time.Duration
}

type Logging struct {
	Level       string
	Environment string
}

type Metrics struct {
	TextfilePath string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := &Config{
		CSPRCloud: CSPRCloud{
			BaseURL:        getEnv("CSPR_CLOUD_API_URL", "https://api.cspr.cloud"),
			APIKey:         os.Getenv("CSPR_CLOUD_KEY"),
			RequestLimit:   getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			RequestPeriod:  getEnvAsDuration("RATE_LIMIT_PERIOD", "60s"),
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", "30s"),
		},
		Output: Output{
			Dir: getEnv("OUTPUT_DIR", "."),
		},
		Database: Database{
			URL:               os.Getenv("DATABASE_URL"),
			MaxConnections:    getEnvAsInt("CONNECTION_POOL_SIZE", 4),
			MaxIdleTime:       getEnvAsDuration("CONNECTION_IDLE_TIME", "30s"),
			ConnectionTimeout: getEnvAsDuration("CONNECTION_TIMEOUT", "10s"),
		},
		Logging: Logging{
			Level:       getEnv("LOG_LEVEL", "info"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Metrics: Metrics{
			TextfilePath: os.Getenv("METRICS_TEXTFILE"),
		},
		PipelinePath: getEnv("PIPELINE_CONFIG", "configs/pipeline.yaml"),
	}

	if cfg.CSPRCloud.RequestLimit <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", cfg.CSPRCloud.RequestLimit)
	}
	if cfg.CSPRCloud.RequestPeriod <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PERIOD must be positive, got %s", cfg.CSPRCloud.RequestPeriod)
	}

	return cfg, nil
}

// RequestInterval is the minimum spacing between two API calls.
func (c CSPRCloud) RequestInterval() time.Duration {
	return c.RequestPeriod / time.Duration(c.RequestLimit)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	defaultDuration, _ := time.ParseDuration(defaultValue)
	return defaultDuration
}
