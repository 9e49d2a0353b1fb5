// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Queue backends.
const (
	QueueRedis = "redis"
	QueueNATS  = "nats"
	QueueKafka = "kafka"
)

// Search backends.
const (
	SearchElasticsearch = "elasticsearch"
	SearchBleve         = "bleve"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Denylist store
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/nipsa.db"`

	// Redis backs the status and auth caches and the default queue.
	RedisURL    string `env:"REDIS_URL"`
	CachePrefix string `env:"CACHE_PREFIX" envDefault:"nipsa:"`

	// Change channel
	QueueEnabled bool     `env:"QUEUE_ENABLED" envDefault:"true"`
	QueueBackend string   `env:"QUEUE_BACKEND" envDefault:"redis"`
	QueueTopic   string   `env:"QUEUE_TOPIC" envDefault:"nipsa_user_requests"`
	QueueChannel string   `env:"QUEUE_CHANNEL" envDefault:"nipsa_users_annotations"`
	NATSURL      string   `env:"NATS_URL"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// Search index
	SearchBackend      string        `env:"SEARCH_BACKEND" envDefault:"elasticsearch"`
	ElasticsearchURLs  []string      `env:"ELASTICSEARCH_URLS" envSeparator:"," envDefault:"http://localhost:9200"`
	ElasticsearchIndex string        `env:"ELASTICSEARCH_INDEX" envDefault:"annotator"`
	ElasticsearchUser  string        `env:"ELASTICSEARCH_USERNAME"`
	ElasticsearchPass  string        `env:"ELASTICSEARCH_PASSWORD"`
	BlevePath          string        `env:"BLEVE_PATH" envDefault:"data/annotations.bleve"`
	SearchOwnerField   string        `env:"SEARCH_OWNER_FIELD" envDefault:"user"`
	SearchFlagField    string        `env:"SEARCH_FLAG_FIELD" envDefault:"not_in_public_site_areas"`
	ScanPageSize       int           `env:"SCAN_PAGE_SIZE" envDefault:"500"`
	ScanKeepAlive      time.Duration `env:"SCAN_KEEP_ALIVE" envDefault:"1m"`
	BulkFlushActions   int           `env:"BULK_FLUSH_ACTIONS" envDefault:"1000"`

	// Authentication
	AuthEnabled bool `env:"AUTH_ENABLED" envDefault:"false"`

	// Worker metrics listener
	MetricsPort int `env:"METRICS_PORT" envDefault:"9090"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate checks the cross-field requirements of the selected backends.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for STORE_DRIVER=postgres"))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for STORE_DRIVER=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.QueueBackend {
	case QueueRedis:
		if c.QueueEnabled && c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for QUEUE_BACKEND=redis"))
		}
	case QueueNATS:
		if c.QueueEnabled && c.NATSURL == "" {
			errs = append(errs, errors.New("NATS_URL is required for QUEUE_BACKEND=nats"))
		}
	case QueueKafka:
		if c.QueueEnabled && len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for QUEUE_BACKEND=kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend))
	}

	switch c.SearchBackend {
	case SearchElasticsearch:
		if len(c.ElasticsearchURLs) == 0 || c.ElasticsearchIndex == "" {
			errs = append(errs, errors.New("ELASTICSEARCH_URLS and ELASTICSEARCH_INDEX are required for SEARCH_BACKEND=elasticsearch"))
		}
	case SearchBleve:
		if c.BlevePath == "" {
			errs = append(errs, errors.New("BLEVE_PATH is required for SEARCH_BACKEND=bleve"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SEARCH_BACKEND %q", c.SearchBackend))
	}

	if c.ScanPageSize <= 0 {
		errs = append(errs, errors.New("SCAN_PAGE_SIZE must be positive"))
	}
	if c.BulkFlushActions <= 0 {
		errs = append(errs, errors.New("BULK_FLUSH_ACTIONS must be positive"))
	}
	if strings.TrimSpace(c.QueueTopic) == "" || strings.TrimSpace(c.QueueChannel) == "" {
		errs = append(errs, errors.New("QUEUE_TOPIC and QUEUE_CHANNEL must not be empty"))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
