// Package app opens the backends selected by configuration. The api, worker
// and nipsactl binaries share it so every process wires backends the same
// way.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/annotator/nipsa/internal/cache"
	"github.com/annotator/nipsa/internal/config"
	"github.com/annotator/nipsa/internal/logging"
	"github.com/annotator/nipsa/internal/metrics"
	"github.com/annotator/nipsa/internal/queue"
	"github.com/annotator/nipsa/internal/queue/kafkaq"
	"github.com/annotator/nipsa/internal/queue/natsq"
	"github.com/annotator/nipsa/internal/queue/redisstream"
	"github.com/annotator/nipsa/internal/repository"
	"github.com/annotator/nipsa/internal/repository/postgres"
	"github.com/annotator/nipsa/internal/repository/sqlite"
	"github.com/annotator/nipsa/internal/search"
	"github.com/annotator/nipsa/internal/search/bleve"
	"github.com/annotator/nipsa/internal/search/elastic"
)

// ErrQueueDisabled is returned when a consumer is requested while
// QUEUE_ENABLED is false.
var ErrQueueDisabled = errors.New("queue is disabled")

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// OpenStore opens the denylist store and applies its migrations.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		repo, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %s", logging.SanitizeError(err, cfg.DatabaseURL))
		}
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("connected to database", "driver", cfg.StoreDriver, "url", logging.RedactURL(cfg.DatabaseURL))
		return repo, nil

	case config.StoreSQLite:
		store, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("opened database", "driver", cfg.StoreDriver, "path", cfg.SQLitePath)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// OpenRedis connects to REDIS_URL. It returns nil, nil when Redis is not
// configured.
func OpenRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	client, err := cache.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect to Redis: %s", logging.SanitizeError(err, cfg.RedisURL))
	}
	logger.Info("connected to Redis", "url", logging.RedactURL(cfg.RedisURL))
	return client, nil
}

// Channel is an opened change channel.
type Channel struct {
	Publisher queue.Publisher
	// Consumer is set only when the channel was opened for consuming.
	Consumer queue.Consumer
	// Health is nil when the queue is disabled.
	Health Pinger

	closers []func() error
}

// Close closes the publisher, then releases the transport.
func (c *Channel) Close() error {
	var errs []error
	if c.Publisher != nil {
		errs = append(errs, c.Publisher.Close())
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenChannel opens the configured change channel. rdb is required for the
// Redis backend. With consume set, a consumer on QUEUE_CHANNEL is created.
func OpenChannel(cfg *config.Config, rdb *redis.Client, logger *slog.Logger, recorder metrics.Recorder, consume bool) (*Channel, error) {
	if !cfg.QueueEnabled {
		if consume {
			return nil, ErrQueueDisabled
		}
		logger.Info("queue disabled, change events will not be published")
		return &Channel{Publisher: queue.NoopPublisher{}}, nil
	}

	ch := &Channel{}
	switch cfg.QueueBackend {
	case config.QueueRedis:
		if rdb == nil {
			return nil, errors.New("redis queue requires REDIS_URL")
		}
		ch.Publisher = redisstream.NewPublisher(rdb, cfg.QueueTopic, logger)
		ch.Health = cache.NewFromClient(rdb, cfg.CachePrefix)
		if consume {
			ch.Consumer = redisstream.NewConsumer(rdb, cfg.QueueTopic, cfg.QueueChannel, queue.NewConsumerID(), logger, recorder)
		}

	case config.QueueNATS:
		client, err := natsq.Connect(cfg.NATSURL, cfg.QueueTopic, "nipsa", logger)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		ch.closers = append(ch.closers, client.Close)
		ch.Publisher = client.Publisher()
		ch.Health = client
		if consume {
			ch.Consumer = client.Consumer(cfg.QueueChannel)
		}

	case config.QueueKafka:
		ch.Publisher = kafkaq.NewPublisher(cfg.KafkaBrokers, cfg.QueueTopic, logger)
		ch.Health = PingFunc(func(ctx context.Context) error {
			conn, err := kafka.DialContext(ctx, "tcp", cfg.KafkaBrokers[0])
			if err != nil {
				return err
			}
			return conn.Close()
		})
		if consume {
			ch.Consumer = kafkaq.NewConsumer(cfg.KafkaBrokers, cfg.QueueTopic, cfg.QueueChannel, logger)
		}

	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}

	logger.Info("change channel opened",
		"backend", cfg.QueueBackend,
		"topic", cfg.QueueTopic,
		"channel", cfg.QueueChannel,
		"consume", consume,
	)
	return ch, nil
}

// OpenIndex opens the configured search index.
func OpenIndex(cfg *config.Config, logger *slog.Logger) (search.Index, error) {
	schema := search.Schema{OwnerField: cfg.SearchOwnerField, FlagField: cfg.SearchFlagField}.WithDefaults()

	switch cfg.SearchBackend {
	case config.SearchElasticsearch:
		idx, err := elastic.New(elastic.Config{
			Addresses:    cfg.ElasticsearchURLs,
			Username:     cfg.ElasticsearchUser,
			Password:     cfg.ElasticsearchPass,
			Index:        cfg.ElasticsearchIndex,
			Schema:       schema,
			PageSize:     cfg.ScanPageSize,
			FlushActions: cfg.BulkFlushActions,
			KeepAlive:    cfg.ScanKeepAlive,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create Elasticsearch client: %w", err)
		}
		return idx, nil

	case config.SearchBleve:
		idx, err := bleve.Open(bleve.Config{
			Path:         cfg.BlevePath,
			Schema:       schema,
			PageSize:     cfg.ScanPageSize,
			FlushActions: cfg.BulkFlushActions,
		}, logger)
		if err != nil {
			return nil, err
		}
		return idx, nil

	default:
		return nil, fmt.Errorf("unknown search backend %q", cfg.SearchBackend)
	}
}
