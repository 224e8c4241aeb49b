// Package bootstrap wires the store, upstream clients, audit stream and
// engine from configuration. Every binary starts from Setup.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/b00skit/antelope-sync/internal/audit"
	"github.com/b00skit/antelope-sync/internal/engine"
	"github.com/b00skit/antelope-sync/internal/executor"
	"github.com/b00skit/antelope-sync/internal/store"
	"github.com/b00skit/antelope-sync/internal/store/mongostore"
	"github.com/b00skit/antelope-sync/internal/store/pgstore"
	"github.com/b00skit/antelope-sync/internal/upstream"
	"github.com/b00skit/antelope-sync/pkg/config"
	"github.com/b00skit/antelope-sync/pkg/logger"
	"github.com/b00skit/antelope-sync/pkg/preview"
	"github.com/b00skit/antelope-sync/pkg/producer"
	"github.com/b00skit/antelope-sync/pkg/server"
)

// Components holds everything a binary needs
type Components struct {
	Config   *config.AppConfig
	Logger   *logger.Logger
	Store    store.Store
	Engine   *engine.Engine
	Previews preview.Store

	redis     *redis.Client
	publisher *audit.KafkaPublisher
}

// Setup connects the configured store and builds the engine. Preview
// storage follows cfg.Preview.Backend.
func Setup(ctx context.Context, cfg *config.AppConfig, l *logger.Logger) (*Components, error) {
	st, err := OpenStore(ctx, cfg, l)
	if err != nil {
		return nil, err
	}
	c := &Components{Config: cfg, Logger: l, Store: st}

	var opts []executor.Option
	if cfg.AuditStreamEnabled() {
		c.publisher = audit.NewKafkaPublisher(producer.NewKafkaProducer(producer.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.AuditTopic,
		}))
		opts = append(opts, executor.WithPublisher(c.publisher))
		l.Info("publishing audit entries", zap.String("topic", cfg.Kafka.AuditTopic))
	}

	roster := upstream.NewRosterClient(upstream.RosterConfig{
		BaseURL: cfg.Upstream.RosterBaseURL,
		Token:   cfg.Upstream.Token,
		Timeout: cfg.Upstream.Timeout,
	}, l)
	forum := upstream.NewForumClient(cfg.Upstream.Timeout, l)

	c.Engine, err = engine.New(engine.Config{
		MemberFields:     cfg.Sync.MemberFields,
		StaleAfter:       cfg.Sync.StaleAfter,
		ForumConcurrency: cfg.Sync.ForumConcurrency,
	}, st, roster, forum, l, opts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	c.Previews, err = c.openPreviews(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// OpenStore connects the store selected by store.driver and applies its
// schema when store.migrate is set
func OpenStore(ctx context.Context, cfg *config.AppConfig, l *logger.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		st, err := pgstore.New(ctx, pgstore.Config{
			URI:      cfg.Postgres.URI,
			MinConns: int32(cfg.Postgres.MinConns),
			MaxConns: int32(cfg.Postgres.MaxConns),
		}, l)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if cfg.Store.Migrate {
			if err := st.Migrate(ctx); err != nil {
				st.Close()
				return nil, err
			}
		}
		return st, nil

	case config.DriverMongo:
		st, err := mongostore.New(ctx, mongostore.Config{
			URI:      cfg.MongoDB.URI,
			Database: cfg.MongoDB.Database,
		}, l)
		if err != nil {
			return nil, err
		}
		if cfg.Store.Migrate {
			if err := st.EnsureIndexes(ctx); err != nil {
				st.Close()
				return nil, err
			}
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func (c *Components) openPreviews(cfg *config.AppConfig) (preview.Store, error) {
	switch cfg.Preview.Backend {
	case config.PreviewFile:
		return preview.NewFileStore(cfg.Preview.Dir, cfg.Preview.TTL)
	default:
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return preview.NewRedisStore(c.redis, cfg.Preview.KeyPrefix, cfg.Preview.TTL), nil
	}
}

// ReadinessChecks returns the dependency checks for the observability server
func (c *Components) ReadinessChecks() map[string]server.ReadinessCheck {
	checks := map[string]server.ReadinessCheck{
		"store": c.Store.Ping,
	}
	if c.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return c.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Close releases every connection opened by Setup
func (c *Components) Close() error {
	var errs []error
	if c.publisher != nil {
		errs = append(errs, c.publisher.Close())
	}
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}
