package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Preview backends
const (
	PreviewRedis = "redis"
	PreviewFile  = "file"
)

// AppConfig holds the complete configuration for the application
type AppConfig struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	ServiceName string         `mapstructure:"service_name"`
	Store       StoreConfig    `mapstructure:"store"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	MongoDB     MongoConfig    `mapstructure:"mongodb"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	Upstream    UpstreamConfig `mapstructure:"upstream"`
	Sync        SyncConfig     `mapstructure:"sync"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Preview     PreviewConfig  `mapstructure:"preview"`
}

type StoreConfig struct {
	Driver  string `mapstructure:"driver"`
	Migrate bool   `mapstructure:"migrate"`
}

type PostgresConfig struct {
	URI      string `mapstructure:"uri"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	AuditTopic   string   `mapstructure:"audit_topic"`
	RequestTopic string   `mapstructure:"request_topic"`
	GroupID      string   `mapstructure:"group_id"`
}

type UpstreamConfig struct {
	RosterBaseURL string        `mapstructure:"roster_base_url"`
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	MemberFields     []string      `mapstructure:"member_fields"`
	WorkerCount      int           `mapstructure:"worker_count"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	ForumConcurrency int           `mapstructure:"forum_concurrency"`
}

type HTTPConfig struct {
	APIAddr           string `mapstructure:"api_addr"`
	ObservabilityAddr string `mapstructure:"observability_addr"`
}

type PreviewConfig struct {
	Backend   string        `mapstructure:"backend"`
	TTL       time.Duration `mapstructure:"ttl"`
	Dir       string        `mapstructure:"dir"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// Load loads configuration from file and environment variables
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	// Default values
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "antelope-sync")
	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.migrate", false)
	v.SetDefault("postgres.max_conns", 20)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("mongodb.database", "antelope")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.audit_topic", "roster-audit")
	v.SetDefault("kafka.request_topic", "roster-sync-requests")
	v.SetDefault("kafka.group_id", "antelope-syncworker")
	v.SetDefault("upstream.timeout", 15*time.Second)
	v.SetDefault("sync.stale_after", 6*time.Hour)
	v.SetDefault("sync.worker_count", 4)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.forum_concurrency", 4)
	v.SetDefault("http.api_addr", ":8080")
	v.SetDefault("http.observability_addr", ":9090")
	v.SetDefault("preview.backend", PreviewRedis)
	v.SetDefault("preview.ttl", 15*time.Minute)
	v.SetDefault("preview.dir", ".previews")
	v.SetDefault("preview.key_prefix", "antelope:preview:")

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	// Bind environment variables explicitly for nested structs to ensure Unmarshal picks them up
	v.BindEnv("service_name", "SERVICE_NAME")
	v.BindEnv("environment", "ENVIRONMENT")
	v.BindEnv("log_level", "LOG_LEVEL")
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("store.migrate", "STORE_MIGRATE")
	v.BindEnv("postgres.uri", "POSTGRES_URI")
	v.BindEnv("postgres.max_conns", "POSTGRES_MAX_CONNS")
	v.BindEnv("postgres.min_conns", "POSTGRES_MIN_CONNS")
	v.BindEnv("mongodb.uri", "MONGODB_URI")
	v.BindEnv("mongodb.database", "MONGODB_DATABASE")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.audit_topic", "KAFKA_AUDIT_TOPIC")
	v.BindEnv("kafka.request_topic", "KAFKA_REQUEST_TOPIC")
	v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("upstream.roster_base_url", "UPSTREAM_ROSTER_BASE_URL")
	v.BindEnv("upstream.token", "UPSTREAM_TOKEN")
	v.BindEnv("upstream.timeout", "UPSTREAM_TIMEOUT")
	v.BindEnv("sync.stale_after", "SYNC_STALE_AFTER")
	v.BindEnv("sync.member_fields", "SYNC_MEMBER_FIELDS")
	v.BindEnv("sync.worker_count", "SYNC_WORKER_COUNT")
	v.BindEnv("sync.max_attempts", "SYNC_MAX_ATTEMPTS")
	v.BindEnv("sync.forum_concurrency", "SYNC_FORUM_CONCURRENCY")
	v.BindEnv("http.api_addr", "HTTP_API_ADDR")
	v.BindEnv("http.observability_addr", "HTTP_OBSERVABILITY_ADDR")
	v.BindEnv("preview.backend", "PREVIEW_BACKEND")
	v.BindEnv("preview.ttl", "PREVIEW_TTL")
	v.BindEnv("preview.dir", "PREVIEW_DIR")
	v.BindEnv("preview.key_prefix", "PREVIEW_KEY_PREFIX")

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Lists arrive as a single comma separated string from env
	config.Kafka.Brokers = splitList(config.Kafka.Brokers)
	config.Sync.MemberFields = splitList(config.Sync.MemberFields)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *AppConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name is required")
	}
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Postgres.URI == "" {
			return errors.New("postgres.uri is required")
		}
	case DriverMongo:
		if c.MongoDB.URI == "" {
			return errors.New("mongodb.uri is required")
		}
		if c.MongoDB.Database == "" {
			return errors.New("mongodb.database is required")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q", DriverPostgres, DriverMongo)
	}
	if c.Upstream.RosterBaseURL == "" {
		return errors.New("upstream.roster_base_url is required")
	}
	if c.Sync.WorkerCount <= 0 {
		return errors.New("sync.worker_count must be positive")
	}
	if c.Sync.StaleAfter <= 0 {
		return errors.New("sync.stale_after must be positive")
	}
	switch c.Preview.Backend {
	case PreviewRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required")
		}
	case PreviewFile:
		if c.Preview.Dir == "" {
			return errors.New("preview.dir is required")
		}
	default:
		return fmt.Errorf("preview.backend must be %q or %q", PreviewRedis, PreviewFile)
	}
	return nil
}

// ValidateWorker checks the settings only the Kafka triggered worker needs
func (c *AppConfig) ValidateWorker() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if c.Kafka.RequestTopic == "" {
		return errors.New("kafka.request_topic is required")
	}
	if c.Kafka.GroupID == "" {
		return errors.New("kafka.group_id is required")
	}
	return nil
}

// AuditStreamEnabled reports whether committed audit entries are published
func (c *AppConfig) AuditStreamEnabled() bool {
	return len(c.Kafka.Brokers) > 0 && c.Kafka.AuditTopic != ""
}
