package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full service configuration, read from environment
// variables at boot.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	NATS      NATSConfig
	Server    ServerConfig
	Engine    EngineConfig
	Persist   PersistConfig
	Snapshots SnapshotConfig
}

type AppConfig struct {
	LogLevel string `envconfig:"LEND_LOG_LEVEL" default:"info"`
}

type PostgresConfig struct {
	URL             string        `envconfig:"POSTGRES_URL" required:"true"`
	MaxOpenConns    int           `envconfig:"POSTGRES_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"POSTGRES_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME" default:"5m"`
	MigrationsDir   string        `envconfig:"MIGRATIONS_DIR" default:"migrations"`
}

type NATSConfig struct {
	URL     string `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
	Enabled bool   `envconfig:"NATS_ENABLED" default:"true"`
}

type ServerConfig struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// EngineConfig sizes the channels between ingestion, the engine, and
// the downstream workers. The persist channel is the only blocking one.
type EngineConfig struct {
	CommandBuffer       int `envconfig:"COMMAND_BUFFER" default:"1024"`
	PersistBuffer       int `envconfig:"PERSIST_BUFFER" default:"8192"`
	ProjectionBuffer    int `envconfig:"PROJECTION_BUFFER" default:"8192"`
	PublishBuffer       int `envconfig:"PUBLISH_BUFFER" default:"8192"`
	IdempotencyWarmKeys int `envconfig:"IDEMPOTENCY_WARM_KEYS" default:"100000"`

	// Development collateral table for the static valuer, as
	// "ref:units,ref:units". Production wires a custodian-backed valuer.
	CollateralUnits map[string]int64 `envconfig:"COLLATERAL_UNITS"`
}

type PersistConfig struct {
	BatchSize    int           `envconfig:"PERSIST_BATCH_SIZE" default:"256"`
	FlushTimeout time.Duration `envconfig:"PERSIST_FLUSH_TIMEOUT" default:"50ms"`
}

type SnapshotConfig struct {
	Interval    time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"10s"`
	EveryEvents int64         `envconfig:"SNAPSHOT_EVERY_EVENTS" default:"10000"`
}

// Load reads configuration from environment variables. A .env file is
// loaded first when present, which keeps local development simple.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
