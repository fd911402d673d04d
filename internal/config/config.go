package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Ingestion modes selected with INGEST_SOURCE.
const (
	SourceReplay  = "replay"
	SourceLive    = "live"
	SourceWebhook = "webhook"
)

// Config holds the application's configuration values.
// Tags like `envconfig:"APP_ENV"` specify the environment variable name.
// `default:""` provides a default value if the env var is not set.
type Config struct {
	AppEnv      string `envconfig:"APP_ENV" default:"development"` // e.g., development, staging, production
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`      // e.g., debug, info, warn, error
	Ingest      IngestConfig
	Storefront  StorefrontConfig
	HttpServer  ServerConfig
	GrpcServer  GrpcServerConfig
	Postgres    PostgresConfig
	AutoMigrate bool `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// IngestConfig selects where raw products come from.
type IngestConfig struct {
	Source     string `envconfig:"INGEST_SOURCE" default:"replay" validate:"oneof=replay live webhook"`
	PayloadDir string `envconfig:"INGEST_PAYLOAD_DIR" default:"scripts/product_payloads"`
}

// StorefrontConfig tunes the live crawler.
type StorefrontConfig struct {
	BaseURL         string        `envconfig:"STOREFRONT_BASE_URL" validate:"omitempty,url"`
	CollectionPath  string        `envconfig:"STOREFRONT_COLLECTION_PATH" default:"/collections/all-products-1"`
	RequestInterval time.Duration `envconfig:"STOREFRONT_REQUEST_INTERVAL" default:"500ms" validate:"gte=0"`
	RequestTimeout  time.Duration `envconfig:"STOREFRONT_REQUEST_TIMEOUT" default:"30s" validate:"gt=0"`
	MaxPages        int           `envconfig:"STOREFRONT_MAX_PAGES" default:"200" validate:"gte=1"`
	MaxRetries      uint          `envconfig:"STOREFRONT_MAX_RETRIES" default:"3"`
	UserAgent       string        `envconfig:"STOREFRONT_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"`
}

// ServerConfig holds HTTP server-specific configurations.
type ServerConfig struct {
	Port         string        `envconfig:"HTTP_SERVER_PORT" default:"8080"`
	TimeoutRead  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_READ" default:"15s"`
	TimeoutWrite time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_WRITE" default:"15s"`
	TimeoutIdle  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_IDLE" default:"60s"`
}

// GrpcServerConfig holds gRPC server-specific configurations.
type GrpcServerConfig struct {
	Port string `envconfig:"GRPC_SERVER_PORT" default:"9090"`
}

// PostgresConfig holds PostgreSQL database connection details. URL wins
// over the individual fields when set.
type PostgresConfig struct {
	URL      string `envconfig:"DATABASE_URL"`
	Host     string `envconfig:"POSTGRES_HOST"`
	Port     string `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	DBName   string `envconfig:"POSTGRES_DBNAME"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

// DSN constructs the Data Source Name string for connecting to PostgreSQL.
func (pc *PostgresConfig) DSN() string {
	if pc.URL != "" {
		return pc.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		pc.Host, pc.Port, pc.User, pc.Password, pc.DBName, pc.SSLMode)
}

// Load initializes the configuration from environment variables.
// It should be called once during application startup.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the settings each ingestion mode needs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Ingest.Source == SourceLive && c.Storefront.BaseURL == "" {
		return errors.New("invalid configuration: STOREFRONT_BASE_URL is required when INGEST_SOURCE=live")
	}
	if c.Postgres.URL == "" && (c.Postgres.Host == "" || c.Postgres.User == "" || c.Postgres.DBName == "") {
		return errors.New("invalid configuration: set DATABASE_URL or POSTGRES_HOST, POSTGRES_USER and POSTGRES_DBNAME")
	}
	return nil
}
