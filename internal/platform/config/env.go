// Package config loads process configuration from BABOARD_* environment
// variables.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Storage drivers accepted by StorageConfig.Driver.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Blob drivers accepted by BlobConfig.Driver.
const (
	BlobFilesystem = "fs"
	BlobS3         = "s3"
	BlobMemory     = "memory"
)

// Config is the full runtime configuration of the baboard binary.
type Config struct {
	Storage      StorageConfig
	Blob         BlobConfig `envPrefix:"BABOARD_BLOB_"`
	OTel         OTelConfig `envPrefix:"BABOARD_OTEL_"`
	MetricsAddr  string     `env:"BABOARD_METRICS_ADDR" envDefault:":9090"`
	LogLevel     string     `env:"BABOARD_LOG_LEVEL" envDefault:"info"`
	ModelCatalog string     `env:"BABOARD_MODEL_CATALOG"`
	TraceFile    string     `env:"BABOARD_TRACE_FILE"`
}

// StorageConfig selects the persistent store backend.
type StorageConfig struct {
	Driver      string `env:"BABOARD_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"BABOARD_SQLITE_PATH" envDefault:"baboard.db"`
	PostgresDSN string `env:"BABOARD_POSTGRES_DSN" envDefault:"postgres://localhost/baboard?sslmode=disable"`
}

// BlobConfig selects the archive blob backend.
type BlobConfig struct {
	Driver            string `env:"DRIVER" envDefault:"fs"`
	FSRoot            string `env:"FS_ROOT" envDefault:"./baboard-archive"`
	S3Bucket          string `env:"S3_BUCKET"`
	S3Region          string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3PathStyle       bool   `env:"S3_PATH_STYLE"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	S3SessionToken    string `env:"S3_SESSION_TOKEN"`
}

// OTelConfig controls OTLP trace export. An empty endpoint disables it.
type OTelConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"true"`
	Endpoint string `env:"ENDPOINT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses Config from the environment and validates driver names.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports unknown drivers and missing required settings.
func (c Config) Validate() error {
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch strings.ToLower(c.Blob.Driver) {
	case BlobFilesystem, BlobMemory:
	case BlobS3:
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("BABOARD_BLOB_S3_BUCKET required for s3 blob driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	return nil
}
