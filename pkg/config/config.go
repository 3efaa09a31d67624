package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for listing-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"9090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Drive    DriveConfig    `yaml:"drive"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Validate ValidateConfig `yaml:"validate"`
	Stats    StatsConfig    `yaml:"stats"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"listing"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"listing_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds optional Redis configuration. Redis backs the duplicate
// fast-path set and the stats-refresh trigger counter; the pipeline is fully
// functional without it.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// DriveConfig holds source file-listing API configuration.
type DriveConfig struct {
	BaseURL       string `yaml:"base_url" env:"DRIVE_BASE_URL" env-default:"https://www.googleapis.com/drive/v3"`
	DownloadURL   string `yaml:"download_url" env:"DRIVE_DOWNLOAD_URL" env-default:""` // Defaults to BaseURL if empty
	AccessToken   string `yaml:"-" env:"DRIVE_ACCESS_TOKEN"`                           // Secret - not in YAML
	RootFolderID  string `yaml:"root_folder_id" env:"DRIVE_ROOT_FOLDER_ID"`
	PageSize      int    `yaml:"page_size" env:"DRIVE_PAGE_SIZE" env-default:"1000"`
	TimeoutSec    int    `yaml:"timeout_sec" env:"DRIVE_TIMEOUT_SEC" env-default:"60"`
	MaxFileSizeMB int64  `yaml:"max_file_size_mb" env:"DRIVE_MAX_FILE_SIZE_MB" env-default:"100"`
}

// ScannerConfig tunes the folder scanner producer.
type ScannerConfig struct {
	Workers          int           `yaml:"workers" env:"SCANNER_WORKERS" env-default:"8"`
	MaxDepth         int           `yaml:"max_depth" env:"SCANNER_MAX_DEPTH" env-default:"12"`
	Interval         time.Duration `yaml:"interval" env:"SCANNER_INTERVAL" env-default:"60s"`
	BreakerThreshold int           `yaml:"breaker_threshold" env:"SCANNER_BREAKER_THRESHOLD" env-default:"5"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" env:"SCANNER_BREAKER_COOLDOWN" env-default:"60s"`
	// RescanTolerance controls folder re-scans: a registered folder is
	// re-listed when its reported modification time moved forward by more
	// than this tolerance. Zero restores skip-always behavior.
	RescanTolerance time.Duration `yaml:"rescan_tolerance" env:"SCANNER_RESCAN_TOLERANCE" env-default:"1m"`
}

// IngestConfig tunes the CSV ingestion workers.
type IngestConfig struct {
	Workers      int    `yaml:"workers" env:"INGEST_WORKERS" env-default:"8"`
	BatchSize    int    `yaml:"batch_size" env:"INGEST_BATCH_SIZE" env-default:"2500"`
	MaxRetries   int    `yaml:"max_retries" env:"INGEST_MAX_RETRIES" env-default:"3"`
	MaxFieldLen  int    `yaml:"max_field_len" env:"INGEST_MAX_FIELD_LEN" env-default:"500"`
	ETLVersion   string `yaml:"etl_version" env:"INGEST_ETL_VERSION" env-default:"2.0.0"`
	SourceSystem string `yaml:"source_system" env:"INGEST_SOURCE_SYSTEM" env-default:"google_drive"`
}

// ValidateConfig tunes the validation and promotion engine.
type ValidateConfig struct {
	BatchSize      int           `yaml:"batch_size" env:"VALIDATE_BATCH_SIZE" env-default:"10000"`
	SignatureChunk int           `yaml:"signature_chunk" env:"VALIDATE_SIGNATURE_CHUNK" env-default:"5000"`
	PollInterval   time.Duration `yaml:"poll_interval" env:"VALIDATE_POLL_INTERVAL" env-default:"30s"`
}

// StatsConfig tunes the dashboard stats refresher.
type StatsConfig struct {
	RefreshEvery int `yaml:"refresh_every" env:"STATS_REFRESH_EVERY" env-default:"50"`
}

// Load reads configuration from the given YAML file with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. If the file does not exist, configuration comes from
// environment variables and defaults alone.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Drive.RootFolderID == "" {
		return fmt.Errorf("drive root_folder_id is required")
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Validate.BatchSize <= 0 {
		return fmt.Errorf("validate batch_size must be positive, got %d", c.Validate.BatchSize)
	}
	if c.Scanner.MaxDepth <= 0 {
		return fmt.Errorf("scanner max_depth must be positive, got %d", c.Scanner.MaxDepth)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
