package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

type Config struct {
	Paths    PathsConfig
	Gallery  GalleryConfig
	Ledger   LedgerConfig
	Face     FaceServiceConfig
	Watch    WatchConfig
	Web      WebConfig
	MQTT     MQTTConfig
	Log      LogConfig
	Tracing  TracingConfig
	Database DatabaseConfig
	Settings SettingsConfig
}

type PathsConfig struct {
	DataDir      string `env:"ATTENDANCE_DATA_DIR" envDefault:"./data"`
	IntakeDir    string `env:"ATTENDANCE_INTAKE_DIR"`    // defaults to <data>/uploads
	ProcessedDir string `env:"ATTENDANCE_PROCESSED_DIR"` // defaults to <data>/processed
	RejectedDir  string `env:"ATTENDANCE_REJECTED_DIR"`  // defaults to <data>/rejected
	FailedDir    string `env:"ATTENDANCE_FAILED_DIR"`    // defaults to <data>/failed
}

type GalleryConfig struct {
	Backend string `env:"GALLERY_BACKEND" envDefault:"file"` // file or postgres
	Path    string `env:"GALLERY_PATH"`                      // JSON file, defaults to <data>/gallery.json
}

type LedgerConfig struct {
	Backend string `env:"LEDGER_BACKEND" envDefault:"csv"` // csv, sqlite, postgres or mysql
	Path    string `env:"LEDGER_PATH"`                     // CSV file, defaults to <data>/attendance.csv
	DSN     string `env:"LEDGER_DSN"`                      // SQL backends; sqlite defaults to <data>/attendance.db
}

type FaceServiceConfig struct {
	URL               string        `env:"FACE_SERVICE_URL" envDefault:"http://localhost:8000"`
	MinDetectionScore float64       `env:"FACE_MIN_DETECTION_SCORE" envDefault:"0.5"`
	Timeout           time.Duration `env:"CAPABILITY_TIMEOUT" envDefault:"30s"`
	Metric            string        `env:"FACE_DISTANCE_METRIC" envDefault:"euclidean"` // euclidean or cosine
}

type WatchConfig struct {
	PollInterval  time.Duration `env:"WATCH_POLL_INTERVAL" envDefault:"5s"`
	SettleDelay   time.Duration `env:"WATCH_SETTLE_DELAY" envDefault:"500ms"`
	Concurrency   int           `env:"WATCH_CONCURRENCY" envDefault:"2"`
	SweepInterval time.Duration `env:"COOLDOWN_SWEEP_INTERVAL" envDefault:"1m"`
}

type WebConfig struct {
	Host           string `env:"WEB_HOST" envDefault:"0.0.0.0"`
	Port           int    `env:"WEB_PORT" envDefault:"8080"`
	JWTSecret      string `env:"WEB_JWT_SECRET"` // empty disables bearer auth
	AllowedOrigins string `env:"WEB_ALLOWED_ORIGINS"`
}

type MQTTConfig struct {
	Broker   string `env:"MQTT_BROKER"` // empty disables the publisher
	Topic    string `env:"MQTT_TOPIC" envDefault:"attendance/events"`
	ClientID string `env:"MQTT_CLIENT_ID" envDefault:"face-attendance"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"` // text or json
}

type TracingConfig struct {
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"` // empty installs a no-op tracer
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"face-attendance"`
}

type DatabaseConfig struct {
	URL          string `env:"DATABASE_URL"`                      // PostgreSQL connection URL for the gallery
	MaxOpenConns int    `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"10"` // Maximum open connections
	MaxIdleConns int    `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"2"`  // Maximum idle connections
}

type SettingsConfig struct {
	Path string `env:"SETTINGS_PATH"` // defaults to <data>/settings.yaml
}

// Load reads the configuration from environment variables and fills
// directory-derived defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	data := c.Paths.DataDir
	setDefault(&c.Paths.IntakeDir, filepath.Join(data, "uploads"))
	setDefault(&c.Paths.ProcessedDir, filepath.Join(data, "processed"))
	setDefault(&c.Paths.RejectedDir, filepath.Join(data, "rejected"))
	setDefault(&c.Paths.FailedDir, filepath.Join(data, "failed"))
	setDefault(&c.Gallery.Path, filepath.Join(data, "gallery.json"))
	setDefault(&c.Ledger.Path, filepath.Join(data, "attendance.csv"))
	setDefault(&c.Settings.Path, filepath.Join(data, "settings.yaml"))
	if c.Ledger.Backend == "sqlite" {
		setDefault(&c.Ledger.DSN, filepath.Join(data, "attendance.db"))
	}
	if c.Watch.Concurrency <= 0 {
		c.Watch.Concurrency = constants.DefaultWorkerConcurrency
	}
	if c.Watch.PollInterval <= 0 {
		c.Watch.PollInterval = constants.DefaultPollInterval
	}
	if c.Face.Timeout <= 0 {
		c.Face.Timeout = constants.DefaultCapabilityTimeout
	}
}

func (c *Config) validate() error {
	switch c.Gallery.Backend {
	case "file":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres gallery")
		}
	default:
		return fmt.Errorf("unknown gallery backend %q", c.Gallery.Backend)
	}
	switch c.Face.Metric {
	case "euclidean", "cosine":
	default:
		return fmt.Errorf("unknown distance metric %q", c.Face.Metric)
	}
	switch c.Ledger.Backend {
	case "csv", "sqlite":
	case "postgres", "mysql":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("LEDGER_DSN is required for the %s ledger", c.Ledger.Backend)
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	return nil
}

// ArchiveDirs returns the processed, rejected and failed directories.
func (p PathsConfig) ArchiveDirs() (string, string, string) {
	return p.ProcessedDir, p.RejectedDir, p.FailedDir
}

func setDefault(field *string, val string) {
	if *field == "" {
		*field = val
	}
}
