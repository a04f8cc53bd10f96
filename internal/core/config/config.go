package config

import (
	"time"

	"github.com/kth-biblioteket/almatools-tasks/internal/infra/alma"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/libris"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/mail"
	redisclient "github.com/kth-biblioteket/almatools-tasks/internal/infra/redis"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Libris   libris.Config      `yaml:"libris"`
	Alma     alma.Config        `yaml:"alma"`
	Mail     mail.Config        `yaml:"mail"`
	Import   ImportConfig       `yaml:"import"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ImportConfig holds the import and retry cadence.
type ImportConfig struct {
	Interval       time.Duration `yaml:"interval"`        // export feed window / fetch cadence
	RetryInterval  time.Duration `yaml:"retry_interval"`  // retry queue cycle cadence
	MaxAttempts    int           `yaml:"max_attempts"`    // replays before escalation
	RequestTimeout time.Duration `yaml:"request_timeout"` // per external call
}
