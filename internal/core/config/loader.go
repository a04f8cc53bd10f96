package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Import.Interval == 0 {
		cfg.Import.Interval = 30 * time.Minute
	}
	if cfg.Import.RetryInterval == 0 {
		cfg.Import.RetryInterval = 10 * time.Minute
	}
	if cfg.Import.MaxAttempts == 0 {
		cfg.Import.MaxAttempts = 5
	}
	if cfg.Import.RequestTimeout == 0 {
		cfg.Import.RequestTimeout = 30 * time.Second
	}
	if cfg.Libris.Sigel == "" {
		cfg.Libris.Sigel = "T"
	}
	if cfg.Libris.ImportMarker == "" {
		cfg.Libris.ImportMarker = "EXPORT"
	}
	if cfg.Libris.ExportProperties == "" {
		cfg.Libris.ExportProperties = "librisexport.properties"
	}
	if cfg.Mail.Port == 0 {
		cfg.Mail.Port = 25
	}

	return &cfg, nil
}
