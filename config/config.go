// Package config loads the endpoints and tools shared by the commands from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/airbusgeo/insar-timeseries/graph"
	"github.com/caarlos0/env/v10"
)

// Endpoints holds the configuration loaded from environment variables
type Endpoints struct {
	GRQ     GRQConfig     `envPrefix:"GRQ_"`
	Tools   ToolsConfig   `envPrefix:""`
	Logging LoggingConfig `envPrefix:"LOG_"`

	// PushGateway is the prometheus pushgateway receiving the metrics of the run (empty to disable)
	PushGateway string `env:"PUSHGATEWAY_URL"`
}

// GRQConfig is the catalog of the published datasets.
// An empty URL disables the existence check.
type GRQConfig struct {
	URL   string `env:"ES_URL"`
	Alias string `env:"DATASET_ALIAS" envDefault:"grq"`
}

// ToolsConfig locates the external tools
type ToolsConfig struct {
	GiantPath string `env:"GIANT_PATH" envDefault:"/opt/giant"`
	GDALBin   string `env:"GDAL_BIN"`
	Python2   string `env:"PYTHON2" envDefault:"python2"`
}

type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"console"`
}

// Load parses the configuration from the environment variables
func Load() (*Endpoints, error) {
	cfg := &Endpoints{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration
func (c *Endpoints) Validate() error {
	if c.GRQ.URL != "" && !strings.HasPrefix(c.GRQ.URL, "http://") && !strings.HasPrefix(c.GRQ.URL, "https://") {
		return fmt.Errorf("GRQ_ES_URL must be an http(s) url, got %q", c.GRQ.URL)
	}
	if c.GRQ.URL != "" && c.GRQ.Alias == "" {
		return fmt.Errorf("GRQ_DATASET_ALIAS is required with GRQ_ES_URL")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Logging.Format)
	}
	return nil
}

// GraphConfig overrides the tool locations of the graph configuration
func (c *Endpoints) GraphConfig(config graph.GraphConfig) graph.GraphConfig {
	res := graph.GraphConfig{}
	for k, v := range config {
		res[k] = v
	}
	res[graph.ConfigGiantPath] = c.Tools.GiantPath
	res[graph.ConfigPython] = c.Tools.Python2
	return res
}
