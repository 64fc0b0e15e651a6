package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/tracet/core/metrics"
	"github.com/kilianp07/tracet/infra/mqtt"
	"github.com/kilianp07/tracet/infra/nats"
)

type Config struct {
	Store      StoreConfig     `json:"store"`
	Ingest     mqtt.Config     `json:"ingest"`
	Telescopes TelescopeConfig `json:"telescopes"`
	Metrics    metrics.Config  `json:"metrics"`
	Logging    LoggingConfig   `json:"logging"`
	Sentry     SentryConfig    `json:"sentry"`
	API        APIConfig       `json:"api"`
	Notify     nats.Config     `json:"notify"`
	// Triggers is the path of the stream and trigger definitions file.
	Triggers string `json:"triggers"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Address string `json:"address"`
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides: K_API__ADDRESS sets api.address.
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Store.SetDefaults()
	c.Ingest.SetDefaults()
	c.Telescopes.SetDefaults()
	c.Logging.SetDefaults()
	c.Notify.SetDefaults()
	if c.API.Address == "" {
		c.API.Address = ":8080"
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Ingest.Validate(); err != nil {
		return err
	}
	if err := c.Telescopes.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}
