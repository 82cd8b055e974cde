package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Relay is the relay server's environment
type Relay struct {
	Port              int    `env:"WS_PORT" envDefault:"8081"`
	Debug             bool   `env:"DEBUG_WS" envDefault:"false"`
	MapsDir           string `env:"MAPS_DIR" envDefault:"maps"`
	ArtworkDir        string `env:"ARTWORK_DIR" envDefault:"artwork"`
	CatalogConfig     string `env:"CATALOG_CONFIG"`
	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"tabletop.session"`
	MaxMessageBytes   int64  `env:"MAX_MESSAGE_BYTES" envDefault:"1048576"`
}

// Agent is the headless sync client's environment
type Agent struct {
	URL    string `env:"TABLETOP_WS_URL"`
	Origin string `env:"TABLETOP_ORIGIN"`
	Role   string `env:"TABLETOP_ROLE" envDefault:"table"`
	Port   int    `env:"WS_PORT" envDefault:"8081"`
	Debug  bool   `env:"DEBUG_WS" envDefault:"false"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug().Msg("no .env file found, using process environment")
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadRelay reads .env and parses the relay environment
func LoadRelay() (Relay, error) {
	var cfg Relay
	if err := LoadDotEnv(); err != nil {
		return cfg, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid WS_PORT %d", cfg.Port)
	}
	return cfg, nil
}

// LoadAgent reads .env and parses the sync client environment
func LoadAgent() (Agent, error) {
	var cfg Agent
	if err := LoadDotEnv(); err != nil {
		return cfg, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
