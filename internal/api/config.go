// internal/api/config.go
package api

import (
	"fmt"

	"github.com/caarlos0/env/v6"
)

// Config holds the service settings, all overridable via environment.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	// DBPath selects the sqlite ledger file. Empty means a purely
	// in-memory ledger that vanishes on shutdown.
	DBPath    string `env:"DB_PATH" envDefault:""`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	ProgramID string `env:"PROGRAM_ID" envDefault:"SMPLecH534NA9acpos4G6x7uf3LWbCAwZQE9e8ZekMu"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}
