// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// DefaultPort is the well-known port used both for listening and for
// connecting to peers.
const DefaultPort = 8888

// Config holds every tunable of the transport and the CLI.
type Config struct {
	Port           int           `env:"PEERCHAT_PORT,default=8888" validate:"min=1,max=65535"`
	ListenHost     string        `env:"PEERCHAT_LISTEN_HOST,default=0.0.0.0"`
	ConnectTimeout time.Duration `env:"PEERCHAT_CONNECT_TIMEOUT,default=5s" validate:"gt=0"`
	WriteTimeout   time.Duration `env:"PEERCHAT_WRITE_TIMEOUT,default=5s" validate:"min=0"`
	ReadTimeout    time.Duration `env:"PEERCHAT_READ_TIMEOUT,default=30s" validate:"min=0"`
	ChunkSize      int           `env:"PEERCHAT_CHUNK_SIZE,default=1024" validate:"min=1"`
	MaxMessageSize int           `env:"PEERCHAT_MAX_MESSAGE_SIZE,default=1048576" validate:"min=1"`
	DrainTimeout   time.Duration `env:"PEERCHAT_DRAIN_TIMEOUT,default=2s" validate:"min=0"`
	ObserveAddr    string        `env:"PEERCHAT_OBSERVE_ADDR" validate:"omitempty,hostname_port"`
	LogLevel       string        `env:"PEERCHAT_LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat      string        `env:"PEERCHAT_LOG_FORMAT,default=console" validate:"oneof=console json"`
}

var validate = validator.New()

// Load reads an optional dotenv file, then the process environment, and
// validates the result. An empty path or a missing file is not an error.
// Variables already set in the environment take precedence over the file.
func Load(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", dotenvPath, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ListenAddr returns the address the message listener binds.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.Port))
}
