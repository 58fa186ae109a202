package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Transport modes
const (
	TransportYouTube = "youtube"
	TransportMock    = "mock"
)

// Config is the process configuration, read from the environment
type Config struct {
	Token    string `env:"DISCORD_TOKEN"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	ResolveTimeout time.Duration `env:"RESOLVE_TIMEOUT" envDefault:"10s"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	StreamTimeout  time.Duration `env:"STREAM_TIMEOUT" envDefault:"8s"`

	DefaultVolume int    `env:"DEFAULT_VOLUME" envDefault:"50"`
	QueuePageSize int    `env:"QUEUE_PAGE_SIZE" envDefault:"10"`
	CommandPrefix string `env:"COMMAND_PREFIX" envDefault:"!"`

	SearchRateLimit   float64 `env:"SEARCH_RATE_LIMIT" envDefault:"2"`
	MaxStreamAttempts int     `env:"MAX_STREAM_ATTEMPTS" envDefault:"3"`
	YouTubeProxy      string  `env:"YOUTUBE_PROXY"`
	TransportMode     string  `env:"TRANSPORT_MODE" envDefault:"youtube"`

	EnableMCP bool   `env:"ENABLE_MCP" envDefault:"true"`
	ExportDir string `env:"EXPORT_DIR" envDefault:"exports"`
}

// Load reads .env (if present) and then the environment
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("Error loading .env file, using environment variables")
	}
	return Parse()
}

// Parse reads the configuration from the environment only
func Parse() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.TransportMode = strings.ToLower(strings.TrimSpace(cfg.TransportMode))
	return cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c Config) Validate() error {
	var errs []error

	if c.Token == "" {
		errs = append(errs, errors.New("discord token is required, use -token or DISCORD_TOKEN"))
	}
	if c.ResolveTimeout <= 0 || c.ConnectTimeout <= 0 || c.StreamTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.DefaultVolume < 0 || c.DefaultVolume > 100 {
		errs = append(errs, fmt.Errorf("default volume %d outside 0-100", c.DefaultVolume))
	}
	if c.QueuePageSize < 1 {
		errs = append(errs, fmt.Errorf("queue page size %d must be at least 1", c.QueuePageSize))
	}
	if c.CommandPrefix == "" {
		errs = append(errs, errors.New("command prefix must not be empty"))
	}
	if c.SearchRateLimit <= 0 {
		errs = append(errs, errors.New("search rate limit must be positive"))
	}
	if c.MaxStreamAttempts < 1 {
		errs = append(errs, fmt.Errorf("max stream attempts %d must be at least 1", c.MaxStreamAttempts))
	}
	switch c.TransportMode {
	case TransportYouTube, TransportMock:
	default:
		errs = append(errs, fmt.Errorf("unknown transport mode %q", c.TransportMode))
	}

	return errors.Join(errs...)
}

// Level maps LogLevel to a logrus level, defaulting to info
func (c Config) Level() logrus.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
