package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/panashe-dev/kombi-go/internal/domain/types"
	"github.com/panashe-dev/kombi-go/pkg/configparser"
)

// Flags
var (
	modeFlag = flag.String("mode", "", "client mode (rider or driver)")
)

// Errors
var (
	ErrModeNotProvided = errors.New("mode flag not provided")
	ErrInvalidMode     = errors.New("mode must be 'rider' or 'driver'")
)

// Config contains all configuration variables of the client
type (
	Config struct {
		Mode types.Role

		Ledger   LedgerConfig
		Realtime RealtimeConfig
		Session  SessionConfig
		Dispatch DispatchConfig
		Trip     TripConfig
		Log      LogConfig
		Metrics  MetricsConfig
	}

	LedgerConfig struct {
		BaseURL        string        `env:"LEDGER_BASE_URL" default:"http://localhost:3000"`
		RequestTimeout time.Duration `env:"LEDGER_REQUEST_TIMEOUT" default:"30s"`
		MaxRetries     int           `env:"LEDGER_MAX_RETRIES" default:"3"`
		RetryBaseDelay time.Duration `env:"LEDGER_RETRY_BASE_DELAY" default:"1s"`
		CacheTTL       time.Duration `env:"LEDGER_CACHE_TTL" default:"30s"`
		CacheCapacity  int           `env:"LEDGER_CACHE_CAPACITY" default:"128"`
	}

	RealtimeConfig struct {
		// Transport selects the pub/sub backend: "ws", "redis" or "rabbit".
		Transport string `env:"REALTIME_TRANSPORT" default:"ws"`

		GatewayURL string `env:"REALTIME_GATEWAY_URL" default:"ws://localhost:3001/ws"`

		RedisAddr     string `env:"REALTIME_REDIS_ADDR" default:"localhost:6379"`
		RedisPassword string `env:"REALTIME_REDIS_PASSWORD"`

		RabbitHost     string `env:"REALTIME_RABBIT_HOST" default:"localhost"`
		RabbitPort     string `env:"REALTIME_RABBIT_PORT" default:"5672"`
		RabbitUser     string `env:"REALTIME_RABBIT_USER" default:"guest"`
		RabbitPassword string `env:"REALTIME_RABBIT_PASSWORD" default:"guest"`
	}

	SessionConfig struct {
		StorePath        string        `env:"SESSION_STORE_PATH" default:".kombi/session.json"`
		CheckInterval    time.Duration `env:"SESSION_CHECK_INTERVAL" default:"30s"`
		RefreshThreshold time.Duration `env:"SESSION_REFRESH_THRESHOLD" default:"1h"`
	}

	DispatchConfig struct {
		RadiusKm float64 `env:"DISPATCH_RADIUS_KM" default:"25"`
	}

	TripConfig struct {
		PollInterval time.Duration `env:"TRIP_POLL_INTERVAL" default:"12s"`
		City         string        `env:"TRIP_CITY" default:"harare"`
	}

	LogConfig struct {
		Level string `env:"LOG_LEVEL" default:"INFO"`
	}

	MetricsConfig struct {
		// Addr enables the Prometheus endpoint when non-empty.
		Addr string `env:"METRICS_ADDR"`
	}
)

func (c RealtimeConfig) RabbitDSN() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		c.RabbitUser,
		c.RabbitPassword,
		c.RabbitHost,
		c.RabbitPort,
	)
}

func NewConfig(filepath string) (*Config, error) {
	cfg := &Config{}

	// Loading enviromental variables and parsing to config struct.
	if err := configparser.LoadAndParseYaml(filepath, cfg); err != nil {
		return nil, fmt.Errorf("failed to load and parse config: %w", err)
	}

	// Parsing flags
	if err := parseFlags(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	return cfg, nil
}

func parseFlags(cfg *Config) error {
	if modeFlag == nil || *modeFlag == "" {
		return ErrModeNotProvided
	}

	switch types.Role(*modeFlag) {
	case types.RoleRider, types.RoleDriver:
		cfg.Mode = types.Role(*modeFlag)
	default:
		return ErrInvalidMode
	}

	return nil
}
