package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	HTTPAddr       string `env:"HTTP_ADDR"`
	StoreBackend   string `env:"STORE_BACKEND"`
	PendingBackend string `env:"PENDING_BACKEND"`
	PostgresURL    string `env:"POSTGRES_URL"`
	RedisURL       string `env:"REDIS_URL"`
	EthRPCURL      string `env:"ETH_RPC_URL"`

	TelegramToken       string `env:"TELEGRAM_TOKEN"`
	TelegramAlertChatID int64  `env:"TELEGRAM_ALERT_CHAT_ID"`

	WebhookSigningKey string `env:"WEBHOOK_SIGNING_KEY"`

	DebounceQuiet   time.Duration `env:"DEBOUNCE_QUIET"`
	DebounceMaxWait time.Duration `env:"DEBOUNCE_MAX_WAIT"`
	BatchBuffer     int           `env:"BATCH_BUFFER"`

	ProvisionWorkers int           `env:"PROVISION_WORKERS"`
	ProvisionBuffer  int           `env:"PROVISION_BUFFER"`
	CoinCacheSize    int           `env:"COIN_CACHE_SIZE"`
	CoinCacheTTL     time.Duration `env:"COIN_CACHE_TTL"`
	SubsCacheSize    int           `env:"SUBS_CACHE_SIZE"`
	SubsCacheTTL     time.Duration `env:"SUBS_CACHE_TTL"`

	SessionSendBuffer int    `env:"SESSION_SEND_BUFFER"`
	LogLevel          string `env:"LOG_LEVEL"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:          ":8080",
		StoreBackend:      BackendPostgres,
		DebounceQuiet:     3 * time.Second,
		BatchBuffer:       16,
		ProvisionWorkers:  4,
		ProvisionBuffer:   1024,
		CoinCacheSize:     10000,
		CoinCacheTTL:      10 * time.Minute,
		SubsCacheSize:     10000,
		SubsCacheTTL:      30 * time.Second,
		SessionSendBuffer: 64,
		LogLevel:          "info",
	}
}

func LoadConfig() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		fmt.Println("Warning: .env file not found, relying on environment variables")
	}
	return parseConfig()
}

func parseConfig() (Config, error) {
	config := defaultConfig()
	if err := env.Parse(&config); err != nil {
		return Config{}, err
	}
	if config.PendingBackend == "" {
		config.PendingBackend = config.StoreBackend
	}
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendPostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required for the postgres store"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.PendingBackend {
	case BackendPostgres:
		if c.StoreBackend != BackendPostgres {
			errs = append(errs, errors.New("PENDING_BACKEND=postgres requires STORE_BACKEND=postgres"))
		}
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis pending queue"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown PENDING_BACKEND %q", c.PendingBackend))
	}

	if c.DebounceQuiet <= 0 {
		errs = append(errs, errors.New("DEBOUNCE_QUIET must be positive"))
	}
	if c.DebounceMaxWait < 0 {
		errs = append(errs, errors.New("DEBOUNCE_MAX_WAIT must not be negative"))
	}
	if c.TelegramToken != "" && c.TelegramAlertChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_ALERT_CHAT_ID is required with TELEGRAM_TOKEN"))
	}
	return errors.Join(errs...)
}
