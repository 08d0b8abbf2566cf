package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	libconfig "smartparking/libs/config"
)

const (
	defaultHTTPTimeout         = 5 * time.Second
	defaultPollInterval        = 10 * time.Second
	defaultPaymentPollInterval = 3 * time.Second
	defaultExitCloseDelay      = 100 * time.Millisecond
	defaultCacheTTL            = 10 * time.Minute
	defaultCurrency            = "RWF"
	defaultDeepLinkScheme      = "smartparking"
)

// Config defines the parking client configuration.
type Config struct {
	API struct {
		BaseURL string        `yaml:"baseUrl" toml:"baseUrl" env:"PARKING_API_BASE_URL"`
		WSURL   string        `yaml:"wsUrl" toml:"wsUrl" env:"PARKING_WS_BASE_URL"`
		Timeout time.Duration `yaml:"timeout" toml:"timeout" env:"PARKING_HTTP_TIMEOUT"`
	} `yaml:"api" toml:"api"`
	Live struct {
		IdleTimeout    time.Duration `yaml:"idleTimeout" toml:"idleTimeout" env:"PARKING_LIVE_IDLE_TIMEOUT"`
		ExitCloseDelay time.Duration `yaml:"exitCloseDelay" toml:"exitCloseDelay" env:"PARKING_EXIT_CLOSE_DELAY"`
	} `yaml:"live" toml:"live"`
	Poll struct {
		Interval        time.Duration `yaml:"interval" toml:"interval" env:"PARKING_POLL_INTERVAL"`
		PaymentInterval time.Duration `yaml:"paymentInterval" toml:"paymentInterval" env:"PARKING_PAYMENT_POLL_INTERVAL"`
	} `yaml:"poll" toml:"poll"`
	Vault struct {
		Path       string `yaml:"path" toml:"path" env:"PARKING_VAULT_PATH"`
		Passphrase string `yaml:"passphrase" toml:"passphrase" env:"PARKING_VAULT_PASSPHRASE"`
	} `yaml:"vault" toml:"vault"`
	Redis struct {
		Addr     string        `yaml:"addr" toml:"addr" env:"PARKING_REDIS_ADDR"`
		Password string        `yaml:"password" toml:"password" env:"PARKING_REDIS_PASSWORD"`
		DB       int           `yaml:"db" toml:"db" env:"PARKING_REDIS_DB"`
		TTL      time.Duration `yaml:"ttl" toml:"ttl" env:"PARKING_REDIS_TTL"`
	} `yaml:"redis" toml:"redis"`
	History struct {
		DSN       string        `yaml:"dsn" toml:"dsn" env:"PARKING_HISTORY_DSN"`
		Retention time.Duration `yaml:"retention" toml:"retention" env:"PARKING_HISTORY_RETENTION"`
	} `yaml:"history" toml:"history"`
	Currency       string `yaml:"currency" toml:"currency" env:"PARKING_CURRENCY"`
	DeepLinkScheme string `yaml:"deepLinkScheme" toml:"deepLinkScheme" env:"PARKING_DEEP_LINK_SCHEME"`
}

// Load configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finalize() error {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.BaseURL == "" {
		return errors.New("config: api base url required")
	}
	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		return fmt.Errorf("config: invalid api base url: %w", err)
	}
	if strings.TrimSpace(c.API.WSURL) == "" {
		c.API.WSURL = WebSocketURL(c.API.BaseURL)
	}
	c.API.WSURL = strings.TrimRight(c.API.WSURL, "/")

	if c.API.Timeout <= 0 {
		c.API.Timeout = defaultHTTPTimeout
	}
	if c.Live.IdleTimeout < 0 {
		c.Live.IdleTimeout = 0
	}
	if c.Live.ExitCloseDelay <= 0 {
		c.Live.ExitCloseDelay = defaultExitCloseDelay
	}
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = defaultPollInterval
	}
	if c.Poll.PaymentInterval <= 0 {
		c.Poll.PaymentInterval = defaultPaymentPollInterval
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = defaultCacheTTL
	}
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
	if c.DeepLinkScheme == "" {
		c.DeepLinkScheme = defaultDeepLinkScheme
	}
	return nil
}

// WebSocketURL derives the push address from the API base by swapping http for ws.
func WebSocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}

// CacheEnabled reports whether a shared redis snapshot cache is configured.
func (c *Config) CacheEnabled() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}

// ArchiveEnabled reports whether the postgres history archive is configured.
func (c *Config) ArchiveEnabled() bool {
	return strings.TrimSpace(c.History.DSN) != ""
}

// DevServerConfig defines the local development backend.
type DevServerConfig struct {
	HTTP struct {
		Port string `yaml:"port" toml:"port" env:"DEVSERVER_HTTP_PORT"`
	} `yaml:"http" toml:"http"`
	JWT struct {
		Secret   string        `yaml:"secret" toml:"secret" env:"DEVSERVER_JWT_SECRET"`
		TokenTTL time.Duration `yaml:"tokenTtl" toml:"tokenTtl" env:"DEVSERVER_TOKEN_TTL"`
	} `yaml:"jwt" toml:"jwt"`
	TickInterval      time.Duration `yaml:"tickInterval" toml:"tickInterval" env:"DEVSERVER_TICK_INTERVAL"`
	PricePerHourCents int64         `yaml:"pricePerHourCents" toml:"pricePerHourCents" env:"DEVSERVER_PRICE_PER_HOUR_CENTS"`
	Currency          string        `yaml:"currency" toml:"currency" env:"DEVSERVER_CURRENCY"`
	PublicURL         string        `yaml:"publicUrl" toml:"publicUrl" env:"DEVSERVER_PUBLIC_URL"`
	ReturnScheme      string        `yaml:"returnScheme" toml:"returnScheme" env:"DEVSERVER_RETURN_SCHEME"`
}

// LoadDevServer loads the development backend configuration.
func LoadDevServer() (*DevServerConfig, error) {
	cfg := &DevServerConfig{}
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *DevServerConfig) finalize() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt secret required")
	}
	if c.JWT.TokenTTL <= 0 {
		c.JWT.TokenTTL = 24 * time.Hour
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 2 * time.Second
	}
	if c.PricePerHourCents <= 0 {
		c.PricePerHourCents = 50000
	}
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
	if c.ReturnScheme == "" {
		c.ReturnScheme = defaultDeepLinkScheme
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *DevServerConfig) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
