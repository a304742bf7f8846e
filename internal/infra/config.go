package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"token_exchange/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent by outbound HTTP clients (price poller).
	DefaultUserAgent = "token-exchange/1.0"

	// DefaultSettlementThreshold is used when settlement.threshold is omitted.
	DefaultSettlementThreshold = "10.00"
)

// Config holds every setting of the exchange service.
// LoadConfig fills it from YAML and then applies environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	HTTP struct {
		Addr               string `yaml:"addr"`
		ReadTimeoutSec     int    `yaml:"read_timeout_sec"`
		WriteTimeoutSec    int    `yaml:"write_timeout_sec"`
		ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
	} `yaml:"http"`

	Database struct {
		Driver string `yaml:"driver"` // sqlite, postgres, mysql
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	Settlement struct {
		Threshold decimal.Decimal `yaml:"threshold"`
	} `yaml:"settlement"`

	Auth struct {
		Tokens map[string]string `yaml:"tokens"` // bearer token -> owner id
	} `yaml:"auth"`

	Catalog struct {
		Prices          map[string]decimal.Decimal `yaml:"prices"`
		PollURL         string                     `yaml:"poll_url"`
		PollIntervalSec int                        `yaml:"poll_interval_sec"`
	} `yaml:"catalog"`

	Seed struct {
		Balances map[string]decimal.Decimal `yaml:"balances"`
	} `yaml:"seed"`

	Notify struct {
		Buffer    int `yaml:"buffer"`
		TimeoutMS int `yaml:"timeout_ms"`
	} `yaml:"notify"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration usable without a file.
func DefaultConfig() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// DefaultConfigFromEnv is DefaultConfig with environment overrides applied
// and validated. Used when no config file exists.
func DefaultConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := overrideWithEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "token-exchange"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeoutSec == 0 {
		c.HTTP.ReadTimeoutSec = 5
	}
	if c.HTTP.WriteTimeoutSec == 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownTimeoutSec == 0 {
		c.HTTP.ShutdownTimeoutSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Settlement.Threshold.IsZero() {
		c.Settlement.Threshold = decimal.RequireFromString(DefaultSettlementThreshold)
	}
	if c.Catalog.PollIntervalSec == 0 {
		c.Catalog.PollIntervalSec = 60
	}
	if c.Notify.Buffer == 0 {
		c.Notify.Buffer = 256
	}
	if c.Notify.TimeoutMS == 0 {
		c.Notify.TimeoutMS = 5000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !c.Settlement.Threshold.IsPositive() {
		return &domain.ConfigError{Field: "settlement.threshold", Err: fmt.Errorf("must be positive, got %s", c.Settlement.Threshold)}
	}

	switch c.Database.Driver {
	case "sqlite":
	case "postgres", "mysql":
		if c.Database.DSN == "" {
			return &domain.ConfigError{Field: "database.dsn", Err: fmt.Errorf("required for driver %s", c.Database.Driver)}
		}
	default:
		return &domain.ConfigError{Field: "database.driver", Err: fmt.Errorf("unsupported driver %q", c.Database.Driver)}
	}

	for token, owner := range c.Auth.Tokens {
		if token == "" || owner == "" {
			return &domain.ConfigError{Field: "auth.tokens", Err: errors.New("empty token or owner")}
		}
	}

	for token, price := range c.Catalog.Prices {
		if price.IsNegative() {
			return &domain.ConfigError{Field: "catalog.prices." + token, Err: errors.New("price must not be negative")}
		}
		if !domain.FitsAmount(price) {
			return &domain.ConfigError{Field: "catalog.prices." + token, Err: fmt.Errorf("price %s out of range", price)}
		}
	}
	if c.Catalog.PollURL != "" && !hasPrefix(c.Catalog.PollURL, "http://") && !hasPrefix(c.Catalog.PollURL, "https://") {
		return &domain.ConfigError{Field: "catalog.poll_url", Err: fmt.Errorf("invalid URL %q", c.Catalog.PollURL)}
	}
	if c.Catalog.PollIntervalSec < 0 {
		return &domain.ConfigError{Field: "catalog.poll_interval_sec", Err: errors.New("must not be negative")}
	}

	for owner, amount := range c.Seed.Balances {
		if !amount.IsPositive() {
			return &domain.ConfigError{Field: "seed.balances." + owner, Err: errors.New("must be positive")}
		}
		if !domain.FitsAmount(amount) {
			return &domain.ConfigError{Field: "seed.balances." + owner, Err: fmt.Errorf("amount %s out of range", amount)}
		}
	}

	if c.Notify.Buffer < 0 || c.Notify.TimeoutMS < 0 {
		return &domain.ConfigError{Field: "notify", Err: errors.New("buffer and timeout must not be negative")}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Logging.Level)}
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) error {
	if dsn := os.Getenv("EXCHANGE_DB_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if driver := os.Getenv("EXCHANGE_DB_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if addr := os.Getenv("EXCHANGE_HTTP_ADDR"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if level := os.Getenv("EXCHANGE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if dir := os.Getenv("EXCHANGE_LOG_DIR"); dir != "" {
		cfg.Logging.Dir = dir
	}
	if raw := os.Getenv("EXCHANGE_SETTLEMENT_THRESHOLD"); raw != "" {
		threshold, err := decimal.NewFromString(raw)
		if err != nil {
			return &domain.ConfigError{Field: "EXCHANGE_SETTLEMENT_THRESHOLD", Err: err}
		}
		cfg.Settlement.Threshold = threshold
	}
	return nil
}
