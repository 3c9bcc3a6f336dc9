package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atikaazri/BirthdayCongrat/internal/signature"
)

type Config struct {
	Voucher   VoucherConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Server    ServerConfig
}

type VoucherConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	ValidityHours int64  `mapstructure:"validity_hours"`
	LedgerFile    string `mapstructure:"ledger_file"`
}

// RedisConfig is optional: with an empty Addr the service runs with
// process-local rate limiting and locking, which is only safe while a
// single process owns the ledger file.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type RateLimitConfig struct {
	MaxAttempts int   `mapstructure:"max_attempts"`
	WindowSec   int64 `mapstructure:"window_sec"`
}

type ServerConfig struct {
	Port         int     `mapstructure:"port"`
	AdminAPIKey  string  `mapstructure:"admin_api_key"`
	RedeemPerSec float64 `mapstructure:"redeem_per_sec"`
	RedeemBurst  int     `mapstructure:"redeem_burst"`
}

func (c *Config) Validity() time.Duration {
	return time.Duration(c.Voucher.ValidityHours) * time.Hour
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.redeem_per_sec", 5)
	v.SetDefault("server.redeem_burst", 10)
	v.SetDefault("voucher.validity_hours", 24)
	v.SetDefault("voucher.ledger_file", "voucher_history.csv")
	v.SetDefault("ratelimit.max_attempts", 10)
	v.SetDefault("ratelimit.window_sec", 3600)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"voucher.secret_key":     "VOUCHER_SECRET_KEY",
		"voucher.validity_hours": "VOUCHER_VALIDITY_HOURS",
		"voucher.ledger_file":    "VOUCHER_LEDGER_FILE",
		"redis.addr":             "REDIS_ADDR",
		"redis.password":         "REDIS_PASSWORD",
		"ratelimit.max_attempts": "RATE_MAX_ATTEMPTS",
		"ratelimit.window_sec":   "RATE_WINDOW_SEC",
		"server.port":            "PORT",
		"server.admin_api_key":   "ADMIN_API_KEY",
		"server.redeem_per_sec":  "REDEEM_PER_SEC",
		"server.redeem_burst":    "REDEEM_BURST",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Voucher.SecretKey == "" {
		return fmt.Errorf("required config missing: VOUCHER_SECRET_KEY")
	}
	if len(c.Voucher.SecretKey) < signature.MinSecretLen {
		return fmt.Errorf("VOUCHER_SECRET_KEY must be at least %d characters", signature.MinSecretLen)
	}
	if c.Voucher.ValidityHours <= 0 {
		return fmt.Errorf("VOUCHER_VALIDITY_HOURS must be positive")
	}
	if c.RateLimit.MaxAttempts <= 0 || c.RateLimit.WindowSec <= 0 {
		return fmt.Errorf("rate limit config must be positive")
	}
	return nil
}
