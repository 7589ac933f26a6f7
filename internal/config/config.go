// Package config содержит логику чтения конфигурации сервиса UTI-коинов.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса UTI-коинов.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	CatalogAddress string `env:"CATALOG_ADDRESS"`

	RedisURL        string        `env:"REDIS_URL"`
	CatalogCacheTTL time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"5m"`

	JWTSecret      string   `env:"JWT_SECRET"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	BonusTimezone      string        `env:"BONUS_TIMEZONE" envDefault:"UTC"`
	BonusResetHour     int           `env:"BONUS_RESET_HOUR" envDefault:"0"`
	OrderSweepInterval time.Duration `env:"ORDER_SWEEP_INTERVAL" envDefault:"1m"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envCatalogAddress := cfg.CatalogAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.CatalogAddress, "r", "", "storefront catalog address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envCatalogAddress != "" {
		cfg.CatalogAddress = envCatalogAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location возвращает часовой пояс для календарных лимитов и окна ежедневного бонуса.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.BonusTimezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.BonusTimezone, err)
	}
	return loc, nil
}

func (c *Config) validate() error {
	if c.BonusResetHour < 0 || c.BonusResetHour > 23 {
		return fmt.Errorf("BONUS_RESET_HOUR must be within [0, 23], got %d", c.BonusResetHour)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.CatalogCacheTTL < 0 || c.OrderSweepInterval < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}
