// Package config содержит логику чтения конфигурации сервиса кампусных баллов.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса кампусных баллов.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	NotifyAddress      string `env:"NOTIFY_ADDRESS"`
	AuthSecret         string `env:"AUTH_SECRET"`
	DefaultAwardPoints int64  `env:"DEFAULT_AWARD_POINTS"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Файл .env, если присутствует, подгружается до разбора окружения.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envNotifyAddress := cfg.NotifyAddress
	envAuthSecret := cfg.AuthSecret
	envDefaultPoints := cfg.DefaultAwardPoints

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotifyAddress, "n", "", "push notification gateway address")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.Int64Var(&cfg.DefaultAwardPoints, "p", 100, "points awarded when a category has no point rule")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotifyAddress != "" {
		cfg.NotifyAddress = envNotifyAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envDefaultPoints != 0 {
		cfg.DefaultAwardPoints = envDefaultPoints
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.DefaultAwardPoints <= 0 {
		cfg.DefaultAwardPoints = 100
	}

	return cfg, nil
}
