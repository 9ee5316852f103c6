// Package config содержит логику чтения конфигурации платформы лояльности.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации платформы лояльности.
type Config struct {
	RunAddress           string        `env:"RUN_ADDRESS"`
	DatabaseURI          string        `env:"DATABASE_URI"`
	AuthSecret           string        `env:"AUTH_SECRET"`
	AIEnabled            bool          `env:"AI_ENABLED"`
	ChurnRefreshInterval time.Duration `env:"CHURN_REFRESH_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envAIEnabled := cfg.AIEnabled
	envChurnInterval := cfg.ChurnRefreshInterval
	// Для булевой переменной значение false неотличимо от отсутствия,
	// поэтому фиксируем сам факт её наличия в окружении.
	_, aiEnvSet := os.LookupEnv("AI_ENABLED")

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.BoolVar(&cfg.AIEnabled, "ai", true, "enable AI heuristics")
	flag.DurationVar(&cfg.ChurnRefreshInterval, "churn-interval", 0, "interval between churn prediction refreshes")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if aiEnvSet {
		cfg.AIEnabled = envAIEnabled
	}
	if envChurnInterval > 0 {
		cfg.ChurnRefreshInterval = envChurnInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
