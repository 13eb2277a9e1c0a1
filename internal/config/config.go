package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config represents the application configuration.
type Config struct {
	// Server configuration — the gRPC/HTTP command surface that submits
	// commands to the engine (out of scope here; see SPEC_FULL.md §6).
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	// Database configuration — the durable Postgres store behind
	// internal/db/repositories.
	Database struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		User            string        `mapstructure:"user"`
		Password        string        `mapstructure:"password"`
		Name            string        `mapstructure:"name"`
		SSLMode         string        `mapstructure:"sslmode"`
		MaxOpenConns    int           `mapstructure:"max_open_conns"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	} `mapstructure:"database"`

	// Broker configuration — the durable event transport
	// internal/events.BrokerPublisher and internal/consumer subscribe
	// through (go-micro.dev/v4/broker).
	Broker struct {
		Type    string `mapstructure:"type"` // "nats" or "" for the in-memory default
		Address string `mapstructure:"address"`
	} `mapstructure:"broker"`

	// Engine configuration — per-pair matching engine tuning.
	Engine struct {
		Pairs           []string      `mapstructure:"pairs"`
		CommandQueueLen int           `mapstructure:"command_queue_len"`
		PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
	} `mapstructure:"engine"`

	// Fees configuration — seeds internal/fees.Calculator's precedence
	// table at startup.
	Fees struct {
		DefaultRate string `mapstructure:"default_rate"`
		Rules       []struct {
			Pair  string `mapstructure:"pair"`
			Asset string `mapstructure:"asset"`
			Rate  string `mapstructure:"rate"`
		} `mapstructure:"rules"`
	} `mapstructure:"fees"`

	// Monitoring configuration.
	Monitoring struct {
		PrometheusPort int    `mapstructure:"prometheus_port"`
		LogLevel       string `mapstructure:"log_level"`
	} `mapstructure:"monitoring"`
}

var (
	config *Config
	once   sync.Once
)

// LoadConfig loads the configuration from the specified file, falling
// back to defaults and TRADSYS_-prefixed environment variables when no
// config file is present.
func LoadConfig(configPath string) (*Config, error) {
	var err error

	once.Do(func() {
		config = &Config{}

		setDefaults()

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/tradsys")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("TRADSYS")

		if err = v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("failed to read config file: %w", err)
				return
			}
			err = nil
		}

		if err = v.Unmarshal(config); err != nil {
			err = fmt.Errorf("failed to unmarshal config: %w", err)
			return
		}
	})

	return config, err
}

// GetConfig returns the current configuration, loading it with defaults
// on first use.
func GetConfig() *Config {
	if config == nil {
		_, err := LoadConfig("")
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	}
	return config
}

// SaveConfig writes cfg to path as JSON, creating parent directories as
// needed.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults populates config with the defaults a bare deployment
// (no config file, no environment overrides) should run with.
func setDefaults() {
	config.Server.Host = "0.0.0.0"
	config.Server.Port = 8080

	config.Database.Host = "localhost"
	config.Database.Port = 5432
	config.Database.User = "postgres"
	config.Database.Name = "tradsys"
	config.Database.SSLMode = "disable"
	config.Database.MaxOpenConns = 20
	config.Database.MaxIdleConns = 10
	config.Database.ConnMaxLifetime = time.Hour

	config.Broker.Type = ""

	config.Engine.Pairs = []string{"SOL/USDT"}
	config.Engine.CommandQueueLen = 4096
	config.Engine.PublishTimeout = 2 * time.Second

	config.Fees.DefaultRate = "0.0001"

	config.Monitoring.PrometheusPort = 9090
	config.Monitoring.LogLevel = "info"
}

// InitLogger builds the process-wide zap logger from cfg.Monitoring.LogLevel.
func InitLogger(cfg *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch cfg.Monitoring.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}

func newConfig() (*Config, error) {
	return LoadConfig("")
}

// Module provides *Config and the process-wide *zap.Logger to an fx app,
// the same fx.Options shape internal/events.BrokerModule is wired with.
var Module = fx.Options(
	fx.Provide(newConfig),
	fx.Provide(InitLogger),
)
