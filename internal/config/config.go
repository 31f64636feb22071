package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Database   DatabaseConfig   `mapstructure:"database"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Log        LogConfig        `mapstructure:"log"`
	Restaurant RestaurantConfig `mapstructure:"restaurant"`
	Caixa      CaixaConfig      `mapstructure:"caixa"`
	Kitchen    KitchenConfig    `mapstructure:"kitchen"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" env:"POS_PORT"`
	KitchenPort    int           `mapstructure:"kitchen_port" env:"POS_KITCHEN_PORT"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" env:"POS_REQUEST_TIMEOUT"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" env:"POS_ALLOWED_ORIGINS" envSeparator:","`
}

// StoreConfig selects the document store backend: postgres, sqlite or memory.
type StoreConfig struct {
	Driver     string `mapstructure:"driver" env:"POS_STORE_DRIVER"`
	SQLitePath string `mapstructure:"sqlite_path" env:"POS_SQLITE_PATH"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host" env:"POS_DB_HOST"`
	Port     int    `mapstructure:"port" env:"POS_DB_PORT"`
	User     string `mapstructure:"user" env:"POS_DB_USER"`
	Password string `mapstructure:"password" env:"POS_DB_PASSWORD"`
	Database string `mapstructure:"database" env:"POS_DB_NAME"`
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled" env:"POS_RABBITMQ_ENABLED"`
	Host     string `mapstructure:"host" env:"POS_RABBITMQ_HOST"`
	Port     int    `mapstructure:"port" env:"POS_RABBITMQ_PORT"`
	User     string `mapstructure:"user" env:"POS_RABBITMQ_USER"`
	Password string `mapstructure:"password" env:"POS_RABBITMQ_PASSWORD"`
	Prefetch int    `mapstructure:"prefetch" env:"POS_RABBITMQ_PREFETCH"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" env:"POS_JWT_SECRET"`
	Issuer    string        `mapstructure:"issuer" env:"POS_JWT_ISSUER"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" env:"POS_TOKEN_TTL"`
}

// TracingConfig enables OTLP export when Endpoint is set.
type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint" env:"POS_OTEL_ENDPOINT"`
}

type LogConfig struct {
	Level string `mapstructure:"level" env:"POS_LOG_LEVEL"`
}

type RestaurantConfig struct {
	Tables   int    `mapstructure:"tables" env:"POS_TABLES"`
	Currency string `mapstructure:"currency" env:"POS_CURRENCY"`
	Locale   string `mapstructure:"locale" env:"POS_LOCALE"`
}

type CaixaConfig struct {
	PurgeOnClose bool `mapstructure:"purge_on_close" env:"POS_CAIXA_PURGE_ON_CLOSE"`
}

type KitchenConfig struct {
	ResyncInterval time.Duration `mapstructure:"resync_interval" env:"POS_KITCHEN_RESYNC_INTERVAL"`
	// PollInterval drives a kitchen display that runs without the broker.
	PollInterval time.Duration `mapstructure:"poll_interval" env:"POS_KITCHEN_POLL_INTERVAL"`
}

// Load reads configuration from a YAML file and applies POS_* environment
// overrides on top. A missing file leaves the defaults in place.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.kitchen_port", 3001)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "data/pos.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "pos_user")
	v.SetDefault("database.database", "labonnas_pos")
	v.SetDefault("rabbitmq.enabled", true)
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.prefetch", 10)
	v.SetDefault("auth.issuer", "labonnas-pos")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("restaurant.tables", 50)
	v.SetDefault("restaurant.currency", "EUR")
	v.SetDefault("restaurant.locale", "pt-PT")
	v.SetDefault("caixa.purge_on_close", true)
	v.SetDefault("kitchen.resync_interval", time.Minute)
	v.SetDefault("kitchen.poll_interval", 2*time.Second)
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("database host and name are required for the postgres store")
		}
	case "sqlite":
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver: %s", c.Store.Driver)
	}

	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Restaurant.Tables <= 0 {
		return fmt.Errorf("restaurant.tables must be positive")
	}
	if c.RabbitMQ.Enabled && c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq.host is required when rabbitmq is enabled")
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database)
}

// RabbitMQURL returns an AMQP connection URL
func (c *Config) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		c.RabbitMQ.User, c.RabbitMQ.Password, c.RabbitMQ.Host, c.RabbitMQ.Port)
}
