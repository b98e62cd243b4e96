package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/money"
)

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	Schema          string        `yaml:"schema"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type CheckoutConfig struct {
	Currency      string        `yaml:"currency"`
	PaymentMethod string        `yaml:"payment_method"`
	PhoneRegion   string        `yaml:"phone_region"`
	StockWorkers  int           `yaml:"stock_workers"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type NotifyConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	InternalToken string `yaml:"internal_token"`
}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Checkout CheckoutConfig `yaml:"checkout"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Notify   NotifyConfig   `yaml:"notify"`
	Auth     AuthConfig     `yaml:"auth"`
}

// NewConfig loads the configuration from the file named by CONFIG_FILE (if any),
// a local .env file (if present) and the process environment.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to load .env: %w", err)
	}
	return Load(os.Getenv("CONFIG_FILE"))
}

// Load reads an optional YAML file, then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to open config file: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: invalid config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.App.Name = "checkout-service"
	cfg.App.Port = "8080"
	cfg.App.LogLevel = "info"

	cfg.Postgres.Host = "localhost"
	cfg.Postgres.Port = "5432"
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.Schema = "storefront"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = time.Hour
	cfg.Postgres.MigrationsPath = "migrations"

	cfg.Checkout.Currency = "GEL"
	cfg.Checkout.PaymentMethod = "card"
	cfg.Checkout.PhoneRegion = "GE"
	cfg.Checkout.StockWorkers = 4
	cfg.Checkout.RetryAttempts = 3
	cfg.Checkout.RetryInterval = 200 * time.Millisecond

	cfg.Kafka.Topic = "orders.events"
	cfg.Notify.Timeout = 5 * time.Second
	return cfg
}

func applyEnv(cfg *Config) error {
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.App.LogLevel, "LOG_LEVEL")

	setString(&cfg.Postgres.Host, "DB_HOST")
	setString(&cfg.Postgres.Port, "DB_PORT")
	setString(&cfg.Postgres.User, "DB_USER")
	setString(&cfg.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Postgres.DBName, "DB_NAME")
	setString(&cfg.Postgres.SSLMode, "DB_SSLMODE")
	setString(&cfg.Postgres.Schema, "DB_SCHEMA")
	setString(&cfg.Postgres.MigrationsPath, "DB_MIGRATIONS_PATH")

	setString(&cfg.Checkout.Currency, "CHECKOUT_CURRENCY")
	setString(&cfg.Checkout.PaymentMethod, "CHECKOUT_PAYMENT_METHOD")
	setString(&cfg.Checkout.PhoneRegion, "CHECKOUT_PHONE_REGION")

	setString(&cfg.Kafka.Topic, "KAFKA_TOPIC")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
	}

	setString(&cfg.Notify.URL, "NOTIFY_URL")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.InternalToken, "INTERNAL_TOKEN")

	ints := []struct {
		key string
		dst *int
	}{
		{"CHECKOUT_STOCK_WORKERS", &cfg.Checkout.StockWorkers},
		{"CHECKOUT_RETRY_ATTEMPTS", &cfg.Checkout.RetryAttempts},
	}
	for _, item := range ints {
		if err := setInt(item.dst, item.key); err != nil {
			return err
		}
	}

	if err := setInt32(&cfg.Postgres.MaxConns, "DB_MAX_CONNS"); err != nil {
		return err
	}
	if err := setInt32(&cfg.Postgres.MinConns, "DB_MIN_CONNS"); err != nil {
		return err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DB_MAX_CONN_LIFETIME", &cfg.Postgres.MaxConnLifetime},
		{"CHECKOUT_RETRY_INTERVAL", &cfg.Checkout.RetryInterval},
		{"NOTIFY_TIMEOUT", &cfg.Notify.Timeout},
	}
	for _, item := range durations {
		if err := setDuration(item.dst, item.key); err != nil {
			return err
		}
	}

	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: DB_AUTO_MIGRATE: %w", err)
		}
		cfg.Postgres.AutoMigrate = b
	}

	return nil
}

// Validate reports the first missing or malformed setting.
func (c *Config) Validate() error {
	switch {
	case c.Postgres.User == "":
		return errors.New("config: DB_USER is required")
	case c.Postgres.DBName == "":
		return errors.New("config: DB_NAME is required")
	case c.Auth.JWTSecret == "":
		return errors.New("config: JWT_SECRET is required")
	case c.Auth.InternalToken == "":
		return errors.New("config: INTERNAL_TOKEN is required")
	case c.Checkout.StockWorkers < 1:
		return errors.New("config: checkout stock workers must be positive")
	case c.Checkout.RetryAttempts < 1:
		return errors.New("config: checkout retry attempts must be positive")
	case c.Postgres.MinConns > c.Postgres.MaxConns:
		return errors.New("config: DB_MIN_CONNS exceeds DB_MAX_CONNS")
	}

	if err := money.ValidateCurrency(c.Checkout.Currency); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(c.Checkout.PhoneRegion) != 2 {
		return fmt.Errorf("config: phone region %q must be a two-letter region code", c.Checkout.PhoneRegion)
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt32(dst *int32, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = int32(n)
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitCSV(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
