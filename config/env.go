package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yeremiapane/restaurant-settlement/printer"
)

const configFileEnv = "CONFIG_FILE"

// Change bus backends
const (
	BusLocal = "local"
	BusRedis = "redis"
)

type Config struct {
	Port            string                 `yaml:"port"`
	GinMode         string                 `yaml:"gin_mode"`
	LogLevel        string                 `yaml:"log_level"`
	DB              DBConfig               `yaml:"db"`
	Redis           RedisConfig            `yaml:"redis"`
	ChangeBus       string                 `yaml:"change_bus"`
	MonitorInterval time.Duration          `yaml:"monitor_interval"`
	FiscalTracking  bool                   `yaml:"fiscal_tracking"`
	CORSOrigin      string                 `yaml:"cors_origin"`
	PaymentRate     float64                `yaml:"payment_rate"`
	PaymentBurst    int                    `yaml:"payment_burst"`
	Restaurant      printer.RestaurantInfo `yaml:"restaurant"`
}

// Default is the configuration before any file or environment is applied.
func Default() Config {
	return Config{
		Port:     "8080",
		GinMode:  "debug",
		LogLevel: "info",
		DB: DBConfig{
			Driver: DriverMySQL,
			Host:   "localhost",
			Port:   "3306",
			User:   "root",
			Name:   "restaurant",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "settlement:changes",
		},
		ChangeBus:       BusLocal,
		MonitorInterval: 500 * time.Millisecond,
		FiscalTracking:  true,
		CORSOrigin:      "*",
		PaymentRate:     5,
		PaymentBurst:    10,
		Restaurant: printer.RestaurantInfo{
			Name: "Restaurant",
		},
	}
}

// LoadConfig reads .env, then the optional YAML file named by CONFIG_FILE,
// then environment variables, each layer overriding the previous one.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := Default()
	if path := os.Getenv(configFileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode yaml: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DB.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DB.Driver)
	}
	switch c.ChangeBus {
	case BusLocal, BusRedis:
	default:
		return fmt.Errorf("config: unsupported CHANGE_BUS %q", c.ChangeBus)
	}
	if c.PaymentRate <= 0 || c.PaymentBurst <= 0 {
		return fmt.Errorf("config: payment rate limit must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var err error

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.GinMode = getEnv("GIN_MODE", cfg.GinMode)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.DB.Driver = getEnv("DB_DRIVER", cfg.DB.Driver)
	cfg.DB.DSN = getEnv("DB_DSN", cfg.DB.DSN)
	cfg.DB.Host = getEnv("DB_HOST", cfg.DB.Host)
	cfg.DB.Port = getEnv("DB_PORT", cfg.DB.Port)
	cfg.DB.User = getEnv("DB_USER", cfg.DB.User)
	cfg.DB.Password = getEnv("DB_PASSWORD", cfg.DB.Password)
	cfg.DB.Name = getEnv("DB_NAME", cfg.DB.Name)

	cfg.ChangeBus = getEnv("CHANGE_BUS", cfg.ChangeBus)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.Channel = getEnv("REDIS_CHANNEL", cfg.Redis.Channel)
	if cfg.Redis.DB, err = getEnvInt("REDIS_DB", cfg.Redis.DB); err != nil {
		return err
	}

	if cfg.MonitorInterval, err = getEnvDuration("MONITOR_INTERVAL", cfg.MonitorInterval); err != nil {
		return err
	}
	if cfg.FiscalTracking, err = getEnvBool("FISCAL_TRACKING", cfg.FiscalTracking); err != nil {
		return err
	}
	cfg.CORSOrigin = getEnv("CORS_ORIGIN", cfg.CORSOrigin)
	if cfg.PaymentBurst, err = getEnvInt("PAYMENT_BURST", cfg.PaymentBurst); err != nil {
		return err
	}
	if v := os.Getenv("PAYMENT_RATE"); v != "" {
		if cfg.PaymentRate, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("config: parse PAYMENT_RATE: %w", err)
		}
	}

	cfg.Restaurant.Name = getEnv("RESTAURANT_NAME", cfg.Restaurant.Name)
	cfg.Restaurant.Address = getEnv("RESTAURANT_ADDRESS", cfg.Restaurant.Address)
	cfg.Restaurant.Phone = getEnv("RESTAURANT_PHONE", cfg.Restaurant.Phone)
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return d, nil
}
