// Package config reads storefront settings from the environment on top of
// Default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/orders/repository"
	"github.com/AnuragParashar2000/ShoeKart/internal/payment"
)

const (
	StorageMongo  = "mongo"
	StorageMemory = "memory"
)

type Config struct {
	HTTPPort       int
	RequestTimeout time.Duration

	StorageDriver       string
	MongoURI            string
	MongoDB             string
	MongoConnectTimeout time.Duration
	MongoMaxPoolSize    int
	RedisAddr           string
	RedisPassword       string
	CartCacheTTL        time.Duration
	CartCacheJitter     time.Duration

	OrdersDB repository.Credentials

	KafkaBrokers      []string
	ReconcileInterval time.Duration

	JWTSecret string

	ProviderBaseURL       string
	ProviderSecretKey     string
	ProviderWebhookSecret string
	ClientURL             string
	Currency              string

	ClampPolicy     domain.ClampPolicy
	RestockOnCancel bool
	CardSuccessRate float64
	UPISuccessRate  float64

	LogLevel string
	LogJSON  bool
}

func Default() Config {
	return Config{
		HTTPPort:            4000,
		RequestTimeout:      15 * time.Second,
		StorageDriver:       StorageMemory,
		MongoURI:            "mongodb://localhost:27017",
		MongoDB:             "shoekart",
		MongoConnectTimeout: 10 * time.Second,
		MongoMaxPoolSize:    100,
		CartCacheTTL:        15 * time.Minute,
		CartCacheJitter:     5 * time.Minute,
		OrdersDB: repository.Credentials{
			Driver:     repository.DriverSQLite,
			Host:       "localhost",
			Port:       5432,
			User:       "postgres",
			Password:   "postgres",
			DBName:     "shoekart",
			SQLitePath: "shoekart.db",
		},
		ReconcileInterval: 30 * time.Second,
		ProviderBaseURL:   "https://api.stripe.com",
		ClientURL:         "http://localhost:5173",
		Currency:          "inr",
		ClampPolicy:       domain.ClampToStock,
		RestockOnCancel:   true,
		CardSuccessRate:   payment.DefaultCardSuccessRate,
		UPISuccessRate:    payment.DefaultUPISuccessRate,
		LogLevel:          "info",
		LogJSON:           true,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Load applies environment overrides to Default. Malformed values are
// reported rather than silently ignored.
func Load() (Config, error) {
	return fromEnv(Default())
}

func fromEnv(c Config) (Config, error) {
	var err error
	if c.HTTPPort, err = intEnv("HTTP_PORT", c.HTTPPort); err != nil {
		return c, err
	}
	if c.RequestTimeout, err = durationEnv("REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return c, err
	}

	c.StorageDriver = getEnv("STORAGE_DRIVER", c.StorageDriver)
	if c.StorageDriver != StorageMongo && c.StorageDriver != StorageMemory {
		return c, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageMongo, StorageMemory, c.StorageDriver)
	}
	c.MongoURI = getEnv("MONGO_URI", c.MongoURI)
	c.MongoDB = getEnv("MONGO_DB_NAME", c.MongoDB)
	if c.MongoConnectTimeout, err = durationEnv("MONGO_CONNECT_TIMEOUT", c.MongoConnectTimeout); err != nil {
		return c, err
	}
	if c.MongoMaxPoolSize, err = intEnv("MONGO_MAX_POOL_SIZE", c.MongoMaxPoolSize); err != nil {
		return c, err
	}
	if c.MongoMaxPoolSize < 0 {
		return c, fmt.Errorf("MONGO_MAX_POOL_SIZE must not be negative, got %d", c.MongoMaxPoolSize)
	}
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	if c.CartCacheTTL, err = durationEnv("CART_CACHE_TTL", c.CartCacheTTL); err != nil {
		return c, err
	}
	if c.CartCacheJitter, err = durationEnv("CART_CACHE_JITTER", c.CartCacheJitter); err != nil {
		return c, err
	}

	c.OrdersDB.Driver = getEnv("ORDERS_DB_DRIVER", c.OrdersDB.Driver)
	c.OrdersDB.Host = getEnv("DB_HOST", c.OrdersDB.Host)
	if c.OrdersDB.Port, err = intEnv("DB_PORT", c.OrdersDB.Port); err != nil {
		return c, err
	}
	c.OrdersDB.User = getEnv("DB_USER", c.OrdersDB.User)
	c.OrdersDB.Password = getEnv("DB_PASSWORD", c.OrdersDB.Password)
	c.OrdersDB.DBName = getEnv("DB_NAME", c.OrdersDB.DBName)
	c.OrdersDB.SQLitePath = getEnv("SQLITE_PATH", c.OrdersDB.SQLitePath)
	c.OrdersDB.MigrationsDirPath = getEnv("MIGRATIONS_PATH", c.OrdersDB.MigrationsDirPath)

	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		c.KafkaBrokers = splitList(v)
	}
	if c.ReconcileInterval, err = durationEnv("RECONCILE_INTERVAL", c.ReconcileInterval); err != nil {
		return c, err
	}

	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.ProviderBaseURL = getEnv("PROVIDER_BASE_URL", c.ProviderBaseURL)
	c.ProviderSecretKey = getEnv("PROVIDER_SECRET_KEY", c.ProviderSecretKey)
	c.ProviderWebhookSecret = getEnv("PROVIDER_WEBHOOK_SECRET", c.ProviderWebhookSecret)
	c.ClientURL = strings.TrimRight(getEnv("CLIENT_URL", c.ClientURL), "/")
	c.Currency = strings.ToLower(getEnv("CURRENCY", c.Currency))

	if c.ClampPolicy, err = domain.ParseClampPolicy(getEnv("CLAMP_POLICY", string(c.ClampPolicy))); err != nil {
		return c, fmt.Errorf("invalid CLAMP_POLICY: %w", err)
	}
	if c.RestockOnCancel, err = boolEnv("RESTOCK_ON_CANCEL", c.RestockOnCancel); err != nil {
		return c, err
	}
	if c.CardSuccessRate, err = rateEnv("CARD_SUCCESS_RATE", c.CardSuccessRate); err != nil {
		return c, err
	}
	if c.UPISuccessRate, err = rateEnv("UPI_SUCCESS_RATE", c.UPISuccessRate); err != nil {
		return c, err
	}

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	if c.LogJSON, err = boolEnv("LOG_JSON", c.LogJSON); err != nil {
		return c, err
	}
	return c, nil
}

// Validate checks the settings that have no usable default.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

// HostedEnabled reports whether the hosted provider is configured.
func (c Config) HostedEnabled() bool {
	return c.ProviderSecretKey != "" && c.ProviderWebhookSecret != ""
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func rateEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	if f < 0 || f > 1 {
		return def, fmt.Errorf("%s must be within [0, 1], got %v", key, f)
	}
	return f, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
