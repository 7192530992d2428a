package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	LogLevel string

	HTTPPort int
	GRPCPort int

	CatalogURL             string
	CatalogFetchTimeout    time.Duration
	CatalogRefreshInterval time.Duration
	CatalogDBPath          string

	// Cart durability is off unless MONGO_URI is set. Redis only fronts Mongo.
	MongoURI      string
	MongoDBName   string
	RedisAddr     string
	RedisPassword string
	CartIdleTTL   time.Duration
	CartCacheTTL  time.Duration

	// Checkout events go to the log when no brokers are configured.
	KafkaBrokers  []string
	CheckoutTopic string
	CheckoutDelay time.Duration
	Currency      string

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Load reads the environment. Values from a .env file in the working
// directory (or the given files) fill in anything not already set.
func Load(envFiles ...string) Config {
	_ = godotenv.Load(envFiles...)

	return Config{
		AppEnv:   getEnv("APP_ENV", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPPort: getEnvInt("HTTP_PORT", 8080),
		GRPCPort: getEnvInt("GRPC_PORT", 8081),

		CatalogURL:             getEnv("CATALOG_URL", "https://fakestoreapi.com"),
		CatalogFetchTimeout:    getEnvDuration("CATALOG_FETCH_TIMEOUT", 10*time.Second),
		CatalogRefreshInterval: getEnvDuration("CATALOG_REFRESH_INTERVAL", 0),
		CatalogDBPath:          getEnv("CATALOG_DB_PATH", "storefront.db"),

		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDBName:   getEnv("MONGO_DB_NAME", "cartdb"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		CartIdleTTL:   getEnvDuration("CART_IDLE_TTL", 24*time.Hour),
		CartCacheTTL:  getEnvDuration("CART_CACHE_TTL", 15*time.Minute),

		KafkaBrokers:  getEnvList("KAFKA_BROKERS"),
		CheckoutTopic: getEnv("CHECKOUT_TOPIC", "checkout-completed"),
		CheckoutDelay: getEnvDuration("CHECKOUT_DELAY", 2*time.Second),
		Currency:      getEnv("CURRENCY", "USD"),

		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func (c Config) IsDev() bool {
	return c.AppEnv == "dev"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
