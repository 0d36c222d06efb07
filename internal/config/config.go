package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	SnowflakeNode int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Quota QuotaConfig
	Cache CacheConfig

	PlansConfigPath string
}

// QuotaConfig controls quota enforcement.
type QuotaConfig struct {
	// BypassRequested is the raw USAGE_QUOTA_BYPASS flag.
	BypassRequested bool
	// Bypass is the effective value; it is never true in production.
	Bypass bool
}

// CacheConfig selects and tunes the subscription snapshot cache.
type CacheConfig struct {
	Driver             string
	SnapshotTTLSeconds int
	SnapshotMaxEntries int
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
}

const (
	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := strings.ToLower(strings.TrimSpace(getenv("ENVIRONMENT", "development")))
	bypassRequested := getenvBool("USAGE_QUOTA_BYPASS", false)
	bypass := bypassRequested && !isProduction(environment)
	if bypassRequested && !bypass {
		log.Println("USAGE_QUOTA_BYPASS ignored in production")
	}

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "pagequota"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   environment,
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),
		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),

		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "pagequota"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Quota: QuotaConfig{
			BypassRequested: bypassRequested,
			Bypass:          bypass,
		},
		Cache: CacheConfig{
			Driver:             normalizeCacheDriver(getenv("CACHE_DRIVER", CacheDriverMemory)),
			SnapshotTTLSeconds: getenvInt("CACHE_SNAPSHOT_TTL_SECONDS", 45),
			SnapshotMaxEntries: getenvInt("CACHE_SNAPSHOT_MAX_ENTRIES", 10000),
			RedisAddr:          strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword:      strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			RedisDB:            getenvInt("REDIS_DB", 0),
		},

		PlansConfigPath: strings.TrimSpace(getenv("PLANS_CONFIG_PATH", "")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return isProduction(c.Environment)
}

func isProduction(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

func normalizeCacheDriver(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case CacheDriverRedis:
		return CacheDriverRedis
	default:
		return CacheDriverMemory
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
