// Package config provides configuration management for the listing scanner.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Scan         ScanConfig
	Proxy        ProxyConfig
	Dedup        DedupConfig
	Notification NotificationConfig
	Logging      LoggingConfig
}

// ServerConfig holds admin API server configuration
type ServerConfig struct {
	Host           string
	Port           string
	RequestsPerSec int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL form used by the migration runner.
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ScanConfig holds scan orchestration configuration
type ScanConfig struct {
	Sources               []string
	Cities                []string
	Interval              time.Duration // default min interval between scans of one target
	MaxResultsPerScan     int           // hard truncation of listing URLs per scan
	MaxConcurrentRequests int           // process-wide fetch concurrency bound
	HTTPTimeout           time.Duration
	FailureThreshold      int // consecutive empty/error pages before a target aborts
	DaysBack              int // publication window passed to search URL builders
	RespectRobots         bool
	MinRequestDelay       time.Duration
	MaxRequestDelay       time.Duration
	SiteIntervals         map[string]time.Duration // per-source min-interval overrides
}

// MinIntervalFor returns the minimum scan interval for a source.
func (c *ScanConfig) MinIntervalFor(source string) time.Duration {
	if d, ok := c.SiteIntervals[source]; ok {
		return d
	}
	return c.Interval
}

// ProxyConfig holds proxy rotation configuration
type ProxyConfig struct {
	Enabled          bool
	List             []string
	RotationStrategy string // round_robin, random, fallback
	MaxFailures      int
}

// DedupConfig holds duplicate-detection tuning
type DedupConfig struct {
	SimilarityThreshold float64
	PriceTolerance      float64 // relative
	AreaTolerance       float64 // relative
}

// NotificationConfig holds notification dispatch configuration
type NotificationConfig struct {
	Interval      time.Duration // spacing between dispatch cycles
	BatchSize     int           // max tasks per dispatch cycle
	DailyCap      int           // max notifications per user per rolling 24h
	RetryAttempts int           // delivery attempts per task
	TelegramToken string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			RequestsPerSec: getEnvAsInt("SERVER_REQUESTS_PER_SEC", 20),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "listing_scanner"),
				User:           getEnv("POSTGRES_USER", "scanner"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "listing_scanner"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Scan: ScanConfig{
			Sources:               getEnvAsList("DEFAULT_SOURCES", "funda,pararius"),
			Cities:                getEnvAsList("DEFAULT_CITIES", "amsterdam,rotterdam,utrecht,den-haag,eindhoven"),
			Interval:              getEnvAsDuration("DEFAULT_SCAN_INTERVAL", time.Hour),
			MaxResultsPerScan:     getEnvAsInt("MAX_RESULTS_PER_SCAN", 100),
			MaxConcurrentRequests: getEnvAsInt("MAX_CONCURRENT_REQUESTS", 5),
			HTTPTimeout:           getEnvAsDuration("HTTP_TIMEOUT", 30*time.Second),
			FailureThreshold:      getEnvAsInt("SCAN_FAILURE_THRESHOLD", 5),
			DaysBack:              getEnvAsInt("SCAN_DAYS_BACK", 1),
			RespectRobots:         getEnvAsBool("RESPECT_ROBOTS", false),
			MinRequestDelay:       getEnvAsDuration("MIN_REQUEST_DELAY", time.Second),
			MaxRequestDelay:       getEnvAsDuration("MAX_REQUEST_DELAY", 3*time.Second),
		},
		Proxy: ProxyConfig{
			Enabled:          getEnvAsBool("USE_PROXIES", false),
			List:             getEnvAsList("PROXY_LIST", ""),
			RotationStrategy: getEnv("PROXY_ROTATION_STRATEGY", "round_robin"),
			MaxFailures:      getEnvAsInt("MAX_PROXY_FAILURES", 3),
		},
		Dedup: DedupConfig{
			SimilarityThreshold: getEnvAsFloat("DEDUP_SIMILARITY_THRESHOLD", 0.8),
			PriceTolerance:      getEnvAsFloat("DEDUP_PRICE_TOLERANCE", 0.10),
			AreaTolerance:       getEnvAsFloat("DEDUP_AREA_TOLERANCE", 0.10),
		},
		Notification: NotificationConfig{
			Interval:      getEnvAsDuration("NOTIFICATION_INTERVAL", 30*time.Second),
			BatchSize:     getEnvAsInt("NOTIFICATION_BATCH_SIZE", 25),
			DailyCap:      getEnvAsInt("MAX_NOTIFICATIONS_PER_USER_PER_DAY", 20),
			RetryAttempts: getEnvAsInt("NOTIFICATION_RETRY_ATTEMPTS", 3),
			TelegramToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Scan.SiteIntervals = loadSiteIntervals(config.Scan.Sources)

	return config, nil
}

// loadSiteIntervals reads SITE_<SOURCE>_MIN_INTERVAL overrides for each source.
func loadSiteIntervals(sources []string) map[string]time.Duration {
	intervals := make(map[string]time.Duration)
	for _, source := range sources {
		key := fmt.Sprintf("SITE_%s_MIN_INTERVAL", strings.ToUpper(source))
		if value := os.Getenv(key); value != "" {
			if d, err := time.ParseDuration(value); err == nil {
				intervals[source] = d
			}
		}
	}
	return intervals
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.EqualFold(valueStr, "true") || valueStr == "1"
}

// getEnvAsDuration gets an environment variable as a duration with a default
// value. Plain integers are interpreted as seconds for compatibility with
// second-based deployment configs.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated environment variable into a slice.
func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
