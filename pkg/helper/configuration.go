package helper

import (
	"os"
	"strconv"
	"strings"
	"time"

	database "github.com/yishak-cs/meal-metrics/internal/database"
)

// AppConfig holds everything the server needs to start
type AppConfig struct {
	Port    string
	LogMode string

	Neo4j          database.Config
	DataDir        string
	DataURL        string
	ImportOnStart  bool
	SubmissionsDSN string

	RedisAddr    string
	RedisChannel string
	SessionTTL   time.Duration

	PredictorURL     string
	PredictorTimeout time.Duration

	SessionIdleTimeout      time.Duration
	SessionSweepSchedule    string
	DefaultsRefreshSchedule string

	CORSAllowOrigins []string
}

// LoadConfigFromEnv loads the application configuration from environment variables
func LoadConfigFromEnv() AppConfig {
	return AppConfig{
		Port:    getEnvOrDefault("APP_PORT", "8080"),
		LogMode: getEnvOrDefault("LOG_MODE", "dev"),

		Neo4j:          LoadNeo4jConfigFromEnv(),
		DataDir:        getEnvOrDefault("METRICS_DATA_DIR", "./data"),
		DataURL:        getEnvOrDefault("METRICS_DATA_URL", ""),
		ImportOnStart:  getEnvBool("IMPORT_ON_START", false),
		SubmissionsDSN: getEnvOrDefault("SUBMISSIONS_DSN", "file:submissions.db"),

		RedisAddr:    getEnvOrDefault("REDIS_ADDR", ""),
		RedisChannel: getEnvOrDefault("REDIS_CHANNEL", "mealmetrics:events"),
		SessionTTL:   getEnvDuration("SESSION_TTL", 12*time.Hour),

		PredictorURL:     getEnvOrDefault("PREDICTOR_URL", "http://localhost:8001"),
		PredictorTimeout: getEnvDuration("PREDICTOR_TIMEOUT", 60*time.Second),

		SessionIdleTimeout:      getEnvDuration("SESSION_IDLE_TIMEOUT", 2*time.Hour),
		SessionSweepSchedule:    getEnvOrDefault("SESSION_SWEEP_SCHEDULE", "0 */10 * * * *"),
		DefaultsRefreshSchedule: getEnvOrDefault("DEFAULTS_REFRESH_SCHEDULE", ""),

		CORSAllowOrigins: getEnvList("CORS_ALLOW_ORIGINS", []string{"*"}),
	}
}

// LoadNeo4jConfigFromEnv loads Neo4j configuration from environment variables
func LoadNeo4jConfigFromEnv() database.Config {
	return database.Config{
		URI:      getEnvOrDefault("NEO4J_URI", ""),
		Username: getEnvOrDefault("NEO4J_USERNAME", "neo4j"),
		Password: getEnvOrDefault("NEO4J_PASSWORD", ""),
		Database: getEnvOrDefault("NEO4J_DATABASE", "neo4j"),
	}
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func getEnvList(key string, defaultValue []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
