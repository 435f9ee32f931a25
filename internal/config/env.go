// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisUser     string
	RedisPassword string

	// Streams and channels
	StreamKey       string
	ConsumerGroup   string
	ConsumerName    string
	RulesChannel    string
	ActionStreamKey string

	// Worker
	BatchSize         int
	WorkerConcurrency int
	EnableRecovery    bool
	RecoveryInterval  time.Duration
	MinIdleTime       time.Duration

	// Rule sync
	RuleSyncInterval time.Duration

	// Remote functions
	RPCEnabled bool
	RPCURL     string
	RPCTimeout time.Duration
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Database ---
	cfg.DBHost = envStr("DB_HOST", "localhost")
	cfg.DBPort = envInt("DB_PORT", 5432, &errs)
	cfg.DBUser = envStr("DB_USER", "postgres")
	cfg.DBPassword = envStr("DB_PASSWORD", "postgres")
	cfg.DBName = envStr("DB_NAME", "modsieve")

	// --- Redis ---
	cfg.RedisHost = envStr("REDIS_HOST", "localhost")
	cfg.RedisPort = envInt("REDIS_PORT", 6379, &errs)
	cfg.RedisDB = envInt("REDIS_DB", 0, &errs)
	cfg.RedisUser = envStr("REDIS_USER", "")
	cfg.RedisPassword = envStr("REDIS_PASSWORD", "")

	// --- Streams and channels ---
	cfg.StreamKey = envStr("REDIS_STREAM_KEY", "scraper:events")
	cfg.ConsumerGroup = envStr("REDIS_CONSUMER_GROUP", "reviewer_group")
	cfg.ConsumerName = envStr("REDIS_CONSUMER_NAME", defaultConsumerName())
	cfg.RulesChannel = envStr("REDIS_RULES_CHANNEL", "reviewer:rules:update")
	cfg.ActionStreamKey = envStr("REDIS_ACTION_STREAM_KEY", "reviewer:actions:stream")

	// --- Worker ---
	cfg.BatchSize = envInt("BATCH_SIZE", 10, &errs)
	cfg.WorkerConcurrency = envInt("WORKER_CONCURRENCY", 10, &errs)
	cfg.EnableRecovery = envBool("ENABLE_STREAM_RECOVERY", false, &errs)
	cfg.RecoveryInterval = time.Duration(envInt("STREAM_RECOVERY_INTERVAL", 60, &errs)) * time.Second
	cfg.MinIdleTime = time.Duration(envInt("STREAM_MIN_IDLE_TIME", 60000, &errs)) * time.Millisecond

	// --- Rule sync ---
	cfg.RuleSyncInterval = time.Duration(envInt("RULE_SYNC_INTERVAL", 300, &errs)) * time.Second

	// --- Remote functions ---
	cfg.RPCEnabled = envBool("RPC_ENABLED", false, &errs)
	cfg.RPCURL = strings.TrimSpace(envStr("RPC_URL", ""))
	cfg.RPCTimeout = time.Duration(envInt("RPC_TIMEOUT", 5, &errs)) * time.Second

	// --- Validation ---
	validatePort("DB_PORT", cfg.DBPort, &errs)
	validatePort("REDIS_PORT", cfg.RedisPort, &errs)
	if cfg.RedisDB < 0 {
		errs = append(errs, fmt.Sprintf("REDIS_DB: must not be negative, got %d", cfg.RedisDB))
	}

	if cfg.StreamKey == "" {
		errs = append(errs, "REDIS_STREAM_KEY must not be empty")
	}
	if cfg.ConsumerGroup == "" {
		errs = append(errs, "REDIS_CONSUMER_GROUP must not be empty")
	}
	if cfg.ConsumerName == "" {
		errs = append(errs, "REDIS_CONSUMER_NAME must not be empty")
	}
	if cfg.RulesChannel == "" {
		errs = append(errs, "REDIS_RULES_CHANNEL must not be empty")
	}
	if cfg.ActionStreamKey == "" {
		errs = append(errs, "REDIS_ACTION_STREAM_KEY must not be empty")
	}

	validatePositive("BATCH_SIZE", cfg.BatchSize, &errs)
	validatePositive("WORKER_CONCURRENCY", cfg.WorkerConcurrency, &errs)
	if cfg.RecoveryInterval <= 0 {
		errs = append(errs, "STREAM_RECOVERY_INTERVAL must be positive")
	}
	if cfg.MinIdleTime <= 0 {
		errs = append(errs, "STREAM_MIN_IDLE_TIME must be positive")
	}
	if cfg.RuleSyncInterval <= 0 {
		errs = append(errs, "RULE_SYNC_INTERVAL must be positive")
	}

	if cfg.RPCEnabled && cfg.RPCURL == "" {
		errs = append(errs, "RPC_URL must be set when RPC_ENABLED is true")
	}
	if cfg.RPCTimeout <= 0 {
		errs = append(errs, "RPC_TIMEOUT must be positive")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// RedisAddr returns the host:port Redis address.
func (c *EnvConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// defaultConsumerName derives a per-replica consumer name, so horizontally
// scaled consumers joining the same group do not collide.
func defaultConsumerName() string {
	return "reviewer_worker_" + uuid.NewString()[:8]
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
