package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadEnvConfigDefaults(t *testing.T) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DBHost != "localhost" || cfg.DBPort != 5432 || cfg.DBName != "modsieve" {
		t.Errorf("db defaults = %s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	if cfg.RedisAddr() != "localhost:6379" {
		t.Errorf("RedisAddr = %s", cfg.RedisAddr())
	}
	if cfg.StreamKey != "scraper:events" || cfg.ConsumerGroup != "reviewer_group" {
		t.Errorf("stream defaults = %s / %s", cfg.StreamKey, cfg.ConsumerGroup)
	}
	if !strings.HasPrefix(cfg.ConsumerName, "reviewer_worker_") {
		t.Errorf("ConsumerName = %s", cfg.ConsumerName)
	}
	if cfg.BatchSize != 10 || cfg.WorkerConcurrency != 10 {
		t.Errorf("worker defaults = %d / %d", cfg.BatchSize, cfg.WorkerConcurrency)
	}
	if cfg.EnableRecovery {
		t.Error("recovery enabled by default")
	}
	if cfg.RecoveryInterval != 60*time.Second || cfg.MinIdleTime != 60*time.Second {
		t.Errorf("recovery defaults = %s / %s", cfg.RecoveryInterval, cfg.MinIdleTime)
	}
	if cfg.RuleSyncInterval != 300*time.Second {
		t.Errorf("RuleSyncInterval = %s", cfg.RuleSyncInterval)
	}
	if cfg.RPCEnabled || cfg.RPCTimeout != 5*time.Second {
		t.Errorf("rpc defaults = %v / %s", cfg.RPCEnabled, cfg.RPCTimeout)
	}
}

func TestLoadEnvConfigOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_CONSUMER_NAME", "replica_3")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("ENABLE_STREAM_RECOVERY", "true")
	t.Setenv("STREAM_MIN_IDLE_TIME", "30000")
	t.Setenv("RPC_ENABLED", "true")
	t.Setenv("RPC_URL", "http://fns:50051")

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisAddr() != "redis.internal:6380" {
		t.Errorf("RedisAddr = %s", cfg.RedisAddr())
	}
	if cfg.ConsumerName != "replica_3" {
		t.Errorf("ConsumerName = %s", cfg.ConsumerName)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize = %d", cfg.BatchSize)
	}
	if !cfg.EnableRecovery || cfg.MinIdleTime != 30*time.Second {
		t.Errorf("recovery = %v / %s", cfg.EnableRecovery, cfg.MinIdleTime)
	}
	if !cfg.RPCEnabled || cfg.RPCURL != "http://fns:50051" {
		t.Errorf("rpc = %v / %s", cfg.RPCEnabled, cfg.RPCURL)
	}
}

func TestLoadEnvConfigCollectsErrors(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")
	t.Setenv("BATCH_SIZE", "0")
	t.Setenv("RPC_ENABLED", "true")
	// RPC_URL left unset.

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"DB_PORT", "BATCH_SIZE", "RPC_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestLoadEnvConfigInvalidBool(t *testing.T) {
	t.Setenv("ENABLE_STREAM_RECOVERY", "maybe")
	if _, err := LoadEnvConfig(); err == nil {
		t.Error("expected error for invalid boolean")
	}
}
