package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "nsjail", cfg.Sandbox.Backend)
	assert.Equal(t, 10, cfg.RateLimit.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 5*time.Second, cfg.Task.Timeout)
	assert.Equal(t, 262144, cfg.Task.MemoryLimitKB)
	assert.Equal(t, 10*time.Minute, cfg.Reaper.StuckDeadline)
	assert.Empty(t, cfg.Notify.RabbitMQURL)
	assert.Empty(t, cfg.Sandbox.CgroupRoot)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "8")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("TASK_TIMEOUT", "2s")
	t.Setenv("RATE_LIMIT_OVERRIDES", "ci-bot:100:1m")
	t.Setenv("WORKER_CGROUP_ROOT", "/sys/fs/cgroup/codesandbox")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Worker.PoolSize)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 2*time.Second, cfg.Task.Timeout)
	assert.Equal(t, "ci-bot:100:1m", cfg.RateLimit.Overrides)
	assert.Equal(t, "/sys/fs/cgroup/codesandbox", cfg.Sandbox.CgroupRoot)
}

func TestLoad_RejectsInvalidEnv(t *testing.T) {
	t.Setenv("SANDBOX_BACKEND", "firecracker")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SANDBOX_BACKEND")
}

func validConfig() *Config {
	return &Config{
		Logging:   LoggingConfig{Mode: "production", Level: "info"},
		Store:     StoreConfig{Backend: "memory"},
		Cache:     CacheConfig{Backend: "memory", TTL: time.Hour},
		RateLimit: RateLimitConfig{Backend: "memory", Max: 10, Window: time.Minute},
		Worker:    WorkerConfig{PoolSize: 4, QueueDepth: 16},
		Task: TaskConfig{
			Timeout:       5 * time.Second,
			MaxTimeout:    30 * time.Second,
			MemoryLimitKB: 262144,
			MaxMemoryKB:   524288,
			WriteRetries:  3,
			WriteBackoff:  10 * time.Millisecond,
		},
		Reaper:  ReaperConfig{Interval: time.Second, StuckDeadline: time.Minute, BatchSize: 10},
		Sandbox: SandboxConfig{Backend: "docker"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero pool", func(c *Config) { c.Worker.PoolSize = 0 }, "WORKER_POOL_SIZE"},
		{"zero queue", func(c *Config) { c.Worker.QueueDepth = 0 }, "WORKER_QUEUE_DEPTH"},
		{"timeout above max", func(c *Config) { c.Task.Timeout = time.Minute }, "TASK_TIMEOUT"},
		{"memory above max", func(c *Config) { c.Task.MemoryLimitKB = 1 << 30 }, "TASK_MEMORY_LIMIT_KB"},
		{"negative retries", func(c *Config) { c.Task.WriteRetries = -1 }, "TERMINAL_WRITE_RETRIES"},
		{"stuck deadline under max timeout", func(c *Config) { c.Reaper.StuckDeadline = 30 * time.Second }, "REAPER_STUCK_DEADLINE"},
		{"zero reaper interval", func(c *Config) { c.Reaper.Interval = 0 }, "REAPER_INTERVAL"},
		{"zero quota", func(c *Config) { c.RateLimit.Max = 0 }, "RATE_LIMIT_MAX"},
		{"unknown store", func(c *Config) { c.Store.Backend = "sqlite" }, "STORE_BACKEND"},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "memcached" }, "CACHE_BACKEND"},
		{"unknown limiter", func(c *Config) { c.RateLimit.Backend = "etcd" }, "RATE_LIMIT_BACKEND"},
		{"unknown log mode", func(c *Config) { c.Logging.Mode = "verbose" }, "LOG_MODE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
