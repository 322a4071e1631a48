package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into dir so no stray config.yaml is picked up
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	assert.Zero(t, cfg.Store.TTL)
	assert.Equal(t, SchedulerModeLocal, cfg.Scheduler.Mode)
	assert.Equal(t, 8, cfg.Scheduler.MaxWorkers)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.StageTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.JobTimeout)
	assert.True(t, cfg.Pipeline.ParallelRules)
	assert.Equal(t, 3, cfg.Callback.MaxRetries)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("SCHEDULER_MODE", "asynq")
	t.Setenv("PIPELINE_STAGE_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, StoreBackendRedis, cfg.Store.Backend)
	assert.Equal(t, DefaultRedisTTL, cfg.Store.TTL)
	assert.Equal(t, SchedulerModeAsynq, cfg.Scheduler.Mode)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.StageTimeout)
}

func TestLoad_SecretFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	secret := filepath.Join(dir, "vision_key")
	require.NoError(t, os.WriteFile(secret, []byte("s3cret\n"), 0o600))
	t.Setenv("VISION_API_KEY", "")
	t.Setenv("VISION_API_KEY_FILE", secret)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Vision.APIKey)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Store:     StoreConfig{Backend: StoreBackendMemory},
			Scheduler: SchedulerConfig{Mode: SchedulerModeLocal, MaxWorkers: 4},
		}
	}

	assert.NoError(t, valid().Validate())

	c := valid()
	c.Scheduler.Mode = SchedulerModeAsynq
	assert.Error(t, c.Validate(), "asynq needs the redis store")

	c = valid()
	c.Store.Backend = "bolt"
	assert.Error(t, c.Validate())

	c = valid()
	c.Scheduler.Mode = "cron"
	assert.Error(t, c.Validate())

	c = valid()
	c.Scheduler.MaxWorkers = -1
	assert.Error(t, c.Validate())
}
