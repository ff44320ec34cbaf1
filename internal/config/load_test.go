package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test from a fresh directory so a developer's local
// config.yaml cannot leak into assertions.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
}

const minimalConfig = `
domains:
  media-prep:
    min_workers: 1
    max_workers: 4
    target_queue_per_worker: 2
    task_timeout: 5m
`

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, minimalConfig)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "cadenza", cfg.Redis.Namespace)
	assert.Equal(t, 85.0, cfg.Scaling.MaxCPUPercent)
	assert.Equal(t, 15*time.Second, cfg.Scaling.ScaleCheckInterval)
	assert.Equal(t, runtime.NumCPU()*DefaultGlobalCeilingPerCPU, cfg.Scaling.GlobalWorkerCeiling)
}

func TestLoad_DerivesPerDomainDefaults(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, minimalConfig)

	cfg, err := Load()
	require.NoError(t, err)

	dom := cfg.Domains["media-prep"]
	assert.Equal(t, 1.0, dom.ScaleDownQueuePerWorker, "defaults to half the target")
	assert.Equal(t, time.Minute, dom.CooldownPeriod)
	assert.Equal(t, int64(1), dom.WorkerConcurrency)
	assert.Equal(t, 5*time.Minute, dom.TaskTimeout)
}

func TestLoad_ExplicitValuesSurviveDerivation(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, `
scaling:
  global_worker_ceiling: 12
domains:
  media-prep:
    min_workers: 2
    max_workers: 8
    target_queue_per_worker: 4
    scale_down_queue_per_worker: 0.5
    cooldown_period: 90s
    worker_concurrency: 3
    task_timeout: 10m
`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Scaling.GlobalWorkerCeiling)
	dom := cfg.Domains["media-prep"]
	assert.Equal(t, 0.5, dom.ScaleDownQueuePerWorker)
	assert.Equal(t, 90*time.Second, dom.CooldownPeriod)
	assert.Equal(t, int64(3), dom.WorkerConcurrency)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, minimalConfig+`
server:
  port: 9000
`)
	t.Setenv("CADENZA_SERVER_PORT", "9100")
	t.Setenv("CADENZA_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
}

func TestLoad_RequiresAtLeastOneDomain(t *testing.T) {
	chdirTemp(t)

	_, err := Load()
	assert.Error(t, err, "a deployment with no worker domains is a misconfiguration")
}

func TestLoad_RejectsInvalidBounds(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, `
domains:
  media-prep:
    min_workers: 4
    max_workers: 2
    target_queue_per_worker: 2
    task_timeout: 5m
`)

	_, err := Load()
	assert.Error(t, err, "max_workers below min_workers must not validate")
}
