package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

database:
  url: "postgres://localhost/humanizer"
  max_open_conns: 10

gateway:
  name: "stub"
  endpoint: "https://provider.example.com/send"
  timeout_seconds: 45

scheduler:
  dispatch_workers: 20
  max_queue_depth: 5000
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "postgres://localhost/humanizer", cfg.Database.URL)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, "https://provider.example.com/send", cfg.Gateway.Endpoint)
	assert.Equal(t, 45, cfg.Gateway.TimeoutSeconds)
	assert.Equal(t, 20, cfg.Scheduler.DispatchWorkers)
	assert.Equal(t, 5000, cfg.Scheduler.MaxQueueDepth)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
gateway:
  endpoint: "https://provider.example.com/send"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 10, cfg.Gateway.TimeoutSeconds)
	assert.Equal(t, "us-east-1", cfg.Gateway.AWSRegion)
	assert.Equal(t, 10, cfg.Scheduler.DispatchWorkers)
	assert.Equal(t, 25, cfg.Scheduler.DispatchBatchSize)
	assert.Equal(t, 100000, cfg.Scheduler.MaxQueueDepth)
}

func TestLoadFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  url: "postgres://file-host/db"
gateway:
  endpoint: "https://file-url.com"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	os.Setenv("DATABASE_URL", "postgres://env-host/db")
	os.Setenv("GATEWAY_ENDPOINT", "https://env-url.com")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("GATEWAY_ENDPOINT")
	}()

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-host/db", cfg.Database.URL)
	assert.Equal(t, "https://env-url.com", cfg.Gateway.Endpoint)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestGatewayTimeout(t *testing.T) {
	cfg := GatewayConfig{TimeoutSeconds: 45}
	assert.Equal(t, 45*1000000000, int(cfg.Timeout().Nanoseconds()))
}

func TestDatabaseConnMaxLifetime(t *testing.T) {
	cfg := DatabaseConfig{ConnMaxLifeMins: 30}
	assert.Equal(t, 30*60*1000000000, int(cfg.ConnMaxLifetime().Nanoseconds()))
}
