package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/monitor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VITALS_CONFIG_FILE", "")
	t.Setenv("HEALTH_STORE", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("BODY_HEIGHT_CM", "")
	t.Setenv("VITALS_POLL_INTERVAL", "")
	t.Setenv("MQTT_INGEST_TOPIC", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store.Kind)
	assert.Equal(t, ":8090", cfg.HTTP.Addr)
	assert.Equal(t, "wisefido/vitals/ingest", cfg.Ingest.Topic)
	assert.Equal(t, 0.0, cfg.HeightM())
	require.Len(t, cfg.Vitals.Monitors, 2)
	assert.Equal(t, "latest-week", cfg.Vitals.Monitors[0].Name)
	assert.Equal(t, monitor.ShapeMetrics, cfg.Vitals.Monitors[1].Shape)
	assert.Equal(t, 30*time.Second, cfg.Vitals.Monitors[0].PollInterval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VITALS_CONFIG_FILE", "")
	t.Setenv("HEALTH_STORE", "memory")
	t.Setenv("BODY_HEIGHT_CM", "175")
	t.Setenv("VITALS_POLL_INTERVAL", "45s")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("MQTT_QOS", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store.Kind)
	assert.InDelta(t, 1.75, cfg.HeightM(), 1e-9)
	assert.Equal(t, 45*time.Second, cfg.Vitals.Monitors[1].PollInterval)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9999"
vitals:
  timezone: Asia/Shanghai
  monitors:
    - name: daily
      window: 24h
      shape: both
      categories: [steps, heart_rate]
      poll_interval: 10s
`), 0o600))
	t.Setenv("VITALS_CONFIG_FILE", path)
	t.Setenv("HEALTH_STORE", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, "Asia/Shanghai", cfg.Location().String())
	require.Len(t, cfg.Vitals.Monitors, 1)
	m := cfg.Vitals.Monitors[0]
	assert.Equal(t, 24*time.Hour, m.Window)
	assert.Equal(t, monitor.ShapeBoth, m.Shape)
	assert.Equal(t, []models.Category{models.CategorySteps, models.CategoryHeartRate}, m.Categories)
	assert.Equal(t, 10*time.Second, m.PollInterval)
	assert.Equal(t, StoreMemory, cfg.Store.Kind, "env values survive the overlay")
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("VITALS_CONFIG_FILE", "")

	t.Setenv("HEALTH_STORE", "remote")
	t.Setenv("PLATFORM_BASE_URL", "")
	_, err := Load()
	assert.ErrorContains(t, err, "PLATFORM_BASE_URL")

	t.Setenv("HEALTH_STORE", "cassandra")
	_, err = Load()
	assert.ErrorContains(t, err, "unsupported HEALTH_STORE")

	t.Setenv("VITALS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("HEALTH_STORE", "memory")
	_, err = Load()
	assert.Error(t, err)
}
