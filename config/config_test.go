package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, 5*time.Second, cfg.Game.RegenUnit)
	assert.Equal(t, time.Hour, cfg.Game.RotationGrace)
	assert.Equal(t, 2*time.Hour, cfg.Game.InstanceLifetime)
	assert.Equal(t, 20, cfg.Game.RotationBatchSize)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
game:
  sweep_interval: 2s
  rotation_batch_size: 5
export:
  kafka_brokers: ["k1:9092", "k2:9092"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Game.SweepInterval)
	assert.Equal(t, 5, cfg.Game.RotationBatchSize)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Export.KafkaBrokers)
	assert.Equal(t, "tilequest.events", cfg.Export.KafkaTopic)
	assert.Equal(t, 20, cfg.Game.MessageCap)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
