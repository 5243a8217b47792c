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

	assert.Equal(t, ":8090", cfg.HTTPListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60*time.Second, cfg.AdapterTimeout)
	assert.Equal(t, 50, cfg.HistoryLimit)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_LISTEN_ADDR", ":9999")
	t.Setenv("ADAPTER_TIMEOUT", "5s")
	t.Setenv("BACKUP_HISTORY_LIMIT", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTPListenAddr)
	assert.Equal(t, 5*time.Second, cfg.AdapterTimeout)
	assert.Equal(t, 10, cfg.HistoryLimit)
}

func TestValidate_BackupAPI(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate("backup-api"))

	cfg.DatabaseURL = "postgres://localhost/spoolvault"
	require.Error(t, cfg.Validate("backup-api"))

	cfg.SecretsKeyHex = "00"
	require.NoError(t, cfg.Validate("backup-api"))
}

func TestValidate_NegativeHistoryLimit(t *testing.T) {
	cfg := &Config{DatabaseURL: "x", SecretsKeyHex: "00", HistoryLimit: -1}
	assert.Error(t, cfg.Validate("backup-api"))
}
