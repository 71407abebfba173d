package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.DeviceID)
	assert.NotEmpty(t, cfg.DeviceName)
	assert.Equal(t, DefaultDiscoveryPort, cfg.Sync.DiscoveryPort)
	assert.Equal(t, DefaultMaxEntries, cfg.Storage.MaxEntries)

	// The file was persisted, so a second load sees the same identity
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.DeviceID, again.DeviceID)
}

func TestLoadExistingJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"device_id":"abc","device_name":"desk","sync":{"listen_port":7001}}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.DeviceID)
	assert.Equal(t, "desk", cfg.DeviceName)
	assert.Equal(t, 7001, cfg.Sync.ListenPort)
	// Unset fields still get defaults
	assert.Equal(t, DefaultDiscoveryPort, cfg.Sync.DiscoveryPort)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_id: yml-dev\nstorage:\n  max_entries: 10\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "yml-dev", cfg.DeviceID)
	assert.Equal(t, 10, cfg.Storage.MaxEntries)
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
