package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "DESKTOPWIN", cfg.Device.Kind)
	assert.Equal(t, ".linego-session.json", cfg.Session.Path)
	assert.Equal(t, "push", cfg.Events.Mode)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linego.yaml")
	data := `
device:
  kind: ANDROID
  system_name: testbox
session:
  path: /tmp/session.json
events:
  mode: polling
  chats:
    - m1
    - m2
log:
  level: debug
  pretty: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	t.Setenv("LINEGO_DEVICE", "IOS")
	t.Setenv("LINEGO_CHATS", "m3, m4")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "IOS", cfg.Device.Kind)
	assert.Equal(t, "testbox", cfg.Device.SystemName)
	assert.Equal(t, "/tmp/session.json", cfg.Session.Path)
	assert.Equal(t, "polling", cfg.Events.Mode)
	assert.Equal(t, []string{"m3", "m4"}, cfg.Events.Chats)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linego.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: [broken"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}
