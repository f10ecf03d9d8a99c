package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_HasUsableSiteID(t *testing.T) {
	cfg := DefaultConfig()
	siteID, err := cfg.SiteIDBytes()
	require.NoError(t, err)
	assert.Len(t, siteID, 16)
}

func TestLoadConfig_EmptyPathReturnsDefault(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Connection.MaxOpen)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	overrides := map[string]any{
		"connection": map[string]any{"max_open": 50, "max_idle": 10},
	}
	data, err := json.Marshal(overrides)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Connection.MaxOpen)
	assert.Equal(t, 10, cfg.Connection.MaxIdle)
}

func TestLoadConfig_RejectsInvalidOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	overrides := map[string]any{
		"connection": map[string]any{"max_open": 0},
	}
	data, err := json.Marshal(overrides)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = LoadConfig(path)
	assert.Error(t, err)
}
