package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/data-connectors/source-klaviyo/pkg/config"
)

func TestOverlayEnv_AppliesKlaviyoPrefixedVars(t *testing.T) {
	t.Setenv("KLAVIYO_DEBUG", "true")
	t.Setenv("KLAVIYO_MAX_SLICE_FAILURES", "7")

	cfg := config.NewConfig()
	overlayEnv(cfg)

	assert.True(t, cfg.Debug)
	assert.Equal(t, 7, cfg.MaxSliceFailures)
}

func TestOverlayEnv_LeavesUnsetFieldsAtDefault(t *testing.T) {
	cfg := config.NewConfig()
	want := cfg.MaxStreamFailures
	overlayEnv(cfg)
	assert.Equal(t, want, cfg.MaxStreamFailures)
}

func TestLoadConfig_DispatchesYAMLByExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	yamlDoc := "credentials:\n  auth_type: api_key\n  api_key: sk_live_yaml\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sk_live_yaml", cfg.Credentials.APIKey)
}

func TestLoadConfig_DefaultsToJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"credentials":{"auth_type":"api_key","api_key":"sk_live_json"}}`), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sk_live_json", cfg.Credentials.APIKey)
}
