package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadJSON_SubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_KLAVIYO_API_KEY", "sk_live_123")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"credentials":{"auth_type":"api_key","api_key":"${TEST_KLAVIYO_API_KEY}"}}`), 0o644))

	cfg := NewConfig()
	require.NoError(t, LoadJSON(path, cfg))
	assert.Equal(t, "sk_live_123", cfg.Credentials.APIKey)
}

func TestLoadJSON_MissingFile(t *testing.T) {
	cfg := NewConfig()
	err := LoadJSON(filepath.Join(t.TempDir(), "missing.json"), cfg)
	assert.Error(t, err)
}

func TestSubstituteEnvVars_LeavesUnmatchedBracesAlone(t *testing.T) {
	got := substituteEnvVars("prefix ${UNTERMINATED")
	assert.Equal(t, "prefix ${UNTERMINATED", got)
}

func TestLoad_ParsesYAMLAndSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_KLAVIYO_API_KEY", "sk_live_456")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := "credentials:\n  auth_type: api_key\n  api_key: ${TEST_KLAVIYO_API_KEY}\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	cfg := NewConfig()
	require.NoError(t, Load(path, cfg))
	assert.Equal(t, "sk_live_456", cfg.Credentials.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg := NewConfig()
	err := Load(filepath.Join(t.TempDir(), "missing.yaml"), cfg)
	assert.Error(t, err)
}
