package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCheck_MissingConfigFails(t *testing.T) {
	res := runCheck(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, "FAILED", res.Status)
	assert.NotEmpty(t, res.Message)
}

func TestRunCheck_ValidationFailureReportsMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"credentials":{"auth_type":"api_key"}}`), 0o644))

	res := runCheck(path)
	assert.Equal(t, "FAILED", res.Status)
	assert.NotEmpty(t, res.Message)
}
