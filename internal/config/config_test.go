package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Project.Environment)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alto.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[project]
root = "/srv/project"
environment = "staging"

[remote]
url = "oci://registry.example.com/alto-cache"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/project", cfg.Project.Root)
	assert.Equal(t, "staging", cfg.Project.Environment)
	assert.Equal(t, "oci://registry.example.com/alto-cache", cfg.Remote.URL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alto.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[project]
environment = "staging"
`), 0o644))

	t.Setenv("ALTO_ENVIRONMENT", "production")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Project.Environment)
}

func TestValidateRejectsEmptyRoot(t *testing.T) {
	cfg := &Config{Project: ProjectConfig{Root: "", Environment: "default"}}
	assert.Error(t, cfg.Validate())
}
