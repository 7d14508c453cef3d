// Package config provides service configuration for configd.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agathahq/configd/pkg/models"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, DefaultEnvironment, cfg.Environment)
	assert.Equal(t, DefaultNamespace, cfg.Namespace)
	assert.Equal(t, DefaultAdminPort, cfg.AdminPort)
	assert.Equal(t, models.DependencyAdvisory, cfg.DependencyPolicy)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGATHA_ENVIRONMENT", "staging")
	t.Setenv("AGATHA_DEPENDENCY_POLICY", "blocking")
	t.Setenv("AGATHA_ADMIN_PORT", "9999")
	t.Setenv("AGATHA_MAX_CONNS", "3")

	cfg := Load()

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, models.DependencyBlocking, cfg.DependencyPolicy)
	assert.Equal(t, 9999, cfg.AdminPort)
	assert.Equal(t, 3, cfg.MaxConns)
}

func TestLoad_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("AGATHA_DEPENDENCY_POLICY", "whatever")
	t.Setenv("AGATHA_ADMIN_PORT", "not-a-port")

	cfg := Load()

	assert.Equal(t, models.DependencyAdvisory, cfg.DependencyPolicy)
	assert.Equal(t, DefaultAdminPort, cfg.AdminPort)
}

func TestLoadDefaults_ReadsYAMLDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "memory_thresholds.yaml"),
		[]byte("importance_min: 0.3\nweights:\n  semantic: 0.6\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte("not config"), 0o600))

	defaults, err := LoadDefaults(dir)
	require.NoError(t, err)

	doc := defaults.Get("memory_thresholds")
	require.NotNil(t, doc)
	assert.Equal(t, 0.3, doc.Float("importance_min", 0))
	assert.Equal(t, []string{"memory_thresholds"}, defaults.Keys())
	assert.Nil(t, defaults.Get("notes"))
}

func TestLoadDefaults_MissingDirIsEmpty(t *testing.T) {
	defaults, err := LoadDefaults(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, defaults.Keys())
}

func TestLoadDefaults_BadFileSkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.yml"),
		[]byte("a: 1\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yml"),
		[]byte(":\t::: not yaml {{{"), 0o600))

	defaults, err := LoadDefaults(dir)
	require.NoError(t, err)
	require.NotNil(t, defaults.Get("good"))
	assert.Nil(t, defaults.Get("bad"))
}

func TestDefaults_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "k.yaml")
	require.NoError(t, os.WriteFile(path, []byte("v: 1\n"), 0o600))

	defaults, err := LoadDefaults(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, defaults.Get("k").Int("v", 0))

	require.NoError(t, os.WriteFile(path, []byte("v: 2\n"), 0o600))
	require.NoError(t, defaults.Reload())
	assert.Equal(t, 2, defaults.Get("k").Int("v", 0))
}
