package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "console", cfg.Logger().Format)
	assert.Equal(t, "deadbolt", cfg.Logger().ServiceName)

	assert.Equal(t, 4, cfg.Engine().Concurrency)
	assert.Equal(t, 0.0, cfg.Engine().RateLimit)
	assert.Equal(t, 30*time.Minute, cfg.Engine().InvocationTimeout)

	assert.Equal(t, "docker", cfg.Sandbox().Runtime)
	assert.Equal(t, "deadbolt-", cfg.Sandbox().ImagePrefix)
	assert.True(t, cfg.Sandbox().VersionProbe)

	assert.Equal(t, "outputs", cfg.Output().BaseDir)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deadbolt.yaml")
	content := `
logger:
  level: debug
  format: json
engine:
  concurrency: 8
  rate_limit: 2.5
  invocation_timeout: 5m
sandbox:
  runtime: podman
  version_probe: false
output:
  base_dir: /tmp/deadbolt-runs
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "json", cfg.Logger().Format)
	assert.Equal(t, 8, cfg.Engine().Concurrency)
	assert.Equal(t, 2.5, cfg.Engine().RateLimit)
	assert.Equal(t, 5*time.Minute, cfg.Engine().InvocationTimeout)
	assert.Equal(t, "podman", cfg.Sandbox().Runtime)
	assert.False(t, cfg.Sandbox().VersionProbe)
	assert.Equal(t, "/tmp/deadbolt-runs", cfg.Output().BaseDir)

	// Keys the file omits keep their defaults.
	assert.Equal(t, "deadbolt-", cfg.Sandbox().ImagePrefix)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	// Empty cfgFile means search-path lookup; an absent file is not an
	// error and defaults win.
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine().Concurrency)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deadbolt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [not: a: map"), 0o644))

	_, err := Load(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("DEADBOLT_ENGINE_CONCURRENCY", "16")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Engine().Concurrency)
}

func TestRunConfigRoundTrip(t *testing.T) {
	cfg := NewDefaultConfig()
	rc := RunConfig{Domain: "web", ScopeFile: "scope.yaml", ResumeFrom: "run_20260830_120000"}
	cfg.SetRunConfig(rc)
	assert.Equal(t, rc, cfg.Run())
}

func TestEngineSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetEngineConcurrency(12)
	cfg.SetEngineRateLimit(3.0)
	assert.Equal(t, 12, cfg.Engine().Concurrency)
	assert.Equal(t, 3.0, cfg.Engine().RateLimit)
}

func TestResolveBaseDir(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.OutputC.BaseDir = "outputs"

	dir, err := cfg.ResolveBaseDir()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))
	assert.Equal(t, "outputs", filepath.Base(dir))
}

func TestResolveBaseDir_TildeExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Skip("no home directory in this environment")
	}

	cfg := NewDefaultConfig()
	cfg.OutputC.BaseDir = "~/deadbolt-runs"

	dir, err := cfg.ResolveBaseDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "deadbolt-runs"), dir)
}
