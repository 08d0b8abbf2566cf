package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	API struct {
		BaseURL string `yaml:"baseUrl" toml:"baseUrl" env:"TEST_API_BASE_URL"`
		Retries int    `yaml:"retries" toml:"retries"`
	} `yaml:"api" toml:"api"`
	Poll struct {
		Interval time.Duration `yaml:"interval" toml:"interval"`
	} `yaml:"poll" toml:"poll"`
	Debug  bool   `yaml:"debug" toml:"debug"`
	Secret string `yaml:"-" toml:"-" env:"-"`
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFileYAML(t *testing.T) {
	path := writeFile(t, "client.yaml", "api:\n  baseUrl: http://yaml.local\n  retries: 2\ndebug: true\n")

	var cfg testConfig
	require.NoError(t, LoadConfigFile(path, &cfg))

	assert.Equal(t, "http://yaml.local", cfg.API.BaseURL)
	assert.Equal(t, 2, cfg.API.Retries)
	assert.True(t, cfg.Debug)
}

func TestLoadConfigFileTOML(t *testing.T) {
	path := writeFile(t, "client.toml", "debug = true\n[api]\nbaseUrl = \"http://toml.local\"\nretries = 4\n")

	var cfg testConfig
	require.NoError(t, LoadConfigFile(path, &cfg))

	assert.Equal(t, "http://toml.local", cfg.API.BaseURL)
	assert.Equal(t, 4, cfg.API.Retries)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "client.yaml", "api:\n  baseUrl: http://yaml.local\n")
	t.Setenv("TEST_API_BASE_URL", "http://env.local")
	t.Setenv("API_RETRIES", "7")
	t.Setenv("POLL_INTERVAL", "3s")

	var cfg testConfig
	require.NoError(t, LoadConfigFile(path, &cfg))

	assert.Equal(t, "http://env.local", cfg.API.BaseURL)
	assert.Equal(t, 7, cfg.API.Retries)
	assert.Equal(t, 3*time.Second, cfg.Poll.Interval)
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	assert.Error(t, LoadConfigFile("", nil))

	var notStruct int
	assert.Error(t, LoadConfigFile("", &notStruct))

	t.Setenv("API_RETRIES", "many")
	var cfg testConfig
	assert.Error(t, LoadConfigFile("", &cfg))
}

func TestLoadConfigMissingFile(t *testing.T) {
	var cfg testConfig
	err := LoadConfigFile(filepath.Join(t.TempDir(), "absent.yaml"), &cfg)
	assert.ErrorContains(t, err, "read file")
}
