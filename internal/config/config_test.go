package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "interview-agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Retry.BackoffFactor)
	assert.Equal(t, 24*time.Hour, cfg.Storage.TTL)
	assert.Equal(t, 30*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, 10*time.Minute, cfg.CallTimeout)
	assert.Equal(t, "data/prompts", cfg.PromptsDir)

	m := cfg.Agent("primary_agent")
	assert.Equal(t, "gemini-2.5-pro", m.ModelName)
	assert.Equal(t, int32(8192), m.MaxTokens)
}

func TestLoad_FileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: 9090
retry:
  max-attempts: 5
  backoff-factor: 1.5
models:
  decision_agent:
    model-name: gemini-2.5-flash
    max-tokens: 4096
    temperature: 0.2
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1.5, cfg.Retry.BackoffFactor)

	m := cfg.Agent("decision_agent")
	assert.Equal(t, "gemini-2.5-flash", m.ModelName)
	assert.Equal(t, int32(4096), m.MaxTokens)
	assert.InDelta(t, 0.2, float64(m.Temperature), 1e-6)

	// Untouched agents keep their defaults.
	assert.Equal(t, "gemini-2.5-pro", cfg.Agent("challenge_agent").ModelName)
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad port":         "server:\n  port: -1\n",
		"bad retry":        "retry:\n  max-attempts: 0\n",
		"bad backoff":      "retry:\n  backoff-factor: 0.5\n",
		"negative pricing": "pricing:\n  input-cost-per-mtok: -1\n",
		"empty model name": "models:\n  primary_agent:\n    model-name: \"\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config error")
		})
	}
}

func TestAgent_FallsBackToPrimary(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, cfg.Agent("primary_agent"), cfg.Agent("mystery_agent"))
}
