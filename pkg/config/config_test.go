package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "qwen2.5:72b-instruct", cfg.LLM.Model)
	assert.Equal(t, cfg.LLM.Model, cfg.LLM.FastModel, "fast model falls back to smart model")
	assert.Equal(t, cfg.LLM.Host, cfg.LLM.FastHost, "fast host falls back to smart host")
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 768, cfg.Embedding.Dim)
	assert.Equal(t, 30*time.Second, cfg.Backends.CallTimeout)
	assert.Equal(t, 15*time.Second, cfg.Pulse.Interval)
	assert.Equal(t, 5*time.Second, cfg.Pulse.ProbeTimeout)
	assert.True(t, cfg.Safety.Confirm)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DEVOPS_LLM_MODEL", "llama3:8b")
	t.Setenv("DEVOPS_LLM_FAST_MODEL", "phi3:mini")
	t.Setenv("DEVOPS_DOCKER_PORT", "9090")
	t.Setenv("DEVOPS_SAFETY_CONFIRM", "false")
	t.Setenv("DEVOPS_PULSE_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "llama3:8b", cfg.LLM.Model)
	assert.Equal(t, "phi3:mini", cfg.LLM.FastModel)
	assert.Equal(t, 9090, cfg.Backends.DockerPort)
	assert.False(t, cfg.Safety.Confirm)
	assert.Equal(t, 30*time.Second, cfg.Pulse.Interval)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("DEVOPS_DOCKER_PORT", "not-a-number")
	t.Setenv("DEVOPS_PULSE_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Backends.DockerPort)
	assert.Equal(t, 15*time.Second, cfg.Pulse.Interval)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing llm model", func(c *Config) { c.LLM.Model = "" }},
		{"missing llm host", func(c *Config) { c.LLM.Host = "" }},
		{"missing embedding host", func(c *Config) { c.Embedding.Host = "" }},
		{"zero embedding dim", func(c *Config) { c.Embedding.Dim = 0 }},
		{"zero pulse interval", func(c *Config) { c.Pulse.Interval = 0 }},
		{"port out of range", func(c *Config) { c.Backends.RemotePort = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBackendConfig_URLs(t *testing.T) {
	b := BackendConfig{Host: "127.0.0.1", DockerPort: 8080, LocalPort: 8081, RemotePort: 8082}
	assert.Equal(t, "http://127.0.0.1:8080", b.DockerURL())
	assert.Equal(t, "http://127.0.0.1:8081", b.LocalK8sURL())
	assert.Equal(t, "http://127.0.0.1:8082", b.RemoteK8sURL())
}
