package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// envPrefix is prepended to every variable name before lookup.
const envPrefix = "DEVOPS_"

// Sentinel errors for configuration failures, surfaced at startup.
var (
	ErrMissingField = errors.New("missing configuration field")
	ErrInvalidValue = errors.New("invalid configuration value")
)

// Load reads configuration from the environment, applying defaults for every
// unset field, and validates the result.
func Load() (*Config, error) {
	dataDir := getEnv("DATA_DIR", "./data")

	cfg := &Config{
		LLM: LLMConfig{
			Model:       getEnv("LLM_MODEL", "qwen2.5:72b-instruct"),
			Host:        getEnv("LLM_HOST", "http://localhost:11434"),
			FastModel:   os.Getenv(envPrefix + "LLM_FAST_MODEL"),
			FastHost:    os.Getenv(envPrefix + "LLM_FAST_HOST"),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.1),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 15*time.Second),
		},
		Embedding: EmbeddingConfig{
			Model: getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			Host:  getEnv("EMBEDDING_HOST", "http://localhost:11434"),
			Dim:   getEnvInt("EMBEDDING_DIM", 768),
		},
		Backends: BackendConfig{
			Host:        getEnv("MCP_SERVER_HOST", "127.0.0.1"),
			DockerPort:  getEnvInt("DOCKER_PORT", 8080),
			LocalPort:   getEnvInt("LOCAL_K8S_PORT", 8081),
			RemotePort:  getEnvInt("REMOTE_K8S_PORT", 8082),
			CallTimeout: getEnvDuration("CALL_TIMEOUT", 30*time.Second),
		},
		RemoteK8s: RemoteK8sConfig{
			APIURL:    getEnv("REMOTE_K8S_API_URL", ""),
			TokenPath: getEnv("REMOTE_K8S_TOKEN_PATH", "token.txt"),
			VerifySSL: getEnvBool("REMOTE_K8S_VERIFY_SSL", false),
		},
		Pulse: PulseConfig{
			Interval:     getEnvDuration("PULSE_INTERVAL", 15*time.Second),
			ProbeTimeout: getEnvDuration("PULSE_PROBE_TIMEOUT", 5*time.Second),
		},
		Safety: SafetyConfig{
			Confirm: getEnvBool("SAFETY_CONFIRM", true),
		},
		Paths: PathConfig{
			DataDir:          dataDir,
			SessionStorePath: getEnv("SESSION_STORE_PATH", filepath.Join(dataDir, "sessions.jsonl")),
		},
	}

	// Fast model/host fall back to the smart variants when unset.
	if cfg.LLM.FastModel == "" {
		cfg.LLM.FastModel = cfg.LLM.Model
	}
	if cfg.LLM.FastHost == "" {
		cfg.LLM.FastHost = cfg.LLM.Host
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(envPrefix + key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float32) float32 {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 32)
	if err != nil {
		return defaultVal
	}
	return float32(f)
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
