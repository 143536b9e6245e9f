// Package config provides environment-driven configuration for the
// dispatcher. All variables carry the DEVOPS_ prefix (e.g. DEVOPS_LLM_MODEL)
// and every field has a documented default so a bare environment still
// produces a runnable process.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the umbrella configuration object returned by Load() and passed
// through dependency injection to every component. It is immutable after Load.
type Config struct {
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Backends  BackendConfig
	RemoteK8s RemoteK8sConfig
	Pulse     PulseConfig
	Safety    SafetyConfig
	Paths     PathConfig
}

// LLMConfig configures the chat-completion models. Smart is the reasoning
// model used for the chain-of-thought fallback; Fast is the zero-shot model
// used on the hot path and defaults to the smart model when unset.
type LLMConfig struct {
	Model       string
	Host        string
	FastModel   string
	FastHost    string
	Temperature float32
	Timeout     time.Duration
}

// EmbeddingConfig configures the embedding model. A dedicated (usually local)
// endpoint keeps embedding latency out of the LLM host's queue.
type EmbeddingConfig struct {
	Model string
	Host  string
	Dim   int
}

// BackendConfig holds the JSON-RPC endpoints for each tool backend.
type BackendConfig struct {
	Host        string
	DockerPort  int
	LocalPort   int
	RemotePort  int
	CallTimeout time.Duration
}

// DockerURL returns the docker backend endpoint.
func (b BackendConfig) DockerURL() string {
	return fmt.Sprintf("http://%s:%d", b.Host, b.DockerPort)
}

// LocalK8sURL returns the local Kubernetes backend endpoint.
func (b BackendConfig) LocalK8sURL() string {
	return fmt.Sprintf("http://%s:%d", b.Host, b.LocalPort)
}

// RemoteK8sURL returns the remote Kubernetes backend endpoint.
func (b BackendConfig) RemoteK8sURL() string {
	return fmt.Sprintf("http://%s:%d", b.Host, b.RemotePort)
}

// RemoteK8sConfig holds credentials for the remote cluster API used by the
// promotion and exec tool families on the remote backend server.
type RemoteK8sConfig struct {
	APIURL    string
	TokenPath string
	VerifySSL bool
}

// PulseConfig controls the background health monitor.
type PulseConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// SafetyConfig controls the confirmation gate for dangerous tools.
type SafetyConfig struct {
	Confirm bool
}

// PathConfig groups the on-disk state locations. Everything lives under
// DataDir unless overridden individually.
type PathConfig struct {
	DataDir          string
	SessionStorePath string
}

// Validate checks the configuration for errors that would only surface later
// as confusing runtime failures. Called once at startup.
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return fmt.Errorf("%w: LLM model", ErrMissingField)
	}
	if c.LLM.Host == "" {
		return fmt.Errorf("%w: LLM host", ErrMissingField)
	}
	if _, err := url.Parse(c.LLM.Host); err != nil {
		return fmt.Errorf("%w: invalid LLM host %q: %v", ErrInvalidValue, c.LLM.Host, err)
	}
	if c.Embedding.Host == "" {
		return fmt.Errorf("%w: embedding host", ErrMissingField)
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrInvalidValue, c.Embedding.Dim)
	}
	if c.Pulse.Interval <= 0 {
		return fmt.Errorf("%w: pulse interval must be positive", ErrInvalidValue)
	}
	for _, port := range []int{c.Backends.DockerPort, c.Backends.LocalPort, c.Backends.RemotePort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%w: backend port %d out of range", ErrInvalidValue, port)
		}
	}
	return nil
}
