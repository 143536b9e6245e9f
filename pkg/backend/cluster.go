package backend

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/dispatch/pkg/config"
)

// ClusterAPI talks to the remote Kubernetes API server directly. The
// discovery tools use it to crawl manifests instead of round-tripping through
// the remote bridge. Authentication is a bearer token read from disk.
type ClusterAPI struct {
	base      string
	client    *http.Client
	tokenPath string
	logger    *slog.Logger

	tokenOnce sync.Once
	token     string
}

// NewClusterAPI builds a cluster API client from the remote cluster settings.
// Certificate verification follows cfg.VerifySSL; lab clusters typically run
// with self-signed certs.
func NewClusterAPI(cfg config.RemoteK8sConfig) *ClusterAPI {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifySSL},
	}
	return &ClusterAPI{
		base:      strings.TrimRight(cfg.APIURL, "/"),
		client:    &http.Client{Transport: transport, Timeout: 15 * time.Second},
		tokenPath: cfg.TokenPath,
		logger:    slog.Default(),
	}
}

// GetJSON issues an authenticated GET against the cluster API. Non-2xx
// statuses come back as an error alongside the status code so callers can
// tell a missing resource (404) from an auth problem (401/403).
func (c *ClusterAPI) GetJSON(ctx context.Context, path string) (map[string]any, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build cluster request for %s: %w", path, err)
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read cluster response for %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("cluster API returned HTTP %d for %s", resp.StatusCode, path)
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode cluster response for %s: %w", path, err)
	}
	return out, resp.StatusCode, nil
}

// bearer reads the token file once. A missing token is tolerated so clusters
// without auth still work; the warning points at the path tried.
func (c *ClusterAPI) bearer() string {
	c.tokenOnce.Do(func() {
		data, err := os.ReadFile(c.tokenPath)
		if err != nil {
			c.logger.Warn("Could not read cluster API token, requests go unauthenticated",
				"path", c.tokenPath, "error", err)
			return
		}
		c.token = strings.TrimSpace(string(data))
	})
	return c.token
}
