package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/dispatch/pkg/config"
)

func writeToken(t *testing.T, token string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token.txt")
	require.NoError(t, os.WriteFile(path, []byte(token+"\n"), 0o600))
	return path
}

func TestClusterAPI_GetJSON(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"kind":"Pod","metadata":{"name":"web"}}`))
	}))
	defer srv.Close()

	c := NewClusterAPI(config.RemoteK8sConfig{
		APIURL:    srv.URL + "/",
		TokenPath: writeToken(t, "s3cret"),
		VerifySSL: false, // self-signed test cert
	})

	out, status, err := c.GetJSON(context.Background(), "/api/v1/namespaces/default/pods/web")
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "Bearer s3cret", gotAuth)
	assert.Equal(t, "/api/v1/namespaces/default/pods/web", gotPath)
	assert.Equal(t, "Pod", out["kind"])
}

func TestClusterAPI_NotFound(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"kind":"Status","code":404}`))
	}))
	defer srv.Close()

	c := NewClusterAPI(config.RemoteK8sConfig{APIURL: srv.URL, TokenPath: writeToken(t, "x")})

	_, status, err := c.GetJSON(context.Background(), "/api/v1/namespaces/default/secrets/absent")
	require.Error(t, err)
	assert.Equal(t, 404, status)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestClusterAPI_MissingTokenStillCalls(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClusterAPI(config.RemoteK8sConfig{APIURL: srv.URL, TokenPath: "/nonexistent/token"})

	_, status, err := c.GetJSON(context.Background(), "/api/v1/namespaces/default/pods")
	require.NoError(t, err)
	assert.Equal(t, 200, status)
}
