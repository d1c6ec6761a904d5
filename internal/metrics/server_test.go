package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerDefaults(t *testing.T) {
	s := NewServer("127.0.0.1:0", "")
	assert.Equal(t, "/metrics", s.path)
	assert.NoError(t, s.Stop(context.Background()), "stop before start is a no-op")
}

func TestServerRequiresAddr(t *testing.T) {
	s := NewServer("", "/m")
	assert.Error(t, s.Start(context.Background()))
}

func TestServerExposesNeedleSeries(t *testing.T) {
	s := NewServer("127.0.0.1:0", "/metrics")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	HooksRegistered.Set(3)

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "needle_hooks_registered 3")

	resp, err = http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerStartReportsBindError(t *testing.T) {
	first := NewServer("127.0.0.1:0", "")
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop(context.Background())

	second := NewServer(first.Addr(), "")
	assert.ErrorContains(t, second.Start(context.Background()), "metrics listen")
}
