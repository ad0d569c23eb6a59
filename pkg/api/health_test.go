package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golem-io/worker-executor/pkg/metrics"
)

func TestHealthEndpoint(t *testing.T) {
	hs := NewHealthServer()
	srv := httptest.NewServer(hs.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyEndpointReflectsComponentHealth(t *testing.T) {
	metrics.RegisterComponent("storage", true, "")
	metrics.RegisterComponent("rpc", true, "")

	hs := NewHealthServer()
	srv := httptest.NewServer(hs.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metrics.UpdateComponent("storage", false, "storage write failed")
	defer metrics.UpdateComponent("storage", true, "")

	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	hs := NewHealthServer()
	srv := httptest.NewServer(hs.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadOnlyMethodClassification(t *testing.T) {
	assert.True(t, isReadOnlyMethod("/golem.WorkerExecutor/GetMetadata"))
	assert.True(t, isReadOnlyMethod("/golem.WorkerExecutor/SearchOplog"))
	assert.True(t, isReadOnlyMethod("/golem.WorkerExecutor/Connect"))
	assert.False(t, isReadOnlyMethod("/golem.WorkerExecutor/CreateWorker"))
	assert.False(t, isReadOnlyMethod("/golem.WorkerExecutor/Delete"))
	assert.False(t, isReadOnlyMethod("malformed"))
}
