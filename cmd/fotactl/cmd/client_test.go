package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *apiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	viper.Set("server", srv.URL)
	t.Cleanup(func() { viper.Set("server", "") })
	return newClient()
}

func TestClientDecodesPayload(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/settings/batch-wait", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"minutes": 5}`))
	})

	var out map[string]int
	require.NoError(t, client.get("/api/settings/batch-wait", &out))
	assert.Equal(t, 5, out["minutes"])
}

func TestClientSurfacesErrorEnvelope(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error": "an update job is already active: abc", "code": "CONFLICT"}`))
	})

	err := client.post("/api/rollouts", map[string]int{"batchSize": 10}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already active")
	assert.Contains(t, err.Error(), "CONFLICT")
}

func TestClientHandlesNoContent(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.delete("/api/routers/some-id", nil))
}
