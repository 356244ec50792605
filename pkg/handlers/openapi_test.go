package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-probe/pkg/adapters/openapi"
	"github.com/ekaya-inc/ekaya-probe/pkg/config"
)

func TestOpenAPIHandler_DocumentIsDiscoverable(t *testing.T) {
	routes := append(NewHealthHandler(&config.Config{}, zap.NewNop()).Routes(),
		NewMonitoringHandler(&mockMonitoringService{}, zap.NewNop()).Routes()...)
	handler := NewOpenAPIHandler("test", routes, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := openapi.ParseDocument("/openapi.json", rec.Body.Bytes())
	require.NoError(t, err)

	candidates := openapi.ExtractEndpoints(doc)
	assert.Len(t, candidates, len(routes)+1, "every route plus the document itself")

	found := false
	for _, c := range candidates {
		if c.Path == "/api/servers/{id}/scan" && c.Method == "POST" {
			found = true
			require.Len(t, c.Parameters, 1)
			assert.Equal(t, "id", c.Parameters[0].Name())
			assert.Contains(t, c.ResponseSchema, "application/json")
		}
	}
	assert.True(t, found, "scan route is documented")
}

func TestRegisteredRoutes(t *testing.T) {
	out := RegisteredRoutes([]Route{{Name: "health", Method: "GET", Path: "/health", Summary: "x"}})
	require.Len(t, out, 1)
	assert.Equal(t, "health", out[0].Name)
	assert.Equal(t, "/health", out[0].Path)
}
