package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-probe/pkg/services"
)

// Route describes one HTTP route served by this process.
type Route struct {
	Name    string
	Method  string
	Path    string // ServeMux pattern path, e.g. /api/servers/{id}/scan
	Summary string
	Handler http.HandlerFunc
}

// Pattern returns the ServeMux pattern for the route.
func (r Route) Pattern() string {
	return r.Method + " " + r.Path
}

// RegisteredRoutes converts routes into the form stored in registered_endpoints.
func RegisteredRoutes(routes []Route) []services.Route {
	out := make([]services.Route, len(routes))
	for i, r := range routes {
		out[i] = services.Route{Name: r.Name, Method: r.Method, Path: r.Path}
	}
	return out
}

var pathParamPattern = regexp.MustCompile(`\{([^{}/]+)\}`)

// OpenAPIHandler serves an OpenAPI document describing this service, which
// makes the local-system server discoverable like any remote one.
type OpenAPIHandler struct {
	version string
	routes  []Route
	logger  *zap.Logger
}

// NewOpenAPIHandler creates a handler documenting routes. The handler's own
// route is appended to the document.
func NewOpenAPIHandler(version string, routes []Route, logger *zap.Logger) *OpenAPIHandler {
	h := &OpenAPIHandler{version: version, logger: logger}
	h.routes = append(append([]Route{}, routes...), h.Routes()...)
	return h
}

// RegisterRoutes registers GET /openapi.json on the given mux.
func (h *OpenAPIHandler) RegisterRoutes(mux *http.ServeMux) {
	for _, route := range h.Routes() {
		mux.HandleFunc(route.Pattern(), route.Handler)
	}
}

// Routes lists the routes registered by RegisterRoutes.
func (h *OpenAPIHandler) Routes() []Route {
	return []Route{
		{Name: "openapi", Method: http.MethodGet, Path: "/openapi.json", Summary: "OpenAPI description of this service", Handler: h.Document},
	}
}

// Document handles GET /openapi.json
func (h *OpenAPIHandler) Document(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, h.build()); err != nil {
		h.logger.Error("Failed to encode OpenAPI document", zap.Error(err))
	}
}

func (h *OpenAPIHandler) build() map[string]any {
	paths := make(map[string]any)
	for _, route := range h.routes {
		item, ok := paths[route.Path].(map[string]any)
		if !ok {
			item = make(map[string]any)
			paths[route.Path] = item
		}

		params := []any{}
		for _, m := range pathParamPattern.FindAllStringSubmatch(route.Path, -1) {
			params = append(params, map[string]any{
				"name":     m[1],
				"in":       "path",
				"required": true,
				"schema":   map[string]any{"type": "string", "format": "uuid"},
			})
		}

		item[strings.ToLower(route.Method)] = map[string]any{
			"operationId": route.Name,
			"summary":     route.Summary,
			"parameters":  params,
			"responses": map[string]any{
				"200": map[string]any{
					"description": "OK",
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{"type": "object"},
						},
					},
				},
			},
		}
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "ekaya-probe",
			"version": h.version,
		},
		"paths": paths,
	}
}
