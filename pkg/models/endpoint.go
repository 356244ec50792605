package models

import (
	"time"

	"github.com/google/uuid"
)

// Parameter is one OpenAPI parameter object, kept verbatim.
type Parameter map[string]any

// Name returns the parameter's "name" field, or "" when absent.
func (p Parameter) Name() string {
	name, _ := p["name"].(string)
	return name
}

// DiscoveredEndpoint is one HTTP route belonging to a remote server.
// EndpointHash is the deduplication key across discovery runs.
type DiscoveredEndpoint struct {
	ID             uuid.UUID      `json:"id"`
	RemoteServerID uuid.UUID      `json:"remote_server_id"`
	Path           string         `json:"path"`
	Method         string         `json:"method"`
	Description    string         `json:"description,omitempty"`
	Parameters     []Parameter    `json:"parameters"`
	ResponseSchema map[string]any `json:"response_schema"`
	EndpointHash   string         `json:"endpoint_hash"`
	DiscoveredAt   time.Time      `json:"discovered_at"`
	LastChecked    *time.Time     `json:"last_checked,omitempty"`
	IsActive       bool           `json:"is_active"`
}

// CandidateEndpoint is an endpoint extracted from a schema document, before
// it is reconciled into stored state.
type CandidateEndpoint struct {
	Path           string
	Method         string
	Description    string
	Parameters     []Parameter
	ResponseSchema map[string]any
	Hash           string
}

// DiscoveryResult summarizes one discover-and-store call.
type DiscoveryResult struct {
	DiscoveredCount int `json:"discovered_count"`
	StoredCount     int `json:"stored_count"`
}

// ReconcileResult counts the row changes made by one reconciliation.
type ReconcileResult struct {
	Inserted    int `json:"inserted"`
	Updated     int `json:"updated"`
	Deactivated int `json:"deactivated"`
}

// Stored is the number of rows written as active in this run.
func (r *ReconcileResult) Stored() int {
	return r.Inserted + r.Updated
}

// EndpointWithHealth pairs a discovered endpoint with its most recent probe.
type EndpointWithHealth struct {
	Endpoint     *DiscoveredEndpoint `json:"endpoint"`
	LatestHealth *ProbeResult        `json:"latest_health,omitempty"`
}

// MonitorResult summarizes a discover-and-monitor run.
type MonitorResult struct {
	Discovery *DiscoveryResult `json:"discovery"`
	Results   []ProbeResult    `json:"results"`
	Healthy   int              `json:"healthy"`
	Unhealthy int              `json:"unhealthy"`
}
