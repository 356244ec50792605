package models

import (
	"time"

	"github.com/google/uuid"
)

// Health status values stored on endpoint_health rows
const (
	HealthStatusSuccess = "success"
	HealthStatusError   = "error"
)

// FailureReason categorizes why a probe was unhealthy.
type FailureReason string

const (
	FailureAuthenticationRequired FailureReason = "authentication_required"
	FailureForbidden              FailureReason = "forbidden"
	FailureNotFound               FailureReason = "not_found"
	FailureMethodNotAllowed       FailureReason = "method_not_allowed"
	FailureValidationError        FailureReason = "validation_error"
	FailureRateLimited            FailureReason = "rate_limited"
	FailureClientError            FailureReason = "client_error"
	FailureServerError            FailureReason = "server_error"
	FailureUnknownError           FailureReason = "unknown_error"
	FailureTimeout                FailureReason = "timeout"
	FailureConnectionError        FailureReason = "connection_error"
	FailureDisabled               FailureReason = "disabled"
)

// EndpointHealth is one persisted probe outcome. Rows are append-only.
type EndpointHealth struct {
	ID                   uuid.UUID     `json:"id"`
	DiscoveredEndpointID *uuid.UUID    `json:"discovered_endpoint_id,omitempty"`
	Status               string        `json:"status"`
	IsHealthy            bool          `json:"is_healthy"`
	ResponseTime         float64       `json:"response_time"` // seconds
	CheckedAt            time.Time     `json:"checked_at"`
	StatusCode           *int          `json:"status_code,omitempty"`
	ErrorMessage         string        `json:"error_message,omitempty"`
	FailureReason        FailureReason `json:"failure_reason,omitempty"`
	URL                  string        `json:"url,omitempty"`
	Method               string        `json:"method,omitempty"`
}

// ProbeResult is the outcome of a single health probe.
type ProbeResult struct {
	EndpointID    *uuid.UUID    `json:"endpoint_id,omitempty"`
	Status        bool          `json:"status"`
	URL           string        `json:"url"`
	Method        string        `json:"method"`
	StatusCode    *int          `json:"status_code"`
	ResponseTime  float64       `json:"response_time"` // seconds
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	IsDisabled    bool          `json:"is_disabled"`
	CheckedAt     time.Time     `json:"checked_at"`
}

// ToHealth converts a probe result into a ledger row.
func (r *ProbeResult) ToHealth() *EndpointHealth {
	status := HealthStatusError
	if r.Status {
		status = HealthStatusSuccess
	}
	return &EndpointHealth{
		DiscoveredEndpointID: r.EndpointID,
		Status:               status,
		IsHealthy:            r.Status,
		ResponseTime:         r.ResponseTime,
		CheckedAt:            r.CheckedAt,
		StatusCode:           r.StatusCode,
		ErrorMessage:         r.ErrorMessage,
		FailureReason:        r.FailureReason,
		URL:                  r.URL,
		Method:               r.Method,
	}
}

// ToProbeResult converts a ledger row back into the probe result shape.
func (h *EndpointHealth) ToProbeResult() *ProbeResult {
	return &ProbeResult{
		EndpointID:    h.DiscoveredEndpointID,
		Status:        h.IsHealthy,
		URL:           h.URL,
		Method:        h.Method,
		StatusCode:    h.StatusCode,
		ResponseTime:  h.ResponseTime,
		FailureReason: h.FailureReason,
		ErrorMessage:  h.ErrorMessage,
		IsDisabled:    h.FailureReason == FailureDisabled,
		CheckedAt:     h.CheckedAt,
	}
}
