package models

import (
	"time"

	"github.com/google/uuid"
)

// RegisteredEndpoint is a route of this service registered for local health
// scans. Disabled endpoints are reported without being probed.
type RegisteredEndpoint struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	IsEnabled bool      `json:"is_enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
