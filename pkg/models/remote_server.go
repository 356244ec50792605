package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthType is the credential scheme a remote server expects on outbound requests.
type AuthType string

const (
	AuthTypeNone        AuthType = "none"
	AuthTypeBasic       AuthType = "basic"
	AuthTypeBearerToken AuthType = "bearer-token"
	AuthTypeAPIKey      AuthType = "api-key"
)

// Valid reports whether t is a known auth scheme.
func (t AuthType) Valid() bool {
	switch t {
	case AuthTypeNone, AuthTypeBasic, AuthTypeBearerToken, AuthTypeAPIKey:
		return true
	}
	return false
}

// Server status values
const (
	ServerStatusOffline = "offline" // Never checked
	ServerStatusActive  = "active"  // Last health check returned 200
	ServerStatusError   = "error"   // Last health check failed
)

// LocalSystemServerID is the reserved id of the pseudo-server that owns this
// service's own discovered endpoints. Seeded by migration.
var LocalSystemServerID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// LocalSystemServerName is the reserved name of the local pseudo-server.
const LocalSystemServerName = "local-system"

// RemoteServer represents a monitored target system.
// Password, APIKey and AccessToken are decrypted plaintext; they are encrypted
// at rest by the repository.
type RemoteServer struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	BaseURL        string     `json:"base_url"`
	Description    string     `json:"description,omitempty"`
	Status         string     `json:"status"`
	IsActive       bool       `json:"is_active"`
	AuthType       AuthType   `json:"auth_type"`
	Username       string     `json:"username,omitempty"`
	Password       string     `json:"-"`
	APIKey         string     `json:"-"`
	TokenEndpoint  string     `json:"token_endpoint,omitempty"`
	AccessToken    string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	HealthCheckURL string     `json:"health_check_url,omitempty"`
	RetryCount     int        `json:"retry_count"`
	LastError      string     `json:"last_error,omitempty"`
	LastChecked    *time.Time `json:"last_checked,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsLocalSystem reports whether s is the local pseudo-server.
func (s *RemoteServer) IsLocalSystem() bool {
	return s.ID == LocalSystemServerID
}

// HasValidToken reports whether the cached bearer token can be reused at now,
// treating tokens that expire within skew as already expired.
func (s *RemoteServer) HasValidToken(now time.Time, skew time.Duration) bool {
	if s.AccessToken == "" || s.TokenExpiresAt == nil {
		return false
	}
	return s.TokenExpiresAt.After(now.Add(skew))
}

// ServerStatusUpdate is the bookkeeping written after a server status check.
type ServerStatusUpdate struct {
	Status      string
	LastChecked time.Time
	LastError   string // Empty clears the column
	RetryCount  int
}
