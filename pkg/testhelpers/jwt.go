// Package testhelpers provides utilities for testing ekaya-probe components.
package testhelpers

import (
	"encoding/base64"
	"fmt"
	"time"
)

// GenerateTestJWT creates an unsigned JWT (alg: none) carrying sub and, when
// exp is non-zero, an exp claim. Remote token endpoints in tests return it as
// an access_token so expiry can be derived from the token itself.
func GenerateTestJWT(sub string, exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := fmt.Sprintf(`{"sub":"%s"`, sub)
	if !exp.IsZero() {
		payload += fmt.Sprintf(`,"exp":%d`, exp.Unix())
	}
	payload += "}"

	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return fmt.Sprintf("%s.%s.", header, encodedPayload)
}
