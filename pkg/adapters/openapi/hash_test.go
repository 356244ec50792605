package openapi

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-probe/pkg/models"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestIdentityHash_NoParameters(t *testing.T) {
	assert.Equal(t, sha("/users:GET:[]"), IdentityHash("/users", "get", nil))
	assert.Equal(t, sha("/users:GET:[]"), IdentityHash("/users", "GET", []models.Parameter{}))
}

func TestIdentityHash_PermutationStable(t *testing.T) {
	a := models.Parameter{"name": "id", "in": "path", "required": true}
	b := models.Parameter{"name": "limit", "in": "query"}
	c := models.Parameter{"name": "cursor", "in": "query"}

	want := IdentityHash("/items/{id}", "GET", []models.Parameter{a, b, c})
	perms := [][]models.Parameter{
		{a, c, b},
		{b, a, c},
		{b, c, a},
		{c, a, b},
		{c, b, a},
	}
	for _, p := range perms {
		assert.Equal(t, want, IdentityHash("/items/{id}", "GET", p))
	}
}

func TestIdentityHash_SameNameTieBreak(t *testing.T) {
	header := models.Parameter{"name": "token", "in": "header"}
	query := models.Parameter{"name": "token", "in": "query"}

	assert.Equal(t,
		IdentityHash("/x", "GET", []models.Parameter{header, query}),
		IdentityHash("/x", "GET", []models.Parameter{query, header}))
}

func TestIdentityHash_Distinguishes(t *testing.T) {
	base := IdentityHash("/users", "GET", nil)
	assert.NotEqual(t, base, IdentityHash("/users", "POST", nil))
	assert.NotEqual(t, base, IdentityHash("/users/", "GET", nil))
	assert.NotEqual(t, base, IdentityHash("/users", "GET", []models.Parameter{{"name": "q"}}))
}

func TestCanonicalParams_SortedKeys(t *testing.T) {
	p := models.Parameter{"name": "q", "in": "query", "required": false}
	assert.Equal(t, `[{"in":"query","name":"q","required":false}]`, canonicalParams([]models.Parameter{p}))
}
