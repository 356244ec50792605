package openapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-probe/pkg/models"
)

// IdentityHash returns the dedup key for an endpoint: the hex SHA-256 of
// path:METHOD:canonical-json(parameters sorted by name).
// The result does not depend on the order parameters were declared in.
func IdentityHash(path, method string, params []models.Parameter) string {
	sum := sha256.Sum256([]byte(path + ":" + strings.ToUpper(method) + ":" + canonicalParams(params)))
	return hex.EncodeToString(sum[:])
}

// canonicalParams encodes params sorted by name, with the canonical encoding
// itself breaking ties between same-named parameters. Object keys are sorted
// by encoding/json, so the output is stable.
func canonicalParams(params []models.Parameter) string {
	if len(params) == 0 {
		return "[]"
	}

	type keyed struct {
		name string
		enc  string
	}
	items := make([]keyed, len(params))
	for i, p := range params {
		items[i] = keyed{name: p.Name(), enc: canonicalJSON(p)}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].name != items[j].name {
			return items[i].name < items[j].name
		}
		return items[i].enc < items[j].enc
	})

	var b strings.Builder
	b.WriteByte('[')
	for i, it := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(it.enc)
	}
	b.WriteByte(']')
	return b.String()
}

func canonicalJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// Parameters come from a decoded document and always re-encode.
		return "null"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
