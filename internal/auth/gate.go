// Package auth admits callers by API key against an allow-list fixed at startup.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/kweku-annan/api-gateway/internal/domain"
)

// Gate is immutable after construction and safe for concurrent use.
type Gate struct {
	keys map[string]struct{}
}

// NewGate merges every key source. Blank entries are ignored; matching is
// exact and case-sensitive.
func NewGate(sources ...[]string) *Gate {
	keys := make(map[string]struct{})
	for _, source := range sources {
		for _, key := range source {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			keys[key] = struct{}{}
		}
	}
	return &Gate{keys: keys}
}

func (g *Gate) Authorize(key string) error {
	if g == nil || len(g.keys) == 0 {
		return domain.ErrAuthNotConfigured
	}
	if key == "" {
		return domain.ErrMissingAPIKey
	}
	if _, ok := g.keys[key]; !ok {
		return domain.ErrInvalidAPIKey
	}
	return nil
}

// Configured reports whether any key can be admitted at all.
func (g *Gate) Configured() bool {
	return g != nil && len(g.keys) > 0
}

func (g *Gate) Len() int {
	if g == nil {
		return 0
	}
	return len(g.keys)
}

// Fingerprint is the loggable, storable stand-in for an API key.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
