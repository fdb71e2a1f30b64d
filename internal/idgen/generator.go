// Package idgen produces snippet identifiers.
package idgen

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Generator hands out unique, unguessable snippet ids.
type Generator interface {
	Generate() (string, error)
}

// UUIDGenerator produces random (version 4) UUIDs: 122 bits of entropy in
// the canonical 36 character form.
type UUIDGenerator struct {
	mu   sync.Mutex
	rand io.Reader
}

// New creates a generator backed by crypto/rand.
func New() *UUIDGenerator {
	return &UUIDGenerator{rand: rand.Reader}
}

// NewWithReader creates a generator that draws entropy from r. A nil
// reader falls back to crypto/rand.
func NewWithReader(r io.Reader) *UUIDGenerator {
	if r == nil {
		r = rand.Reader
	}
	return &UUIDGenerator{rand: r}
}

// Generate returns a fresh id.
func (g *UUIDGenerator) Generate() (string, error) {
	// io.Reader implementations are not required to be safe for concurrent use
	g.mu.Lock()
	id, err := uuid.NewRandomFromReader(g.rand)
	g.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// IsValid reports whether id looks like something Generate could have
// produced. It is used to turn obviously bogus lookups away early.
func IsValid(id string) bool {
	if len(id) != 36 {
		return false
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return u.Version() == 4 && u.Variant() == uuid.RFC4122
}
