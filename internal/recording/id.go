package recording

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces recording ids.
// Implemented by UUIDv7Generator (production) and FixedIDGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 recording ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids saved by
// one process sort in capture order.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedIDGenerator returns predetermined ids in order.
//
// Example:
//
//	gen := NewFixedIDGenerator("rec-1", "rec-2")
//	gen.Generate() // "rec-1"
//	gen.Generate() // "rec-2"
//	gen.Generate() // panic: all ids exhausted
type FixedIDGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIDGenerator creates a generator that returns ids in order.
func NewFixedIDGenerator(ids ...string) *FixedIDGenerator {
	return &FixedIDGenerator{ids: ids}
}

// Generate returns the next predetermined id.
// Panics once all ids have been consumed so a misconfigured test fails fast.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedIDGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
