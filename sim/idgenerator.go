package sim

import (
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator can generate vehicle IDs
type IDGenerator interface {
	// Generate an ID
	Generate() uint64

	// Peek returns the ID that the next Generate call returns.
	Peek() uint64
}

// NewSequentialIDGenerator creates a generator that hands out 0, 1, 2, ...
// Each engine owns its own generator; IDs are never reused within it.
func NewSequentialIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

type sequentialIDGenerator struct {
	nextID uint64
}

func (g *sequentialIDGenerator) Generate() uint64 {
	return atomic.AddUint64(&g.nextID, 1) - 1
}

func (g *sequentialIDGenerator) Peek() uint64 {
	return atomic.LoadUint64(&g.nextID)
}

// NewRunID returns a globally unique, sortable identifier for a simulation
// run.
func NewRunID() string {
	return xid.New().String()
}
