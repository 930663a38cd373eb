package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator hands out predictable identifiers. Each prefix has its own
// sequence, so "room-1" and "res-1" can come from the same generator.
type IDGenerator struct {
	mu       sync.Mutex
	prefix   string
	counters map[string]uint64
	issued   []string
}

// NewIDGenerator returns a generator whose Next uses prefix, "id" when empty.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix, counters: make(map[string]uint64)}
}

// Next returns the next identifier for the default prefix.
func (g *IDGenerator) Next() string {
	return g.NextFor(g.prefix)
}

// NextFor returns the next identifier in the sequence of prefix.
func (g *IDGenerator) NextFor(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters[prefix]++
	id := fmt.Sprintf("%s-%d", prefix, g.counters[prefix])
	g.issued = append(g.issued, id)
	return id
}

// NextFunc exposes Next as a function suitable for dependency injection.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

// FuncFor binds NextFor to prefix.
func (g *IDGenerator) FuncFor(prefix string) func() string {
	return func() string { return g.NextFor(prefix) }
}

// Issued returns every identifier handed out so far, in order.
func (g *IDGenerator) Issued() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.issued...)
}
