package adapter

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// ToolCallIDGenerator synthesizes unique ids for upstream function calls
// that arrive without one. Each translator owns its own instance so id
// sequences stay deterministic under test and safe under concurrency.
type ToolCallIDGenerator struct {
	counter atomic.Uint64
}

// NewToolCallIDGenerator returns a fresh generator starting at zero.
func NewToolCallIDGenerator() *ToolCallIDGenerator {
	return &ToolCallIDGenerator{}
}

// Next returns an id of the form "<name>-<seq>-<uuid8>".
func (g *ToolCallIDGenerator) Next(name string) string {
	if name == "" {
		name = "tool"
	}
	seq := g.counter.Add(1)
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", name, seq, suffix)
}
