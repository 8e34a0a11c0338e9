package request

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces query ids: a once-per-process random prefix
// combined with a monotonic counter, grounded on katawrap.py's
// query_id_base/new_id (a module-level uuid4 plus an incrementing int).
type IDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int64
}

// NewIDGenerator creates a generator with a fresh random prefix.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{prefix: uuid.NewString()}
}

// Next returns the next id in sequence: "<prefix>_<counter>".
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("%s_%d", g.prefix, g.next)
	g.next++
	return id
}
