package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
)

// MemorySink records every envelope it receives in process memory.
// Used in tests and for local/dev pipelines with no external fan-out
// configured.
type MemorySink struct {
	name string

	mu       sync.Mutex
	received []*contracts.Envelope
	failNext bool
}

// NewMemorySink constructs a named MemorySink.
func NewMemorySink(name string) *MemorySink {
	return &MemorySink{name: name}
}

func (s *MemorySink) Name() string { return s.name }

// FailNext makes the next Write call (and only that call) return an error.
func (s *MemorySink) FailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

func (s *MemorySink) Write(ctx context.Context, env *contracts.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return fmt.Errorf("memory sink %s: simulated failure", s.name)
	}
	s.received = append(s.received, env)
	return nil
}

// Received returns every envelope accepted so far, in write order.
func (s *MemorySink) Received() []*contracts.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*contracts.Envelope, len(s.received))
	copy(out, s.received)
	return out
}
