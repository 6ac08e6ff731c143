package bus

import (
	"context"
	"sync"
)

// MemoryPublisher is an in-memory Publisher used by tests and by the
// gateway's -bus.backend=memory developer mode. It records every
// message published, in order.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
	failNext bool
	failErr  error
}

// NewMemoryPublisher builds an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

var _ Publisher = (*MemoryPublisher)(nil)

func (m *MemoryPublisher) Publish(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext {
		m.failNext = false
		return m.failErr
	}

	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of every message published so far, in order.
func (m *MemoryPublisher) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// FailNextPublish makes the next call to Publish return err, to exercise
// the "abort remaining batches on publish failure" path (§4.6 step 11).
func (m *MemoryPublisher) FailNextPublish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = true
	m.failErr = err
}
