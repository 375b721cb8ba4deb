package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu            sync.RWMutex
	balanceEvents []*BalanceEvent
	statusEvents  []*StatusEvent
	publishError  error
	closed        bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishBalance records the event and returns any configured error.
func (m *MockPublisher) PublishBalance(ctx context.Context, event *BalanceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.balanceEvents = append(m.balanceEvents, event)
	return nil
}

// PublishStatus records the event and returns any configured error.
func (m *MockPublisher) PublishStatus(ctx context.Context, event *StatusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.statusEvents = append(m.statusEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// BalanceEvents returns all published balance events (for testing).
func (m *MockPublisher) BalanceEvents() []*BalanceEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid race conditions
	events := make([]*BalanceEvent, len(m.balanceEvents))
	copy(events, m.balanceEvents)
	return events
}

// StatusEvents returns all published status events (for testing).
func (m *MockPublisher) StatusEvents() []*StatusEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*StatusEvent, len(m.statusEvents))
	copy(events, m.statusEvents)
	return events
}

// SetPublishError configures the mock to return an error on publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Reset clears all recorded events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceEvents = nil
	m.statusEvents = nil
	m.publishError = nil
	m.closed = false
}
