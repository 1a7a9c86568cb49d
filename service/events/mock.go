package events

import (
	"context"
	"sync"
)

// MockNotifier is a mock implementation of Notifier for testing.
type MockNotifier struct {
	mu          sync.RWMutex
	events      []*TransactionEvent
	notifyError error
}

// NewMockNotifier creates a new mock notifier for testing.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{
		events: make([]*TransactionEvent, 0),
	}
}

// Notify records the event and returns any configured error.
func (m *MockNotifier) Notify(ctx context.Context, event *TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.notifyError != nil {
		return m.notifyError
	}

	m.events = append(m.events, event)
	return nil
}

// Events returns all recorded events.
func (m *MockNotifier) Events() []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid race conditions
	events := make([]*TransactionEvent, len(m.events))
	copy(events, m.events)
	return events
}

// EventsOfType returns recorded events of the given type.
func (m *MockNotifier) EventsOfType(typ Type) []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransactionEvent, 0)
	for _, event := range m.events {
		if event.Type == typ {
			events = append(events, event)
		}
	}
	return events
}

// SetNotifyError configures the mock to return an error on Notify.
func (m *MockNotifier) SetNotifyError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyError = err
}

// Reset clears all recorded events and errors.
func (m *MockNotifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make([]*TransactionEvent, 0)
	m.notifyError = nil
}
