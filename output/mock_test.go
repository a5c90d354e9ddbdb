package output

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

type published struct {
	subject string
	data    []byte
}

// MockPublisher implements Publisher for testing
type MockPublisher struct {
	mu         sync.Mutex
	messages   []published
	connected  bool
	publishErr error
	last       []byte
	lastErr    error
	closed     bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{connected: true}
}

func (m *MockPublisher) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.messages = append(m.messages, published{subject: subject, data: append([]byte(nil), data...)})
	return nil
}

func (m *MockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockPublisher) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *MockPublisher) sent() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.messages...)
}

// MockStreamPublisher can also read back the last event
type MockStreamPublisher struct {
	*MockPublisher
}

func (m MockStreamPublisher) LastMessage(stream, subject string) ([]byte, error) {
	if stream != EventsStream {
		return nil, errors.New("unknown stream")
	}
	return m.last, m.lastErr
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
