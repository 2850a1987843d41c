package transport

import (
	"sync"

	"spectro/internal/spectrogram"
)

// MockTransport records the columns it is sent. It is used by tests and by
// headless runs that only want to count output.
type MockTransport struct {
	mu      sync.Mutex
	sent    []spectrogram.Column
	closed  bool
	SendErr error
}

// Send implements Transport.
func (m *MockTransport) Send(col spectrogram.Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, col)
	return m.SendErr
}

// Close implements Transport.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Sent returns a copy of everything sent so far.
func (m *MockTransport) Sent() []spectrogram.Column {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]spectrogram.Column, len(m.sent))
	copy(out, m.sent)
	return out
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Transport = (*MockTransport)(nil)
