package clip

import (
	"fmt"
	"sync"
)

// Memory is an in-process clipboard. Both Set (a user copy) and Write (a
// remote update applied by the engine) signal Watch, like a real clipboard
// observed by polling.
type Memory struct {
	mu      sync.Mutex
	content string
	denied  bool
	writes  []string
	watchCh chan struct{}
}

// NewMemory returns an empty in-memory clipboard.
func NewMemory() *Memory {
	return &Memory{watchCh: make(chan struct{}, 1)}
}

func (m *Memory) Name() string { return "memory" }

// Set simulates the user copying content on this device.
func (m *Memory) Set(content string) {
	m.mu.Lock()
	m.content = content
	m.mu.Unlock()
	m.signal()
}

// Deny makes subsequent reads and writes fail with ErrPermissionDenied.
func (m *Memory) Deny(denied bool) {
	m.mu.Lock()
	m.denied = denied
	m.mu.Unlock()
}

func (m *Memory) Read() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied {
		return "", fmt.Errorf("%w: read refused", ErrPermissionDenied)
	}
	return m.content, nil
}

func (m *Memory) Write(content string) error {
	m.mu.Lock()
	if m.denied {
		m.mu.Unlock()
		return fmt.Errorf("%w: write refused", ErrPermissionDenied)
	}
	m.content = content
	m.writes = append(m.writes, content)
	m.mu.Unlock()
	m.signal()
	return nil
}

// Writes returns every value passed to a successful Write.
func (m *Memory) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

func (m *Memory) Watch() <-chan struct{} { return m.watchCh }
func (m *Memory) Close()                 {}

func (m *Memory) signal() {
	select {
	case m.watchCh <- struct{}{}:
	default:
	}
}
