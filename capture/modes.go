package capture

import "sync"

// CommandKind identifies a queued device command.
type CommandKind int

const (
	CommandRotate CommandKind = iota
)

func (k CommandKind) String() string {
	switch k {
	case CommandRotate:
		return "rotate"
	default:
		return "unknown"
	}
}

// PendingCommand waits for the port's poller to run it against the bound device.
type PendingCommand struct {
	Kind    CommandKind
	Reverse bool
}

// ModeStore holds, per port, the selected telemetry mode and the queue of
// pending device commands. The command decoder writes it; each port's poller
// reads only its own slot.
type ModeStore struct {
	mu      sync.RWMutex
	modes   []int
	pending [][]PendingCommand
}

// NewModeStore creates a store for n ports, all in mode 0.
func NewModeStore(n int) *ModeStore {
	return &ModeStore{
		modes:   make([]int, n),
		pending: make([][]PendingCommand, n),
	}
}

// Len returns the number of ports.
func (m *ModeStore) Len() int {
	return len(m.modes)
}

// SetMode selects the mode of a port. It reports false for an unknown port.
func (m *ModeStore) SetMode(port, mode int) bool {
	if port < 0 || port >= len(m.modes) {
		return false
	}
	m.mu.Lock()
	m.modes[port] = mode
	m.mu.Unlock()
	return true
}

// Mode returns the selected mode of a port, 0 for an unknown port.
func (m *ModeStore) Mode(port int) int {
	if port < 0 || port >= len(m.modes) {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modes[port]
}

// Enqueue queues a command for a port. It reports false for an unknown port.
func (m *ModeStore) Enqueue(port int, cmd PendingCommand) bool {
	if port < 0 || port >= len(m.pending) {
		return false
	}
	m.mu.Lock()
	m.pending[port] = append(m.pending[port], cmd)
	m.mu.Unlock()
	return true
}

// Take removes and returns the oldest pending command of a port.
func (m *ModeStore) Take(port int) (PendingCommand, bool) {
	if port < 0 || port >= len(m.pending) {
		return PendingCommand{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.pending[port]
	if len(queue) == 0 {
		return PendingCommand{}, false
	}
	cmd := queue[0]
	m.pending[port] = queue[1:]
	return cmd, true
}

// Drop discards all pending commands of a port and returns how many there were.
func (m *ModeStore) Drop(port int) int {
	if port < 0 || port >= len(m.pending) {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.pending[port])
	m.pending[port] = nil
	return n
}
