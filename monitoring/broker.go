package monitoring

import (
	"context"
	"strings"
	"sync"

	"portview/capture"
)

// AllPorts subscribes a client to every line
const AllPorts = "all"

// recentLines is how many lines /api/feed can return
const recentLines = 200

// SSEClient represents a connected SSE client
type SSEClient struct {
	port string
	send chan string
	done chan struct{}
}

// SSEBroker manages SSE client connections and message broadcasting
type SSEBroker struct {
	clients    map[*SSEClient]bool
	register   chan *SSEClient
	unregister chan *SSEClient
	broadcast  chan BroadcastMessage
	mu         sync.RWMutex

	recentMutex sync.Mutex
	recent      []BroadcastMessage // ring buffer
	recentNext  int
	recentCount int
}

// BroadcastMessage contains a line and the port it came from
type BroadcastMessage struct {
	Port string
	Line string
}

// NewSSEBroker creates a new SSE broker
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{
		clients:    make(map[*SSEClient]bool),
		register:   make(chan *SSEClient),
		unregister: make(chan *SSEClient),
		broadcast:  make(chan BroadcastMessage, 256),
		recent:     make([]BroadcastMessage, recentLines),
	}
}

// Run starts the broker's main loop
func (b *SSEBroker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Close all client connections
			b.mu.Lock()
			for client := range b.clients {
				close(client.done)
				delete(b.clients, client)
			}
			b.mu.Unlock()
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				close(client.done)
				delete(b.clients, client)
			}
			b.mu.Unlock()

		case msg := <-b.broadcast:
			b.mu.RLock()
			for client := range b.clients {
				// Send to clients subscribed to this port or "all"
				if client.port == msg.Port || client.port == AllPorts {
					select {
					case client.send <- msg.Line:
					default:
						// Client buffer full, skip this message
					}
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Broadcast sends a line to all clients subscribed to the port
func (b *SSEBroker) Broadcast(port, line string) {
	b.remember(BroadcastMessage{Port: port, Line: line})

	select {
	case b.broadcast <- BroadcastMessage{Port: port, Line: line}:
	default:
		// Broadcast buffer full, drop message
	}
}

// TickDone implements capture.Observer. Each line is keyed by its leading
// token: a port label, or hub, battery, imu or buttons.
func (b *SSEBroker) TickDone(report capture.TickReport) {
	for _, line := range report.Lines {
		for _, part := range strings.Split(line, "\r\n") {
			source, _, _ := strings.Cut(part, "\t")
			b.Broadcast(source, part)
		}
	}
}

func (b *SSEBroker) remember(msg BroadcastMessage) {
	b.recentMutex.Lock()
	defer b.recentMutex.Unlock()

	b.recent[b.recentNext] = msg
	b.recentNext = (b.recentNext + 1) % len(b.recent)
	if b.recentCount < len(b.recent) {
		b.recentCount++
	}
}

// Recent returns up to n of the newest lines for port (or AllPorts), oldest
// first.
func (b *SSEBroker) Recent(port string, n int) []string {
	b.recentMutex.Lock()
	defer b.recentMutex.Unlock()

	lines := []string{}
	// Walk from newest to oldest
	for i := 0; i < b.recentCount && len(lines) < n; i++ {
		idx := (b.recentNext - 1 - i + len(b.recent)) % len(b.recent)
		msg := b.recent[idx]
		if port == AllPorts || msg.Port == port {
			lines = append(lines, msg.Line)
		}
	}

	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}

// ClientCount returns the number of connected clients
func (b *SSEBroker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
