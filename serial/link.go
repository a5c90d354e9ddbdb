// Package serial carries the host link over a USB or UART serial port.
package serial

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.bug.st/serial"

	"portview/config"
	"portview/protocol"
)

// ReadTimeout bounds each blocking read. A timeout with a partial packet
// buffered means the host stream lost alignment, and the partial is dropped.
const ReadTimeout = 50 * time.Millisecond

var (
	// ErrClosed is returned by Write after Close
	ErrClosed = errors.New("link closed")

	// ErrDisconnected is returned by Write while the port is being reopened
	ErrDisconnected = errors.New("link disconnected")
)

// Port is the part of a serial port the link uses
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the serial port again after a failure. It returns the
// device path it resolved, which may differ after a USB replug.
type Opener func() (device string, port Port, err error)

// Backoff is the delay schedule between reopen attempts
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Exponential bool
}

// BackoffFrom converts the recovery settings
func BackoffFrom(r *config.RecoveryConfig) Backoff {
	return Backoff{
		Initial:     r.ReconnectDelay(),
		Max:         r.MaxReconnectDelay(),
		Exponential: r.ExponentialBackoff,
	}
}

// Delay returns the wait before the given attempt, counting from 1
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.Initial
	if !b.Exponential || attempt <= 1 {
		return delay
	}
	// Cap the exponent to avoid overflow with very large attempt counts
	exponent := math.Min(float64(attempt-1), 30)
	calculated := time.Duration(float64(delay) * math.Pow(2, exponent))
	if calculated > b.Max {
		return b.Max
	}
	return calculated
}

// LinkStats counts link traffic
type LinkStats struct {
	Device       string `json:"device"`
	Connected    bool   `json:"connected"`
	BytesWritten int64  `json:"bytes_written"`
	BytesRead    int64  `json:"bytes_read"`
	Packets      int64  `json:"packets"`
	Resyncs      int64  `json:"resyncs"`
	Errors       int64  `json:"errors"`
	Reconnects   int64  `json:"reconnects"`
}

// Link sends framed telemetry chunks over a serial port and keeps the most
// recent complete inbound command packet for the scheduler to decode.
type Link struct {
	open    Opener
	backoff Backoff
	logger  *slog.Logger

	portMutex sync.RWMutex
	device    string
	port      Port
	connected bool

	inboundMutex sync.Mutex
	inbound      []byte

	stats      LinkStats
	statsMutex sync.RWMutex

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// Dial resolves the device through the detector, opens it, and keeps the
// link alive: after a read failure the device is resolved and opened again
// on the backoff schedule until it comes back or the link is closed.
func Dial(detector *Detector, device string, baudRate int, backoff Backoff, logger *slog.Logger) (*Link, error) {
	open := func() (string, Port, error) {
		path, err := detector.Resolve(device)
		if err != nil {
			return "", nil, err
		}
		port, err := openPort(path, baudRate, logger)
		if err != nil {
			return "", nil, err
		}
		return path, port, nil
	}

	path, port, err := open()
	if err != nil {
		return nil, err
	}
	return NewReconnectingLink(path, port, open, backoff, logger), nil
}

func openPort(device string, baudRate int, logger *slog.Logger) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}

	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	// Drop anything the host sent before we were listening
	if err := port.ResetInputBuffer(); err != nil {
		logger.Debug("Failed to reset input buffer", "device", device, "error", err)
	}

	logger.Info("Serial link open", "device", device, "baud", baudRate)
	return port, nil
}

// NewLink wraps an already open port and starts the receive goroutine
func NewLink(device string, port Port, logger *slog.Logger) *Link {
	return NewReconnectingLink(device, port, nil, Backoff{}, logger)
}

// NewReconnectingLink is NewLink with a way to reopen the port. A nil open
// disables reconnection.
func NewReconnectingLink(device string, port Port, open Opener, backoff Backoff, logger *slog.Logger) *Link {
	l := &Link{
		open:      open,
		backoff:   backoff,
		logger:    logger,
		device:    device,
		port:      port,
		connected: true,
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go l.run()
	return l
}

// Write implements io.Writer. The scheduler hands over one chunk per call.
func (l *Link) Write(p []byte) (int, error) {
	select {
	case <-l.closed:
		return 0, ErrClosed
	default:
	}

	l.portMutex.RLock()
	port, device, connected := l.port, l.device, l.connected
	l.portMutex.RUnlock()
	if !connected {
		return 0, fmt.Errorf("write %s: %w", device, ErrDisconnected)
	}

	n, err := port.Write(p)

	l.statsMutex.Lock()
	l.stats.BytesWritten += int64(n)
	if err != nil {
		l.stats.Errors++
	}
	l.statsMutex.Unlock()

	if err != nil {
		return n, fmt.Errorf("write %s: %w", device, err)
	}
	return n, nil
}

// Inbound returns a copy of the last complete packet received, nil before
// the first one.
func (l *Link) Inbound() []byte {
	l.inboundMutex.Lock()
	defer l.inboundMutex.Unlock()
	if l.inbound == nil {
		return nil
	}
	return append([]byte(nil), l.inbound...)
}

// run receives until the port fails, then reopens it when the link can
func (l *Link) run() {
	defer close(l.done)

	for {
		l.portMutex.RLock()
		port, device := l.port, l.device
		l.portMutex.RUnlock()

		err := l.receive(port, device)
		if l.isClosed() {
			return
		}

		l.logger.Warn("Serial read failed", "device", device, "error", err)
		l.statsMutex.Lock()
		l.stats.Errors++
		l.statsMutex.Unlock()

		port.Close()
		l.portMutex.Lock()
		l.connected = false
		l.portMutex.Unlock()

		if l.open == nil || !l.reconnect() {
			return
		}
	}
}

// reconnect reopens the port on the backoff schedule. It returns false if
// the link was closed first.
func (l *Link) reconnect() bool {
	for attempt := 1; ; attempt++ {
		delay := l.backoff.Delay(attempt)
		l.logger.Info("Waiting before reconnection attempt", "attempt", attempt, "delay", delay)

		select {
		case <-l.closed:
			return false
		case <-time.After(delay):
		}

		device, port, err := l.open()
		if err != nil {
			l.logger.Debug("Reconnection attempt failed", "attempt", attempt, "error", err)
			continue
		}

		l.portMutex.Lock()
		if l.isClosed() {
			l.portMutex.Unlock()
			port.Close()
			return false
		}
		l.port = port
		l.device = device
		l.connected = true
		l.portMutex.Unlock()

		l.statsMutex.Lock()
		l.stats.Reconnects++
		l.statsMutex.Unlock()

		l.logger.Info("Serial link reconnected", "device", device, "attempts", attempt)
		return true
	}
}

func (l *Link) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// receive splits the byte stream into fixed-size packets until a read
// fails. Only the newest complete packet is kept; the decoder sees one
// command per tick.
func (l *Link) receive(port Port, device string) error {
	buf := make([]byte, 64)
	var pending []byte

	for {
		n, err := port.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%s: port closed: %w", device, err)
			}
			return err
		}

		if n == 0 {
			if len(pending) > 0 {
				l.logger.Debug("Dropping partial packet", "device", device, "bytes", len(pending))
				pending = pending[:0]
				l.statsMutex.Lock()
				l.stats.Resyncs++
				l.statsMutex.Unlock()
			}
			continue
		}

		pending = append(pending, buf[:n]...)
		packets := 0
		for len(pending) >= protocol.PacketSize {
			l.setInbound(pending[:protocol.PacketSize])
			pending = pending[protocol.PacketSize:]
			packets++
		}
		// Keep the remainder at the front of the buffer
		pending = append(pending[:0:0], pending...)

		l.statsMutex.Lock()
		l.stats.BytesRead += int64(n)
		l.stats.Packets += int64(packets)
		l.statsMutex.Unlock()
	}
}

func (l *Link) setInbound(packet []byte) {
	l.inboundMutex.Lock()
	l.inbound = append(l.inbound[:0], packet...)
	l.inboundMutex.Unlock()
}

// Close closes the port and waits for the receive goroutine to exit
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		l.portMutex.Lock()
		if l.connected {
			err = l.port.Close()
		}
		l.connected = false
		l.portMutex.Unlock()
		<-l.done
	})
	return err
}

// Device returns the device path, the latest one after a reconnect
func (l *Link) Device() string {
	l.portMutex.RLock()
	defer l.portMutex.RUnlock()
	return l.device
}

// Connected reports whether the port is open and receiving
func (l *Link) Connected() bool {
	l.portMutex.RLock()
	defer l.portMutex.RUnlock()
	return l.connected
}

// Stats returns current statistics
func (l *Link) Stats() LinkStats {
	l.statsMutex.RLock()
	stats := l.stats
	l.statsMutex.RUnlock()

	l.portMutex.RLock()
	stats.Device = l.device
	stats.Connected = l.connected
	l.portMutex.RUnlock()
	return stats
}
