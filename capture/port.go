package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"portview/device"
	"portview/telemetry"
)

// PortState represents the state of a port poller
type PortState int

const (
	StateDetecting PortState = iota
	StateBound
)

func (s PortState) String() string {
	switch s {
	case StateDetecting:
		return "detecting"
	case StateBound:
		return "bound"
	default:
		return "unknown"
	}
}

// PortEventType distinguishes attach from detach events
type PortEventType int

const (
	PortAttached PortEventType = iota
	PortDetached
)

func (t PortEventType) String() string {
	switch t {
	case PortAttached:
		return "attached"
	case PortDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// PortEvent reports a binding change on a port
type PortEvent struct {
	Type     PortEventType
	Port     device.Port
	TypeID   device.TypeID
	Category device.Category
	Err      error // Failure that ended the binding, detach only
}

// PortEventCallback receives binding changes. It runs on the scheduler
// goroutine and must not block.
type PortEventCallback func(event PortEvent)

// PortStatus is a snapshot of a port poller for monitoring
type PortStatus struct {
	Port     string    `json:"port"`
	State    string    `json:"state"`
	TypeID   int       `json:"type_id"`
	Category string    `json:"category"`
	Mode     int       `json:"mode"`
	Binds    int64     `json:"binds"`
	Failures int64     `json:"failures"`
	BoundAt  time.Time `json:"bound_at,omitempty"`
}

// RotateSettings shape the timed rotation issued by the rotate command
type RotateSettings struct {
	Speed    int // deg/s
	Duration time.Duration
}

// PortPoller owns the binding to whatever device is attached to one port
// and produces that port's telemetry line every tick.
type PortPoller struct {
	port   device.Port
	hub    device.Hub
	modes  *ModeStore
	rotate RotateSettings
	logger *slog.Logger

	// Binding, touched only from Poll.
	dev       device.Device
	typeID    device.TypeID
	category  device.Category
	modesSent bool

	onEvent PortEventCallback

	stateMutex    sync.RWMutex
	state         PortState
	boundType     device.TypeID
	boundCategory device.Category
	binds         int64
	failures      int64
	boundAt       time.Time
}

// NewPortPoller creates a poller for one port, starting in StateDetecting
func NewPortPoller(port device.Port, hub device.Hub, modes *ModeStore, rotate RotateSettings, logger *slog.Logger) *PortPoller {
	return &PortPoller{
		port:   port,
		hub:    hub,
		modes:  modes,
		rotate: rotate,
		logger: logger,
		state:  StateDetecting,
	}
}

// SetEventCallback sets the callback for attach/detach events
func (p *PortPoller) SetEventCallback(cb PortEventCallback) {
	p.onEvent = cb
}

// Name returns the port label
func (p *PortPoller) Name() string {
	return p.port.Label
}

// Poll runs one tick: bind if needed, run pending commands, and format the
// current reading. A port always produces a line, the placeholder when
// nothing is bound.
func (p *PortPoller) Poll() (string, bool) {
	if p.dev == nil && !p.bind() {
		if n := p.modes.Drop(p.port.Index); n > 0 {
			p.logger.Debug("Dropped commands for empty port", "port", p.port.Label, "count", n)
		}
		return telemetry.Disconnected(p.port.Label), true
	}

	line, err := p.read()
	if err != nil {
		p.release(err)
		return telemetry.Disconnected(p.port.Label), true
	}
	return line, true
}

// bind tries to open the device on the port
func (p *PortPoller) bind() bool {
	dev, err := p.hub.Open(p.port)
	if err != nil {
		return false
	}

	p.dev = dev
	p.typeID = dev.TypeID()
	p.category = device.CategoryFor(p.typeID)
	p.modesSent = false

	p.stateMutex.Lock()
	p.state = StateBound
	p.boundType = p.typeID
	p.boundCategory = p.category
	p.binds++
	p.boundAt = time.Now()
	p.stateMutex.Unlock()

	p.logger.Info("Device attached",
		"port", p.port.Label,
		"type_id", int(p.typeID),
		"category", p.category.String())

	p.emit(PortEvent{Type: PortAttached, Port: p.port, TypeID: p.typeID, Category: p.category})
	return true
}

// read runs queued commands and formats the bound device's line
func (p *PortPoller) read() (string, error) {
	// Header-only devices make no other hardware call.
	if err := p.dev.Ping(); err != nil {
		return "", fmt.Errorf("ping: %w", err)
	}

	for {
		cmd, ok := p.modes.Take(p.port.Index)
		if !ok {
			break
		}
		if err := p.execute(cmd); err != nil {
			return "", fmt.Errorf("%s command: %w", cmd.Kind, err)
		}
	}

	line, err := telemetry.Format(p.port.Label, p.typeID, p.category, p.dev, p.modes.Mode(p.port.Index))
	if err != nil {
		return "", err
	}

	if !p.modesSent {
		p.modesSent = true
		if names := p.category.ModeNames(); names != nil {
			line = telemetry.ModePreamble(p.port.Label, p.typeID, names) + line
		}
	}
	return line, nil
}

func (p *PortPoller) execute(cmd PendingCommand) error {
	switch cmd.Kind {
	case CommandRotate:
		r, ok := p.dev.(device.Rotatable)
		if !ok {
			return fmt.Errorf("%w: type %d cannot rotate", device.ErrUnsupported, p.typeID)
		}
		speed := p.rotate.Speed
		if cmd.Reverse {
			speed = -speed
		}
		p.logger.Debug("Rotating", "port", p.port.Label, "speed", speed, "duration", p.rotate.Duration)
		return r.RunTime(speed, p.rotate.Duration)
	default:
		return fmt.Errorf("%w: command %s", device.ErrUnsupported, cmd.Kind)
	}
}

// release drops the binding after a hardware failure. The port goes back to
// detecting and is reopened on the next tick.
func (p *PortPoller) release(cause error) {
	if err := p.dev.Close(); err != nil {
		p.logger.Debug("Close failed", "port", p.port.Label, "error", err)
	}
	typeID, category := p.typeID, p.category
	p.dev = nil
	p.modesSent = false

	p.stateMutex.Lock()
	p.state = StateDetecting
	p.failures++
	p.stateMutex.Unlock()

	if errors.Is(cause, device.ErrUnsupported) {
		p.logger.Warn("Command not supported by device, releasing port",
			"port", p.port.Label, "type_id", int(typeID), "error", cause)
	} else {
		p.logger.Info("Device detached", "port", p.port.Label, "type_id", int(typeID), "error", cause)
	}

	p.emit(PortEvent{Type: PortDetached, Port: p.port, TypeID: typeID, Category: category, Err: cause})
}

func (p *PortPoller) emit(event PortEvent) {
	if p.onEvent != nil {
		p.onEvent(event)
	}
}

// State returns the current state
func (p *PortPoller) State() PortState {
	p.stateMutex.RLock()
	defer p.stateMutex.RUnlock()
	return p.state
}

// Status returns a monitoring snapshot
func (p *PortPoller) Status() PortStatus {
	p.stateMutex.RLock()
	defer p.stateMutex.RUnlock()

	status := PortStatus{
		Port:     p.port.Label,
		State:    p.state.String(),
		Mode:     p.modes.Mode(p.port.Index),
		Binds:    p.binds,
		Failures: p.failures,
	}
	if p.state == StateBound {
		status.TypeID = int(p.boundType)
		status.Category = p.boundCategory.String()
		status.BoundAt = p.boundAt
	}
	return status
}
