package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"portview/config"
	"portview/device"
	"portview/protocol"
)

// ErrHalted is returned by Run after the host requested a hub shutdown.
var ErrHalted = errors.New("hub shut down")

// Shutdown notice played before powering off
const (
	shutdownBeepHz   = 500
	shutdownBeepTime = 100 * time.Millisecond
	helloDisplayText = "Hi!"
)

// Link is the host channel: chunked writes out, a fixed inbound buffer in.
type Link interface {
	io.Writer
	// Inbound returns a copy of the most recent inbound buffer.
	Inbound() []byte
}

// TickResult tells the run loop whether to keep ticking.
type TickResult int

const (
	Continue TickResult = iota
	Halt
)

// TickReport summarises one completed tick for observers
type TickReport struct {
	Tick     uint64
	Lines    []string
	Bytes    int
	Chunks   int
	WriteErr error
	Command  *protocol.CommandPacket
	Duration time.Duration
}

// LinkSource names the link in error reports
const LinkSource = "link"

// ErrorCallback receives task panics, with the task name as source, and the
// first write failure of an outage, with LinkSource. It runs on the
// scheduler goroutine and must not block.
type ErrorCallback func(source string, err error)

// Observer is told about every completed tick. It runs on the scheduler
// goroutine and must not block.
type Observer interface {
	TickDone(report TickReport)
}

// SchedulerStats tracks totals since start
type SchedulerStats struct {
	Ticks       uint64    `json:"ticks"`
	Lines       uint64    `json:"lines"`
	Bytes       uint64    `json:"bytes"`
	Chunks      uint64    `json:"chunks"`
	WriteErrors uint64    `json:"write_errors"`
	Commands    uint64    `json:"commands"`
	Panics      uint64    `json:"panics"`
	Halted      bool      `json:"halted"`
	LastTick    time.Time `json:"last_tick"`
	StartTime   time.Time `json:"start_time"`
}

// Scheduler is the tick loop: it polls every task in a fixed order, frames
// the lines onto the link, then decodes at most one inbound command.
type Scheduler struct {
	hub     device.Hub
	link    Link
	period  time.Duration
	tasks   []Task
	ports   []*PortPoller
	modes   *ModeStore
	decoder *protocol.Decoder
	logger  *slog.Logger

	observers []Observer
	onError   ErrorCallback
	halted    bool
	tick      uint64
	linkDown  bool

	stats      SchedulerStats
	statsMutex sync.RWMutex
}

// NewScheduler builds the task list from the hub configuration: one poller
// per port in declared order, then hub identity, battery, IMU and buttons.
func NewScheduler(cfg *config.HubConfig, hub device.Hub, link Link, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		hub:     hub,
		link:    link,
		period:  cfg.TickPeriod(),
		modes:   NewModeStore(len(cfg.Ports)),
		decoder: protocol.NewDecoder(),
		logger:  logger,
	}

	rotate := RotateSettings{Speed: cfg.RotateSpeed, Duration: cfg.RotateDuration()}
	for i, label := range cfg.Ports {
		port := device.Port{Index: i, Label: label}
		poller := NewPortPoller(port, hub, s.modes, rotate, logger.With("port", label))
		s.ports = append(s.ports, poller)
		s.tasks = append(s.tasks, poller)
	}

	s.tasks = append(s.tasks, NewHubPoller(hub))
	if battery := hub.Battery(); battery != nil {
		s.tasks = append(s.tasks, NewBatteryPoller(battery, cfg.BatteryEveryTicks, logger))
	}
	if imu := hub.IMU(); cfg.IMU && imu != nil {
		s.tasks = append(s.tasks, NewIMUPoller(imu, logger))
	}
	if cfg.Buttons {
		s.tasks = append(s.tasks, NewButtonsPoller(hub, logger))
	}

	return s
}

// AddObserver registers an observer for completed ticks
func (s *Scheduler) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// SetPortEventCallback wires attach/detach events of every port
func (s *Scheduler) SetPortEventCallback(cb PortEventCallback) {
	for _, p := range s.ports {
		p.SetEventCallback(cb)
	}
}

// SetErrorCallback wires task and link failure reports
func (s *Scheduler) SetErrorCallback(cb ErrorCallback) {
	s.onError = cb
}

func (s *Scheduler) reportError(source string, err error) {
	if s.onError != nil {
		s.onError(source, err)
	}
}

// Modes exposes the per-port mode store
func (s *Scheduler) Modes() *ModeStore {
	return s.modes
}

// Run ticks until the context is cancelled or a shutdown command halts the
// hub. It returns ErrHalted in the latter case.
func (s *Scheduler) Run(ctx context.Context) error {
	s.statsMutex.Lock()
	s.stats.StartTime = time.Now()
	s.statsMutex.Unlock()

	s.logger.Info("Starting scheduler", "tasks", len(s.tasks), "period", s.period)

	timer := time.NewTimer(s.period)
	defer timer.Stop()

	for {
		if s.Tick() == Halt {
			s.logger.Info("Scheduler halted by shutdown command")
			return ErrHalted
		}

		timer.Reset(s.period)
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped", "ticks", s.tick)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tick runs one complete tick. Once halted, it does nothing and returns Halt.
func (s *Scheduler) Tick() TickResult {
	if s.halted {
		return Halt
	}
	start := time.Now()

	lines := make([]string, 0, len(s.tasks))
	for _, task := range s.tasks {
		if line, ok := s.poll(task); ok && line != "" {
			lines = append(lines, line)
		}
	}

	buf := protocol.Frame(lines)
	chunks, writeErr := protocol.WriteChunks(s.link, buf)
	switch {
	case writeErr != nil && !s.linkDown:
		s.linkDown = true
		s.logger.Warn("Link write failed", "error", writeErr)
		s.reportError(LinkSource, writeErr)
	case writeErr != nil:
		s.logger.Debug("Link write failed", "error", writeErr)
	case s.linkDown:
		s.linkDown = false
		s.logger.Info("Link writes recovered")
	}

	var command *protocol.CommandPacket
	if pkt, ok := s.decoder.Next(s.link.Inbound()); ok {
		command = &pkt
		s.logger.Debug("Command received",
			"sequence", pkt.Sequence,
			"type", string(rune(pkt.Type)),
			"payload", fmt.Sprintf("%x", pkt.Payload))
		if err := protocol.Dispatch(pkt, dispatcher{s}); err != nil {
			s.logger.Debug("Command ignored", "error", err)
		}
	}

	report := TickReport{
		Tick:     s.tick,
		Lines:    lines,
		Bytes:    len(buf),
		Chunks:   chunks,
		WriteErr: writeErr,
		Command:  command,
		Duration: time.Since(start),
	}
	s.tick++
	s.record(report)
	for _, o := range s.observers {
		o.TickDone(report)
	}

	if s.halted {
		return Halt
	}
	return Continue
}

// poll runs one task, containing any panic to that task
func (s *Scheduler) poll(task Task) (line string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Task panicked", "task", task.Name(), "panic", r)
			s.statsMutex.Lock()
			s.stats.Panics++
			s.statsMutex.Unlock()
			s.reportError(task.Name(), fmt.Errorf("panic: %v", r))
			line, ok = "", false
		}
	}()
	return task.Poll()
}

func (s *Scheduler) record(r TickReport) {
	s.statsMutex.Lock()
	defer s.statsMutex.Unlock()

	s.stats.Ticks++
	s.stats.Lines += uint64(len(r.Lines))
	s.stats.Bytes += uint64(r.Bytes)
	s.stats.Chunks += uint64(r.Chunks)
	if r.WriteErr != nil {
		s.stats.WriteErrors++
	}
	if r.Command != nil {
		s.stats.Commands++
	}
	s.stats.Halted = s.halted
	s.stats.LastTick = time.Now()
}

// Stats returns current statistics
func (s *Scheduler) Stats() SchedulerStats {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()
	return s.stats
}

// PortStatuses returns a snapshot of every port in declared order
func (s *Scheduler) PortStatuses() []PortStatus {
	statuses := make([]PortStatus, 0, len(s.ports))
	for _, p := range s.ports {
		statuses = append(statuses, p.Status())
	}
	return statuses
}

// dispatcher carries decoded commands into the scheduler's state.
type dispatcher struct {
	s *Scheduler
}

func (d dispatcher) Shutdown() {
	s := d.s
	if err := s.hub.Beep(shutdownBeepHz, shutdownBeepTime); err != nil {
		s.logger.Debug("Shutdown beep failed", "error", err)
	}
	if err := s.hub.Shutdown(); err != nil {
		s.logger.Error("Hub shutdown failed", "error", err)
	}
	s.halted = true
}

func (d dispatcher) Hello() {
	if err := d.s.hub.ShowText(helloDisplayText); err != nil {
		d.s.logger.Debug("Display failed", "error", err)
	}
}

func (d dispatcher) SetMode(port, mode int) {
	if !d.s.modes.SetMode(port, mode) {
		d.s.logger.Debug("Mode for unknown port ignored", "port_index", port)
		return
	}
	d.s.logger.Info("Mode changed", "port_index", port, "mode", mode)
}

func (d dispatcher) Rotate(port int, reverse bool) {
	if !d.s.modes.Enqueue(port, PendingCommand{Kind: CommandRotate, Reverse: reverse}) {
		d.s.logger.Debug("Rotate for unknown port ignored", "port_index", port)
	}
}
