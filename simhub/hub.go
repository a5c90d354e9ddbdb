// Package simhub is an in-process hub whose ports are populated from
// configuration. Devices produce synthetic readings that change with time,
// and can be plugged or unplugged while the scheduler runs.
package simhub

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"portview/config"
	"portview/device"
)

// Battery model
const (
	startMillivolts = 8100
	drainPerMinute  = 5 // mV
	floorMillivolts = 6200
)

// Hub implements device.Hub
type Hub struct {
	name     string
	firmware string
	imu      bool
	start    time.Time
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	attached map[string]*slot
	pressed  map[string]bool
	display  string
	shutdown bool
}

// slot is what is plugged into one port. Each plug creates a new slot, so
// handles opened on an earlier plug see the removal.
type slot struct {
	id      device.TypeID
	removed bool
	angle   float64 // encoded motors, accumulated degrees
	motion  *motion
}

type motion struct {
	speed int
	from  time.Time
	until time.Time
}

// New builds a simulated hub from the hub configuration
func New(cfg *config.HubConfig, logger *slog.Logger) *Hub {
	return newHub(cfg, time.Now, logger)
}

func newHub(cfg *config.HubConfig, now func() time.Time, logger *slog.Logger) *Hub {
	h := &Hub{
		name:     cfg.Name,
		firmware: cfg.Firmware,
		imu:      cfg.IMU,
		start:    now(),
		now:      now,
		logger:   logger,
		attached: make(map[string]*slot),
		pressed:  make(map[string]bool),
	}

	labels := make([]string, 0, len(cfg.Devices))
	for label := range cfg.Devices {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		h.Attach(label, device.TypeID(cfg.Devices[label]))
	}
	return h
}

// Attach plugs a device into the port with the given label, replacing any
// device already there.
func (h *Hub) Attach(label string, id device.TypeID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.attached[label]; ok {
		old.removed = true
	}
	h.attached[label] = &slot{id: id}
	h.logger.Debug("Simulated device plugged", "port", label, "type_id", int(id),
		"category", device.CategoryFor(id).String())
}

// Detach unplugs whatever is on the port
func (h *Hub) Detach(label string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.attached[label]; ok {
		old.removed = true
		delete(h.attached, label)
		h.logger.Debug("Simulated device unplugged", "port", label)
	}
}

// Press marks hub buttons as held down, or released when down is false
func (h *Hub) Press(down bool, names ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range names {
		if down {
			h.pressed[n] = true
		} else {
			delete(h.pressed, n)
		}
	}
}

// Open returns a handle to the device on the port
func (h *Hub) Open(port device.Port) (device.Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		return nil, fmt.Errorf("port %s: hub is shut down: %w", port.Label, device.ErrNoDevice)
	}
	s, ok := h.attached[port.Label]
	if !ok {
		return nil, fmt.Errorf("port %s: %w", port.Label, device.ErrNoDevice)
	}
	return newDevice(h, port, s), nil
}

func (h *Hub) Name() string     { return h.name }
func (h *Hub) Firmware() string { return h.firmware }

func (h *Hub) Battery() device.Battery {
	return simBattery{h}
}

func (h *Hub) IMU() device.IMU {
	if !h.imu {
		return nil
	}
	return simIMU{h}
}

func (h *Hub) Pressed() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.pressed))
	for n := range h.pressed {
		names = append(names, n)
	}
	return names, nil
}

func (h *Hub) Beep(frequency int, duration time.Duration) error {
	h.logger.Info("Beep", "frequency", frequency, "duration", duration)
	return nil
}

func (h *Hub) ShowText(text string) error {
	h.mu.Lock()
	h.display = text
	h.mu.Unlock()
	h.logger.Info("Display", "text", text)
	return nil
}

// Display returns the last text shown
func (h *Hub) Display() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.display
}

// Shutdown powers the hub off. Every open handle fails from then on.
func (h *Hub) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdown = true
	for _, s := range h.attached {
		s.removed = true
	}
	h.logger.Info("Hub powered off")
	return nil
}

// IsShutdown reports whether Shutdown was called
func (h *Hub) IsShutdown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shutdown
}

// elapsed is the time since the hub started, in seconds
func (h *Hub) elapsed() float64 {
	return h.now().Sub(h.start).Seconds()
}

type simBattery struct{ h *Hub }

func (b simBattery) Voltage() (int, error) {
	mv := startMillivolts - int(b.h.elapsed()/60*drainPerMinute)
	if mv < floorMillivolts {
		mv = floorMillivolts
	}
	return mv, nil
}

func (b simBattery) ChargerStatus() (int, error) { return 0, nil }

type simIMU struct{ h *Hub }

func (i simIMU) Up() (string, error) { return "TOP", nil }

func (i simIMU) Heading() (int, error) {
	return int(i.h.elapsed()*3) % 360, nil
}

func (i simIMU) Tilt() (int, int, error) {
	t := i.h.elapsed()
	return wave(t, 8, 5), wave(t, 11, 3), nil
}

func (i simIMU) Stationary() (bool, error) { return true, nil }
