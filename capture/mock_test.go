package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"portview/device"
)

var errRemoved = errors.New("device removed")

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockSensor is an ultrasonic or color/distance sensor
type mockSensor struct {
	id       device.TypeID
	distance int
	err      error
	closed   int
}

func (m *mockSensor) TypeID() device.TypeID { return m.id }
func (m *mockSensor) Close() error          { m.closed++; return nil }
func (m *mockSensor) Ping() error           { return m.err }

func (m *mockSensor) DistanceMM() (int, error) { return m.distance, m.err }
func (m *mockSensor) Color() (string, error)   { return "BLUE", m.err }
func (m *mockSensor) HSV() (device.HSV, error) { return device.HSV{H: 220, S: 90, V: 50}, m.err }
func (m *mockSensor) Reflection() (int, error) { return 30, m.err }
func (m *mockSensor) Ambient() (int, error)    { return 12, m.err }
func (m *mockSensor) Distance() (int, error)   { return m.distance, m.err }

// mockMotor is a motor with a rotation sensor
type mockMotor struct {
	id     device.TypeID
	angle  int
	err    error
	runs   []int
	closed int
}

func (m *mockMotor) TypeID() device.TypeID { return m.id }
func (m *mockMotor) Close() error          { m.closed++; return nil }
func (m *mockMotor) Angle() (int, error)   { return m.angle, m.err }
func (m *mockMotor) Ping() error           { return m.err }

func (m *mockMotor) RunTime(speed int, duration time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, speed)
	return nil
}

// mockBare is a device with no readings, like an unencoded motor
type mockBare struct {
	id     device.TypeID
	err    error
	pings  int
	closed int
}

func (m *mockBare) TypeID() device.TypeID { return m.id }
func (m *mockBare) Close() error          { m.closed++; return nil }
func (m *mockBare) Ping() error           { m.pings++; return m.err }

type mockBattery struct {
	mv     int
	status int
	err    error
}

func (b *mockBattery) Voltage() (int, error)       { return b.mv, b.err }
func (b *mockBattery) ChargerStatus() (int, error) { return b.status, b.err }

type mockIMU struct {
	err error
}

func (i *mockIMU) Up() (string, error)       { return "TOP", i.err }
func (i *mockIMU) Heading() (int, error)     { return 45, i.err }
func (i *mockIMU) Tilt() (int, int, error)   { return 1, -2, i.err }
func (i *mockIMU) Stationary() (bool, error) { return true, i.err }

// mockHub implements device.Hub for testing
type mockHub struct {
	devices   map[int]device.Device
	opens     map[int]int
	battery   *mockBattery
	imu       *mockIMU
	pressed   []string
	beeps     int
	texts     []string
	shutdowns int
}

func newMockHub() *mockHub {
	return &mockHub{
		devices: make(map[int]device.Device),
		opens:   make(map[int]int),
		battery: &mockBattery{mv: 7150, status: 0},
	}
}

func (h *mockHub) Open(port device.Port) (device.Device, error) {
	h.opens[port.Index]++
	dev, ok := h.devices[port.Index]
	if !ok {
		return nil, fmt.Errorf("port %s: %w", port.Label, device.ErrNoDevice)
	}
	return dev, nil
}

func (h *mockHub) Name() string     { return "Test Hub" }
func (h *mockHub) Firmware() string { return "3.3.0" }

func (h *mockHub) Battery() device.Battery {
	if h.battery == nil {
		return nil
	}
	return h.battery
}

func (h *mockHub) IMU() device.IMU {
	if h.imu == nil {
		return nil
	}
	return h.imu
}

func (h *mockHub) Pressed() ([]string, error) { return h.pressed, nil }

func (h *mockHub) Beep(frequency int, duration time.Duration) error {
	h.beeps++
	return nil
}

func (h *mockHub) ShowText(text string) error {
	h.texts = append(h.texts, text)
	return nil
}

func (h *mockHub) Shutdown() error {
	h.shutdowns++
	return nil
}

// unplug removes the device from the port and makes the stale handle fail
func (h *mockHub) unplug(index int) {
	switch d := h.devices[index].(type) {
	case *mockSensor:
		d.err = errRemoved
	case *mockMotor:
		d.err = errRemoved
	case *mockBare:
		d.err = errRemoved
	}
	delete(h.devices, index)
}

// mockLink implements Link for testing
type mockLink struct {
	mu       sync.Mutex
	writes   [][]byte
	inbound  []byte
	writeErr error
}

func (l *mockLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return 0, l.writeErr
	}
	l.writes = append(l.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (l *mockLink) Inbound() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.inbound...)
}

func (l *mockLink) setInbound(b []byte) {
	l.mu.Lock()
	l.inbound = b
	l.mu.Unlock()
}

// output returns everything written so far and clears the record
func (l *mockLink) output() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []byte
	for _, w := range l.writes {
		out = append(out, w...)
	}
	l.writes = nil
	return string(out)
}
