package simhub

import (
	"fmt"
	"math"
	"time"

	"portview/device"
)

// handle is shared by every simulated device kind
type handle struct {
	hub  *Hub
	port device.Port
	slot *slot
}

func (d *handle) TypeID() device.TypeID { return d.slot.id }

func (d *handle) Close() error { return nil }

func (d *handle) Ping() error { return d.check() }

// check fails once the device has been unplugged or the hub powered off
func (d *handle) check() error {
	d.hub.mu.Lock()
	defer d.hub.mu.Unlock()
	if d.slot.removed {
		return fmt.Errorf("port %s: %w", d.port.Label, device.ErrNoDevice)
	}
	return nil
}

// t is the sample time, offset per port so ports differ
func (d *handle) t() float64 {
	return d.hub.elapsed() + float64(d.port.Index)*1.7
}

func newDevice(h *Hub, port device.Port, s *slot) device.Device {
	base := &handle{hub: h, port: port, slot: s}
	switch device.CategoryFor(s.id) {
	case device.CategoryTilt:
		return &tiltSensor{base}
	case device.CategoryInfrared:
		return &infraredSensor{base}
	case device.CategoryColorDistance:
		return &colorDistanceSensor{base}
	case device.CategoryColor:
		return &colorSensor{base}
	case device.CategoryUltrasonic:
		return &ultrasonicSensor{base}
	case device.CategoryForce:
		return &forceSensor{base}
	case device.CategoryEncodedMotor:
		return &encodedMotor{base}
	default:
		return base
	}
}

// wave is a sine of the given period (seconds) and amplitude
func wave(t, period, amplitude float64) int {
	return int(math.Round(amplitude * math.Sin(2*math.Pi*t/period)))
}

var palette = []string{"RED", "YELLOW", "GREEN", "BLUE", "WHITE", "NONE"}

var hues = map[string]int{"RED": 0, "YELLOW": 60, "GREEN": 120, "BLUE": 240, "WHITE": 0, "NONE": 0}

func colorAt(t float64) string {
	return palette[int(t/2)%len(palette)]
}

func hsvFor(color string, value int) device.HSV {
	switch color {
	case "WHITE":
		return device.HSV{H: 0, S: 0, V: 100}
	case "NONE":
		return device.HSV{H: 0, S: 0, V: 0}
	default:
		return device.HSV{H: hues[color], S: 85, V: value}
	}
}

type tiltSensor struct{ *handle }

func (s *tiltSensor) Tilt() (int, int, error) {
	if err := s.check(); err != nil {
		return 0, 0, err
	}
	t := s.t()
	return wave(t, 6, 30), wave(t, 9, 20), nil
}

type infraredSensor struct{ *handle }

func (s *infraredSensor) Distance() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return 50 + wave(s.t(), 5, 40), nil
}

func (s *infraredSensor) Reflection() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return 20 + wave(s.t(), 7, 15), nil
}

type colorDistanceSensor struct{ *handle }

func (s *colorDistanceSensor) Color() (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	return colorAt(s.t()), nil
}

func (s *colorDistanceSensor) HSV() (device.HSV, error) {
	if err := s.check(); err != nil {
		return device.HSV{}, err
	}
	return hsvFor(colorAt(s.t()), 60), nil
}

func (s *colorDistanceSensor) Reflection() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return 40 + wave(s.t(), 4, 20), nil
}

func (s *colorDistanceSensor) Ambient() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return 10 + wave(s.t(), 20, 5), nil
}

func (s *colorDistanceSensor) Distance() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return 50 + wave(s.t(), 5, 50), nil
}

type colorSensor struct{ *handle }

func (s *colorSensor) SurfaceColor(surface bool) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	if !surface {
		return "WHITE", nil
	}
	return colorAt(s.t()), nil
}

func (s *colorSensor) SurfaceHSV(surface bool) (device.HSV, error) {
	if err := s.check(); err != nil {
		return device.HSV{}, err
	}
	if !surface {
		return hsvFor("WHITE", 100), nil
	}
	return hsvFor(colorAt(s.t()), 70), nil
}

func (s *colorSensor) Reflection() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return 45 + wave(s.t(), 4, 25), nil
}

func (s *colorSensor) Ambient() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return 15 + wave(s.t(), 20, 5), nil
}

type ultrasonicSensor struct{ *handle }

func (s *ultrasonicSensor) DistanceMM() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return 1000 + wave(s.t(), 8, 800), nil
}

type forceSensor struct{ *handle }

func (s *forceSensor) Force() (float64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return math.Max(0, 5*math.Sin(2*math.Pi*s.t()/6)), nil
}

func (s *forceSensor) Deflection() (float64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return math.Max(0, 4*math.Sin(2*math.Pi*s.t()/6)), nil
}

// encodedMotor integrates timed rotations into its angle
type encodedMotor struct{ *handle }

func (m *encodedMotor) Angle() (int, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	return int(math.Round(m.settle(m.hub.now()))), nil
}

func (m *encodedMotor) RunTime(speed int, duration time.Duration) error {
	if err := m.check(); err != nil {
		return err
	}
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()

	now := m.hub.now()
	m.slot.angle = m.settle(now)
	m.slot.motion = &motion{speed: speed, from: now, until: now.Add(duration)}
	return nil
}

// settle returns the angle at now, folding a finished motion into the base
// angle. Callers hold the hub mutex.
func (m *encodedMotor) settle(now time.Time) float64 {
	mv := m.slot.motion
	if mv == nil {
		return m.slot.angle
	}
	end := now
	if end.After(mv.until) {
		end = mv.until
	}
	angle := m.slot.angle + float64(mv.speed)*end.Sub(mv.from).Seconds()
	if !now.Before(mv.until) {
		m.slot.angle = angle
		m.slot.motion = nil
	}
	return angle
}
