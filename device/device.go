package device

import (
	"errors"
	"time"
)

var (
	// ErrNoDevice is returned when nothing is attached to a port, or the
	// device that was attached has been removed.
	ErrNoDevice = errors.New("no device on port")

	// ErrUnsupported is returned when a command is issued to a device that
	// lacks the capability.
	ErrUnsupported = errors.New("operation not supported by device")
)

// Port identifies a physical expansion connector.
type Port struct {
	Index int
	Label string
}

func (p Port) String() string {
	return p.Label
}

// Device is a generic handle to whatever is attached to a port. The
// category-specific capabilities below are discovered by type assertion.
// Any method returning an error signals a hardware access failure; the
// handle must not be used again afterwards.
type Device interface {
	TypeID() TypeID

	// Ping fails with ErrNoDevice once the device has been unplugged. It is
	// the only liveness signal for devices that have no readings.
	Ping() error

	Close() error
}

// HSV is a hue/saturation/value colour reading.
type HSV struct {
	H int // degrees
	S int // percent
	V int // percent
}

type TiltSensor interface {
	Tilt() (pitch, roll int, err error)
}

type InfraredSensor interface {
	Distance() (int, error)
	Reflection() (int, error)
}

type ColorDistanceSensor interface {
	Color() (string, error)
	HSV() (HSV, error)
	Reflection() (int, error)
	Ambient() (int, error)
	Distance() (int, error)
}

// ColorSensor readings take surface=true for reflected light and
// surface=false for ambient light.
type ColorSensor interface {
	SurfaceColor(surface bool) (string, error)
	SurfaceHSV(surface bool) (HSV, error)
	Reflection() (int, error)
	Ambient() (int, error)
}

type UltrasonicSensor interface {
	DistanceMM() (int, error)
}

type ForceSensor interface {
	Force() (float64, error)      // newtons
	Deflection() (float64, error) // millimetres
}

type EncodedMotor interface {
	Angle() (int, error) // accumulated degrees
}

// Rotatable devices accept a timed rotation. A negative speed reverses.
// RunTime starts the motion and returns without waiting for it to finish.
type Rotatable interface {
	RunTime(speed int, duration time.Duration) error
}

// Battery reports the hub battery state.
type Battery interface {
	Voltage() (int, error) // millivolts
	ChargerStatus() (int, error)
}

// IMU reports the hub inertial measurement unit state.
type IMU interface {
	Up() (string, error)
	Heading() (int, error)
	Tilt() (pitch, roll int, err error)
	Stationary() (bool, error)
}

// Hub is the driver-side view of the controller the multiplexer runs on.
type Hub interface {
	// Open returns a handle to whatever is attached to the port, or an
	// error wrapping ErrNoDevice when the port is empty.
	Open(port Port) (Device, error)

	Name() string
	Firmware() string

	// Battery and IMU return nil when the hub has no such unit.
	Battery() Battery
	IMU() IMU

	// Pressed lists the names of the hub buttons currently held down.
	Pressed() ([]string, error)

	Beep(frequency int, duration time.Duration) error
	ShowText(text string) error
	Shutdown() error
}
