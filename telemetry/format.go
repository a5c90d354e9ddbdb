// Package telemetry renders device readings as the tab-separated text lines
// streamed to the host. Every port line starts with "<port>\t<type id>" and
// continues with "key=value" fields separated by tabs.
package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"portview/device"
)

// Placeholder is the data shown for a port with nothing attached.
const Placeholder = "--"

// line accumulates tab-separated fields.
type line struct {
	b strings.Builder
}

func newLine(label string) *line {
	l := &line{}
	l.b.WriteString(label)
	return l
}

func (l *line) raw(s string) *line {
	l.b.WriteByte('\t')
	l.b.WriteString(s)
	return l
}

func (l *line) field(key string, value any, unit string) *line {
	l.b.WriteByte('\t')
	l.b.WriteString(key)
	l.b.WriteByte('=')
	fmt.Fprint(&l.b, value)
	l.b.WriteString(unit)
	return l
}

func (l *line) String() string {
	return l.b.String()
}

// Header is the port/type prefix shared by every port line.
func Header(port string, id device.TypeID) string {
	return port + "\t" + id.String()
}

// Disconnected is the line emitted for a port in the detecting state.
func Disconnected(port string) string {
	return port + "\t" + Placeholder
}

// ModePreamble announces the selectable modes of a newly bound device. It is
// CRLF-terminated so it can precede the first data line in the same slot.
func ModePreamble(port string, id device.TypeID, names []string) string {
	return Header(port, id) + "\tmodes\t" + strings.Join(names, "\t") + "\r\n"
}

// Format reads the bound device and renders its line for the given mode. An
// error means the device could not be read and the binding must be dropped.
func Format(port string, id device.TypeID, category device.Category, dev device.Device, mode int) (string, error) {
	l := newLine(Header(port, id))

	var err error
	switch category {
	case device.CategoryTilt:
		err = formatTilt(l, dev)
	case device.CategoryInfrared:
		err = formatInfrared(l, dev)
	case device.CategoryColorDistance:
		err = formatColorDistance(l, dev, mode)
	case device.CategoryColor:
		err = formatColor(l, dev, mode)
	case device.CategoryUltrasonic:
		err = formatUltrasonic(l, dev)
	case device.CategoryForce:
		err = formatForce(l, dev)
	case device.CategoryEncodedMotor:
		err = formatEncodedMotor(l, dev)
	default:
		// Unencoded motors and unknown devices only signal presence.
	}
	if err != nil {
		return "", err
	}

	return l.String(), nil
}

func unsupported(dev device.Device, want string) error {
	return fmt.Errorf("%w: type %d is not a %s", device.ErrUnsupported, dev.TypeID(), want)
}

func formatTilt(l *line, dev device.Device) error {
	s, ok := dev.(device.TiltSensor)
	if !ok {
		return unsupported(dev, "tilt sensor")
	}
	pitch, roll, err := s.Tilt()
	if err != nil {
		return err
	}
	l.field("p", pitch, "°").field("r", roll, "°")
	return nil
}

func formatInfrared(l *line, dev device.Device) error {
	s, ok := dev.(device.InfraredSensor)
	if !ok {
		return unsupported(dev, "infrared sensor")
	}
	dist, err := s.Distance()
	if err != nil {
		return err
	}
	ref, err := s.Reflection()
	if err != nil {
		return err
	}
	l.field("d", dist, "%").field("i", ref, "%")
	return nil
}

func formatColorDistance(l *line, dev device.Device, mode int) error {
	s, ok := dev.(device.ColorDistanceSensor)
	if !ok {
		return unsupported(dev, "color and distance sensor")
	}

	switch mode {
	case 0:
		color, err := s.Color()
		if err != nil {
			return err
		}
		hsv, err := s.HSV()
		if err != nil {
			return err
		}
		intensity, err := s.Reflection()
		if err != nil {
			return err
		}
		l.field("c", color, "")
		hsvFields(l, hsv)
		l.field("i", intensity, "%")
	case 1:
		ambient, err := s.Ambient()
		if err != nil {
			return err
		}
		l.field("i", ambient, "%")
	default:
		dist, err := s.Distance()
		if err != nil {
			return err
		}
		l.field("d", dist, "%")
	}
	return nil
}

func formatColor(l *line, dev device.Device, mode int) error {
	s, ok := dev.(device.ColorSensor)
	if !ok {
		return unsupported(dev, "color sensor")
	}

	surface := mode == 0
	color, err := s.SurfaceColor(surface)
	if err != nil {
		return err
	}
	hsv, err := s.SurfaceHSV(surface)
	if err != nil {
		return err
	}
	var intensity int
	if surface {
		intensity, err = s.Reflection()
	} else {
		intensity, err = s.Ambient()
	}
	if err != nil {
		return err
	}

	l.field("c", color, "")
	hsvFields(l, hsv)
	l.field("i", intensity, "%")
	return nil
}

func hsvFields(l *line, hsv device.HSV) {
	l.field("h", hsv.H, "°").field("s", hsv.S, "%").field("v", hsv.V, "%")
}

func formatUltrasonic(l *line, dev device.Device) error {
	s, ok := dev.(device.UltrasonicSensor)
	if !ok {
		return unsupported(dev, "ultrasonic sensor")
	}
	dist, err := s.DistanceMM()
	if err != nil {
		return err
	}
	l.field("d", dist, "mm")
	return nil
}

func formatForce(l *line, dev device.Device) error {
	s, ok := dev.(device.ForceSensor)
	if !ok {
		return unsupported(dev, "force sensor")
	}
	force, err := s.Force()
	if err != nil {
		return err
	}
	deflection, err := s.Deflection()
	if err != nil {
		return err
	}
	l.field("f", strconv.FormatFloat(force, 'f', 2, 64), "N").
		field("d", strconv.FormatFloat(deflection, 'f', 2, 64), "mm")
	return nil
}

func formatEncodedMotor(l *line, dev device.Device) error {
	m, ok := dev.(device.EncodedMotor)
	if !ok {
		return unsupported(dev, "motor with rotation sensor")
	}
	angle, err := m.Angle()
	if err != nil {
		return err
	}

	rotations, wrapped := Wrap(angle)
	l.field("a", angle, "°")
	if angle != wrapped {
		l.field("r", rotations, "R").field("ra", wrapped, "°")
	}
	return nil
}

// Wrap splits an accumulated motor angle into whole rotations and a
// remainder in (-180, 180], so that rotations*360 + wrapped == angle.
func Wrap(angle int) (rotations, wrapped int) {
	wrapped = angle % 360
	if wrapped < 0 {
		wrapped += 360
	}
	if wrapped > 180 {
		wrapped -= 360
	}
	rotations = int(math.Round(float64(angle-wrapped) / 360))
	return rotations, wrapped
}
