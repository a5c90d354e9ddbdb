package protocol

import "fmt"

// CommandPacket is one inbound instruction from the host.
type CommandPacket struct {
	Version  byte
	Sequence byte
	Type     byte
	Payload  [PayloadSize]byte
}

// ParsePacket decodes the fixed inbound layout. Payload bytes missing from a
// short buffer read as zero.
func ParsePacket(buf []byte) (CommandPacket, error) {
	if len(buf) < offsetPayload {
		return CommandPacket{}, ErrShortPacket
	}

	p := CommandPacket{
		Version:  buf[offsetVersion],
		Sequence: buf[offsetSequence],
		Type:     buf[offsetType],
	}
	copy(p.Payload[:], buf[offsetPayload:])

	if p.Version != Version {
		return p, fmt.Errorf("%w: %d", ErrBadVersion, p.Version)
	}
	return p, nil
}

// Encode renders the packet in wire layout.
func (p CommandPacket) Encode() []byte {
	buf := make([]byte, PacketSize)
	buf[offsetVersion] = p.Version
	buf[offsetSequence] = p.Sequence
	buf[offsetType] = p.Type
	copy(buf[offsetPayload:], p.Payload[:])
	return buf
}

// Dispatcher carries out decoded commands.
type Dispatcher interface {
	// Shutdown powers the hub off; no tick follows it.
	Shutdown()
	// Hello shows a short message on the hub display.
	Hello()
	// SetMode selects the telemetry mode of the device on a port.
	SetMode(port int, mode int)
	// Rotate asks the device on a port for a timed rotation.
	Rotate(port int, reverse bool)
}

// Decoder turns the inbound buffer into at most one dispatched command per
// sequence value.
type Decoder struct {
	lastSequence byte
}

// NewDecoder starts with a zero watermark, matching a cleared inbound buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// LastSequence is the sequence counter of the last accepted packet.
func (d *Decoder) LastSequence() byte {
	return d.lastSequence
}

// Next returns the packet in buf if it is new. Packets with the wrong version
// and repeats of the last accepted sequence counter are reported as absent.
func (d *Decoder) Next(buf []byte) (CommandPacket, bool) {
	p, err := ParsePacket(buf)
	if err != nil {
		return CommandPacket{}, false
	}
	if p.Sequence == d.lastSequence {
		return CommandPacket{}, false
	}
	d.lastSequence = p.Sequence
	return p, true
}

// Dispatch carries out an accepted packet. Unknown actions and operations are
// no-ops; only an unknown message type is reported.
func Dispatch(p CommandPacket, to Dispatcher) error {
	switch p.Type {
	case TypeAction:
		switch p.Payload[0] {
		case ActionShutdown:
			to.Shutdown()
		case ActionHello:
			to.Hello()
		}
		return nil

	case TypePort:
		port := int(p.Payload[0])
		switch p.Payload[1] {
		case PortSetMode:
			to.SetMode(port, int(p.Payload[2]))
		case PortRotate:
			to.Rotate(port, isReverse(p.Payload[2]))
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, p.Type)
	}
}

func isReverse(direction byte) bool {
	return direction == DirectionReverse || int8(direction) < 0
}
