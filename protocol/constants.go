// Package protocol implements both directions of the host link: the outbound
// CRLF line stream cut into transport-sized chunks, and the fixed-layout
// inbound command packets.
package protocol

const (
	// ChunkSize is the largest single write the transport accepts.
	ChunkSize = 19

	// LineTerminator ends every outbound line.
	LineTerminator = "\r\n"
)

// Inbound packet layout: Version(1) | Sequence(1) | Type(1) | Payload(3)
const (
	Version     = 1
	PacketSize  = 6
	PayloadSize = 3

	offsetVersion  = 0
	offsetSequence = 1
	offsetType     = 2
	offsetPayload  = 3
)

// Message types
const (
	TypeAction byte = 'a'
	TypePort   byte = 'p'
)

// Hub actions, payload[0] of an action packet
const (
	ActionShutdown byte = 's'
	ActionHello    byte = 'h'
)

// Port operations, payload[1] of a port packet
const (
	PortSetMode byte = 'm'
	PortRotate  byte = 'r'
)

// DirectionReverse in payload[2] of a rotate packet reverses the motion.
// Any negative signed byte reverses as well.
const DirectionReverse byte = '-'
