package protocol

import "errors"

var (
	ErrShortPacket = errors.New("inbound buffer shorter than command header")
	ErrBadVersion  = errors.New("unsupported protocol version")
	ErrUnknownType = errors.New("unknown message type")
)
