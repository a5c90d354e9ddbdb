// Package ble carries the host link over a Bluetooth Low Energy GATT
// peripheral. Outbound chunks go out as notifications on the UART TX
// characteristic; the host writes command packets to the RX characteristic.
package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"

	"portview/protocol"
)

// ErrTooLarge is returned when a write does not fit in one notification
var ErrTooLarge = errors.New("chunk exceeds notification size")

// notifier sends one notification per call
type notifier interface {
	Write(p []byte) (int, error)
}

// LinkStats counts link traffic
type LinkStats struct {
	Notifications int64 `json:"notifications"`
	BytesWritten  int64 `json:"bytes_written"`
	Packets       int64 `json:"packets"`
	Errors        int64 `json:"errors"`
}

// Link is a GATT peripheral exposing the Nordic UART service
type Link struct {
	name   string
	tx     notifier
	adv    *bluetooth.Advertisement
	logger *slog.Logger

	inboundMutex sync.Mutex
	inbound      []byte

	stats      LinkStats
	statsMutex sync.RWMutex
}

// Open enables the default adapter, registers the UART service and starts
// advertising under name.
func Open(name string, logger *slog.Logger) (*Link, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable BLE adapter: %w", err)
	}

	l := &Link{name: name, logger: logger}

	var tx bluetooth.Characteristic
	err := adapter.AddService(&bluetooth.Service{
		UUID: bluetooth.ServiceUUIDNordicUART,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &tx,
				UUID:   bluetooth.CharacteristicUUIDUARTTX,
				Flags:  bluetooth.CharacteristicNotifyPermission | bluetooth.CharacteristicReadPermission,
			},
			{
				UUID: bluetooth.CharacteristicUUIDUARTRX,
				Flags: bluetooth.CharacteristicWritePermission |
					bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					l.received(offset, value)
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add UART service: %w", err)
	}
	l.tx = &tx

	adv := adapter.DefaultAdvertisement()
	err = adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    name,
		ServiceUUIDs: []bluetooth.UUID{bluetooth.ServiceUUIDNordicUART},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return nil, fmt.Errorf("failed to start advertising: %w", err)
	}
	l.adv = adv

	logger.Info("BLE link advertising", "name", name, "service", bluetooth.ServiceUUIDNordicUART.String())
	return l, nil
}

// newLink builds a link around any notifier, without touching the radio
func newLink(name string, tx notifier, logger *slog.Logger) *Link {
	return &Link{name: name, tx: tx, logger: logger}
}

// Write sends p as one notification. The framer never hands over more than
// protocol.ChunkSize bytes, which fits the default ATT payload.
func (l *Link) Write(p []byte) (int, error) {
	if len(p) > protocol.ChunkSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(p))
	}

	n, err := l.tx.Write(p)

	l.statsMutex.Lock()
	if err != nil {
		l.stats.Errors++
	} else {
		l.stats.Notifications++
		l.stats.BytesWritten += int64(n)
	}
	l.statsMutex.Unlock()

	if err != nil {
		return n, fmt.Errorf("notify: %w", err)
	}
	return n, nil
}

// received stores a write to the RX characteristic. Each GATT write carries
// one whole packet; offset writes are long-write continuations and ignored.
func (l *Link) received(offset int, value []byte) {
	if offset != 0 {
		l.logger.Debug("Ignoring offset write", "offset", offset, "bytes", len(value))
		return
	}
	if len(value) > protocol.PacketSize {
		value = value[:protocol.PacketSize]
	}

	l.inboundMutex.Lock()
	l.inbound = append(l.inbound[:0], value...)
	l.inboundMutex.Unlock()

	l.statsMutex.Lock()
	l.stats.Packets++
	l.statsMutex.Unlock()
}

// Inbound returns a copy of the last packet written by the host
func (l *Link) Inbound() []byte {
	l.inboundMutex.Lock()
	defer l.inboundMutex.Unlock()
	if l.inbound == nil {
		return nil
	}
	return append([]byte(nil), l.inbound...)
}

// Close stops advertising
func (l *Link) Close() error {
	if l.adv == nil {
		return nil
	}
	if err := l.adv.Stop(); err != nil {
		return fmt.Errorf("failed to stop advertising: %w", err)
	}
	return nil
}

// Name returns the advertised name
func (l *Link) Name() string {
	return l.name
}

// Stats returns current statistics
func (l *Link) Stats() LinkStats {
	l.statsMutex.RLock()
	defer l.statsMutex.RUnlock()
	return l.stats
}
