package serial

import (
	"fmt"
	"log/slog"
	"strings"

	"go.bug.st/serial/enumerator"
)

// USB identifiers of the hub
const (
	LegoVID = "0694"

	// ProductHint matches hubs reported without a vendor id, such as
	// some Bluetooth serial bridges.
	ProductHint = "pybricks"
)

// AutoDevice selects detection instead of a fixed device path
const AutoDevice = "auto"

// PortLister enumerates serial ports
type PortLister func() ([]*enumerator.PortDetails, error)

// Detector finds the hub among the serial ports of the host
type Detector struct {
	list   PortLister
	logger *slog.Logger
}

// NewDetector creates a Detector backed by the system port list
func NewDetector(logger *slog.Logger) *Detector {
	return &Detector{list: enumerator.GetDetailedPortsList, logger: logger}
}

// Resolve returns device unchanged unless it is AutoDevice, in which case the
// hub is detected.
func (d *Detector) Resolve(device string) (string, error) {
	if device != "" && device != AutoDevice {
		return device, nil
	}
	return d.Detect()
}

// Detect scans the host's serial ports for a hub
func (d *Detector) Detect() (string, error) {
	ports, err := d.list()
	if err != nil {
		return "", fmt.Errorf("failed to list serial ports: %w", err)
	}

	d.logger.Debug("Scanning serial ports", "count", len(ports))
	for _, p := range ports {
		d.logger.Debug("Serial port",
			"name", p.Name,
			"usb", p.IsUSB,
			"vid", p.VID,
			"pid", p.PID,
			"product", p.Product)
	}

	name, ok := matchPort(ports)
	if !ok {
		return "", fmt.Errorf("no hub found among %d serial ports", len(ports))
	}

	d.logger.Info("Detected hub serial port", "device", name)
	return name, nil
}

// matchPort prefers a USB port with the LEGO vendor id, then any port whose
// product string names the firmware.
func matchPort(ports []*enumerator.PortDetails) (string, bool) {
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, LegoVID) {
			return p.Name, true
		}
	}
	for _, p := range ports {
		if strings.Contains(strings.ToLower(p.Product), ProductHint) {
			return p.Name, true
		}
	}
	return "", false
}
