package capture

import (
	"log/slog"
	"sort"

	"portview/device"
	"portview/telemetry"
)

// Task is one producer polled every tick. Poll returns at most one line and
// false when the task has nothing to report this tick.
type Task interface {
	Name() string
	Poll() (string, bool)
}

// HubPoller reports the hub identity once, on the first tick.
type HubPoller struct {
	hub  device.Hub
	sent bool
}

func NewHubPoller(hub device.Hub) *HubPoller {
	return &HubPoller{hub: hub}
}

func (h *HubPoller) Name() string { return "hub" }

func (h *HubPoller) Poll() (string, bool) {
	if h.sent {
		return "", false
	}
	h.sent = true
	return telemetry.HubIdentity(h.hub.Name(), h.hub.Firmware()), true
}

// BatteryPoller reports the battery on the first tick and then once every
// `every` ticks.
type BatteryPoller struct {
	battery device.Battery
	every   int
	tick    int
	logger  *slog.Logger
}

func NewBatteryPoller(battery device.Battery, every int, logger *slog.Logger) *BatteryPoller {
	if every <= 0 {
		every = 1
	}
	return &BatteryPoller{battery: battery, every: every, logger: logger}
}

func (b *BatteryPoller) Name() string { return "battery" }

func (b *BatteryPoller) Poll() (string, bool) {
	due := b.tick%b.every == 0
	b.tick++
	if !due {
		return "", false
	}

	mv, err := b.battery.Voltage()
	if err != nil {
		b.logger.Debug("Battery voltage read failed", "error", err)
		return "", false
	}
	status, err := b.battery.ChargerStatus()
	if err != nil {
		b.logger.Debug("Charger status read failed", "error", err)
		return "", false
	}
	return telemetry.Battery(mv, status), true
}

// IMUPoller reports the inertial unit every tick.
type IMUPoller struct {
	imu    device.IMU
	logger *slog.Logger
}

func NewIMUPoller(imu device.IMU, logger *slog.Logger) *IMUPoller {
	return &IMUPoller{imu: imu, logger: logger}
}

func (i *IMUPoller) Name() string { return "imu" }

func (i *IMUPoller) Poll() (string, bool) {
	up, err := i.imu.Up()
	if err != nil {
		i.logger.Debug("IMU read failed", "error", err)
		return "", false
	}
	heading, err := i.imu.Heading()
	if err != nil {
		i.logger.Debug("IMU read failed", "error", err)
		return "", false
	}
	pitch, roll, err := i.imu.Tilt()
	if err != nil {
		i.logger.Debug("IMU read failed", "error", err)
		return "", false
	}
	still, err := i.imu.Stationary()
	if err != nil {
		i.logger.Debug("IMU read failed", "error", err)
		return "", false
	}
	return telemetry.IMU(up, heading, pitch, roll, still), true
}

// ButtonsPoller reports the pressed hub buttons every tick.
type ButtonsPoller struct {
	hub    device.Hub
	logger *slog.Logger
}

func NewButtonsPoller(hub device.Hub, logger *slog.Logger) *ButtonsPoller {
	return &ButtonsPoller{hub: hub, logger: logger}
}

func (b *ButtonsPoller) Name() string { return "buttons" }

func (b *ButtonsPoller) Poll() (string, bool) {
	pressed, err := b.hub.Pressed()
	if err != nil {
		b.logger.Debug("Button read failed", "error", err)
		return "", false
	}
	names := append([]string(nil), pressed...)
	sort.Strings(names)
	return telemetry.Buttons(names), true
}
