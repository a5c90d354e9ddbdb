package telemetry

import (
	"math"
	"strings"
)

// Battery reference voltages for the percentage estimate, in millivolts.
const (
	BatteryLowMV  = 6000
	BatteryHighMV = 8300
)

// HubIdentity is sent once when the multiplexer starts.
func HubIdentity(name, firmware string) string {
	return newLine("hub").field("n", name, "").field("v", firmware, "").String()
}

// BatteryPercent interpolates linearly between the low and high reference
// voltages and clamps to [0, 100].
func BatteryPercent(millivolts int) int {
	pct := float64(millivolts-BatteryLowMV) / float64(BatteryHighMV-BatteryLowMV) * 100
	return int(math.Round(math.Max(0, math.Min(100, pct))))
}

func Battery(millivolts, status int) string {
	return newLine("battery").
		field("pct", BatteryPercent(millivolts), "%").
		field("v", millivolts, "mV").
		field("s", status, "").
		String()
}

func IMU(up string, heading, pitch, roll int, stationary bool) string {
	still := 0
	if stationary {
		still = 1
	}
	return newLine("imu").
		field("up", up, "").
		field("y", heading, "°").
		field("p", pitch, "°").
		field("r", roll, "°").
		field("s", still, "").
		String()
}

// Buttons lists pressed buttons comma-separated; names must already be sorted.
func Buttons(names []string) string {
	return newLine("buttons").raw(strings.Join(names, ",")).String()
}
