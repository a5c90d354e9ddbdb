package capture

import (
	"errors"
	"testing"
)

func TestHubPollerOnce(t *testing.T) {
	p := NewHubPoller(newMockHub())

	line, ok := p.Poll()
	if !ok || line != "hub\tn=Test Hub\tv=3.3.0" {
		t.Fatalf("first Poll() = %q, %v", line, ok)
	}
	for i := 0; i < 5; i++ {
		if _, ok := p.Poll(); ok {
			t.Fatalf("Poll() #%d reported a line, want identity only once", i+2)
		}
	}
}

func TestBatteryPollerThrottling(t *testing.T) {
	p := NewBatteryPoller(&mockBattery{mv: 7150}, 100, newTestLogger())

	var emitted []int
	for tick := 0; tick < 350; tick++ {
		line, ok := p.Poll()
		if !ok {
			continue
		}
		if line != "battery\tpct=50%\tv=7150mV\ts=0" {
			t.Fatalf("tick %d: Poll() = %q", tick, line)
		}
		emitted = append(emitted, tick)
	}

	want := []int{0, 100, 200, 300}
	if len(emitted) != len(want) {
		t.Fatalf("battery emitted on ticks %v, want %v", emitted, want)
	}
	for i := range want {
		if emitted[i] != want[i] {
			t.Errorf("battery emitted on ticks %v, want %v", emitted, want)
			break
		}
	}

	// Any window of 100 consecutive ticks holds exactly one line.
	for start := 0; start+100 <= 350; start++ {
		count := 0
		for _, tick := range emitted {
			if tick >= start && tick < start+100 {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("window [%d, %d) has %d battery lines, want 1", start, start+100, count)
		}
	}
}

func TestBatteryPollerReadError(t *testing.T) {
	battery := &mockBattery{mv: 7150, err: errors.New("adc busy")}
	p := NewBatteryPoller(battery, 100, newTestLogger())

	if _, ok := p.Poll(); ok {
		t.Error("Poll() with failing read should report nothing")
	}

	// The schedule does not slip after a failed read.
	battery.err = nil
	for tick := 1; tick < 100; tick++ {
		if _, ok := p.Poll(); ok {
			t.Fatalf("tick %d reported a battery line", tick)
		}
	}
	if _, ok := p.Poll(); !ok {
		t.Error("tick 100 should report the battery")
	}
}

func TestBatteryPollerNonPositiveInterval(t *testing.T) {
	p := NewBatteryPoller(&mockBattery{mv: 8300}, 0, newTestLogger())
	for i := 0; i < 3; i++ {
		line, ok := p.Poll()
		if !ok || line != "battery\tpct=100%\tv=8300mV\ts=0" {
			t.Errorf("Poll() = %q, %v", line, ok)
		}
	}
}

func TestIMUPoller(t *testing.T) {
	imu := &mockIMU{}
	p := NewIMUPoller(imu, newTestLogger())

	line, ok := p.Poll()
	if !ok || line != "imu\tup=TOP\ty=45°\tp=1°\tr=-2°\ts=1" {
		t.Errorf("Poll() = %q, %v", line, ok)
	}

	imu.err = errors.New("i2c timeout")
	if _, ok := p.Poll(); ok {
		t.Error("Poll() with failing IMU should report nothing")
	}
}

func TestButtonsPoller(t *testing.T) {
	tests := []struct {
		name    string
		pressed []string
		want    string
	}{
		{"none", nil, "buttons\t"},
		{"one", []string{"CENTER"}, "buttons\tCENTER"},
		{"sorted", []string{"RIGHT", "LEFT", "CENTER"}, "buttons\tCENTER,LEFT,RIGHT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newMockHub()
			hub.pressed = tt.pressed
			p := NewButtonsPoller(hub, newTestLogger())

			line, ok := p.Poll()
			if !ok || line != tt.want {
				t.Errorf("Poll() = %q, %v, want %q", line, ok, tt.want)
			}
		})
	}
}

func TestButtonsPollerDoesNotReorderHubSlice(t *testing.T) {
	hub := newMockHub()
	hub.pressed = []string{"RIGHT", "LEFT"}
	NewButtonsPoller(hub, newTestLogger()).Poll()

	if hub.pressed[0] != "RIGHT" {
		t.Errorf("hub slice reordered: %v", hub.pressed)
	}
}
