package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"portview/config"
	"portview/protocol"
)

func testHubConfig() *config.HubConfig {
	return &config.HubConfig{
		Name:              "Test Hub",
		Firmware:          "3.3.0",
		Ports:             []string{"A", "B"},
		TickPeriodMs:      5,
		BatteryEveryTicks: 100,
		RotateSpeed:       500,
		RotateDurationMs:  1000,
	}
}

type panicTask struct{}

func (panicTask) Name() string         { return "panic" }
func (panicTask) Poll() (string, bool) { panic("sensor driver crashed") }

type recordingObserver struct {
	reports []TickReport
}

func (r *recordingObserver) TickDone(report TickReport) {
	r.reports = append(r.reports, report)
}

func TestSchedulerEndToEnd(t *testing.T) {
	hub := newMockHub()
	hub.devices[0] = &mockSensor{id: 62, distance: 120}
	link := &mockLink{}
	s := NewScheduler(testHubConfig(), hub, link, newTestLogger())

	// Tick 0: ports, identity and battery.
	if s.Tick() != Continue {
		t.Fatal("Tick() = Halt, want Continue")
	}
	want := "A\t62\td=120mm\r\nB\t--\r\nhub\tn=Test Hub\tv=3.3.0\r\nbattery\tpct=50%\tv=7150mV\ts=0\r\n"
	if got := link.output(); got != want {
		t.Fatalf("tick 0 output = %q, want %q", got, want)
	}

	// Mode change for port index 0.
	link.setInbound([]byte{1, 5, 'p', 0, 'm', 2})
	s.Tick()
	if s.Modes().Mode(0) != 2 {
		t.Errorf("Mode(0) = %d, want 2", s.Modes().Mode(0))
	}
	if got := s.Stats().Commands; got != 1 {
		t.Errorf("Commands = %d, want 1", got)
	}

	// The same sequence is still in the buffer and is ignored.
	s.Modes().SetMode(0, 0)
	s.Tick()
	if s.Modes().Mode(0) != 0 {
		t.Error("repeated sequence was applied again")
	}
	if got := s.Stats().Commands; got != 1 {
		t.Errorf("Commands = %d, want 1 after repeat", got)
	}
	if got := link.output(); got != "A\t62\td=120mm\r\nB\t--\r\nA\t62\td=120mm\r\nB\t--\r\n" {
		t.Errorf("steady output = %q", got)
	}

	// Shutdown halts the loop.
	link.setInbound([]byte{1, 6, 'a', 's', 0, 0})
	if s.Tick() != Halt {
		t.Fatal("Tick() after shutdown = Continue, want Halt")
	}
	if hub.beeps != 1 || hub.shutdowns != 1 {
		t.Errorf("beeps = %d, shutdowns = %d, want 1 and 1", hub.beeps, hub.shutdowns)
	}
	link.output()

	if s.Tick() != Halt {
		t.Error("Tick() after halt = Continue")
	}
	if got := link.output(); got != "" {
		t.Errorf("output after halt = %q, want nothing", got)
	}
	if hub.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", hub.shutdowns)
	}
}

func TestSchedulerChunksWrites(t *testing.T) {
	hub := newMockHub()
	hub.devices[0] = &mockMotor{id: 48, angle: -1000}
	link := &mockLink{}
	s := NewScheduler(testHubConfig(), hub, link, newTestLogger())

	s.Tick()

	link.mu.Lock()
	writes := link.writes
	link.mu.Unlock()

	total := 0
	for i, w := range writes {
		if len(w) > protocol.ChunkSize {
			t.Errorf("write %d is %d bytes, want at most %d", i, len(w), protocol.ChunkSize)
		}
		if i < len(writes)-1 && len(w) != protocol.ChunkSize {
			t.Errorf("write %d is %d bytes, only the last may be short", i, len(w))
		}
		total += len(w)
	}

	stats := s.Stats()
	if stats.Bytes != uint64(total) || stats.Chunks != uint64(len(writes)) {
		t.Errorf("stats = %d bytes in %d chunks, link saw %d in %d", stats.Bytes, stats.Chunks, total, len(writes))
	}
	wantChunks := (total + protocol.ChunkSize - 1) / protocol.ChunkSize
	if len(writes) != wantChunks {
		t.Errorf("chunks = %d, want %d", len(writes), wantChunks)
	}
}

func TestSchedulerTaskOrder(t *testing.T) {
	hub := newMockHub()
	hub.imu = &mockIMU{}
	hub.pressed = []string{"LEFT"}
	cfg := testHubConfig()
	cfg.IMU = true
	cfg.Buttons = true

	link := &mockLink{}
	s := NewScheduler(cfg, hub, link, newTestLogger())
	obs := &recordingObserver{}
	s.AddObserver(obs)

	s.Tick()

	var prefixes []string
	for _, line := range obs.reports[0].Lines {
		prefixes = append(prefixes, strings.SplitN(line, "\t", 2)[0])
	}
	want := "A,B,hub,battery,imu,buttons"
	if got := strings.Join(prefixes, ","); got != want {
		t.Errorf("line order = %s, want %s", got, want)
	}
}

func TestSchedulerWithoutBattery(t *testing.T) {
	hub := newMockHub()
	hub.battery = nil
	link := &mockLink{}
	s := NewScheduler(testHubConfig(), hub, link, newTestLogger())

	s.Tick()
	if got := link.output(); strings.Contains(got, "battery") {
		t.Errorf("output = %q, want no battery line", got)
	}
}

func TestSchedulerContainsPanics(t *testing.T) {
	hub := newMockHub()
	link := &mockLink{}
	s := NewScheduler(testHubConfig(), hub, link, newTestLogger())
	s.tasks = append([]Task{panicTask{}}, s.tasks...)

	if s.Tick() != Continue {
		t.Fatal("Tick() = Halt after a task panic")
	}
	if got := link.output(); !strings.HasPrefix(got, "A\t--\r\nB\t--\r\n") {
		t.Errorf("output = %q, want remaining tasks to run", got)
	}
	if s.Stats().Panics != 1 {
		t.Errorf("Panics = %d, want 1", s.Stats().Panics)
	}
}

type reportedError struct {
	source string
	err    error
}

func TestSchedulerReportsPanics(t *testing.T) {
	hub := newMockHub()
	s := NewScheduler(testHubConfig(), hub, &mockLink{}, newTestLogger())
	s.tasks = append([]Task{panicTask{}}, s.tasks...)

	var reported []reportedError
	s.SetErrorCallback(func(source string, err error) {
		reported = append(reported, reportedError{source, err})
	})

	s.Tick()
	if len(reported) != 1 || reported[0].source != "panic" ||
		!strings.Contains(reported[0].err.Error(), "sensor driver crashed") {
		t.Errorf("reported = %+v, want one panic from the panic task", reported)
	}
}

func TestSchedulerReportsLinkOutageOnce(t *testing.T) {
	hub := newMockHub()
	link := &mockLink{writeErr: errors.New("link down")}
	s := NewScheduler(testHubConfig(), hub, link, newTestLogger())

	var reported []reportedError
	s.SetErrorCallback(func(source string, err error) {
		reported = append(reported, reportedError{source, err})
	})

	for i := 0; i < 5; i++ {
		s.Tick()
	}
	if len(reported) != 1 || reported[0].source != LinkSource || !errors.Is(reported[0].err, link.writeErr) {
		t.Fatalf("reported = %+v, want one link error for the outage", reported)
	}

	// Recovery, then a second outage
	link.writeErr = nil
	s.Tick()
	link.writeErr = errors.New("link down again")
	s.Tick()
	s.Tick()
	if len(reported) != 2 {
		t.Errorf("reported %d errors, want one per outage", len(reported))
	}
	if s.Stats().WriteErrors != 7 {
		t.Errorf("WriteErrors = %d, want 7", s.Stats().WriteErrors)
	}
}

func TestSchedulerWriteError(t *testing.T) {
	hub := newMockHub()
	link := &mockLink{writeErr: errors.New("link down")}
	s := NewScheduler(testHubConfig(), hub, link, newTestLogger())
	obs := &recordingObserver{}
	s.AddObserver(obs)

	if s.Tick() != Continue {
		t.Fatal("write errors must not halt the loop")
	}

	// Commands are still decoded.
	link.setInbound([]byte{1, 1, 'p', 1, 'm', 1})
	s.Tick()
	if s.Modes().Mode(1) != 1 {
		t.Errorf("Mode(1) = %d, want 1", s.Modes().Mode(1))
	}
	if s.Stats().WriteErrors != 2 {
		t.Errorf("WriteErrors = %d, want 2", s.Stats().WriteErrors)
	}
	if obs.reports[1].Command == nil || obs.reports[1].Command.Sequence != 1 {
		t.Errorf("report command = %+v", obs.reports[1].Command)
	}
}

func TestSchedulerCommands(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
		check  func(t *testing.T, hub *mockHub, s *Scheduler)
	}{
		{
			name:   "hello shows text",
			packet: []byte{1, 1, 'a', 'h', 0, 0},
			check: func(t *testing.T, hub *mockHub, s *Scheduler) {
				if len(hub.texts) != 1 || hub.texts[0] != "Hi!" {
					t.Errorf("texts = %v", hub.texts)
				}
			},
		},
		{
			name:   "unknown action is ignored",
			packet: []byte{1, 1, 'a', 'x', 0, 0},
			check: func(t *testing.T, hub *mockHub, s *Scheduler) {
				if hub.shutdowns != 0 || len(hub.texts) != 0 {
					t.Error("unknown action had an effect")
				}
			},
		},
		{
			name:   "mode for unknown port",
			packet: []byte{1, 1, 'p', 7, 'm', 1},
			check: func(t *testing.T, hub *mockHub, s *Scheduler) {
				if s.Modes().Mode(0) != 0 || s.Modes().Mode(1) != 0 {
					t.Error("modes changed for out-of-range port")
				}
			},
		},
		{
			name:   "wrong version",
			packet: []byte{2, 1, 'a', 's', 0, 0},
			check: func(t *testing.T, hub *mockHub, s *Scheduler) {
				if hub.shutdowns != 0 {
					t.Error("wrong version packet was dispatched")
				}
				if s.Stats().Commands != 0 {
					t.Errorf("Commands = %d, want 0", s.Stats().Commands)
				}
			},
		},
		{
			name:   "short buffer",
			packet: []byte{1, 1, 'a'},
			check: func(t *testing.T, hub *mockHub, s *Scheduler) {
				if s.Stats().Commands != 0 {
					t.Errorf("Commands = %d, want 0", s.Stats().Commands)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newMockHub()
			link := &mockLink{inbound: tt.packet}
			s := NewScheduler(testHubConfig(), hub, link, newTestLogger())

			if s.Tick() != Continue {
				t.Fatal("Tick() = Halt")
			}
			tt.check(t, hub, s)
		})
	}
}

func TestSchedulerRotateCommand(t *testing.T) {
	hub := newMockHub()
	motor := &mockMotor{id: 49}
	hub.devices[1] = motor
	link := &mockLink{}
	s := NewScheduler(testHubConfig(), hub, link, newTestLogger())

	s.Tick()
	link.setInbound([]byte{1, 9, 'p', 1, 'r', '-'})
	s.Tick() // decoded after polling, queued for the next tick
	if len(motor.runs) != 0 {
		t.Fatalf("runs = %v before the next poll", motor.runs)
	}
	s.Tick()
	if len(motor.runs) != 1 || motor.runs[0] != -500 {
		t.Errorf("runs = %v, want [-500]", motor.runs)
	}
}

func TestSchedulerPortEvents(t *testing.T) {
	hub := newMockHub()
	hub.devices[0] = &mockSensor{id: 62, distance: 5}
	s := NewScheduler(testHubConfig(), hub, &mockLink{}, newTestLogger())

	var events []PortEvent
	s.SetPortEventCallback(func(e PortEvent) { events = append(events, e) })

	s.Tick()
	hub.unplug(0)
	s.Tick()

	if len(events) != 2 || events[0].Type != PortAttached || events[1].Type != PortDetached {
		t.Fatalf("events = %+v, want attach then detach", events)
	}
	if events[0].Port.Label != "A" {
		t.Errorf("event port = %q, want A", events[0].Port.Label)
	}

	statuses := s.PortStatuses()
	if len(statuses) != 2 || statuses[0].State != "detecting" || statuses[0].Failures != 1 {
		t.Errorf("PortStatuses() = %+v", statuses)
	}
}

func TestSchedulerRunCancelled(t *testing.T) {
	hub := newMockHub()
	link := &mockLink{}
	s := NewScheduler(testHubConfig(), hub, link, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v, want deadline exceeded", err)
	}
	stats := s.Stats()
	if stats.Ticks < 2 {
		t.Errorf("Ticks = %d, want several", stats.Ticks)
	}
	if stats.StartTime.IsZero() || stats.LastTick.IsZero() {
		t.Error("start and last tick times should be set")
	}
}

func TestSchedulerRunHalted(t *testing.T) {
	hub := newMockHub()
	link := &mockLink{inbound: []byte{1, 3, 'a', 's', 0, 0}}
	s := NewScheduler(testHubConfig(), hub, link, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Run(ctx); !errors.Is(err, ErrHalted) {
		t.Fatalf("Run() = %v, want ErrHalted", err)
	}
	if s.Stats().Ticks != 1 {
		t.Errorf("Ticks = %d, want 1", s.Stats().Ticks)
	}
	if !s.Stats().Halted {
		t.Error("Stats().Halted = false after shutdown")
	}
}
