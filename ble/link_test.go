package ble

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
)

// MockNotifier records notifications
type MockNotifier struct {
	sent [][]byte
	err  error
}

func (m *MockNotifier) Write(p []byte) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.sent = append(m.sent, append([]byte(nil), p...))
	return len(p), nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLinkWrite(t *testing.T) {
	tx := &MockNotifier{}
	link := newLink("Pybricks Hub", tx, newTestLogger())

	chunks := []string{"A\t62\td=120mm\r\nB\t-", "-\r\n"}
	for _, c := range chunks {
		if n, err := link.Write([]byte(c)); err != nil || n != len(c) {
			t.Fatalf("Write(%q) = %d, %v", c, n, err)
		}
	}

	if len(tx.sent) != 2 || string(tx.sent[0]) != chunks[0] || string(tx.sent[1]) != chunks[1] {
		t.Errorf("notifications = %q", tx.sent)
	}
	stats := link.Stats()
	if stats.Notifications != 2 || stats.BytesWritten != 22 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestLinkWriteTooLarge(t *testing.T) {
	tx := &MockNotifier{}
	link := newLink("hub", tx, newTestLogger())

	if _, err := link.Write(make([]byte, 20)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Write(20 bytes) error = %v, want ErrTooLarge", err)
	}
	if len(tx.sent) != 0 {
		t.Error("oversized chunk was sent")
	}
}

func TestLinkWriteError(t *testing.T) {
	tx := &MockNotifier{err: errors.New("not connected")}
	link := newLink("hub", tx, newTestLogger())

	if _, err := link.Write([]byte("x")); !errors.Is(err, tx.err) {
		t.Errorf("Write() error = %v, want wrapped notifier error", err)
	}
	if link.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", link.Stats().Errors)
	}
}

func TestLinkReceived(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		value  []byte
		want   []byte
	}{
		{"whole packet", 0, []byte{1, 5, 'p', 0, 'm', 2}, []byte{1, 5, 'p', 0, 'm', 2}},
		{"trailing bytes cut", 0, []byte{1, 6, 'a', 's', 0, 0, 9, 9}, []byte{1, 6, 'a', 's', 0, 0}},
		{"short packet kept for decoder", 0, []byte{1, 7}, []byte{1, 7}},
		{"continuation ignored", 4, []byte{1, 8, 'a', 'h', 0, 0}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := newLink("hub", &MockNotifier{}, newTestLogger())
			link.received(tt.offset, tt.value)

			if got := link.Inbound(); !bytes.Equal(got, tt.want) {
				t.Errorf("Inbound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLinkInboundIsCopy(t *testing.T) {
	link := newLink("hub", &MockNotifier{}, newTestLogger())
	value := []byte{1, 5, 'p', 0, 'm', 2}
	link.received(0, value)

	value[1] = 42
	got := link.Inbound()
	if got[1] != 5 {
		t.Error("link kept a reference to the write buffer")
	}
	got[1] = 43
	if link.Inbound()[1] != 5 {
		t.Error("Inbound() returned shared memory")
	}
}

func TestLinkCloseWithoutRadio(t *testing.T) {
	link := newLink("hub", &MockNotifier{}, newTestLogger())
	if err := link.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if link.Name() != "hub" {
		t.Errorf("Name() = %q", link.Name())
	}
}
