package protocol

import (
	"errors"
	"testing"
)

type call struct {
	op      string
	port    int
	mode    int
	reverse bool
}

type recordingDispatcher struct {
	calls []call
}

func (r *recordingDispatcher) Shutdown() { r.calls = append(r.calls, call{op: "shutdown"}) }
func (r *recordingDispatcher) Hello()    { r.calls = append(r.calls, call{op: "hello"}) }
func (r *recordingDispatcher) SetMode(port, mode int) {
	r.calls = append(r.calls, call{op: "mode", port: port, mode: mode})
}
func (r *recordingDispatcher) Rotate(port int, reverse bool) {
	r.calls = append(r.calls, call{op: "rotate", port: port, reverse: reverse})
}

func TestParsePacket(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		want    CommandPacket
		wantErr error
	}{
		{
			name: "port set mode",
			buf:  []byte{1, 5, 'p', 0, 'm', 2},
			want: CommandPacket{Version: 1, Sequence: 5, Type: 'p', Payload: [3]byte{0, 'm', 2}},
		},
		{
			name: "short payload reads as zero",
			buf:  []byte{1, 6, 'a', 's'},
			want: CommandPacket{Version: 1, Sequence: 6, Type: 'a', Payload: [3]byte{'s', 0, 0}},
		},
		{
			name:    "wrong version",
			buf:     []byte{2, 5, 'p', 0, 'm', 2},
			wantErr: ErrBadVersion,
		},
		{
			name:    "cleared buffer",
			buf:     make([]byte, PacketSize),
			wantErr: ErrBadVersion,
		},
		{
			name:    "too short",
			buf:     []byte{1, 5},
			wantErr: ErrShortPacket,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePacket(tt.buf)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParsePacket() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePacket() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParsePacket() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEncodeParse(t *testing.T) {
	p := CommandPacket{Version: Version, Sequence: 200, Type: TypePort, Payload: [3]byte{3, PortRotate, DirectionReverse}}
	got, err := ParsePacket(p.Encode())
	if err != nil {
		t.Fatalf("ParsePacket() error = %v", err)
	}
	if got != p {
		t.Errorf("ParsePacket(Encode()) = %+v, want %+v", got, p)
	}
}

func TestDecoderSequenceDedup(t *testing.T) {
	d := NewDecoder()
	pkt := []byte{1, 5, 'p', 0, 'm', 2}

	if _, ok := d.Next(pkt); !ok {
		t.Fatal("first read of sequence 5 not accepted")
	}
	if _, ok := d.Next(pkt); ok {
		t.Error("repeated sequence 5 accepted")
	}
	if d.LastSequence() != 5 {
		t.Errorf("LastSequence() = %d, want 5", d.LastSequence())
	}

	next := []byte{1, 6, 'p', 0, 'm', 2}
	if _, ok := d.Next(next); !ok {
		t.Error("sequence 6 not accepted")
	}

	// Going back to an earlier value is still a change.
	if _, ok := d.Next(pkt); !ok {
		t.Error("sequence 5 after 6 not accepted")
	}
}

func TestDecoderIgnoresBadVersion(t *testing.T) {
	d := NewDecoder()

	if _, ok := d.Next([]byte{9, 5, 'a', 's', 0, 0}); ok {
		t.Fatal("packet with wrong version accepted")
	}
	if d.LastSequence() != 0 {
		t.Errorf("LastSequence() = %d after rejected packet, want 0", d.LastSequence())
	}
	if _, ok := d.Next(make([]byte, PacketSize)); ok {
		t.Error("cleared buffer accepted")
	}
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name string
		pkt  CommandPacket
		want []call
	}{
		{"shutdown", CommandPacket{Type: TypeAction, Payload: [3]byte{'s'}}, []call{{op: "shutdown"}}},
		{"hello", CommandPacket{Type: TypeAction, Payload: [3]byte{'h'}}, []call{{op: "hello"}}},
		{"unknown action", CommandPacket{Type: TypeAction, Payload: [3]byte{'x'}}, nil},
		{"set mode", CommandPacket{Type: TypePort, Payload: [3]byte{1, 'm', 2}}, []call{{op: "mode", port: 1, mode: 2}}},
		{"rotate forward", CommandPacket{Type: TypePort, Payload: [3]byte{0, 'r', '+'}}, []call{{op: "rotate", port: 0}}},
		{"rotate reverse", CommandPacket{Type: TypePort, Payload: [3]byte{0, 'r', '-'}}, []call{{op: "rotate", port: 0, reverse: true}}},
		{"rotate negative byte", CommandPacket{Type: TypePort, Payload: [3]byte{2, 'r', 0xFF}}, []call{{op: "rotate", port: 2, reverse: true}}},
		{"unknown port op", CommandPacket{Type: TypePort, Payload: [3]byte{0, 'z', 0}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recordingDispatcher{}
			if err := Dispatch(tt.pkt, r); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if len(r.calls) != len(tt.want) {
				t.Fatalf("calls = %+v, want %+v", r.calls, tt.want)
			}
			for i := range tt.want {
				if r.calls[i] != tt.want[i] {
					t.Errorf("call %d = %+v, want %+v", i, r.calls[i], tt.want[i])
				}
			}
		})
	}
}

func TestDispatchUnknownType(t *testing.T) {
	r := &recordingDispatcher{}
	err := Dispatch(CommandPacket{Type: 'q'}, r)
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("Dispatch() error = %v, want ErrUnknownType", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("calls = %+v, want none", r.calls)
	}
}
