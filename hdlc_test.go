package ncpboot

import (
	"bytes"
	"testing"
)

func TestFCS16(t *testing.T) {
	// Standard check value for the RFC 1662 FCS.
	fcs := uint16(hdlcFCSInit)
	for _, b := range []byte("123456789") {
		fcs = fcs16(fcs, b)
	}
	if fcs^0xFFFF != 0x906E {
		t.Errorf("fcs16 check value = 0x%04X, want 0x906E", fcs^0xFFFF)
	}
}

func TestHDLCEncode(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "plain packet", payload: []byte{0x81, 0x02, 0x01}},
		{name: "payload with flag byte", payload: []byte{0x81, 0x7E, 0x01}},
		{name: "payload with escape byte", payload: []byte{0x81, 0x7D, 0x01}},
		{name: "single byte", payload: []byte{0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := hdlcEncode(tt.payload)
			if frame[0] != hdlcFlag || frame[len(frame)-1] != hdlcFlag {
				t.Fatalf("frame not delimited by flags: % x", frame)
			}
			for _, b := range frame[1 : len(frame)-1] {
				if b == hdlcFlag {
					t.Fatalf("unescaped flag inside frame: % x", frame)
				}
			}
			decoded, ok := hdlcDecodeRaw(frame)
			if !ok {
				t.Fatalf("frame does not verify: % x", frame)
			}
			if !bytes.Equal(decoded, tt.payload) {
				t.Errorf("decoded = % x, want % x", decoded, tt.payload)
			}
		})
	}
}

func TestHDLCEncodeLeavesXONAlone(t *testing.T) {
	// Unlike ASH, HDLC-lite escapes only the flag and escape bytes.
	frame := hdlcEncode([]byte{0x11, 0x13, 0x18, 0x1A})
	if !bytes.Contains(frame, []byte{0x11, 0x13, 0x18, 0x1A}) {
		t.Errorf("software flow control bytes were escaped: % x", frame)
	}
}

func TestHDLCReadFrame(t *testing.T) {
	payload := []byte{0x81, 0x06, 0x01, 4, 3}

	tests := []struct {
		name    string
		pending []byte
		want    []byte
		errText string
	}{
		{
			name:    "well formed frame",
			pending: hdlcEncode(payload),
			want:    payload,
		},
		{
			name:    "leading flags skipped",
			pending: append([]byte{hdlcFlag, hdlcFlag}, hdlcEncode(payload)...),
			want:    payload,
		},
		{
			name:    "silence",
			pending: nil,
			errText: "no response",
		},
		{
			name:    "interrupted frame",
			pending: hdlcEncode(payload)[:4],
			errText: "interrupted",
		},
		{
			name: "corrupted frame",
			pending: func() []byte {
				f := hdlcEncode(payload)
				f[2] ^= 0xFF
				return f
			}(),
			errText: "frame check sequence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &hdlcLink{link: &scriptLink{pending: tt.pending}}
			got, err := h.readFrame()
			if tt.errText != "" {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !bytes.Contains([]byte(err.Error()), []byte(tt.errText)) {
					t.Errorf("error = %v, want substring %q", err, tt.errText)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("payload = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestPackedInt(t *testing.T) {
	tests := []struct {
		name     string
		value    uint
		expected []byte
	}{
		{name: "zero encodes to nothing", value: 0, expected: nil},
		{name: "one", value: 1, expected: []byte{0x01}},
		{name: "seven bit maximum", value: 127, expected: []byte{0x7F}},
		{name: "two groups", value: 128, expected: []byte{0x80, 0x01}},
		{name: "bootloader launch command", value: spinelCmdLaunchBootloader, expected: []byte{0x80, 0x78}},
		{name: "vendor string property", value: spinelPropMfgString, expected: []byte{0x81, 0x78}},
		{name: "board name property", value: spinelPropMfgBoardName, expected: []byte{0x82, 0x78}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := packedInt(tt.value)
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("packedInt(%d) = % x, want % x", tt.value, got, tt.expected)
			}
		})
	}
}

func TestSpinelConnectRejectsEcho(t *testing.T) {
	// The bootloader console echoes raw bytes back, so a reset frame
	// returning verbatim must not classify as a live Spinel session.
	reset := append([]byte{spinelHeaderAsync}, packedInt(spinelCmdReset)...)
	link := &scriptLink{replies: [][]byte{hdlcEncode(reset)}}
	s := newSpinelClient(link)

	if err := s.connect(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestSpinelConnectRetriesVersion(t *testing.T) {
	// Unsolicited frames may precede the version reply; the query is
	// repeated until the property echo matches.
	link := &scriptLink{replies: [][]byte{
		hdlcEncode([]byte{0x80, 0x06, 0x00, 0x72}),
		hdlcEncode([]byte{0x80, 0x06, 0x00, 0x72}),
		hdlcEncode([]byte{0x81, 0x06, 0x01, 4, 3}),
	}}
	s := newSpinelClient(link)

	if err := s.connect(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.version != "4.3" {
		t.Errorf("version = %q, want \"4.3\"", s.version)
	}
}

func TestSpinelPropValueGet(t *testing.T) {
	tests := []struct {
		name    string
		prop    uint
		reply   []byte
		want    []byte
		wantErr bool
	}{
		{
			name:  "single byte property id",
			prop:  spinelPropNCPVersion,
			reply: append([]byte{0x81, 0x06, 0x02}, []byte("SL-OPENTHREAD/1.2")...),
			want:  []byte("SL-OPENTHREAD/1.2"),
		},
		{
			name:  "two byte property id shifts the value",
			prop:  spinelPropMfgString,
			reply: append([]byte{0x81, 0x06, 0x81, 0x78}, []byte("Elelabs")...),
			want:  []byte("Elelabs"),
		},
		{
			name:    "out of range property id",
			prop:    0x10000,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := &scriptLink{replies: [][]byte{hdlcEncode(tt.reply)}}
			s := newSpinelClient(link)
			got, err := s.propValueGet(tt.prop)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("value = % x, want % x", got, tt.want)
			}
		})
	}
}
