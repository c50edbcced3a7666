package ncpboot

import (
	"bytes"
	"time"
)

// scriptLink is a Link backed by canned reply frames. Every Write
// consumes the next reply, whose bytes become readable afterwards; a
// nil reply means the device stays silent for that exchange. Reads past
// the pending bytes behave like a timeout.
type scriptLink struct {
	replies [][]byte
	next    int
	pending []byte

	writes   [][]byte
	discards int
	resets   []bool

	readErr  error
	writeErr error
}

func (s *scriptLink) Read(p []byte) (int, error) {
	if s.readErr != nil {
		return 0, s.readErr
	}
	if len(s.pending) == 0 {
		return 0, nil
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *scriptLink) Write(p []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, append([]byte(nil), p...))
	if s.next < len(s.replies) {
		s.pending = append(s.pending, s.replies[s.next]...)
		s.next++
	}
	return nil
}

func (s *scriptLink) SetReadTimeout(time.Duration) error { return nil }
func (s *scriptLink) SetBaudRate(int) error              { return nil }

func (s *scriptLink) DiscardInput() error {
	s.discards++
	s.pending = nil
	return nil
}

func (s *scriptLink) AssertReset(_ time.Duration, bootloader bool) error {
	s.resets = append(s.resets, bootloader)
	return nil
}

func (s *scriptLink) Close() error { return nil }

// ashDeviceFrame wraps a payload the way the device frames its own DATA
// replies.
func ashDeviceFrame(payload []byte) []byte {
	frame := []byte{0x01}
	frame = append(frame, ashRandomize(payload)...)
	crc := crc16CCITT(frame, 0xFFFF)
	frame = append(frame, byte(crc>>8), byte(crc))
	frame = ashStuff(frame)
	return append(frame, ashFlag)
}

// ashDecodeRaw parses a written ASH frame from the device's point of
// view. payload is nil for ack frames, which carry only a control byte
// and the checksum.
func ashDecodeRaw(p []byte) (ctrl byte, payload []byte, ok bool) {
	if len(p) == 0 || p[len(p)-1] != ashFlag {
		return 0, nil, false
	}
	body := ashUnstuff(p[:len(p)-1])
	if len(body) < 3 {
		return 0, nil, false
	}
	if len(body) == 3 {
		return body[0], nil, true
	}
	return body[0], ashRandomize(body[1 : len(body)-2]), true
}

// hdlcDecodeRaw parses a written HDLC frame from the device's point of
// view, verifying the frame check sequence.
func hdlcDecodeRaw(p []byte) ([]byte, bool) {
	body := bytes.Trim(p, "\x7e")
	out := make([]byte, 0, len(body))
	esc := false
	for _, b := range body {
		if esc {
			out = append(out, b^hdlcXOR)
			esc = false
			continue
		}
		if b == hdlcEscape {
			esc = true
			continue
		}
		out = append(out, b)
	}
	fcs := uint16(hdlcFCSInit)
	for _, b := range out {
		fcs = fcs16(fcs, b)
	}
	if len(out) < 3 || fcs != hdlcFCSGood {
		return nil, false
	}
	return out[:len(out)-2], true
}

// nulPadded renders a token string the way the manufacturing info block
// stores it, NUL padded to the block width.
func nulPadded(s string, width int) []byte {
	out := make([]byte, width)
	copy(out, s)
	return out
}

// simDevice is a stateful Link that behaves like an adapter: it answers
// the protocol of whichever mode it is in, reboots on the reset line
// and on the in-band launch commands, and receives uploads at the
// bootloader menu. Writes at the wrong baud rate go unanswered.
type simDevice struct {
	mode    Mode
	family  Family
	appBaud int
	vendor  string
	board   string

	// nextFamily, when set, takes effect after the next completed
	// upload, modelling a firmware image of the other family.
	nextFamily Family

	baud    int
	pending []byte
	writes  [][]byte
	resets  []bool

	uploading bool
	expectBlk byte
	received  []byte
	uploads   int
	launches  int
}

func newSimDevice(family Family, appBaud int) *simDevice {
	return &simDevice{
		mode:    family.Mode(),
		family:  family,
		appBaud: appBaud,
		baud:    appBaud,
		vendor:  "Elelabs",
		board:   "ELU013",
	}
}

func (d *simDevice) Read(p []byte) (int, error) {
	if len(d.pending) == 0 {
		return 0, nil
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *simDevice) Write(p []byte) error {
	d.writes = append(d.writes, append([]byte(nil), p...))
	switch d.mode {
	case ModeZigbee:
		if d.baud == d.appBaud {
			d.handleASH(p)
		}
	case ModeThread:
		if d.baud == d.appBaud {
			d.handleHDLC(p)
		}
	case ModeBootloader:
		if d.baud == geckoBaud {
			d.handleBootloader(p)
		}
	}
	return nil
}

func (d *simDevice) SetReadTimeout(time.Duration) error { return nil }

func (d *simDevice) SetBaudRate(baud int) error {
	d.baud = baud
	return nil
}

func (d *simDevice) DiscardInput() error {
	d.pending = nil
	return nil
}

func (d *simDevice) AssertReset(_ time.Duration, bootloader bool) error {
	d.resets = append(d.resets, bootloader)
	d.pending = nil
	d.uploading = false
	if bootloader {
		d.mode = ModeBootloader
	} else {
		d.mode = d.family.Mode()
	}
	return nil
}

func (d *simDevice) Close() error { return nil }

func (d *simDevice) reply(p []byte) {
	d.pending = append(d.pending, p...)
}

func (d *simDevice) handleASH(p []byte) {
	if bytes.Equal(p, ashResetFrame) {
		d.reply(ashResetAck)
		return
	}
	_, payload, ok := ashDecodeRaw(p)
	if !ok || payload == nil {
		return
	}
	d.handleEZSP(payload)
}

func (d *simDevice) handleEZSP(cmd []byte) {
	seq := cmd[0]
	if len(cmd) == 4 && cmd[2] == 0x00 {
		// Legacy layout version command, the negotiation opener.
		d.reply(ashDeviceFrame([]byte{seq, 0x80, 0x00, 8, 2, 0x63, 0x26}))
		return
	}
	if len(cmd) < 6 || cmd[2] != 0x01 {
		return
	}
	switch cmd[3] {
	case ezspVersionCmd:
		d.reply(ashDeviceFrame([]byte{seq, 0x80, 0x01, 0x00, 0x00, 8, 2, 0x63, 0x26}))
	case ezspGetValueCmd:
		if cmd[5] == ezspValueVersionInfo {
			value := []byte{38, 0, 6, 10, 3, 0, 0}
			resp := append([]byte{seq, 0x80, 0x01, ezspGetValueCmd, 0x00, 0x00, byte(len(value))}, value...)
			d.reply(ashDeviceFrame(resp))
		}
	case ezspGetMfgTokenCmd:
		var tok []byte
		switch cmd[5] {
		case ezspMfgStringToken:
			tok = nulPadded(d.vendor, 8)
		case ezspMfgBoardNameToken:
			tok = nulPadded(d.board, 8)
		}
		resp := append([]byte{seq, 0x80, 0x01, ezspGetMfgTokenCmd, 0x00, byte(len(tok))}, tok...)
		d.reply(ashDeviceFrame(resp))
	case ezspLaunchStandaloneBootloader:
		d.reply(ashDeviceFrame([]byte{seq, 0x80, 0x01, ezspLaunchStandaloneBootloader, 0x00, 0x00}))
		d.launches++
		d.mode = ModeBootloader
	}
}

func (d *simDevice) handleHDLC(p []byte) {
	pkt, ok := hdlcDecodeRaw(p)
	if !ok {
		return
	}
	switch {
	case bytes.Equal(pkt, []byte{0x80, 0x01}):
		// Software reset, answered with a reset notification.
		d.reply(hdlcEncode([]byte{0x80, 0x06, 0x00, 0x72}))
	case bytes.Equal(pkt, []byte{0x81, 0x02, 0x01}):
		d.reply(hdlcEncode([]byte{0x81, 0x06, 0x01, 4, 3}))
	case bytes.Equal(pkt, []byte{0x81, 0x02, 0x02}):
		d.reply(hdlcEncode(append([]byte{0x81, 0x06, 0x02}, append([]byte("OPENTHREAD/1.2; EFR32"), 0)...)))
	case bytes.Equal(pkt, []byte{0x81, 0x02, 0x81, 0x78}):
		d.reply(hdlcEncode(append([]byte{0x81, 0x06, 0x81, 0x78}, append([]byte(d.vendor), 0)...)))
	case bytes.Equal(pkt, []byte{0x81, 0x02, 0x82, 0x78}):
		d.reply(hdlcEncode(append([]byte{0x81, 0x06, 0x82, 0x78}, append([]byte(d.board), 0)...)))
	case bytes.Equal(pkt, []byte{0x80, 0x80, 0x78}):
		// Vendor bootloader launch, the device reboots silently.
		d.launches++
		d.mode = ModeBootloader
	}
}

func (d *simDevice) handleBootloader(p []byte) {
	if d.uploading {
		if len(p) == xmodemBlockSize+4 && p[0] == xmodemSOH {
			blk, inv := p[1], p[2]
			var sum byte
			for _, b := range p[3 : 3+xmodemBlockSize] {
				sum += b
			}
			if inv != ^blk || blk != d.expectBlk || sum != p[len(p)-1] {
				d.reply([]byte{xmodemNAK})
				return
			}
			d.received = append(d.received, p[3:3+xmodemBlockSize]...)
			d.expectBlk++
			d.reply([]byte{xmodemACK})
			return
		}
		if len(p) == 1 && p[0] == xmodemEOT {
			d.uploading = false
			d.uploads++
			if d.nextFamily != 0 {
				d.family = d.nextFamily
				d.nextFamily = 0
			}
			d.reply([]byte{xmodemACK})
		}
		return
	}
	switch {
	case bytes.Equal(p, []byte{'\r'}):
		d.reply([]byte("\r\nGecko Bootloader v1.9.2\r\n1. upload gbl\r\n2. run\r\n3. ebl info\r\nBL > "))
	case bytes.Equal(p, []byte{'\n', geckoMenuUpload}):
		d.uploading = true
		d.expectBlk = 1
		d.received = nil
		d.reply([]byte("\r\nbegin upload\r\n"))
		d.reply([]byte{xmodemPoll})
	case bytes.Equal(p, []byte{geckoMenuRun}):
		d.launches++
		d.mode = d.family.Mode()
		d.pending = nil
	}
}
