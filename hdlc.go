package ncpboot

import (
	"github.com/pkg/errors"
)

// HDLC-lite framing constants.
const (
	hdlcFlag   = 0x7E
	hdlcEscape = 0x7D
	hdlcXOR    = 0x20

	hdlcMaxFrame = 512
)

// FCS16 parameters, the RFC 1662 frame check sequence.
const (
	hdlcFCSInit = 0xFFFF
	hdlcFCSPoly = 0x8408
	hdlcFCSGood = 0xF0B8
)

var hdlcFCSTable = mkFCSTable()

func mkFCSTable() [256]uint16 {
	var tab [256]uint16
	for b := 0; b < 256; b++ {
		fcs := uint16(b)
		for i := 0; i < 8; i++ {
			if fcs&1 != 0 {
				fcs = fcs>>1 ^ hdlcFCSPoly
			} else {
				fcs >>= 1
			}
		}
		tab[b] = fcs
	}
	return tab
}

func fcs16(fcs uint16, b byte) uint16 {
	return fcs>>8 ^ hdlcFCSTable[byte(fcs)^b]
}

func hdlcAppend(dst []byte, b byte) []byte {
	if b == hdlcFlag || b == hdlcEscape {
		return append(dst, hdlcEscape, b^hdlcXOR)
	}
	return append(dst, b)
}

// hdlcEncode wraps a payload in flags, escaping the flag and escape
// bytes and appending the inverted FCS, low byte first.
func hdlcEncode(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+6)
	out = append(out, hdlcFlag)
	fcs := uint16(hdlcFCSInit)
	for _, b := range payload {
		fcs = fcs16(fcs, b)
		out = hdlcAppend(out, b)
	}
	fcs ^= 0xFFFF
	out = hdlcAppend(out, byte(fcs))
	out = hdlcAppend(out, byte(fcs>>8))
	return append(out, hdlcFlag)
}

// hdlcLink frames Spinel packets with HDLC-lite byte stuffing and the
// 16 bit frame check sequence.
type hdlcLink struct {
	link Link
}

// readFrame skips leading flags, unescapes the body and verifies the
// running FCS, returning the payload without the checksum.
func (h *hdlcLink) readFrame() ([]byte, error) {
	fcs := uint16(hdlcFCSInit)
	packet := make([]byte, 0, 64)
	for len(packet) < hdlcMaxFrame {
		b, ok, err := readByte(h.link)
		if err != nil {
			return nil, err
		}
		if !ok {
			if len(packet) == 0 {
				return nil, errors.New("no response before timeout")
			}
			return nil, errors.Errorf("frame interrupted after %d bytes", len(packet))
		}
		if b == hdlcFlag {
			if len(packet) == 0 {
				continue
			}
			pkgLog.Tracef("hdlc rx 7e % x 7e", packet)
			if fcs != hdlcFCSGood {
				return nil, errors.Errorf("bad frame check sequence %#04x", fcs)
			}
			return packet[:len(packet)-2], nil
		}
		if b == hdlcEscape {
			b, ok, err = readByte(h.link)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, errors.New("frame interrupted inside an escape")
			}
			b ^= hdlcXOR
		}
		packet = append(packet, b)
		fcs = fcs16(fcs, b)
	}
	return nil, errors.Errorf("no frame terminator within %d bytes", hdlcMaxFrame)
}

// exchange writes one frame and reads the next frame back.
func (h *hdlcLink) exchange(payload []byte) ([]byte, error) {
	frame := hdlcEncode(payload)
	pkgLog.Tracef("hdlc tx % x", frame)
	if err := h.link.Write(frame); err != nil {
		return nil, err
	}
	return h.readFrame()
}
