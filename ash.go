package ncpboot

import (
	"bytes"

	"github.com/pkg/errors"
)

// ASH framing constants.
const (
	ashFlag   = 0x7E
	ashEscape = 0x7D
	ashXOR    = 0x20

	ashRandomizeStart = 0x42
	ashRandomizeSeq   = 0xB8

	ashMaxFrame = 256
)

// The reset exchange uses fixed frames: a leading cancel byte, the RST
// frame with its CRC, and the closing flag. The NCP answers with an
// RSTACK frame carrying the reset reason.
var (
	ashResetFrame = []byte{0x1A, 0xC0, 0x38, 0xBC, 0x7E}
	ashResetAck   = []byte{0x1A, 0xC1, 0x02, 0x0B, 0x0A, 0x52, 0x7E}
)

// ashRandomize XORs data with the ASH pseudo-random sequence. The
// transform is its own inverse.
func ashRandomize(data []byte) []byte {
	rand := byte(ashRandomizeStart)
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ rand
		if rand&1 != 0 {
			rand = rand>>1 ^ ashRandomizeSeq
		} else {
			rand >>= 1
		}
	}
	return out
}

// crc16CCITT computes the CRC-CCITT (polynomial 0x1021) that trails
// every ASH frame.
func crc16CCITT(data []byte, crc uint16) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func ashIsReserved(b byte) bool {
	switch b {
	case 0x7E, 0x7D, 0x11, 0x13, 0x18, 0x1A:
		return true
	}
	return false
}

// ashStuff replaces reserved bytes with their two-byte escape form.
func ashStuff(data []byte) []byte {
	out := make([]byte, 0, len(data)+4)
	for _, b := range data {
		if ashIsReserved(b) {
			out = append(out, ashEscape, b^ashXOR)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// ashUnstuff reverts the escape sequences in a received frame.
func ashUnstuff(data []byte) []byte {
	out := make([]byte, 0, len(data))
	esc := false
	for _, b := range data {
		if esc {
			out = append(out, b^ashXOR)
			esc = false
			continue
		}
		if b == ashEscape {
			esc = true
			continue
		}
		out = append(out, b)
	}
	return out
}

// ashLink frames EZSP payloads for the ASH serial protocol, tracking the
// frame and ack counters across one session.
type ashLink struct {
	link   Link
	ackNum byte
	frmNum byte
}

func newASHLink(link Link) *ashLink {
	return &ashLink{link: link}
}

// reset clears pending input and performs the ASH reset exchange. The
// RSTACK reply must appear in the response for the session to be live.
func (a *ashLink) reset() error {
	if err := a.link.DiscardInput(); err != nil {
		return err
	}
	pkgLog.Tracef("ash tx % x", ashResetFrame)
	if err := a.link.Write(ashResetFrame); err != nil {
		return err
	}
	frame, err := a.readFrame()
	if err != nil {
		return err
	}
	if !bytes.Contains(frame, ashResetAck) {
		return errors.Errorf("unexpected reset reply % x", frame)
	}
	a.ackNum, a.frmNum = 0, 0
	return nil
}

// readFrame collects bytes up to and including the closing flag and
// reverts the escapes. A timeout before the first byte means the device
// is silent at this protocol.
func (a *ashLink) readFrame() ([]byte, error) {
	raw := make([]byte, 0, 64)
	for len(raw) < ashMaxFrame {
		b, ok, err := readByte(a.link)
		if err != nil {
			return nil, err
		}
		if !ok {
			if len(raw) == 0 {
				return nil, errors.New("no response before timeout")
			}
			return nil, errors.Errorf("frame interrupted after %d bytes", len(raw))
		}
		raw = append(raw, b)
		if b == ashFlag {
			frame := ashUnstuff(raw)
			pkgLog.Tracef("ash rx % x", frame)
			return frame, nil
		}
	}
	return nil, errors.Errorf("no frame terminator within %d bytes", ashMaxFrame)
}

// buildDataFrame wraps an EZSP payload in a DATA frame and advances the
// session counters.
func (a *ashLink) buildDataFrame(payload []byte) []byte {
	frame := []byte{a.ackNum | a.frmNum<<4}
	a.ackNum = (a.ackNum + 1) % 8
	a.frmNum = (a.frmNum + 1) % 8
	frame = append(frame, ashRandomize(payload)...)
	crc := crc16CCITT(frame, 0xFFFF)
	frame = append(frame, byte(crc>>8), byte(crc))
	frame = ashStuff(frame)
	return append(frame, ashFlag)
}

// sendAck acknowledges a received DATA frame. The argument is the
// control byte of the frame being acknowledged.
func (a *ashLink) sendAck(ctrl byte) error {
	ack := []byte{ctrl&0x07 | 0x80}
	crc := crc16CCITT(ack, 0xFFFF)
	ack = append(ack, byte(crc>>8), byte(crc))
	ack = ashStuff(ack)
	ack = append(ack, ashFlag)
	pkgLog.Tracef("ash ack % x", ack)
	return a.link.Write(ack)
}

// exchange sends one EZSP payload and returns the response payload with
// the randomization removed, acknowledging the response frame.
func (a *ashLink) exchange(payload []byte) ([]byte, error) {
	frame := a.buildDataFrame(payload)
	if err := a.link.DiscardInput(); err != nil {
		return nil, err
	}
	pkgLog.Tracef("ash tx % x", frame)
	if err := a.link.Write(frame); err != nil {
		return nil, err
	}
	resp, err := a.readFrame()
	if err != nil {
		return nil, err
	}
	if len(resp) < 4 {
		return nil, errors.Errorf("ash frame too short: % x", resp)
	}
	if err := a.sendAck(resp[0]); err != nil {
		return nil, err
	}
	decoded := ashRandomize(resp[1 : len(resp)-3])
	pkgLog.Debugf("ezsp rx % x", decoded)
	return decoded, nil
}
