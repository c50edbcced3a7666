package ncpboot

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
)

// Spinel headers, commands and properties used by the probe and mode
// controller.
const (
	spinelHeaderAsync   = 0x80
	spinelHeaderDefault = 0x81

	spinelCmdReset        = 1
	spinelCmdPropValueGet = 2

	spinelPropProtocolVersion = 1
	spinelPropNCPVersion      = 2
	spinelPropMfgString       = 0x3C01
	spinelPropMfgBoardName    = 0x3C02

	// Vendor command that reboots the NCP into the bootloader.
	spinelCmdLaunchBootloader = 15360
)

const spinelVersionRetries = 5

// packedInt renders a value in Spinel packed integer form, seven bits
// per byte with a continuation flag, least significant group first.
// Zero encodes to nothing.
func packedInt(v uint) []byte {
	var out []byte
	for v != 0 {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

// spinelClient speaks the Spinel control protocol over an HDLC-lite link.
type spinelClient struct {
	hdlc    *hdlcLink
	version string
}

func newSpinelClient(link Link) *spinelClient {
	return &spinelClient{hdlc: &hdlcLink{link: link}}
}

func (s *spinelClient) command(header byte, cmd uint, payload []byte) ([]byte, error) {
	pkt := append([]byte{header}, packedInt(cmd)...)
	pkt = append(pkt, payload...)
	pkgLog.Debugf("spinel tx % x", pkt)
	resp, err := s.hdlc.exchange(pkt)
	if err != nil {
		return nil, err
	}
	pkgLog.Debugf("spinel rx % x", resp)
	return resp, nil
}

// connect resets the NCP and reads the Spinel protocol version. A reset
// frame coming back verbatim is the bootloader echoing our bytes, not a
// Spinel response.
func (s *spinelClient) connect() error {
	pkt := append([]byte{spinelHeaderAsync}, packedInt(spinelCmdReset)...)
	pkgLog.Debugf("spinel tx % x", pkt)
	resp, err := s.hdlc.exchange(pkt)
	if err != nil {
		return err
	}
	if bytes.Equal(resp, pkt) {
		return errors.New("reset frame echoed back")
	}
	pkgLog.Debugf("spinel rx % x", resp)

	for attempt := 0; attempt < spinelVersionRetries; attempt++ {
		resp, err := s.command(spinelHeaderDefault, spinelCmdPropValueGet, packedInt(spinelPropProtocolVersion))
		if err != nil {
			return err
		}
		if len(resp) < 5 || resp[2] != spinelPropProtocolVersion {
			continue
		}
		s.version = fmt.Sprintf("%d.%d", resp[3], resp[4])
		pkgLog.Debugf("spinel v%s detected", s.version)
		return nil
	}
	return errors.New("protocol version not reported")
}

// propValueGet reads a Spinel property. The reply echoes the property id
// before the value; ids above one byte shift the value accordingly.
func (s *spinelClient) propValueGet(prop uint) ([]byte, error) {
	if prop > 0xFFFF {
		return nil, errors.Errorf("property id %#x out of range", prop)
	}
	resp, err := s.command(spinelHeaderDefault, spinelCmdPropValueGet, packedInt(prop))
	if err != nil {
		return nil, err
	}
	offset := 3
	if prop > 0xFF {
		offset = 4
	}
	if len(resp) < offset {
		return nil, errors.Errorf("property reply too short: % x", resp)
	}
	return resp[offset:], nil
}

// launchBootloader issues the vendor bootloader command. The NCP reboots
// without replying, so only transport failures are surfaced.
func (s *spinelClient) launchBootloader() error {
	pkt := append([]byte{spinelHeaderAsync}, packedInt(spinelCmdLaunchBootloader)...)
	pkgLog.Debugf("spinel tx % x", pkt)
	if _, err := s.hdlc.exchange(pkt); err != nil {
		if isPortError(err) {
			return err
		}
		pkgLog.Debugf("no reply to bootloader launch: %v", err)
	}
	return nil
}
