package ncpboot

import (
	"fmt"

	"github.com/pkg/errors"
)

// EZSP frame ids used by the probe and mode controller.
const (
	ezspVersionCmd                 = 0x00
	ezspGetMfgTokenCmd             = 0x0B
	ezspLaunchStandaloneBootloader = 0x8F
	ezspGetValueCmd                = 0xAA
)

// EZSP value ids, token ids and command parameters.
const (
	ezspValueVersionInfo     = 0x11
	ezspMfgStringToken       = 0x01
	ezspMfgBoardNameToken    = 0x02
	ezspBootloaderNormalMode = 1

	ezspInitialVersion = 4
)

// ezspClient speaks the EZSP application protocol over an ASH link. The
// frame layout depends on the negotiated protocol version, so connect
// must run before any other command.
type ezspClient struct {
	ash     *ashLink
	seq     byte
	version byte
}

func newEZSPClient(link Link) *ezspClient {
	return &ezspClient{ash: newASHLink(link), version: ezspInitialVersion}
}

// buildFrame wraps an EZSP command in the header for the negotiated
// protocol version. Version 5 added the legacy frame id and the extended
// control byte; version 8 moved to 16 bit frame ids.
func (e *ezspClient) buildFrame(command []byte) []byte {
	frame := []byte{e.seq, 0x00}
	e.seq = (e.seq + 1) % 255
	if e.version >= 5 {
		frame = append(frame, 0xFF, 0x00)
	}
	frame = append(frame, command...)
	if e.version >= 8 {
		frame[2] = 0x01
		frame[3] = command[0] // frame id LSB
		frame[4] = 0x00       // frame id MSB
	}
	return frame
}

func (e *ezspClient) command(cmd []byte) ([]byte, error) {
	frame := e.buildFrame(cmd)
	pkgLog.Debugf("ezsp tx % x", frame)
	return e.ash.exchange(frame)
}

// connect resets the ASH layer and negotiates the EZSP protocol version,
// repeating the version command at the device's version when it differs
// from the initial one.
func (e *ezspClient) connect() error {
	if err := e.ash.reset(); err != nil {
		return err
	}
	version, err := e.sendVersion(ezspInitialVersion)
	if err != nil {
		return err
	}
	pkgLog.Debugf("ezsp v%d detected", version)
	if version != ezspInitialVersion {
		e.version = version
		if _, err := e.sendVersion(version); err != nil {
			return err
		}
	}
	return nil
}

func (e *ezspClient) sendVersion(desired byte) (byte, error) {
	resp, err := e.command([]byte{ezspVersionCmd, desired})
	if err != nil {
		return 0, err
	}
	if len(resp) < 4 {
		return 0, errors.Errorf("version reply too short: % x", resp)
	}
	return resp[3], nil
}

// getValue reads an EZSP value, clamped to the length the device declares.
func (e *ezspClient) getValue(id byte) ([]byte, error) {
	resp, err := e.command([]byte{ezspGetValueCmd, id})
	if err != nil {
		return nil, err
	}
	if len(resp) < 7 {
		return nil, errors.Errorf("getValue reply too short: % x", resp)
	}
	if resp[5] != 0 {
		return nil, errors.Errorf("getValue %#02x returned status %d", id, resp[5])
	}
	value := resp[7:]
	if n := int(resp[6]); n < len(value) {
		value = value[:n]
	}
	return value, nil
}

// getMfgToken reads a manufacturing token from the device's info block.
func (e *ezspClient) getMfgToken(id byte) ([]byte, error) {
	resp, err := e.command([]byte{ezspGetMfgTokenCmd, id})
	if err != nil {
		return nil, err
	}
	if len(resp) < 6 {
		return nil, errors.Errorf("getMfgToken reply too short: % x", resp)
	}
	data := resp[6:]
	if n := int(resp[5]); n < len(data) {
		data = data[:n]
	}
	return data, nil
}

// launchBootloader asks the application firmware to reboot into the
// standalone bootloader.
func (e *ezspClient) launchBootloader() error {
	resp, err := e.command([]byte{ezspLaunchStandaloneBootloader, ezspBootloaderNormalMode})
	if err != nil {
		return err
	}
	if len(resp) < 6 || resp[5] != 0 {
		return errors.Errorf("bootloader launch rejected: % x", resp)
	}
	return nil
}

// ezspStackVersion renders the VERSION_INFO value as maj.min.patch-build.
func ezspStackVersion(value []byte) string {
	if len(value) < 5 {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d-%d", value[2], value[3], value[4], value[0])
}
