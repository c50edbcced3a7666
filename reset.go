package ncpboot

import (
	"time"

	"github.com/pkg/errors"
)

// A Resetter reboots the device toward the requested boot target. Reset
// signaling varies by board, so the mode controller takes the primitive
// as a dependency; last is the most recent probed state, which the
// in-band resetter needs to pick a protocol.
type Resetter interface {
	Reset(link Link, target BootTarget, last DeviceState) error
}

// LineReset reboots the device by pulsing the reset control line,
// holding the boot select line when the bootloader is the target. Works
// only on adapters with the reset pads wired to the RTS/DTR lines.
type LineReset struct {
	// Hold is how long the reset line is held. Zero means the default.
	Hold time.Duration
}

func (r LineReset) Reset(link Link, target BootTarget, _ DeviceState) error {
	hold := r.Hold
	if hold == 0 {
		hold = resetHold
	}
	pkgLog.Debugf("pulsing reset line for %v, bootloader select %v", hold, target == TargetBootloader)
	return link.AssertReset(hold, target == TargetBootloader)
}

// CommandReset reboots the device in band: the application firmware is
// asked to launch the bootloader over its own protocol, and the
// bootloader menu is asked to run the application. This is the only
// reset path for adapters without wired reset lines.
type CommandReset struct{}

func (CommandReset) Reset(link Link, target BootTarget, last DeviceState) error {
	if target == TargetBootloader {
		switch last.Mode {
		case ModeZigbee:
			ezsp := newEZSPClient(link)
			if err := ezsp.connect(); err != nil {
				return errors.Wrap(err, "bootloader launch")
			}
			return ezsp.launchBootloader()
		case ModeThread:
			if last.Board == "" {
				return errors.New("generic thread NCPs expose no bootloader launch command, restart the device manually")
			}
			spinel := newSpinelClient(link)
			if err := spinel.connect(); err != nil {
				return errors.Wrap(err, "bootloader launch")
			}
			return spinel.launchBootloader()
		default:
			return errors.Errorf("no bootloader launch path from %s state", last.Mode)
		}
	}
	if last.Mode == ModeBootloader {
		return runApp(link)
	}
	return errors.Errorf("no application launch path from %s state", last.Mode)
}
