// Package ncpboot probes the operating mode of serial-attached radio
// network co-processors and transfers firmware into their recovery
// bootloader.
//
// The package contains four main components. Prober classifies the
// device as running Zigbee (EZSP over ASH) firmware, Thread (Spinel
// over HDLC) firmware or the Gecko recovery bootloader. ModeController
// drives the device between the normal and bootloader states using an
// injectable reset primitive plus probe confirmation. XModem streams a
// firmware image into the bootloader with the classic 128 byte checksum
// block protocol. Updater composes all three into the operator-facing
// probe, restart, flash and update commands.
//
// Also included is a command line tool, found in the cmd/ncpboot
// directory, that serves as both an example on how to use the library
// and a fully functional host program for updating adapters.
package ncpboot

import (
	"time"

	"github.com/pkg/errors"
)

// Baud rate the application firmware runs at unless configured otherwise.
const defaultAppBaud = 115200

// Options configures an Updater.
type Options struct {
	// Baud is the application firmware rate. The bootloader always
	// runs at 115200 regardless. Zero means 115200.
	Baud int
	// ResetLines selects the RTS/DTR control line reset instead of the
	// in-band protocol commands.
	ResetLines bool
	// Settle overrides the post-reset boot wait.
	Settle time.Duration
	// Attempts overrides the reset-and-probe budget per transition.
	Attempts int
	// Interrupt aborts the running operation between blocking reads
	// when it closes.
	Interrupt <-chan struct{}
	// Progress observes firmware transfer completion, if set.
	Progress ProgressFunc
}

// Updater composes the prober, mode controller and transfer engine into
// the commands the host tool exposes.
type Updater struct {
	link   Link
	opts   Options
	prober *Prober
	modes  *ModeController
}

// NewUpdater wires an Updater over an open link.
func NewUpdater(link Link, opts Options) *Updater {
	if opts.Baud == 0 {
		opts.Baud = defaultAppBaud
	}
	prober := NewProber(link, opts.Baud)
	var reset Resetter = CommandReset{}
	if opts.ResetLines {
		reset = LineReset{}
	}
	modes := NewModeController(link, prober, reset)
	modes.Settle = opts.Settle
	modes.Attempts = opts.Attempts
	modes.Interrupt = opts.Interrupt
	return &Updater{link: link, opts: opts, prober: prober, modes: modes}
}

// Probe reports the device's current state. An unresponsive device is
// an ErrProbeInconclusive error alongside the Unknown result.
func (u *Updater) Probe() (ProbeResult, error) {
	res, err := u.prober.Probe()
	if err != nil {
		return res, err
	}
	if res.State.Mode == ModeUnknown {
		return res, ErrProbeInconclusive
	}
	return res, nil
}

// Restart moves the device into the requested state and returns the
// confirming probe.
func (u *Updater) Restart(target BootTarget) (ProbeResult, error) {
	return u.modes.Enter(target)
}

// Flash moves the device into the bootloader if needed and streams the
// image. The device is left at the bootloader menu, so a failed
// transfer can be retried immediately and a successful one confirmed
// with a restart into normal mode.
func (u *Updater) Flash(img *FirmwareImage) (TransferOutcome, error) {
	if _, err := u.modes.Enter(TargetBootloader); err != nil {
		return TransferOutcome{}, err
	}
	if err := selectUpload(u.link); err != nil {
		return TransferOutcome{}, err
	}
	pkgLog.Infof("uploading %s (%d bytes)", img.Name, img.Size())
	x := NewXModem(u.link)
	x.Progress = u.opts.Progress
	x.Interrupt = u.opts.Interrupt
	out, err := x.Send(img.Data)
	if err != nil {
		return out, err
	}
	pkgLog.Infof("upload complete, %d blocks", out.Blocks)
	return out, nil
}

// Update flashes the newest catalog image for the requested family and
// boots it, returning the confirming probe of the new firmware.
func (u *Updater) Update(family Family, catalog Catalog) (ProbeResult, error) {
	res, err := u.Probe()
	if err != nil {
		return res, err
	}
	if res.State.Mode == ModeBootloader {
		return res, errors.New("device is in bootloader mode, restart it into normal mode or flash an image directly")
	}
	if res.State.Board == "" {
		return res, errors.New("device did not report a board name, flash an image directly")
	}
	img, err := catalog.Latest(res.State.Board, family)
	if err != nil {
		return res, err
	}
	if _, err := u.Flash(img); err != nil {
		return res, err
	}
	final, err := u.modes.Enter(TargetNormal)
	if err != nil {
		return final, err
	}
	if final.State.Mode != family.Mode() {
		return final, errors.Errorf("device came back in %s state, expected %s", final.State.Mode, family.Mode())
	}
	return final, nil
}
