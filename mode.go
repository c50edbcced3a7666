package ncpboot

import (
	"time"

	"github.com/pkg/errors"
)

// Boot settle and retry defaults for mode transitions.
const (
	defaultSettle   = 2 * time.Second
	defaultAttempts = 3
)

// ModeController drives the device between the normal and bootloader
// states via reset signaling plus probe confirmation.
type ModeController struct {
	Link   Link
	Prober *Prober
	Reset  Resetter
	// Settle is how long the boot sequence is given after a reset
	// before reprobing. Zero means the default.
	Settle time.Duration
	// Attempts bounds the reset-and-probe cycles per transition. Zero
	// means the default.
	Attempts int
	// Interrupt aborts the transition between cycles when it closes.
	Interrupt <-chan struct{}

	sleep func(time.Duration)
}

// NewModeController returns a controller with the default settle delay
// and attempt budget.
func NewModeController(link Link, prober *Prober, reset Resetter) *ModeController {
	return &ModeController{Link: link, Prober: prober, Reset: reset}
}

// Enter moves the device into the target state and returns the
// confirming probe result. A device already in the target state is left
// untouched.
func (m *ModeController) Enter(target BootTarget) (ProbeResult, error) {
	res, err := m.Prober.Probe()
	if err != nil {
		return res, err
	}
	if target.Matches(res.State.Mode) {
		pkgLog.Debugf("already in %s state", target)
		return res, nil
	}

	last := res.State
	for attempt := 0; attempt < m.attempts(); attempt++ {
		if err := m.interrupted(); err != nil {
			return ProbeResult{}, err
		}
		pkgLog.Debugf("switching to %s state, attempt %d of %d", target, attempt+1, m.attempts())
		if err := m.Reset.Reset(m.Link, target, last); err != nil {
			return ProbeResult{}, errors.Wrapf(err, "reset toward %s state", target)
		}
		m.wait(m.settle())
		res, err := m.Prober.Probe()
		if err != nil {
			return res, err
		}
		if target.Matches(res.State.Mode) {
			return res, nil
		}
		last = res.State
	}
	return ProbeResult{}, &ModeTransitionError{Target: target, LastState: last}
}

func (m *ModeController) settle() time.Duration {
	if m.Settle > 0 {
		return m.Settle
	}
	return defaultSettle
}

func (m *ModeController) attempts() int {
	if m.Attempts > 0 {
		return m.Attempts
	}
	return defaultAttempts
}

func (m *ModeController) wait(d time.Duration) {
	if m.sleep != nil {
		m.sleep(d)
		return
	}
	time.Sleep(d)
}

func (m *ModeController) interrupted() error {
	if m.Interrupt == nil {
		return nil
	}
	select {
	case <-m.Interrupt:
		return ErrUserAbort
	default:
		return nil
	}
}
