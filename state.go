package ncpboot

import (
	"fmt"

	"github.com/pkg/errors"
)

// Mode is the operating state observed on the device. The three real
// modes are mutually exclusive; a probe that cannot tell reports
// ModeUnknown.
type Mode int

const (
	// ModeUnknown means no protocol family matched within the probe budget.
	ModeUnknown Mode = iota
	// ModeZigbee means the application firmware answered EZSP over ASH.
	ModeZigbee
	// ModeThread means the application firmware answered Spinel over HDLC.
	ModeThread
	// ModeBootloader means the Gecko recovery bootloader menu is running.
	ModeBootloader
)

func (m Mode) String() string {
	switch m {
	case ModeZigbee:
		return "zigbee"
	case ModeThread:
		return "thread"
	case ModeBootloader:
		return "bootloader"
	default:
		return "unknown"
	}
}

// Family identifies one of the two protocol families the normal-mode
// firmware can implement. The zero value means the family has not been
// declared, which is the case for images flashed directly from a file.
type Family int

const (
	FamilyZigbee Family = iota + 1
	FamilyThread
)

func (f Family) String() string {
	switch f {
	case FamilyZigbee:
		return "zigbee"
	case FamilyThread:
		return "thread"
	default:
		return "unspecified"
	}
}

// Mode returns the normal-mode state a device running this family reports.
func (f Family) Mode() Mode {
	if f == FamilyThread {
		return ModeThread
	}
	return ModeZigbee
}

// ParseFamily maps the operator-facing family names to their values.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "zigbee":
		return FamilyZigbee, nil
	case "thread":
		return FamilyThread, nil
	}
	return 0, errors.Errorf("unknown protocol family %q, expected zigbee or thread", s)
}

// BootTarget selects the destination of a mode transition.
type BootTarget int

const (
	// TargetNormal is the application firmware, whichever family it runs.
	TargetNormal BootTarget = iota
	// TargetBootloader is the Gecko recovery bootloader.
	TargetBootloader
)

func (t BootTarget) String() string {
	if t == TargetBootloader {
		return "bootloader"
	}
	return "normal"
}

// Matches reports whether a probed mode satisfies the target.
func (t BootTarget) Matches(m Mode) bool {
	if t == TargetBootloader {
		return m == ModeBootloader
	}
	return m == ModeZigbee || m == ModeThread
}

// ParseBootTarget maps the operator-facing mode names to targets.
func ParseBootTarget(s string) (BootTarget, error) {
	switch s {
	case "nrml":
		return TargetNormal, nil
	case "btl":
		return TargetBootloader, nil
	}
	return 0, errors.Errorf("unknown mode %q, expected nrml or btl", s)
}

// DeviceState describes the operating mode of the device together with
// whatever identity the firmware reported. Only the Prober constructs
// values of this type; exactly one mode is true at any instant, though a
// device observed mid-reset may still report a stale one.
type DeviceState struct {
	Mode Mode
	// Firmware is the version reported by the application firmware, or
	// the banner line when the bootloader is running.
	Firmware string
	// Protocol is the negotiated protocol version: the EZSP version for
	// zigbee, the Spinel version for thread.
	Protocol string
	// Vendor and Board come from the manufacturing tokens. Both are
	// empty for generic devices and in bootloader mode.
	Vendor string
	Board  string
}

func (s DeviceState) String() string {
	switch s.Mode {
	case ModeZigbee:
		return fmt.Sprintf("zigbee (firmware %s, EZSP v%s)", s.Firmware, s.Protocol)
	case ModeThread:
		return fmt.Sprintf("thread (firmware %s, spinel %s)", s.Firmware, s.Protocol)
	case ModeBootloader:
		if s.Firmware != "" {
			return fmt.Sprintf("bootloader (%s)", s.Firmware)
		}
		return "bootloader"
	default:
		return "unknown"
	}
}

// ProbeResult pairs a classified device state with the raw evidence that
// produced it, kept for diagnostics only.
type ProbeResult struct {
	State    DeviceState
	Evidence []byte
}
