package ncpboot

import (
	"strconv"
	"strings"
	"time"
)

const probeReadTimeout = 3 * time.Second

// Vendor string that marks adapters whose board name token can be
// trusted for catalog lookups.
const vendorElelabs = "Elelabs"

// Prober classifies the operating mode of the attached device without
// prior knowledge of which firmware is running. Queries go out in a
// fixed order over the single physical line; the first family whose
// response matches wins, and a malformed or missing response rules that
// family out.
type Prober struct {
	Link Link
	// AppBaud is the rate the application firmware runs at. The
	// bootloader console always runs at 115200.
	AppBaud int
	// ReadTimeout bounds each blocking read during the probe.
	ReadTimeout time.Duration
}

// NewProber returns a Prober with the default read timeout.
func NewProber(link Link, appBaud int) *Prober {
	return &Prober{Link: link, AppBaud: appBaud, ReadTimeout: probeReadTimeout}
}

// Probe runs the classification sequence: EZSP, then Spinel, then the
// bootloader banner. An unresponsive or ambiguous device yields
// ModeUnknown with a nil error; transport failures are returned as
// errors.
func (p *Prober) Probe() (ProbeResult, error) {
	if err := p.Link.SetReadTimeout(p.ReadTimeout); err != nil {
		return ProbeResult{}, err
	}

	res, err := p.probeZigbee()
	if err != nil || res.State.Mode != ModeUnknown {
		return res, err
	}
	res, err = p.probeThread()
	if err != nil || res.State.Mode != ModeUnknown {
		return res, err
	}
	res, err = p.probeBootloader()
	if err != nil || res.State.Mode != ModeUnknown {
		return res, err
	}
	pkgLog.Debugf("no response in zigbee, thread or bootloader mode")
	return ProbeResult{}, nil
}

func (p *Prober) probeZigbee() (ProbeResult, error) {
	if err := p.Link.SetBaudRate(p.AppBaud); err != nil {
		return ProbeResult{}, err
	}
	ezsp := newEZSPClient(p.Link)
	if err := ezsp.connect(); err != nil {
		if isPortError(err) {
			return ProbeResult{}, err
		}
		pkgLog.Debugf("not zigbee: %v", err)
		return ProbeResult{}, nil
	}

	state := DeviceState{Mode: ModeZigbee, Protocol: strconv.Itoa(int(ezsp.version))}
	value, err := ezsp.getValue(ezspValueVersionInfo)
	if err != nil {
		if isPortError(err) {
			return ProbeResult{}, err
		}
		pkgLog.Debugf("version info unavailable: %v", err)
	} else {
		state.Firmware = ezspStackVersion(value)
	}

	vendor, err := ezsp.getMfgToken(ezspMfgStringToken)
	if err != nil {
		if isPortError(err) {
			return ProbeResult{}, err
		}
		pkgLog.Debugf("mfg string unavailable: %v", err)
	}
	state.Vendor = tokenString(vendor)
	if state.Vendor == vendorElelabs {
		board, err := ezsp.getMfgToken(ezspMfgBoardNameToken)
		if err != nil {
			if isPortError(err) {
				return ProbeResult{}, err
			}
			pkgLog.Debugf("board name unavailable: %v", err)
		}
		state.Board = tokenString(board)
	}
	return ProbeResult{State: state, Evidence: value}, nil
}

func (p *Prober) probeThread() (ProbeResult, error) {
	if err := p.Link.SetBaudRate(p.AppBaud); err != nil {
		return ProbeResult{}, err
	}
	if err := p.Link.DiscardInput(); err != nil {
		return ProbeResult{}, err
	}
	spinel := newSpinelClient(p.Link)
	if err := spinel.connect(); err != nil {
		if isPortError(err) {
			return ProbeResult{}, err
		}
		pkgLog.Debugf("not thread: %v", err)
		return ProbeResult{}, nil
	}

	state := DeviceState{Mode: ModeThread, Protocol: spinel.version}
	var evidence []byte
	value, err := spinel.propValueGet(spinelPropNCPVersion)
	if err != nil {
		if isPortError(err) {
			return ProbeResult{}, err
		}
		pkgLog.Debugf("ncp version unavailable: %v", err)
	} else {
		state.Firmware = tokenString(value)
		evidence = value
	}

	value, err = spinel.propValueGet(spinelPropMfgString)
	if err != nil {
		if isPortError(err) {
			return ProbeResult{}, err
		}
		pkgLog.Debugf("mfg string unavailable: %v", err)
	}
	state.Vendor = tokenString(value)
	if state.Vendor == vendorElelabs {
		board, err := spinel.propValueGet(spinelPropMfgBoardName)
		if err != nil {
			if isPortError(err) {
				return ProbeResult{}, err
			}
			pkgLog.Debugf("board name unavailable: %v", err)
		}
		state.Board = tokenString(board)
	}
	return ProbeResult{State: state, Evidence: evidence}, nil
}

func (p *Prober) probeBootloader() (ProbeResult, error) {
	banner, ok, err := probeBanner(p.Link)
	if err != nil {
		return ProbeResult{}, err
	}
	if !ok {
		return ProbeResult{}, nil
	}
	state := DeviceState{Mode: ModeBootloader, Firmware: banner}
	return ProbeResult{State: state, Evidence: []byte(banner)}, nil
}

// tokenString renders a manufacturing token as text, trimming the NUL
// padding the tokens are stored with.
func tokenString(data []byte) string {
	return strings.TrimRight(string(data), "\x00")
}
