package ncpboot

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors returned by probe and transfer operations.
var (
	// ErrProbeInconclusive indicates that no known protocol family matched
	// within the probe's retry budget. Callers may retry with a longer
	// read timeout or treat the device as unresponsive.
	ErrProbeInconclusive = errors.New("no known protocol matched within the probe budget")

	// ErrUserAbort indicates the operation was cancelled cooperatively,
	// typically by an interrupt between blocking reads.
	ErrUserAbort = errors.New("aborted by user")
)

// PortError indicates the serial device could not be opened or was lost
// mid-operation. It is fatal and never retried at this layer.
type PortError struct {
	Port string
	Op   string
	Err  error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("serial port %s: %s: %v", e.Port, e.Op, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

// isPortError reports whether err carries a PortError anywhere in its
// chain. Probe steps continue past protocol failures but stop on
// transport failures.
func isPortError(err error) bool {
	var pe *PortError
	return errors.As(err, &pe)
}

// ModeTransitionError indicates the reset-and-probe cycles were exhausted
// without the device reaching the requested state. LastState carries the
// final observation so the operator knows where the device ended up.
type ModeTransitionError struct {
	Target    BootTarget
	LastState DeviceState
}

func (e *ModeTransitionError) Error() string {
	return fmt.Sprintf("device did not reach %s state, last observed: %s", e.Target, e.LastState)
}

// TransferReason classifies why a firmware transfer aborted.
type TransferReason int

const (
	// RetryBudgetExceeded means a block (or the handshake or the final
	// end-of-transmission exchange) was rejected or timed out more times
	// than the configured budget allows.
	RetryBudgetExceeded TransferReason = iota

	// Cancelled means the device sent a cancel byte mid-transfer.
	Cancelled
)

func (r TransferReason) String() string {
	switch r {
	case RetryBudgetExceeded:
		return "retry budget exceeded"
	case Cancelled:
		return "cancelled by device"
	default:
		return fmt.Sprintf("transfer reason %d", int(r))
	}
}

// TransferError indicates a firmware transfer aborted. The device is left
// in the bootloader, which is the designed-safe recovery state: re-probe,
// then restart or flash again. Block is the 1-based index of the data
// block in flight, or 0 when the failure happened during the handshake or
// the end-of-transmission exchange.
type TransferError struct {
	Reason    TransferReason
	Block     int
	BytesSent int
}

func (e *TransferError) Error() string {
	if e.Block > 0 {
		return fmt.Sprintf("transfer aborted at block %d after %d bytes: %s", e.Block, e.BytesSent, e.Reason)
	}
	return fmt.Sprintf("transfer aborted after %d bytes: %s", e.BytesSent, e.Reason)
}
