package ncpboot

import (
	"time"

	"go.bug.st/serial"
)

// Control line hold times during a hardware reset. The boot select line
// must outlive the reset pulse for the ROM to sample it.
const (
	resetHold      = 100 * time.Millisecond
	bootSelectHold = 50 * time.Millisecond
)

// Link is the byte-stream transport the probe, mode controller and
// transfer engine run over. Exactly one operation may own the link at a
// time; the underlying hardware has no multiplexing.
type Link interface {
	// Read fills p with whatever arrives before the read timeout. A
	// timeout is not an error: it returns n == 0 and a nil error.
	Read(p []byte) (int, error)
	Write(p []byte) error
	// SetReadTimeout changes the window a single Read blocks for.
	SetReadTimeout(d time.Duration) error
	// SetBaudRate switches the line speed without reopening the port.
	SetBaudRate(baud int) error
	// DiscardInput drops bytes already received but not yet read.
	DiscardInput() error
	// AssertReset pulses the reset control line for the hold duration,
	// keeping the boot select line asserted when bootloader is true so
	// the device starts its recovery bootloader instead of the
	// application image.
	AssertReset(hold time.Duration, bootloader bool) error
	Close() error
}

type serialLink struct {
	name string
	mode serial.Mode
	port serial.Port
}

// Open opens the named serial port at the given baud rate with 8N1
// framing and a one second read timeout.
func Open(name string, baud int) (Link, error) {
	l := &serialLink{
		name: name,
		mode: serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
	port, err := serial.Open(name, &l.mode)
	if err != nil {
		return nil, &PortError{Port: name, Op: "open", Err: err}
	}
	l.port = port
	if err := port.SetReadTimeout(time.Second); err != nil {
		port.Close()
		return nil, &PortError{Port: name, Op: "set read timeout", Err: err}
	}
	// On Linux with USB serial ports, received data needs a moment to
	// make its way up the driver stack before a flush takes effect.
	// See https://stackoverflow.com/questions/13013387/clearing-the-serial-ports-buffer
	time.Sleep(time.Millisecond * 100)
	port.ResetInputBuffer()
	return l, nil
}

func (l *serialLink) Read(p []byte) (int, error) {
	n, err := l.port.Read(p)
	if err != nil {
		return n, &PortError{Port: l.name, Op: "read", Err: err}
	}
	return n, nil
}

func (l *serialLink) Write(p []byte) error {
	if _, err := l.port.Write(p); err != nil {
		return &PortError{Port: l.name, Op: "write", Err: err}
	}
	return nil
}

func (l *serialLink) SetReadTimeout(d time.Duration) error {
	if err := l.port.SetReadTimeout(d); err != nil {
		return &PortError{Port: l.name, Op: "set read timeout", Err: err}
	}
	return nil
}

func (l *serialLink) SetBaudRate(baud int) error {
	if baud == l.mode.BaudRate {
		return nil
	}
	l.mode.BaudRate = baud
	if err := l.port.SetMode(&l.mode); err != nil {
		return &PortError{Port: l.name, Op: "set baud rate", Err: err}
	}
	return nil
}

func (l *serialLink) DiscardInput() error {
	if err := l.port.ResetInputBuffer(); err != nil {
		return &PortError{Port: l.name, Op: "discard input", Err: err}
	}
	return nil
}

// AssertReset drives RTS as the reset line and DTR as the boot select
// line, the wiring used by adapter boards with the reset pads brought
// out to the serial converter.
func (l *serialLink) AssertReset(hold time.Duration, bootloader bool) error {
	if err := l.port.SetDTR(bootloader); err != nil {
		return &PortError{Port: l.name, Op: "set dtr", Err: err}
	}
	if err := l.port.SetRTS(true); err != nil {
		return &PortError{Port: l.name, Op: "set rts", Err: err}
	}
	time.Sleep(hold)
	if err := l.port.SetRTS(false); err != nil {
		return &PortError{Port: l.name, Op: "set rts", Err: err}
	}
	if bootloader {
		time.Sleep(bootSelectHold)
		if err := l.port.SetDTR(false); err != nil {
			return &PortError{Port: l.name, Op: "set dtr", Err: err}
		}
	}
	return nil
}

func (l *serialLink) Close() error {
	if err := l.port.Close(); err != nil {
		return &PortError{Port: l.name, Op: "close", Err: err}
	}
	return nil
}

// readByte performs one timed read of a single byte. ok is false when
// the read window elapsed with nothing received.
func readByte(l Link) (b byte, ok bool, err error) {
	var buf [1]byte
	n, err := l.Read(buf[:])
	if err != nil {
		return 0, false, err
	}
	return buf[0], n == 1, nil
}
