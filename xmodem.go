package ncpboot

import (
	"time"

	"github.com/pkg/errors"
)

// XMODEM control bytes.
const (
	xmodemSOH  = 0x01
	xmodemEOT  = 0x04
	xmodemACK  = 0x06
	xmodemNAK  = 0x15
	xmodemCAN  = 0x18
	xmodemPoll = 0x43 // 'C', sent by the receiver when it is ready
	xmodemPad  = 0x1A
)

const (
	xmodemBlockSize = 128

	// Transmissions allowed per frame before the transfer aborts.
	xmodemRetryLimit = 10

	// Read attempts allowed while waiting for the first ready poll.
	xmodemHandshakeWindow = 10
)

// ProgressFunc receives the running payload byte count after every
// acknowledged block. total is the full image size.
type ProgressFunc func(sent, total int)

// TransferOutcome summarizes a completed firmware transfer.
type TransferOutcome struct {
	// Blocks is the number of data blocks acknowledged.
	Blocks int
	// BytesSent counts delivered payload bytes, padding excluded.
	BytesSent int
	// Retries counts frames retransmitted across the whole session.
	Retries int
}

// XModem streams a firmware image with the 128 byte checksum variant of
// the XMODEM protocol. The receiver must already be at its transfer
// prompt; Send then owns the link until the session ends.
type XModem struct {
	Link Link
	// RetryLimit is how many times a single frame may be transmitted
	// before the transfer aborts. Zero means the default.
	RetryLimit int
	// AckTimeout bounds each read while waiting for a poll or an
	// acknowledgement. Zero means one second.
	AckTimeout time.Duration
	// HandshakeWindow is the number of read attempts allowed while
	// waiting for the first ready poll. Zero means the default.
	HandshakeWindow int
	// Progress, when set, observes every acknowledged block.
	Progress ProgressFunc
	// Interrupt aborts the transfer between blocking reads when it
	// closes.
	Interrupt <-chan struct{}
}

// NewXModem returns a sender with the default retry budget and timings.
func NewXModem(link Link) *XModem {
	return &XModem{Link: link}
}

// Send streams data to the receiver, blocking until the transfer
// completes or aborts. The returned outcome is valid even on failure
// and reflects how far the session got.
func (x *XModem) Send(data []byte) (TransferOutcome, error) {
	var out TransferOutcome
	if len(data) == 0 {
		return out, errors.New("empty image")
	}
	if err := x.Link.SetReadTimeout(x.ackTimeout()); err != nil {
		return out, err
	}
	if err := x.handshake(); err != nil {
		return out, err
	}

	blk := byte(1)
	for offset := 0; offset < len(data); offset += xmodemBlockSize {
		chunk := data[offset:]
		if len(chunk) > xmodemBlockSize {
			chunk = chunk[:xmodemBlockSize]
		}
		frame := xmodemFrame(blk, chunk)
		retries, err := x.sendFrame(frame, out.Blocks+1, out.BytesSent)
		out.Retries += retries
		if err != nil {
			return out, err
		}
		out.Blocks++
		out.BytesSent += len(chunk)
		blk++
		if x.Progress != nil {
			x.Progress(out.BytesSent, len(data))
		}
	}

	retries, err := x.sendFrame([]byte{xmodemEOT}, 0, out.BytesSent)
	out.Retries += retries
	if err != nil {
		return out, err
	}
	return out, nil
}

// handshake waits for the receiver's ready poll. The receiver drives
// the session start by emitting 'C' or NAK until the first block
// arrives; queued polls are dropped so the first acknowledgement read
// lines up with the first block.
func (x *XModem) handshake() error {
	for attempt := 0; attempt < x.handshakeWindow(); attempt++ {
		if err := x.interrupted(); err != nil {
			return err
		}
		b, ok, err := readByte(x.Link)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		switch b {
		case xmodemPoll, xmodemNAK:
			return x.Link.DiscardInput()
		case xmodemCAN:
			return &TransferError{Reason: Cancelled}
		}
	}
	return &TransferError{Reason: RetryBudgetExceeded}
}

// sendFrame transmits one frame until the receiver acknowledges it, up
// to the retry budget. block is the 1-based data block index, or 0 for
// the end-of-transmission marker. It returns the number of
// retransmissions beyond the first attempt.
func (x *XModem) sendFrame(frame []byte, block, sent int) (int, error) {
	for tx := 0; tx < x.retryLimit(); tx++ {
		if err := x.interrupted(); err != nil {
			return tx, err
		}
		if err := x.Link.Write(frame); err != nil {
			return tx, err
		}
		b, ok, err := readByte(x.Link)
		if err != nil {
			return tx, err
		}
		if ok {
			if b == xmodemACK {
				return tx, nil
			}
			if b == xmodemCAN {
				return tx, &TransferError{Reason: Cancelled, Block: block, BytesSent: sent}
			}
		}
		// NAK, a corrupted byte and silence all mean the same thing:
		// the frame was not accepted.
		pkgLog.Debugf("block %d not acknowledged, resending", block)
	}
	return x.retryLimit() - 1, &TransferError{Reason: RetryBudgetExceeded, Block: block, BytesSent: sent}
}

// xmodemFrame wraps up to 128 payload bytes in a numbered frame, padding
// short payloads and closing with the additive checksum.
func xmodemFrame(blk byte, payload []byte) []byte {
	frame := make([]byte, 0, xmodemBlockSize+4)
	frame = append(frame, xmodemSOH, blk, ^blk)
	var sum byte
	for i := 0; i < xmodemBlockSize; i++ {
		b := byte(xmodemPad)
		if i < len(payload) {
			b = payload[i]
		}
		frame = append(frame, b)
		sum += b
	}
	return append(frame, sum)
}

func (x *XModem) retryLimit() int {
	if x.RetryLimit > 0 {
		return x.RetryLimit
	}
	return xmodemRetryLimit
}

func (x *XModem) ackTimeout() time.Duration {
	if x.AckTimeout > 0 {
		return x.AckTimeout
	}
	return time.Second
}

func (x *XModem) handshakeWindow() int {
	if x.HandshakeWindow > 0 {
		return x.HandshakeWindow
	}
	return xmodemHandshakeWindow
}

func (x *XModem) interrupted() error {
	if x.Interrupt == nil {
		return nil
	}
	select {
	case <-x.Interrupt:
		return ErrUserAbort
	default:
		return nil
	}
}
