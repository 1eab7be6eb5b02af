// Package transport implements the SAM-BA wire framing: ASCII commands
// terminated by '#', optional binary payloads, and reply collection with
// timeout, over an already-open byte stream. Opening, configuring, and
// closing the underlying serial port is the caller's responsibility; this
// package only consumes an io.ReadWriteCloser.
package transport

import (
	"io"
	"sync"
	"time"

	"github.com/sambaflash/sambaflash/bytebuf"
)

// interMessageDelay is the quiet time observed before writing a binary
// payload that follows an ASCII command.
const interMessageDelay = 50 * time.Millisecond

// terminator bytes that may close an ASCII reply. The wire table in this
// protocol is inconsistent about CR/LF ordering between commands (version
// replies end CRLF, checksum replies end LF-then-CR), so both bytes are
// recognized regardless of order rather than assuming one fixed sequence.
const (
	cr = 0x0D
	lf = 0x0A
)

// Timeouts holds the four timeout budgets used by SAM-BA operations.
type Timeouts struct {
	Short    time.Duration // sync / no-op commands
	Normal   time.Duration // memory access
	Long     time.Duration // region erase
	VeryLong time.Duration // chip erase
}

// DefaultTimeouts returns the timeout budget specified for this protocol.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Short:    100 * time.Millisecond,
		Normal:   time.Second,
		Long:     5 * time.Second,
		VeryLong: 300 * time.Second,
	}
}

// Transport frames commands and collects replies over a byte stream. A
// single background goroutine drains the stream into an input buffer; all
// commands are serialized by the caller (the SAM-BA client never issues a
// second command before consuming or timing out the first reply).
type Transport struct {
	rw io.ReadWriteCloser

	mu     sync.Mutex
	in     *bytebuf.Buffer
	closed bool

	notify chan struct{}

	// CanChipErase, CanWriteBuffer, CanChecksumBuffer, and CanProtect are
	// capability flags parsed from the bootloader's version banner.
	CanChipErase      bool
	CanWriteBuffer    bool
	CanChecksumBuffer bool
	CanProtect        bool

	// ReadBufferSize caps the size of a single binary read; 0 means
	// unlimited (the board has no USB chunking quirk).
	ReadBufferSize int
}

// New starts the background reader over rw and returns a ready Transport.
func New(rw io.ReadWriteCloser) *Transport {
	t := &Transport{
		rw:     rw,
		in:     bytebuf.New(256),
		notify: make(chan struct{}, 1),
	}
	go t.readLoop()
	return t
}

// Close releases the underlying stream. The background reader exits on its
// next read error.
func (t *Transport) Close() error {
	return t.rw.Close()
}

func (t *Transport) readLoop() {
	buf := make([]byte, 512)
	for {
		n, err := t.rw.Read(buf)
		if n > 0 {
			t.mu.Lock()
			t.in.Copy(buf[:n])
			t.mu.Unlock()
			t.wake()
		}
		if err != nil {
			t.mu.Lock()
			t.closed = true
			t.mu.Unlock()
			t.wake()
			return
		}
	}
}

func (t *Transport) wake() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// SendCommand writes an ASCII command terminated by '#', then, if payload
// is non-empty, waits the inter-message quiet time and writes payload.
func (t *Transport) SendCommand(cmd string, payload []byte) error {
	if _, err := io.WriteString(t.rw, cmd+"#"); err != nil {
		return err
	}
	if len(payload) > 0 {
		time.Sleep(interMessageDelay)
		if _, err := t.rw.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadBuffer accumulates bytes from the background reader until either
// expectedSize bytes have arrived, a trailing NUL byte is seen after at
// least two bytes, or timeout elapses. On timeout, or once the stream has
// closed, it returns nil; callers map that to a TransportTimeoutError with
// operation-specific context.
func (t *Transport) ReadBuffer(timeout time.Duration, expectedSize int) []byte {
	deadline := time.Now().Add(timeout)
	for {
		t.mu.Lock()
		view := t.in.View()
		ready := (expectedSize > 0 && len(view) >= expectedSize) ||
			(len(view) >= 2 && view[len(view)-1] == 0x00)
		closed := t.closed
		var out []byte
		if ready {
			out = append([]byte(nil), view...)
			t.in.Reset()
		}
		t.mu.Unlock()

		if ready {
			return out
		}
		if closed {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		select {
		case <-t.notify:
		case <-time.After(remaining):
			return nil
		}
	}
}

// StripTerminator removes a trailing two-byte CR/LF terminator (in either
// order) from an ASCII reply, if present.
func StripTerminator(b []byte) []byte {
	if len(b) < 2 {
		return b
	}
	last, prev := b[len(b)-1], b[len(b)-2]
	if (last == lf && prev == cr) || (last == cr && prev == lf) {
		return b[:len(b)-2]
	}
	return b
}
