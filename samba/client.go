// Package samba implements the SAM-BA bootloader's typed memory-access
// protocol: byte/word/block read and write, remote code execution, chip
// erase, buffer write, and checksum, plus capability discovery from the
// bootloader's version banner.
package samba

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/sambaflash/sambaflash/sambaerr"
	"github.com/sambaflash/sambaflash/transport"
)

// Client issues SAM-BA commands over a Transport and parses their replies.
// All commands are serialized; a Client has no pipelining.
type Client struct {
	t        *transport.Transport
	timeouts transport.Timeouts
}

// New wraps an already-connected Transport.
func New(t *transport.Transport) *Client {
	return &Client{t: t, timeouts: transport.DefaultTimeouts()}
}

// CanChipErase, CanWriteBuffer, and CanChecksumBuffer report capability
// flags discovered by Connect.
func (c *Client) CanChipErase() bool      { return c.t.CanChipErase }
func (c *Client) CanWriteBuffer() bool    { return c.t.CanWriteBuffer }
func (c *Client) CanChecksumBuffer() bool { return c.t.CanChecksumBuffer }
func (c *Client) CanProtect() bool        { return c.t.CanProtect }

func hexAddr(v uint32) string { return fmt.Sprintf("%08x", v) }
func hexByte(v uint8) string  { return fmt.Sprintf("%02x", v) }
func hexWord(v uint32) string { return fmt.Sprintf("%08x", v) }

// Connect sends the one-time binary-mode handshake and reads the version
// banner, populating capability flags.
func (c *Client) Connect() error {
	if err := c.SetBinaryMode(); err != nil {
		return err
	}
	version, err := c.ReadVersion()
	if err != nil {
		return err
	}
	c.parseCapabilities(version)
	return nil
}

// SetBinaryMode sends the one-time binary-mode handshake ('N').
func (c *Client) SetBinaryMode() error {
	if err := c.t.SendCommand("N", nil); err != nil {
		return err
	}
	resp := c.t.ReadBuffer(c.timeouts.Short, 2)
	if len(resp) != 2 {
		return &sambaerr.TransportTimeoutError{Op: "setBinaryMode", Timeout: c.timeouts.Short}
	}
	return nil
}

// ReadVersion sends 'V' and returns the (CRLF-stripped) version banner.
func (c *Client) ReadVersion() (string, error) {
	if err := c.t.SendCommand("V", nil); err != nil {
		return "", err
	}
	resp := c.t.ReadBuffer(c.timeouts.Normal, 0)
	if len(resp) == 0 {
		return "", &sambaerr.TransportTimeoutError{Op: "readVersion", Timeout: c.timeouts.Normal}
	}
	return string(transport.StripTerminator(resp)), nil
}

func (c *Client) parseCapabilities(version string) {
	start := strings.Index(version, "[Arduino:")
	if start < 0 {
		return
	}
	body := version[start+len("[Arduino:"):]
	end := strings.IndexByte(body, ']')
	if end < 0 {
		return
	}
	body = body[:end]
	for _, ch := range body {
		switch ch {
		case 'X':
			c.t.CanChipErase = true
		case 'Y':
			c.t.CanWriteBuffer = true
		case 'Z':
			c.t.CanChecksumBuffer = true
		case 'P':
			c.t.CanProtect = true
		}
	}
	c.t.ReadBufferSize = 63
}

// ReadByte reads a single byte at addr ('o').
func (c *Client) ReadByte(addr uint32) (byte, error) {
	cmd := fmt.Sprintf("o%s,4", hexAddr(addr))
	if err := c.t.SendCommand(cmd, nil); err != nil {
		return 0, err
	}
	resp := c.t.ReadBuffer(c.timeouts.Normal, 1)
	if len(resp) != 1 {
		return 0, &sambaerr.TransportTimeoutError{Op: "readByte", Timeout: c.timeouts.Normal}
	}
	return resp[0], nil
}

// WriteByte writes a single byte at addr ('O'). SendCommand blocks on the
// underlying stream write, so the write completes before this call
// returns and cannot race the next command.
func (c *Client) WriteByte(addr uint32, val uint8) error {
	cmd := fmt.Sprintf("O%s,%s", hexAddr(addr), hexByte(val))
	return c.t.SendCommand(cmd, nil)
}

// ReadWord reads a little-endian 32-bit word at addr ('w').
func (c *Client) ReadWord(addr uint32) (uint32, error) {
	cmd := fmt.Sprintf("w%s,4", hexAddr(addr))
	if err := c.t.SendCommand(cmd, nil); err != nil {
		return 0, err
	}
	resp := c.t.ReadBuffer(c.timeouts.Normal, 4)
	if len(resp) != 4 {
		return 0, &sambaerr.TransportTimeoutError{Op: "readWord", Timeout: c.timeouts.Normal}
	}
	return binary.LittleEndian.Uint32(resp), nil
}

// WriteWord writes a 32-bit word at addr ('W').
func (c *Client) WriteWord(addr, val uint32) error {
	cmd := fmt.Sprintf("W%s,%s", hexAddr(addr), hexWord(val))
	return c.t.SendCommand(cmd, nil)
}

const usbChunkThreshold = 32

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

// Read reads size bytes starting at addr ('R'), applying the USB read
// quirk: when no explicit ReadBufferSize is advertised and size is both
// greater than 32 and a power of two, the first byte is read individually
// via readByte and the remainder chunked; otherwise reads are chunked to
// ReadBufferSize when it is set, or issued in one shot.
func (c *Client) Read(addr uint32, size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}

	rbs := c.t.ReadBufferSize
	if rbs == 0 && size > usbChunkThreshold && isPowerOfTwo(size) {
		first, err := c.ReadByte(addr)
		if err != nil {
			return nil, err
		}
		rest, err := c.readChunked(addr+1, size-1, size-1)
		if err != nil {
			return nil, err
		}
		return append([]byte{first}, rest...), nil
	}

	if rbs > 0 {
		return c.readChunked(addr, size, rbs)
	}
	return c.readRaw(addr, size)
}

func (c *Client) readChunked(addr uint32, size, chunk int) ([]byte, error) {
	if chunk <= 0 || chunk > size {
		chunk = size
	}
	out := make([]byte, 0, size)
	for len(out) < size {
		n := chunk
		if size-len(out) < n {
			n = size - len(out)
		}
		b, err := c.readRaw(addr, n)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
		addr += uint32(n)
	}
	return out, nil
}

func (c *Client) readRaw(addr uint32, size int) ([]byte, error) {
	cmd := fmt.Sprintf("R%s,%x", hexAddr(addr), size)
	if err := c.t.SendCommand(cmd, nil); err != nil {
		return nil, err
	}
	resp := c.t.ReadBuffer(c.timeouts.Normal, size)
	if len(resp) != size {
		return nil, &sambaerr.TransportTimeoutError{Op: "read", Timeout: c.timeouts.Normal}
	}
	return resp, nil
}

// Write writes data starting at addr ('S').
func (c *Client) Write(addr uint32, data []byte) error {
	cmd := fmt.Sprintf("S%s,%s", hexAddr(addr), hexWord(uint32(len(data))))
	return c.t.SendCommand(cmd, data)
}

// Go executes code at addr ('G').
func (c *Client) Go(addr uint32) error {
	cmd := fmt.Sprintf("G%s", hexAddr(addr))
	return c.t.SendCommand(cmd, nil)
}

func expectLetter(op string, resp []byte, want byte, minLen int) error {
	if len(resp) < minLen {
		return &sambaerr.ProtocolError{Op: op, Reason: "response too short"}
	}
	if resp[0] != want {
		return &sambaerr.ProtocolError{Op: op, Reason: fmt.Sprintf("expected leading %q, got %q", want, resp[0])}
	}
	return nil
}

// ChipErase issues a full chip erase ('X'). The caller must check
// CanChipErase first.
func (c *Client) ChipErase(addr uint32) error {
	cmd := fmt.Sprintf("X%s", hexAddr(addr))
	if err := c.t.SendCommand(cmd, nil); err != nil {
		return err
	}
	resp := c.t.ReadBuffer(c.timeouts.VeryLong, 3)
	if len(resp) == 0 {
		return &sambaerr.TransportTimeoutError{Op: "chipErase", Timeout: c.timeouts.VeryLong}
	}
	return expectLetter("chipErase", resp, 'X', 3)
}

// WriteBuffer commits size bytes from src (an SRAM page buffer) to dst via
// the bootloader's two-phase buffer-write command ('Y'). The caller must
// check CanWriteBuffer first.
func (c *Client) WriteBuffer(src, dst uint32, size int) error {
	setSrc := fmt.Sprintf("Y%s,0", hexAddr(src))
	if err := c.t.SendCommand(setSrc, nil); err != nil {
		return err
	}
	resp := c.t.ReadBuffer(c.timeouts.Normal, 3)
	if len(resp) == 0 {
		return &sambaerr.TransportTimeoutError{Op: "writeBuffer/src", Timeout: c.timeouts.Normal}
	}
	if err := expectLetter("writeBuffer/src", resp, 'Y', 3); err != nil {
		return err
	}

	commit := fmt.Sprintf("Y%s,%s", hexAddr(dst), hexWord(uint32(size)))
	if err := c.t.SendCommand(commit, nil); err != nil {
		return err
	}
	resp = c.t.ReadBuffer(c.timeouts.Long, 3)
	if len(resp) == 0 {
		return &sambaerr.TransportTimeoutError{Op: "writeBuffer/dst", Timeout: c.timeouts.Long}
	}
	return expectLetter("writeBuffer/dst", resp, 'Y', 3)
}

// ChecksumBuffer computes a CRC over size bytes at addr via the
// bootloader's checksum command ('Z'). The caller must check
// CanChecksumBuffer first.
func (c *Client) ChecksumBuffer(addr uint32, size int) (uint32, error) {
	cmd := fmt.Sprintf("Z%s,%x", hexAddr(addr), size)
	if err := c.t.SendCommand(cmd, nil); err != nil {
		return 0, err
	}
	resp := c.t.ReadBuffer(c.timeouts.Normal, 12)
	if len(resp) < 9 {
		return 0, &sambaerr.TransportTimeoutError{Op: "checksumBuffer", Timeout: c.timeouts.Normal}
	}
	if err := expectLetter("checksumBuffer", resp, 'Z', 9); err != nil {
		return 0, err
	}
	var crc uint32
	if _, err := fmt.Sscanf(string(resp[1:9]), "%08x", &crc); err != nil {
		return 0, &sambaerr.ProtocolError{Op: "checksumBuffer", Reason: "malformed CRC field"}
	}
	return crc, nil
}
