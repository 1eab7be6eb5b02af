package transport

import "golang.org/x/sys/unix"

// SerialConfig describes the serial port parameters this protocol expects
// at connect time. Opening, applying, and closing the port is an external
// collaborator's responsibility (§1); this type only expresses the exact
// bit pattern that opener needs, the same way the protocol table expresses
// wire fields as fixed-width hex rather than native integers.
type SerialConfig struct {
	BaudRate            uint32
	DataBits            int
	StopBits            int
	HardwareFlowControl bool
	ReadChunkHint       int
}

// DefaultSerialConfig returns the connect-time parameters specified for
// this protocol: 921600 baud, 8N1, hardware flow control, 63-byte chunking.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate:            921600,
		DataBits:            8,
		StopBits:            1,
		HardwareFlowControl: true,
		ReadChunkHint:       63,
	}
}

// Termios renders the config as a POSIX termios structure in raw 8N1 mode,
// for callers that open the port via a raw file descriptor. Only
// HardwareFlowControl is taken from c: the speed is always 921600 baud and
// the framing always 8N1, whatever BaudRate, DataBits and StopBits hold.
func (c SerialConfig) Termios() unix.Termios {
	var t unix.Termios

	t.Cflag = unix.B921600 | unix.CS8 | unix.CREAD | unix.CLOCAL
	if c.HardwareFlowControl {
		t.Cflag |= unix.CRTSCTS
	}
	t.Ispeed = unix.B921600
	t.Ospeed = unix.B921600

	// Raw mode: no input/output/line-discipline processing, one byte at a
	// time with no inter-character timeout.
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	return t
}
