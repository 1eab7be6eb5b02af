package samba

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambaflash/sambaflash/transport"
)

// fakeTarget drives the "target" end of a pipe, reading ASCII commands and
// invoking a per-command responder.
type fakeTarget struct {
	conn    net.Conn
	respond func(cmd string) []byte
}

func newFakeTarget(t *testing.T, respond func(cmd string) []byte) (*Client, *fakeTarget) {
	t.Helper()
	host, target := net.Pipe()
	t.Cleanup(func() { host.Close(); target.Close() })

	ft := &fakeTarget{conn: target, respond: respond}
	go ft.serve()

	return New(transport.New(host)), ft
}

func (f *fakeTarget) serve() {
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	for {
		n, err := f.conn.Read(tmp)
		if err != nil {
			return
		}
		buf = append(buf, tmp[:n]...)
		for {
			idx := indexByte(buf, '#')
			if idx < 0 {
				break
			}
			cmd := string(buf[:idx])
			buf = buf[idx+1:]
			if f.respond == nil {
				continue
			}
			if resp := f.respond(cmd); resp != nil {
				if _, err := f.conn.Write(resp); err != nil {
					return
				}
			}
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func TestReadByte(t *testing.T) {
	require := require.New(t)

	c, _ := newFakeTarget(t, func(cmd string) []byte {
		require.Equal("o00001000,4", cmd)
		return []byte{0x42}
	})

	v, err := c.ReadByte(0x1000)
	require.NoError(err)
	require.Equal(byte(0x42), v)
}

func TestWriteWordCompletesBeforeReturning(t *testing.T) {
	require := require.New(t)

	seen := make(chan string, 1)
	c, _ := newFakeTarget(t, func(cmd string) []byte {
		seen <- cmd
		return nil
	})

	require.NoError(c.WriteWord(0x2000, 0xDEADBEEF))
	select {
	case cmd := <-seen:
		require.Equal("W00002000,deadbeef", cmd)
	case <-time.After(time.Second):
		t.Fatal("command never sent")
	}
}

func TestReadWordLittleEndian(t *testing.T) {
	require := require.New(t)

	c, _ := newFakeTarget(t, func(cmd string) []byte {
		require.Equal("w00000000,4", cmd)
		return []byte{0x78, 0x56, 0x34, 0x12}
	})

	v, err := c.ReadWord(0)
	require.NoError(err)
	require.Equal(uint32(0x12345678), v)
}

func TestChipEraseRequiresLeadingX(t *testing.T) {
	require := require.New(t)

	c, _ := newFakeTarget(t, func(cmd string) []byte {
		return []byte("Xok")
	})

	require.NoError(c.ChipErase(0))
}

func TestChipEraseProtocolMismatch(t *testing.T) {
	require := require.New(t)

	c, _ := newFakeTarget(t, func(cmd string) []byte {
		return []byte("zzz")
	})

	err := c.ChipErase(0)
	require.Error(err)
}

func TestParseCapabilitiesSetsAllFlags(t *testing.T) {
	assert := assert.New(t)

	c, _ := newFakeTarget(t, nil)
	c.parseCapabilities("v1.1 [Arduino:XYZP] Jan 1 2020")

	assert.True(c.CanChipErase())
	assert.True(c.CanWriteBuffer())
	assert.True(c.CanChecksumBuffer())
	assert.True(c.CanProtect())
	assert.Equal(63, c.t.ReadBufferSize)
}

func TestParseCapabilitiesNoneWithoutBracket(t *testing.T) {
	assert := assert.New(t)

	c, _ := newFakeTarget(t, nil)
	c.parseCapabilities("v1.1 Jan 1 2020")

	assert.False(c.CanChipErase())
	assert.False(c.CanWriteBuffer())
	assert.False(c.CanChecksumBuffer())
	assert.False(c.CanProtect())
	assert.Equal(0, c.t.ReadBufferSize)
}

func TestReadUSBQuirkSplitsFirstByte(t *testing.T) {
	require := require.New(t)

	var commands []string
	c, _ := newFakeTarget(t, func(cmd string) []byte {
		commands = append(commands, cmd)
		if cmd == "o00000000,4" {
			return []byte{0xAA}
		}
		return make([]byte, 63)
	})

	data, err := c.Read(0, 64)
	require.NoError(err)
	require.Len(data, 64)
	require.Equal([]string{"o00000000,4", "R00000001,3f"}, commands)
}

func TestReadWithoutQuirkForNonPowerOfTwo(t *testing.T) {
	require := require.New(t)

	var commands []string
	c, _ := newFakeTarget(t, func(cmd string) []byte {
		commands = append(commands, cmd)
		return make([]byte, 48)
	})

	data, err := c.Read(0, 48)
	require.NoError(err)
	require.Len(data, 48)
	require.Equal([]string{"R00000000,30"}, commands)
}
