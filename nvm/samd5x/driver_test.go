package samd5x

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sambaflash/sambaflash/samba"
	"github.com/sambaflash/sambaflash/transport"
)

// fakeNVMCTRL models the register file as a flat byte-addressable map,
// sufficient for both the word-oriented ADDR register and the
// byte-chained 16-bit CTRLA/CTRLB/INTFLAG/STATUS registers. INTFLAG bytes
// are write-one-to-clear, as on the real controller.
type fakeNVMCTRL struct {
	conn net.Conn
	mem  map[uint32]byte
}

func newFakeNVMCTRL(t *testing.T) (*samba.Client, *fakeNVMCTRL) {
	t.Helper()
	host, target := net.Pipe()
	t.Cleanup(func() { host.Close(); target.Close() })

	f := &fakeNVMCTRL{conn: target, mem: map[uint32]byte{}}
	go f.serve()

	return samba.New(transport.New(host)), f
}

func (f *fakeNVMCTRL) serve() {
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	for {
		n, err := f.conn.Read(tmp)
		if err != nil {
			return
		}
		buf = append(buf, tmp[:n]...)
		for {
			idx := -1
			for i, b := range buf {
				if b == '#' {
					idx = i
					break
				}
			}
			if idx < 0 {
				break
			}
			cmd := string(buf[:idx])
			buf = buf[idx+1:]
			if resp := f.handle(cmd); resp != nil {
				if _, err := f.conn.Write(resp); err != nil {
					return
				}
			}
		}
	}
}

func (f *fakeNVMCTRL) handle(cmd string) []byte {
	letter := cmd[0]
	rest := cmd[1:]
	comma := -1
	for i := 0; i < len(rest); i++ {
		if rest[i] == ',' {
			comma = i
			break
		}
	}
	var addr, extra uint32
	if comma >= 0 {
		hexParse(rest[:comma], &addr)
		hexParse(rest[comma+1:], &extra)
	} else {
		hexParse(rest, &addr)
	}

	switch letter {
	case 'o':
		return []byte{f.mem[addr]}
	case 'O':
		if addr == base+regINTFLAG || addr == base+regINTFLAG+1 {
			f.mem[addr] &^= byte(extra)
		} else {
			f.mem[addr] = byte(extra)
		}
		return nil
	case 'w':
		return []byte{f.mem[addr], f.mem[addr+1], f.mem[addr+2], f.mem[addr+3]}
	case 'W':
		f.mem[addr] = byte(extra)
		f.mem[addr+1] = byte(extra >> 8)
		f.mem[addr+2] = byte(extra >> 16)
		f.mem[addr+3] = byte(extra >> 24)
		return nil
	}
	return nil
}

func hexParse(s string, out *uint32) {
	var v uint32
	for i := 0; i < len(s); i++ {
		c := s[i]
		var d uint32
		switch {
		case c >= '0' && c <= '9':
			d = uint32(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint32(c-'a') + 10
		default:
			continue
		}
		v = v<<4 | d
	}
	*out = v
}

func (f *fakeNVMCTRL) set16(addr uint32, v uint16) {
	f.mem[addr] = byte(v)
	f.mem[addr+1] = byte(v >> 8)
}

func (f *fakeNVMCTRL) get16(addr uint32) uint16 {
	return uint16(f.mem[addr]) | uint16(f.mem[addr+1])<<8
}

const base = 0x41004000

func TestEncodeAddrIsIdentity(t *testing.T) {
	d := New(nil, base, 512, 0x00804000)
	require.Equal(t, uint32(0x1234), d.EncodeAddr(0x1234))
}

func TestWaitReadyReturnsOnceReadyBitSet(t *testing.T) {
	client, fake := newFakeNVMCTRL(t)
	fake.set16(base+regSTATUS, 0x01)
	d := New(client, base, 512, 0x00804000)
	require.NoError(t, d.WaitReady())
}

func TestEnterManualWriteAppliesWmodeTweak(t *testing.T) {
	client, fake := newFakeNVMCTRL(t)
	fake.set16(base+regCTRLA, 0xffff)
	d := New(client, base, 512, 0x00804000)

	require.NoError(t, d.EnterManualWrite())

	got := fake.get16(base + regCTRLA)
	require.Equal(t, uint16((0xffff|(0x3<<14))&0xffcf), got)
}

func TestIssueWriteCommitsOneQuadWordPerSixteenBytes(t *testing.T) {
	client, fake := newFakeNVMCTRL(t)
	fake.set16(base+regSTATUS, 0x01)
	d := New(client, base, 32, 0x00804000) // 32-byte page -> 2 quad words

	require.NoError(t, d.IssueWrite(0x4000))

	addr, err := client.ReadWord(base + regADDR)
	require.NoError(t, err)
	require.Equal(t, uint32(0x4000+16), addr, "ADDR should sit at the final quad word written")

	ctrlb := fake.get16(base + regCTRLB)
	require.Equal(t, uint16(commandKey|cmdWQW), ctrlb)
}

func TestCommandErrorClearsFlagAndReturnsFlashCmdError(t *testing.T) {
	client, fake := newFakeNVMCTRL(t)
	fake.set16(base+regSTATUS, 0x01)
	fake.set16(base+regINTFLAG, 0xce)

	d := New(client, base, 32, 0x00804000)
	err := d.command(cmdWQW)
	require.Error(t, err)
	require.Equal(t, uint16(0), fake.get16(base+regINTFLAG)&0xce)
}

func TestBod33DisableSemantics(t *testing.T) {
	d := New(nil, base, 512, 0x00804000)
	row := make([]byte, 16)

	d.EncodeBod(row, true)
	require.True(t, d.DecodeBod(row))
	require.Equal(t, byte(0), row[bod33ByteOffset]&bod33Mask)

	d.EncodeBod(row, false)
	require.False(t, d.DecodeBod(row))
	require.NotEqual(t, byte(0), row[bod33ByteOffset]&bod33Mask)
}

func TestBorRoundTrip(t *testing.T) {
	d := New(nil, base, 512, 0x00804000)
	row := make([]byte, 16)

	d.EncodeBor(row, true)
	require.True(t, d.DecodeBor(row))

	d.EncodeBor(row, false)
	require.False(t, d.DecodeBor(row))
}

func TestLockRegionsRoundTrip(t *testing.T) {
	d := New(nil, base, 512, 0x00804000)
	row := make([]byte, 16)

	want := []bool{true, false, true, true, false, false, true, false, true}
	d.EncodeLockRegions(row, len(want), want)
	got := d.DecodeLockRegions(row, len(want))

	require.Equal(t, want, got)
}
