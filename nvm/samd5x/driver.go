// Package samd5x implements nvm.Family for the SAMD5x/E5x NVM controller:
// a 16-bit command register accessed as two chained byte transfers, a
// byte-addressed ADDR register, block erase granularity, and
// quad-word-chunked page commits shared by ordinary pages and the user
// page alike.
package samd5x

import (
	"github.com/sambaflash/sambaflash/sambaerr"
	"github.com/sambaflash/sambaflash/samba"
)

// Register offsets from Base.
const (
	regCTRLA   = 0x00
	regCTRLB   = 0x04
	regINTFLAG = 0x10
	regSTATUS  = 0x12
	regADDR    = 0x14
	regRUNLOCK = 0x18
)

// Command codes written into CTRLB's low byte, OR'd with the 0xA500
// command key.
const (
	cmdEP  = 0x00 // erase page
	cmdEB  = 0x01 // erase block
	cmdWP  = 0x03 // write page
	cmdWQW = 0x04 // write quad word
	cmdLR  = 0x11 // lock region
	cmdUR  = 0x12 // unlock region
	cmdSSB = 0x15 // set security bit
	cmdPBC = 0x44 // page buffer clear
)

const commandKey = 0xa500

// pagesPerBlock is the device's erase granularity.
const pagesPerBlock = 16

// quadWordBytes is the fixed commit unit the WQW command writes: 16 bytes
// (four 32-bit words), regardless of the device's page size.
const quadWordBytes = 16

const (
	bod33ByteOffset = 0
	bod33Mask       = 0x01 // set = disabled
	borByteOffset   = 1
	borMask         = 0x02
	lockByteStart   = 8
)

// Driver implements nvm.Family for the D5x family's NVMCTRL.
type Driver struct {
	client      *samba.Client
	base        uint32
	pageSize    int
	userRowBase uint32
}

// New returns a Driver for the NVMCTRL instance at base, programming
// pages of pageSize bytes, with the user page located at userRowBase.
func New(client *samba.Client, base uint32, pageSize int, userRowBase uint32) *Driver {
	return &Driver{client: client, base: base, pageSize: pageSize, userRowBase: userRowBase}
}

func (d *Driver) EraseGranulePages() int { return pagesPerBlock }

// EncodeAddr is the identity function: D5x's ADDR register is byte
// addressed.
func (d *Driver) EncodeAddr(byteAddr uint32) uint32 { return byteAddr }

func (d *Driver) read16(addr uint32) (uint16, error) {
	lo, err := d.client.ReadByte(addr)
	if err != nil {
		return 0, err
	}
	hi, err := d.client.ReadByte(addr + 1)
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

func (d *Driver) write16(addr uint32, v uint16) error {
	if err := d.client.WriteByte(addr, byte(v)); err != nil {
		return err
	}
	return d.client.WriteByte(addr+1, byte(v>>8))
}

// WaitReady polls STATUS.READY (bit 0) until set.
func (d *Driver) WaitReady() error {
	for {
		status, err := d.read16(d.base + regSTATUS)
		if err != nil {
			return err
		}
		if status&0x01 != 0 {
			return nil
		}
	}
}

// EnterManualWrite applies the CTRLA WMODE tweak: set bits [15:14] (the
// two cache-disable bits) while clearing bits [5:4] (the WMODE field,
// whose zero value selects manual write), matching
// ((CTRLA | (0x3<<14)) & 0xFFCF).
func (d *Driver) EnterManualWrite() error {
	v, err := d.read16(d.base + regCTRLA)
	if err != nil {
		return err
	}
	v = (v | (0x3 << 14)) & 0xffcf
	return d.write16(d.base+regCTRLA, v)
}

func (d *Driver) command(cmd uint16) error {
	if err := d.WaitReady(); err != nil {
		return err
	}
	if err := d.write16(d.base+regCTRLB, commandKey|cmd); err != nil {
		return err
	}
	if err := d.WaitReady(); err != nil {
		return err
	}
	flag, err := d.read16(d.base + regINTFLAG)
	if err != nil {
		return err
	}
	if flag&0xce != 0 {
		d.write16(d.base+regINTFLAG, flag&0xce)
		return &sambaerr.FlashCmdError{Cmd: int(cmd), IntFlag: uint32(flag)}
	}
	return nil
}

func (d *Driver) ClearPageBuffer() error { return d.command(cmdPBC) }

func (d *Driver) setAddr(byteAddr uint32) error {
	return d.client.WriteWord(d.base+regADDR, d.EncodeAddr(byteAddr))
}

// issuePageCommit writes each 16-byte quad word of the page at dstAddr
// with its own WQW command: the applet run only bulk-copies the page into
// the controller's internal write buffer, one WQW per quad word is still
// required to actually commit it to flash.
func (d *Driver) issuePageCommit(dstAddr uint32) error {
	for off := 0; off < d.pageSize; off += quadWordBytes {
		if err := d.setAddr(dstAddr + uint32(off)); err != nil {
			return err
		}
		if err := d.command(cmdWQW); err != nil {
			return err
		}
	}
	return nil
}

// IssueWrite commits the page at dstAddr one quad word at a time.
func (d *Driver) IssueWrite(dstAddr uint32) error { return d.issuePageCommit(dstAddr) }

// IssueErase sets ADDR to the block containing startPage and issues the
// erase-block command.
func (d *Driver) IssueErase(startPage int) error {
	if err := d.setAddr(uint32(startPage * d.pageSize)); err != nil {
		return err
	}
	return d.command(cmdEB)
}

func (d *Driver) UserRowBase() uint32 { return d.userRowBase }
func (d *Driver) UserRowSize() int    { return d.pageSize }

// EraseUserRow uses the ordinary single-page erase command: D5x has no
// separate aux-row command, the user page is erased like any other page.
func (d *Driver) EraseUserRow() error {
	if err := d.setAddr(d.userRowBase); err != nil {
		return err
	}
	return d.command(cmdEP)
}

// IssueUserRowWrite commits the user page with the same quad-word loop as
// an ordinary page.
func (d *Driver) IssueUserRowWrite(dstAddr uint32) error { return d.issuePageCommit(dstAddr) }

func (d *Driver) SetSecurityBit() error { return d.command(cmdSSB) }

// DecodeBod's BOD33 semantics are inverted from BOR: the mask bit set means
// the brown-out detector is *disabled*.
func (d *Driver) DecodeBod(row []byte) bool {
	if len(row) <= bod33ByteOffset {
		return false
	}
	return row[bod33ByteOffset]&bod33Mask == 0
}

func (d *Driver) EncodeBod(row []byte, enabled bool) {
	if len(row) <= bod33ByteOffset {
		return
	}
	if enabled {
		row[bod33ByteOffset] &^= bod33Mask
	} else {
		row[bod33ByteOffset] |= bod33Mask
	}
}

func (d *Driver) DecodeBor(row []byte) bool {
	if len(row) <= borByteOffset {
		return false
	}
	return row[borByteOffset]&borMask != 0
}

func (d *Driver) EncodeBor(row []byte, enabled bool) {
	if len(row) <= borByteOffset {
		return
	}
	if enabled {
		row[borByteOffset] |= borMask
	} else {
		row[borByteOffset] &^= borMask
	}
}

func (d *Driver) DecodeLockRegions(row []byte, regions int) []bool {
	out := make([]bool, regions)
	for i := 0; i < regions; i++ {
		byteIdx := lockByteStart + i/8
		bit := uint(i % 8)
		if byteIdx >= len(row) {
			continue
		}
		out[i] = row[byteIdx]&(1<<bit) == 0
	}
	return out
}

func (d *Driver) EncodeLockRegions(row []byte, regions int, locked []bool) {
	for i := 0; i < regions && i < len(locked); i++ {
		byteIdx := lockByteStart + i/8
		bit := uint(i % 8)
		if byteIdx >= len(row) {
			continue
		}
		if locked[i] {
			row[byteIdx] &^= 1 << bit
		} else {
			row[byteIdx] |= 1 << bit
		}
	}
}
