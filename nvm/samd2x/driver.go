// Package samd2x implements nvm.Family for the SAMD2x/L21/R21 NVM
// controller: a 16-bit command register gated by the 0xA5 command key, a
// half-word address register, and a dedicated auxiliary-row command pair
// for the user row.
package samd2x

import (
	"github.com/sambaflash/sambaflash/sambaerr"
	"github.com/sambaflash/sambaflash/samba"
)

// Register offsets from Base.
const (
	regCTRLA   = 0x00
	regCTRLB   = 0x04
	regINTFLAG = 0x14
	regSTATUS  = 0x18
	regADDR    = 0x1c
	regLOCK    = 0x20
)

// Command codes written into CTRLA's low byte, OR'd with the 0xA500
// command key.
const (
	cmdER  = 0x02 // erase row
	cmdWP  = 0x04 // write page
	cmdEAR = 0x05 // erase auxiliary row
	cmdWAP = 0x06 // write auxiliary page
	cmdLR  = 0x40 // lock region
	cmdUR  = 0x41 // unlock region
	cmdSSB = 0x45 // set security bit
	cmdPBC = 0x44 // page buffer clear
)

const commandKey = 0xa500

// pagesPerRow is the device's erase granularity: four pages share a row.
const pagesPerRow = 4

// userRowPages is the user row's size, in ordinary flash pages.
const userRowPages = 4

const (
	bodByteOffset = 1
	bodMask       = 0x06
	borByteOffset = 1
	borMask       = 0x07
	lockByteStart = 6
)

// Driver implements nvm.Family for the D2x family's NVMCTRL.
type Driver struct {
	client      *samba.Client
	base        uint32
	pageSize    int
	userRowBase uint32
}

// New returns a Driver for the NVMCTRL instance at base, programming
// pages of pageSize bytes, with the user row located at userRowBase.
func New(client *samba.Client, base uint32, pageSize int, userRowBase uint32) *Driver {
	return &Driver{client: client, base: base, pageSize: pageSize, userRowBase: userRowBase}
}

func (d *Driver) EraseGranulePages() int { return pagesPerRow }

// EncodeAddr returns byteAddr/2: the D2x ADDR register is expressed in
// half-words.
func (d *Driver) EncodeAddr(byteAddr uint32) uint32 { return byteAddr / 2 }

// WaitReady polls INTFLAG.READY (bit 0) until set.
func (d *Driver) WaitReady() error {
	for {
		flag, err := d.client.ReadByte(d.base + regINTFLAG)
		if err != nil {
			return err
		}
		if flag&0x01 != 0 {
			return nil
		}
	}
}

// EnterManualWrite sets CTRLB.MANW (bit 7), so page writes require an
// explicit WP command instead of committing automatically on the final
// buffer write, and CTRLB.CACHEDIS (bit 18), disabling the NVM cache so
// reads after a write see the freshly written data.
func (d *Driver) EnterManualWrite() error {
	v, err := d.client.ReadWord(d.base + regCTRLB)
	if err != nil {
		return err
	}
	return d.client.WriteWord(d.base+regCTRLB, v|(1<<7)|(1<<18))
}

func (d *Driver) command(cmd uint8) error {
	if err := d.WaitReady(); err != nil {
		return err
	}
	if err := d.client.WriteWord(d.base+regCTRLA, commandKey|uint32(cmd)); err != nil {
		return err
	}
	if err := d.WaitReady(); err != nil {
		return err
	}
	flag, err := d.client.ReadByte(d.base + regINTFLAG)
	if err != nil {
		return err
	}
	if flag&0x02 != 0 {
		d.client.WriteByte(d.base+regINTFLAG, flag&0x02)
		return &sambaerr.FlashCmdError{Cmd: int(cmd), IntFlag: uint32(flag)}
	}
	return nil
}

func (d *Driver) ClearPageBuffer() error { return d.command(cmdPBC) }

func (d *Driver) setAddr(byteAddr uint32) error {
	return d.client.WriteWord(d.base+regADDR, d.EncodeAddr(byteAddr))
}

// IssueWrite sets ADDR to dstAddr and issues the write-page command.
func (d *Driver) IssueWrite(dstAddr uint32) error {
	if err := d.setAddr(dstAddr); err != nil {
		return err
	}
	return d.command(cmdWP)
}

// IssueErase sets ADDR to the row containing startPage and issues the
// erase-row command.
func (d *Driver) IssueErase(startPage int) error {
	if err := d.setAddr(uint32(startPage * d.pageSize)); err != nil {
		return err
	}
	return d.command(cmdER)
}

func (d *Driver) UserRowBase() uint32 { return d.userRowBase }
func (d *Driver) UserRowSize() int    { return userRowPages * d.pageSize }

// EraseUserRow uses the dedicated auxiliary-row erase command; D2x's
// ordinary ER command cannot target the user row.
func (d *Driver) EraseUserRow() error {
	if err := d.setAddr(d.userRowBase); err != nil {
		return err
	}
	return d.command(cmdEAR)
}

// IssueUserRowWrite uses the dedicated auxiliary-page write command.
func (d *Driver) IssueUserRowWrite(dstAddr uint32) error {
	if err := d.setAddr(dstAddr); err != nil {
		return err
	}
	return d.command(cmdWAP)
}

func (d *Driver) SetSecurityBit() error { return d.command(cmdSSB) }

func (d *Driver) DecodeBod(row []byte) bool {
	if len(row) <= bodByteOffset {
		return false
	}
	return row[bodByteOffset]&bodMask == 0
}

func (d *Driver) EncodeBod(row []byte, enabled bool) {
	if len(row) <= bodByteOffset {
		return
	}
	if enabled {
		row[bodByteOffset] &^= bodMask
	} else {
		row[bodByteOffset] |= bodMask
	}
}

func (d *Driver) DecodeBor(row []byte) bool {
	if len(row) <= borByteOffset {
		return false
	}
	return row[borByteOffset]&borMask == 0
}

func (d *Driver) EncodeBor(row []byte, enabled bool) {
	if len(row) <= borByteOffset {
		return
	}
	if enabled {
		row[borByteOffset] &^= borMask
	} else {
		row[borByteOffset] |= borMask
	}
}

// DecodeLockRegions reads regions bits starting at lockByteStart, low bit
// first, spanning as many bytes as needed. A cleared bit means locked.
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
