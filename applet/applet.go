// Package applet manages the word-copy applet: a tiny Thumb-1 code blob
// uploaded once to target SRAM and invoked by the host to move data from a
// host-managed SRAM page buffer into the NVM controller's write buffer, a
// transfer the SAM-BA bootloader protocol has no direct command for.
package applet

import "github.com/sambaflash/sambaflash/samba"

// Image layout: a 32-byte ARMv6-M word-copy loop followed by five 4-byte
// parameter cells (src, dst, words, stack, resetVector). The stack and
// reset-vector cells sit adjacent because runv's "go" target is the stack
// cell address: the ROM bootloader treats a go-to-SRAM the same as a reset,
// loading SP from the first word and PC from the second, exactly like a
// Cortex-M exception vector table entry 0/1.
const (
	ImageSize = 52
	codeSize  = 32

	srcOffset         = codeSize
	dstOffset         = codeSize + 4
	wordsOffset       = codeSize + 8
	stackOffset       = codeSize + 12
	resetVectorOffset = codeSize + 16
)

// Image is the applet's machine code: loads src/dst/words from the
// parameter cells via PC-relative loads, copies words 32-bit words from
// src to dst, then loads SP from the stack cell and returns via link
// register. The parameter cells themselves are zeroed here; the Applet
// overwrites them before every run.
var Image = [ImageSize]byte{
	// 0x00: ldr r0, [pc, #28]  -> src cell (0x20)
	0x07, 0x48,
	// 0x02: ldr r1, [pc, #32]  -> dst cell (0x24)
	0x08, 0x49,
	// 0x04: ldr r2, [pc, #32]  -> words cell (0x28)
	0x08, 0x4a,
	// 0x06: loop: cmp r2, #0
	0x00, 0x2a,
	// 0x08: beq done (0x16)
	0x05, 0xd0,
	// 0x0a: ldr r3, [r0]
	0x03, 0x68,
	// 0x0c: str r3, [r1]
	0x0b, 0x60,
	// 0x0e: adds r0, r0, #4
	0x04, 0x30,
	// 0x10: adds r1, r1, #4
	0x04, 0x31,
	// 0x12: subs r2, r2, #1
	0x01, 0x3a,
	// 0x14: b loop (0x06)
	0xf7, 0xe7,
	// 0x16: done: ldr r3, [pc, #20] -> stack cell (0x2c)
	0x05, 0x4b,
	// 0x18: mov sp, r3
	0x9d, 0x46,
	// 0x1a: bx lr
	0x70, 0x47,
	// 0x1c-0x1f: pad to 4-byte alignment for the PC-relative loads above
	0x00, 0x00, 0x00, 0x00,
	// parameter cells, overwritten before each run
	0, 0, 0, 0, // src
	0, 0, 0, 0, // dst
	0, 0, 0, 0, // words
	0, 0, 0, 0, // stack
	0, 0, 0, 0, // resetVector
}

// Applet manages the code blob's one-time upload and its parameter cells.
type Applet struct {
	client    *samba.Client
	base      uint32
	installed bool
}

// New returns an Applet that will install its image at base in target SRAM
// on first use.
func New(client *samba.Client, base uint32) *Applet {
	return &Applet{client: client, base: base}
}

// Installed reports whether the code blob has been uploaded this session.
func (a *Applet) Installed() bool { return a.installed }

func (a *Applet) ensureInstalled() error {
	if a.installed {
		return nil
	}
	if err := a.client.Write(a.base, Image[:]); err != nil {
		return err
	}
	a.installed = true
	return nil
}

// SetSrcAddr installs the applet if needed, then writes the src parameter
// cell.
func (a *Applet) SetSrcAddr(addr uint32) error {
	if err := a.ensureInstalled(); err != nil {
		return err
	}
	return a.client.WriteWord(a.base+srcOffset, addr)
}

// SetDstAddr installs the applet if needed, then writes the dst parameter
// cell.
func (a *Applet) SetDstAddr(addr uint32) error {
	if err := a.ensureInstalled(); err != nil {
		return err
	}
	return a.client.WriteWord(a.base+dstOffset, addr)
}

// SetWords installs the applet if needed, then writes the word-count
// parameter cell.
func (a *Applet) SetWords(words uint32) error {
	if err := a.ensureInstalled(); err != nil {
		return err
	}
	return a.client.WriteWord(a.base+wordsOffset, words)
}

// SetStack installs the applet if needed, then writes the stack parameter
// cell.
func (a *Applet) SetStack(addr uint32) error {
	if err := a.ensureInstalled(); err != nil {
		return err
	}
	return a.client.WriteWord(a.base+stackOffset, addr)
}

// Runv launches the applet at startAddr for Cortex-M targets: it writes
// the Thumb-mode entry point (OR'd with 1) into the reset-vector cell,
// then issues a remote "go" to the stack cell. It returns as soon as the
// go command is sent; the caller is responsible for polling NVM ready
// before relying on the copy having completed.
func (a *Applet) Runv(startAddr uint32) error {
	if err := a.client.WriteWord(a.base+resetVectorOffset, startAddr|1); err != nil {
		return err
	}
	return a.client.Go(a.base + stackOffset)
}
