// Package nvm implements the family-independent NVM programming engine:
// double-buffered page pipelining, option bookkeeping (BOD/BOR/lock/
// security), and common write/erase orchestration shared by the D2x and
// D5x controller drivers.
package nvm

import (
	"bytes"

	"github.com/sambaflash/sambaflash/applet"
	"github.com/sambaflash/sambaflash/samba"
	"github.com/sambaflash/sambaflash/sambaerr"
)

// Engine is the caller-facing flash programmer for one session: created
// after device identification, it lives for the session's lifetime.
type Engine struct {
	client  *samba.Client
	applet  *applet.Applet
	geom    Geometry
	buffers *PageBuffers
	options Options
	family  Family

	// AutoErase controls whether WritePage and WriteBuffer erase the
	// containing granule automatically when the target offset begins one.
	AutoErase bool

	// OnStatus and OnProgress are optional observer callbacks.
	OnStatus   func(msg string)
	OnProgress func(done, total int)
}

// New validates geom and returns a ready Engine.
func New(client *samba.Client, a *applet.Applet, geom Geometry, family Family) (*Engine, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	bufA := geom.SRAMApplet + uint32(applet.ImageSize)
	bufB := bufA + uint32(geom.PageSize)
	return &Engine{
		client:    client,
		applet:    a,
		geom:      geom,
		buffers:   NewPageBuffers(bufA, bufB),
		family:    family,
		AutoErase: true,
		options:   Options{lockRegions: make([]bool, geom.LockRegions)},
	}, nil
}

func (e *Engine) status(msg string) {
	if e.OnStatus != nil {
		e.OnStatus(msg)
	}
}

func (e *Engine) progress(done, total int) {
	if e.OnProgress != nil {
		e.OnProgress(done, total)
	}
}

// OnBufferA reports whether SRAM buffer A is currently active, for tests
// asserting the toggle invariant.
func (e *Engine) OnBufferA() bool { return e.buffers.OnBufferA() }

func (e *Engine) granuleBytes() int { return e.family.EraseGranulePages() * e.geom.PageSize }

func (e *Engine) eraseGranule(offsetBytes int) error {
	return e.family.IssueErase(offsetBytes / e.geom.PageSize)
}

// EraseAll erases every granule from offset to the end of the device. If
// the transport advertises chip-erase, that is used instead and offset is
// ignored (chip erase always erases the whole device).
func (e *Engine) EraseAll(offset uint32) error {
	if e.client.CanChipErase() {
		e.status("chip erase")
		return e.client.ChipErase(e.geom.BaseAddress)
	}
	granule := e.granuleBytes()
	total := e.geom.TotalSize()
	for off := int(offset); off < total; off += granule {
		if err := e.eraseGranule(off); err != nil {
			return err
		}
		e.progress(off+granule, total)
	}
	return nil
}

// Erase erases size bytes starting at offset, which must be granule
// aligned and within range.
func (e *Engine) Erase(offset, size uint32) error {
	granule := uint32(e.granuleBytes())
	total := uint32(e.geom.TotalSize())
	if granule == 0 || offset%granule != 0 || offset+size > total {
		return &sambaerr.FlashEraseError{
			Offset: int(offset), Size: int(size), Granule: int(granule), Total: int(total),
		}
	}
	for off := offset; off < offset+size; off += granule {
		if err := e.eraseGranule(int(off)); err != nil {
			return err
		}
	}
	return nil
}

// LoadBuffer uploads data[offset:offset+size] to the active SRAM page
// buffer.
func (e *Engine) LoadBuffer(data []byte, offset, size int) error {
	if offset < 0 || size < 0 || offset+size > len(data) {
		return &sambaerr.FlashOffsetError{Offset: offset, PageSize: e.geom.PageSize, Total: len(data)}
	}
	return e.client.Write(e.buffers.Active(), data[offset:offset+size])
}

// runPipeline performs the shared pipeline-write sequence: disable cache
// and enable manual write, clear the page buffer, program the applet with
// dst/src/words/stack, toggle the active buffer *before* running so the
// caller's next LoadBuffer targets the idle side, wait ready, run the
// applet, then let issue commit the transfer via the family's write
// command.
func (e *Engine) runPipeline(dst uint32, issue func(uint32) error) error {
	if err := e.family.EnterManualWrite(); err != nil {
		return err
	}
	if err := e.family.ClearPageBuffer(); err != nil {
		return err
	}

	src := e.buffers.Active()
	if err := e.applet.SetDstAddr(dst); err != nil {
		return err
	}
	if err := e.applet.SetSrcAddr(src); err != nil {
		return err
	}
	if err := e.applet.SetWords(uint32(e.geom.PageSize / 4)); err != nil {
		return err
	}
	if err := e.applet.SetStack(e.geom.SRAMStack); err != nil {
		return err
	}

	e.buffers.Toggle()

	if err := e.family.WaitReady(); err != nil {
		return err
	}
	if err := e.applet.Runv(e.geom.SRAMApplet); err != nil {
		return err
	}

	return issue(dst)
}

// WritePage validates page, auto-erases its granule when page begins one
// and AutoErase is set, then pipeline-writes the active SRAM buffer into
// flash.
func (e *Engine) WritePage(page int, data []byte) error {
	if page < 0 || page >= e.geom.PageCount {
		return &sambaerr.FlashPageError{Page: page, NumPages: e.geom.PageCount}
	}
	granulePages := e.family.EraseGranulePages()
	if e.AutoErase && granulePages > 0 && page%granulePages == 0 {
		if err := e.eraseGranule(page * e.geom.PageSize); err != nil {
			return err
		}
	}
	if err := e.LoadBuffer(data, 0, len(data)); err != nil {
		return err
	}
	dst := e.geom.BaseAddress + uint32(page*e.geom.PageSize)
	return e.runPipeline(dst, e.family.IssueWrite)
}

// ReadPage reads one page straight from flash into buf.
func (e *Engine) ReadPage(page int, buf []byte) error {
	if page < 0 || page >= e.geom.PageCount {
		return &sambaerr.FlashPageError{Page: page, NumPages: e.geom.PageCount}
	}
	addr := e.geom.BaseAddress + uint32(page*e.geom.PageSize)
	data, err := e.client.Read(addr, e.geom.PageSize)
	if err != nil {
		return err
	}
	copy(buf, data)
	return nil
}

// WriteBuffer auto-erases (if enabled and aligned) then commits the active
// SRAM page buffer to base+dstRelative via the bootloader's buffer-write
// command.
func (e *Engine) WriteBuffer(dstRelative uint32, size int) error {
	granule := uint32(e.granuleBytes())
	if e.AutoErase && granule != 0 && dstRelative%granule == 0 {
		if err := e.Erase(dstRelative, uint32(size)); err != nil {
			return err
		}
	}
	return e.client.WriteBuffer(e.buffers.Active(), e.geom.BaseAddress+dstRelative, size)
}

// SetLockRegions marks the lock-region vector dirty; v must not exceed the
// device's supported region count.
func (e *Engine) SetLockRegions(v []bool) error {
	if len(v) > e.geom.LockRegions {
		return &sambaerr.FlashRegionError{Requested: len(v), Supported: e.geom.LockRegions}
	}
	regions := make([]bool, e.geom.LockRegions)
	copy(regions, v)
	e.options.setLockRegions(regions)
	return nil
}

// SetBod marks the brown-out-detect option dirty.
func (e *Engine) SetBod(v bool) { e.options.setBod(v) }

// SetBor marks the brown-out-reset option dirty.
func (e *Engine) SetBor(v bool) { e.options.setBor(v) }

// SetSecurity marks the one-shot security bit dirty.
func (e *Engine) SetSecurity() { e.options.setSecurity() }

func (e *Engine) readUserRow() ([]byte, error) {
	return e.client.Read(e.family.UserRowBase(), e.family.UserRowSize())
}

// GetLockRegions reads the current lock-region vector from the user row.
func (e *Engine) GetLockRegions() ([]bool, error) {
	row, err := e.readUserRow()
	if err != nil {
		return nil, err
	}
	return e.family.DecodeLockRegions(row, e.geom.LockRegions), nil
}

// GetBod reads the current brown-out-detect option from the user row.
func (e *Engine) GetBod() (bool, error) {
	row, err := e.readUserRow()
	if err != nil {
		return false, err
	}
	return e.family.DecodeBod(row), nil
}

// GetBor reads the current brown-out-reset option from the user row.
func (e *Engine) GetBor() (bool, error) {
	row, err := e.readUserRow()
	if err != nil {
		return false, err
	}
	return e.family.DecodeBor(row), nil
}

// GetSecurity reports whether SetSecurity has been requested this
// session. Security is one-shot and write-only in hardware: there is no
// register readback, so this reflects local intent rather than silicon
// state.
func (e *Engine) GetSecurity() bool { return e.options.security }

// WriteOptions flushes any dirty options in one read-modify-write pass
// over the user row, then clears the dirty flags. If nothing was
// modified it is a no-op.
func (e *Engine) WriteOptions() error {
	if !e.options.dirty() {
		return nil
	}

	base := e.family.UserRowBase()
	size := e.family.UserRowSize()
	row, err := e.client.Read(base, size)
	if err != nil {
		return err
	}

	rewriteRow := e.options.bodDirty || e.options.borDirty || e.options.lockDirty
	if e.options.bodDirty {
		e.family.EncodeBod(row, e.options.bod)
	}
	if e.options.borDirty {
		e.family.EncodeBor(row, e.options.bor)
	}
	if e.options.lockDirty {
		e.family.EncodeLockRegions(row, e.geom.LockRegions, e.options.lockRegions)
	}

	if rewriteRow {
		if err := e.family.EraseUserRow(); err != nil {
			return err
		}
		pages := size / e.geom.PageSize
		for p := 0; p < pages; p++ {
			chunk := row[p*e.geom.PageSize : (p+1)*e.geom.PageSize]
			if err := e.LoadBuffer(chunk, 0, len(chunk)); err != nil {
				return err
			}
			dst := base + uint32(p*e.geom.PageSize)
			if err := e.runPipeline(dst, e.family.IssueUserRowWrite); err != nil {
				return err
			}
		}
	}

	if e.options.securityDirty && e.options.security {
		if err := e.family.SetSecurityBit(); err != nil {
			return err
		}
	}

	e.options.clearDirty()
	return nil
}

// Program writes data to the device page by page, zero-padding the final
// page. It returns FileSizeError if data exceeds the device's capacity.
func (e *Engine) Program(data []byte) error {
	capacity := e.geom.TotalSize()
	if len(data) > capacity {
		return &sambaerr.FileSizeError{Size: len(data), Capacity: capacity}
	}
	total := (len(data) + e.geom.PageSize - 1) / e.geom.PageSize
	page := make([]byte, e.geom.PageSize)
	for p := 0; p < total; p++ {
		start := p * e.geom.PageSize
		end := start + e.geom.PageSize
		for i := range page {
			page[i] = 0
		}
		if end > len(data) {
			copy(page, data[start:])
		} else {
			copy(page, data[start:end])
		}
		if err := e.WritePage(p, page); err != nil {
			return err
		}
		e.progress(p+1, total)
	}
	return nil
}

// Verify reads back the pages data occupies and reports whether they
// match, zero-padding the final page's comparison the same way Program
// does.
func (e *Engine) Verify(data []byte) (bool, error) {
	total := (len(data) + e.geom.PageSize - 1) / e.geom.PageSize
	got := make([]byte, e.geom.PageSize)
	want := make([]byte, e.geom.PageSize)
	for p := 0; p < total; p++ {
		if err := e.ReadPage(p, got); err != nil {
			return false, err
		}
		start := p * e.geom.PageSize
		end := start + e.geom.PageSize
		for i := range want {
			want[i] = 0
		}
		if end > len(data) {
			copy(want, data[start:])
		} else {
			copy(want, data[start:end])
		}
		if !bytes.Equal(got, want) {
			return false, nil
		}
	}
	return true, nil
}
