package nvm

import "github.com/sambaflash/sambaflash/sambaerr"

// Geometry holds the immutable per-instantiation device parameters.
type Geometry struct {
	BaseAddress uint32
	PageCount   int
	PageSize    int
	PlaneCount  int
	LockRegions int
	SRAMApplet  uint32
	SRAMStack   uint32
}

func isPow2(n int) bool { return n > 0 && n&(n-1) == 0 }

// Validate enforces the power-of-two invariants on page size, page count,
// and lock region count.
func (g Geometry) Validate() error {
	if !isPow2(g.PageSize) {
		return &sambaerr.FlashConfigError{Field: "PageSize", Value: g.PageSize}
	}
	if !isPow2(g.PageCount) {
		return &sambaerr.FlashConfigError{Field: "PageCount", Value: g.PageCount}
	}
	if !isPow2(g.LockRegions) {
		return &sambaerr.FlashConfigError{Field: "LockRegions", Value: g.LockRegions}
	}
	return nil
}

// TotalSize returns the device's total flash capacity in bytes.
func (g Geometry) TotalSize() int { return g.PageCount * g.PageSize }
