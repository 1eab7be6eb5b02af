package nvm

// Family is the capability contract a family-specific NVM controller
// driver (samd2x, samd5x) implements. Engine owns the shared option
// bookkeeping, page-buffer toggling, and applet-preparation orchestration
// (pipeline-write, erase-all, option flush); Family supplies only the
// bit-exact register map, command codes, and address-encoding convention
// that differ between families. This is composition, not inheritance: a
// driver holds no Engine and an Engine holds a Family by interface.
type Family interface {
	// EraseGranulePages is the erase granularity, in pages (4 for D2x's
	// row, 16 for D5x's block).
	EraseGranulePages() int

	// EncodeAddr converts a byte address into the value the family writes
	// to its ADDR register (half-word address for D2x, byte address for
	// D5x).
	EncodeAddr(byteAddr uint32) uint32

	// WaitReady blocks until the controller reports ready.
	WaitReady() error
	// EnterManualWrite disables the NVM cache and enables manual-write
	// mode in the control register.
	EnterManualWrite() error
	// ClearPageBuffer issues the page-buffer-clear command.
	ClearPageBuffer() error

	// IssueWrite writes ADDR for dstAddr and dispatches the family's
	// ordinary page-write command sequence.
	IssueWrite(dstAddr uint32) error
	// IssueErase writes ADDR for the granule starting at startPage and
	// dispatches the family's erase command.
	IssueErase(startPage int) error

	// UserRowBase and UserRowSize describe the persistent option region.
	UserRowBase() uint32
	UserRowSize() int
	// EraseUserRow erases the user row/page using whatever command that
	// family reserves for it (a dedicated aux-row command on D2x, the
	// ordinary single-page erase command on D5x).
	EraseUserRow() error
	// IssueUserRowWrite writes ADDR for dstAddr and dispatches whatever
	// command that family uses to commit a user row page (a dedicated
	// aux-page command on D2x, the same quad-word command as ordinary
	// pages on D5x).
	IssueUserRowWrite(dstAddr uint32) error

	SetSecurityBit() error

	DecodeBod(row []byte) bool
	EncodeBod(row []byte, enabled bool)
	DecodeBor(row []byte) bool
	EncodeBor(row []byte, enabled bool)
	DecodeLockRegions(row []byte, regions int) []bool
	EncodeLockRegions(row []byte, regions int, locked []bool)
}
