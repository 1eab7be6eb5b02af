package nvm

// Options tracks the four mutable flash options (BOD, BOR, security,
// lock regions) as (value, dirty) pairs. Engine.WriteOptions flushes dirty
// options in one read-modify-write pass over the user row and clears the
// dirty flags; it is a no-op when nothing has been marked dirty.
type Options struct {
	bod      bool
	bodDirty bool

	bor      bool
	borDirty bool

	security      bool
	securityDirty bool

	lockRegions []bool
	lockDirty   bool
}

func (o *Options) setBod(v bool) { o.bod, o.bodDirty = v, true }
func (o *Options) setBor(v bool) { o.bor, o.borDirty = v, true }
func (o *Options) setSecurity()  { o.security, o.securityDirty = true, true }

func (o *Options) setLockRegions(v []bool) {
	o.lockRegions = append([]bool(nil), v...)
	o.lockDirty = true
}

// dirty reports whether any option has been modified since the last flush.
func (o *Options) dirty() bool {
	return o.bodDirty || o.borDirty || o.securityDirty || o.lockDirty
}

func (o *Options) clearDirty() {
	o.bodDirty, o.borDirty, o.securityDirty, o.lockDirty = false, false, false, false
}
