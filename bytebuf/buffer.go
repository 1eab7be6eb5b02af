// Package bytebuf implements a growable byte FIFO with independent read and
// write cursors, used by the transport layer to accumulate bytes arriving
// from the background serial reader.
package bytebuf

// Buffer is a grow-on-demand byte FIFO. It is not safe for concurrent use;
// callers that share a Buffer across goroutines must provide their own
// locking.
type Buffer struct {
	data []byte
	r, w int
}

// New returns a Buffer with the given initial capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// grow ensures capacity for extra more bytes at the write cursor, doubling
// capacity or growing to exactly the required size, whichever is larger.
func (b *Buffer) grow(extra int) {
	need := b.w + extra
	if need <= len(b.data) {
		return
	}
	newCap := len(b.data) * 2
	if need > newCap {
		newCap = need
	}
	grown := make([]byte, newCap)
	copy(grown, b.data[:b.w])
	b.data = grown
}

// Push appends a single byte.
func (b *Buffer) Push(v byte) {
	b.grow(1)
	b.data[b.w] = v
	b.w++
}

// Copy appends the contents of p.
func (b *Buffer) Copy(p []byte) {
	b.grow(len(p))
	copy(b.data[b.w:], p)
	b.w += len(p)
}

// Fill appends n copies of value.
func (b *Buffer) Fill(value byte, n int) {
	b.grow(n)
	for i := 0; i < n; i++ {
		b.data[b.w+i] = value
	}
	b.w += n
}

// Shift removes and returns the oldest unread byte, if any.
func (b *Buffer) Shift() (byte, bool) {
	if b.r >= b.w {
		return 0, false
	}
	v := b.data[b.r]
	b.r++
	if b.r == b.w {
		b.Reset()
	}
	return v, true
}

// Reset discards all buffered data and rewinds both cursors.
func (b *Buffer) Reset() {
	b.r, b.w = 0, 0
}

// View returns the unread region of the buffer. The returned slice aliases
// the Buffer's storage and is invalidated by any subsequent mutating call.
func (b *Buffer) View() []byte {
	return b.data[b.r:b.w]
}

// Len reports the number of unread bytes.
func (b *Buffer) Len() int {
	return b.w - b.r
}
