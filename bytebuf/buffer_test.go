package bytebuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushAndShift(t *testing.T) {
	assert := assert.New(t)

	b := New(2)
	b.Push(0x01)
	b.Push(0x02)
	b.Push(0x03) // forces growth past initial capacity of 2

	v, ok := b.Shift()
	assert.True(ok)
	assert.Equal(byte(0x01), v)
	assert.Equal(2, b.Len())
}

func TestShiftEmpty(t *testing.T) {
	assert := assert.New(t)

	b := New(0)
	_, ok := b.Shift()
	assert.False(ok)
}

func TestCopyAndView(t *testing.T) {
	assert := assert.New(t)

	b := New(4)
	b.Copy([]byte{0xAA, 0xBB, 0xCC})
	assert.Equal([]byte{0xAA, 0xBB, 0xCC}, b.View())
	assert.Equal(3, b.Len())
}

func TestFill(t *testing.T) {
	assert := assert.New(t)

	b := New(0)
	b.Fill(0xFF, 5)
	assert.Equal([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, b.View())
}

func TestResetAfterDrain(t *testing.T) {
	assert := assert.New(t)

	b := New(4)
	b.Copy([]byte{1, 2})
	b.Shift()
	b.Shift()
	// cursors collapse back to zero once fully drained
	assert.Equal(0, b.Len())
	b.Push(9)
	assert.Equal([]byte{9}, b.View())
}

func TestReset(t *testing.T) {
	assert := assert.New(t)

	b := New(4)
	b.Copy([]byte{1, 2, 3})
	b.Reset()
	assert.Equal(0, b.Len())
	assert.Empty(b.View())
}
