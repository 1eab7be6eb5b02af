package geometry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltinLooksUpSAMD21(t *testing.T) {
	table := Builtin()
	e, ok := table.Lookup(0, 0x10010000)
	require.True(t, ok)
	require.Equal(t, "SAMD21J18A", e.Name)
	require.Equal(t, 4096, e.PageCount)
	require.Equal(t, 64, e.PageSize)
}

func TestBuiltinLooksUpSAMD51(t *testing.T) {
	table := Builtin()
	e, ok := table.Lookup(0, 0x61810002)
	require.True(t, ok)
	require.Equal(t, "SAMD51 256KB", e.Name)
	require.Equal(t, 512, e.PageCount)
	require.Equal(t, 512, e.PageSize)
}

func TestLookupMasksDeviceID(t *testing.T) {
	table := Builtin()
	// the revision nibble varies across silicon steppings; the mask
	// should still match
	_, ok := table.Lookup(0, 0x10010050)
	require.True(t, ok)
}

func TestLookupFailsForUnknownDevice(t *testing.T) {
	table := Builtin()
	_, ok := table.Lookup(0, 0xdeadbeef)
	require.False(t, ok)
}

func TestLoadOverridesAppendsAndWins(t *testing.T) {
	table := Builtin()
	doc := `
name: SAMD21-custom
chip_id: 0
device_id_mask: 0xffffffff
device_id: 0x10010000
family: samd2x
page_count: 8192
page_size: 64
lock_regions: 16
sram_applet: 0x20004000
sram_stack: 0x20008000
user_row_base: 0x804000
`
	require.NoError(t, table.LoadOverrides(strings.NewReader(doc)))

	e, ok := table.Lookup(0, 0x10010000)
	require.True(t, ok)
	require.Equal(t, "SAMD21-custom", e.Name)
	require.Equal(t, 8192, e.PageCount)
}
