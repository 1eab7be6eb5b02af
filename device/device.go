// Package device implements SAM-BA target identification: the strict
// register-probing order that distinguishes ARM7/ARM9 CHIPID targets from
// Cortex-M CPUID/DSU targets, and dispatches the identified part to the
// matching NVM family driver via a geometry table.
package device

import (
	"github.com/sambaflash/sambaflash/applet"
	"github.com/sambaflash/sambaflash/geometry"
	"github.com/sambaflash/sambaflash/nvm"
	"github.com/sambaflash/sambaflash/nvm/samd2x"
	"github.com/sambaflash/sambaflash/nvm/samd5x"
	"github.com/sambaflash/sambaflash/sambaerr"
	"github.com/sambaflash/sambaflash/samba"
)

// addrNVMCTRL is the NVMCTRL peripheral's fixed address on both D2x and
// D5x parts, independent of the flash aperture's base address.
const addrNVMCTRL = 0x41004000

// Probe register addresses, in the order Identify reads them.
const (
	// addrResetVector is word 0 of the target's vector table. Its top
	// byte is 0xEA (a branch opcode) on ARM7/ARM9 parts, which boot from
	// a jump instruction rather than a Cortex-M vector table.
	addrResetVector = 0x00000000
	// addrCHIPIDLegacy is the ARM7/ARM9 chip identification register.
	addrCHIPIDLegacy = 0xfffff240

	// addrCPUID is the Cortex-M core's own ID register: it identifies
	// the core type (Cortex-M0+ vs Cortex-M4), not the specific chip.
	addrCPUID = 0xe000ed00
	// addrCortexM4Disambiguator is read only on Cortex-M4 cores, to tell
	// apart SAM4-family parts (which need the CHIPID probe below) from
	// D5x/E5x parts (which use the DSU).
	addrCortexM4Disambiguator = 0x00000004
	// addrDSUDID is the Debug Subsystem Unit's device identification
	// register, the authoritative per-chip identifier on D2x/D5x parts.
	addrDSUDID = 0x41002018

	// addrChipidA/addrChipidAExt are the primary CHIPID probe pair used
	// by SAM3/4-family Cortex-M parts; addrChipidB/addrChipidBExt is the
	// fallback pair when the primary reads back zero.
	addrChipidA    = 0x400e0740
	addrChipidAExt = 0x400e0744
	addrChipidB    = 0x400e0940
	addrChipidBExt = 0x400e0944
)

// cpuidImplMask isolates the CPUID implementer+part-number field that
// distinguishes core types.
const cpuidImplMask = 0x0000fff0

const (
	cpuidCortexM0Plus = 0x0000c600
	cpuidCortexM4     = 0x0000c240
)

// cortexM4ChipidProbeSelector is the value the upper 12 bits of
// addrCortexM4Disambiguator must equal for a Cortex-M4 part to be
// identified via the CHIPID probe rather than the DSU.
const cortexM4ChipidProbeSelector = 0x800

// scbAIRCR is the Cortex-M System Control Block's Application Interrupt
// and Reset Control Register; writing the VECTKEY plus SYSRESETREQ
// triggers a core reset.
const (
	scbAIRCR      = 0xe000ed0c
	aircrVectKey  = 0x05fa0000
	aircrSysReset = 0x00000004
)

// ID is the raw identification read from the target.
type ID struct {
	ChipID    uint32
	ExtChipID uint32
	DeviceID  uint32
}

// Device wraps a connected client, its identified geometry, and an NVM
// engine ready to program it.
type Device struct {
	client *samba.Client
	ID     ID
	Entry  geometry.Entry
	Engine *nvm.Engine
}

// chipidProbe reads the primary CHIPID pair, falling back to the
// secondary pair when the primary reads back zero. Reading the legacy
// CHIPID register before checking the reset vector's opcode byte would
// risk a bus fault on a target where that address is unmapped, which is
// exactly why Identify only reaches this probe after the reset-vector
// and CPUID checks have placed the target on a Cortex-M family known to
// expose it.
func chipidProbe(client *samba.Client) (ID, error) {
	chipID, err := client.ReadWord(addrChipidA)
	if err != nil {
		return ID{}, err
	}
	if chipID != 0 {
		extID, err := client.ReadWord(addrChipidAExt)
		if err != nil {
			return ID{}, err
		}
		return ID{ChipID: chipID, ExtChipID: extID}, nil
	}

	chipID, err = client.ReadWord(addrChipidB)
	if err != nil {
		return ID{}, err
	}
	extID, err := client.ReadWord(addrChipidBExt)
	if err != nil {
		return ID{}, err
	}
	return ID{ChipID: chipID, ExtChipID: extID}, nil
}

// Identify reads the target's identification registers in the order the
// ROM bootloader expects:
//
//  1. Read the reset vector at word 0. A top byte of 0xEA means the
//     target boots from a branch instruction, i.e. it is an ARM7/ARM9
//     part; its CHIPID is read directly from the legacy register.
//  2. Otherwise read the Cortex-M CPUID register and mask out the
//     implementer/part-number field. Cortex-M0+ parts are identified via
//     the DSU DID register. Cortex-M4 parts need one more check: the
//     word at address 0x4 disambiguates SAM4-family parts (CHIPID probe)
//     from D5x/E5x parts (DSU DID). Any other core type falls back to
//     the CHIPID probe.
//  3. The CHIPID probe itself tries the primary register pair first,
//     then a secondary pair if the primary reads back zero.
//
// CHIPID is read only once a prior step has established that the
// address is actually mapped on the target; reading it unconditionally
// as a first probe (as on legacy parts) risks a bus fault on Cortex-M
// targets where nothing answers at that address.
func Identify(client *samba.Client) (ID, error) {
	resetVector, err := client.ReadWord(addrResetVector)
	if err != nil {
		return ID{}, err
	}
	if resetVector>>24 == 0xea {
		chipID, err := client.ReadWord(addrCHIPIDLegacy)
		if err != nil {
			return ID{}, err
		}
		return ID{ChipID: chipID}, nil
	}

	cpuid, err := client.ReadWord(addrCPUID)
	if err != nil {
		return ID{}, err
	}

	useChipidProbe := false
	switch cpuid & cpuidImplMask {
	case cpuidCortexM0Plus:
		// DSU DID probe below.
	case cpuidCortexM4:
		word4, err := client.ReadWord(addrCortexM4Disambiguator)
		if err != nil {
			return ID{}, err
		}
		if word4>>20 == cortexM4ChipidProbeSelector {
			useChipidProbe = true
		}
	default:
		useChipidProbe = true
	}

	if useChipidProbe {
		return chipidProbe(client)
	}

	deviceID, err := client.ReadWord(addrDSUDID)
	if err != nil {
		return ID{}, err
	}
	return ID{ChipID: 0, ExtChipID: cpuid, DeviceID: deviceID}, nil
}

// New identifies the connected target, looks it up in table, and builds
// the NVM engine for its family.
func New(client *samba.Client, table geometry.Table) (*Device, error) {
	id, err := Identify(client)
	if err != nil {
		return nil, err
	}
	entry, ok := table.Lookup(id.ChipID, id.DeviceID)
	if !ok {
		return nil, &sambaerr.DeviceUnsupportedError{ChipID: id.ChipID, ExtChipID: id.ExtChipID, DeviceID: id.DeviceID}
	}

	geom := nvm.Geometry{
		BaseAddress: entry.BaseAddress,
		PageCount:   entry.PageCount,
		PageSize:    entry.PageSize,
		PlaneCount:  entry.PlaneCount,
		LockRegions: entry.LockRegions,
		SRAMApplet:  entry.SRAMApplet,
		SRAMStack:   entry.SRAMStack,
	}

	var family nvm.Family
	switch entry.Family {
	case "samd5x":
		family = samd5x.New(client, addrNVMCTRL, entry.PageSize, entry.UserRowBase)
	default:
		family = samd2x.New(client, addrNVMCTRL, entry.PageSize, entry.UserRowBase)
	}

	a := applet.New(client, entry.SRAMApplet)
	engine, err := nvm.New(client, a, geom, family)
	if err != nil {
		return nil, err
	}

	return &Device{client: client, ID: id, Entry: entry, Engine: engine}, nil
}

// Reset issues a core reset via the Cortex-M SCB AIRCR register. The
// target typically stops responding to SAM-BA commands before the write
// completes, so a resulting transport error is expected and ignored.
func (d *Device) Reset() {
	_ = d.client.WriteWord(scbAIRCR, aircrVectKey|aircrSysReset)
}
