// Package cartridge implements iNES ROM loading, nametable mirroring, and
// the mapper abstraction that arbitrates CPU/PPU access to PRG and CHR
// memory.
package cartridge

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"corenes/internal/emuerr"
	"corenes/internal/statesave"
)

// Cartridge owns the raw PRG/CHR/SRAM backing arrays and the Mapper that
// interprets them. CPU and PPU never touch these arrays directly; every
// access is routed through ReadPRG/WritePRG/ReadCHR/WriteCHR so the mapper
// can bank-switch transparently.
type Cartridge struct {
	prgROM []uint8
	chrROM []uint8

	mapperID uint8
	mapper   Mapper

	mirror MirrorMode

	hasBattery bool
	sram       [0x2000]uint8

	hasCHRRAM bool
}

// MirrorMode is the nametable mirroring mode presented to the PPU's
// $2000-$2FFF address translation. Some mappers (MMC1, MMC3) switch this
// at runtime, so the PPU must ask the cartridge on every nametable access
// rather than caching it once at load time.
type MirrorMode uint8

const (
	MirrorHorizontal MirrorMode = iota
	MirrorVertical
	MirrorSingleScreen0
	MirrorSingleScreen1
	MirrorFourScreen
)

// Mapper is the interface every supported board implements. CHR reads are
// side-effect free on real hardware too: MMC3's IRQ counter is clocked by
// the PPU address bus's A12 line via NotifyA12, not by ReadCHR itself, so
// debug tooling can call ReadCHR freely without perturbing emulation.
type Mapper interface {
	ReadPRG(address uint16) uint8
	WritePRG(address uint16, value uint8)
	ReadCHR(address uint16) uint8
	WriteCHR(address uint16, value uint8)

	// Mirror reports the nametable mirroring in effect right now.
	Mirror() MirrorMode

	// NotifyA12 is called by the PPU after every internal CHR address it
	// drives onto the pattern-table bus, so mappers that clock an IRQ
	// counter off the A12 rising edge (MMC3) can observe it.
	NotifyA12(addr uint16, renderingEnabled bool)

	CheckIRQ() bool
	ClearIRQ()

	SaveState() []byte
	LoadState(data []byte) error
}

type iNESHeader struct {
	Magic      [4]uint8
	PRGROMSize uint8
	CHRROMSize uint8
	Flags6     uint8
	Flags7     uint8
	PRGRAMSize uint8
	TVSystem1  uint8
	TVSystem2  uint8
	Padding    [5]uint8
}

// LoadFromFile loads a cartridge from an iNES file on disk.
func LoadFromFile(filename string) (*Cartridge, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", emuerr.ErrOpenRomFailed, filename, err)
	}
	defer file.Close()

	cart, err := LoadFromReader(file)
	if err != nil {
		return nil, err
	}
	cart.tryLoadNative(filename)
	return cart, nil
}

// LoadFromReader loads a cartridge from an arbitrary io.Reader (used
// directly by tests, which build ROM images in memory).
func LoadFromReader(r io.Reader) (*Cartridge, error) {
	// The magic is checked as soon as its four bytes are in, so a short file
	// with the wrong magic is reported as an invalid header, not a read error.
	var raw [16]byte
	n, readErr := io.ReadFull(r, raw[:])
	if n >= 4 && string(raw[:4]) != "NES\x1A" {
		return nil, fmt.Errorf("%w: invalid iNES file (bad magic)", emuerr.ErrInvalidRomHeader)
	}
	if readErr != nil {
		return nil, fmt.Errorf("%w: %v", emuerr.ErrReadRomFailed, readErr)
	}
	var header iNESHeader
	if err := binary.Read(bytes.NewReader(raw[:]), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", emuerr.ErrReadRomFailed, err)
	}

	if header.PRGROMSize == 0 {
		return nil, fmt.Errorf("%w: PRG ROM size cannot be zero", emuerr.ErrInvalidRomHeader)
	}

	cart := &Cartridge{
		mapperID:   (header.Flags6 >> 4) | (header.Flags7 & 0xF0),
		hasBattery: (header.Flags6 & 0x02) != 0,
	}

	switch {
	case header.Flags6&0x08 != 0:
		cart.mirror = MirrorFourScreen
	case header.Flags6&0x01 != 0:
		cart.mirror = MirrorVertical
	default:
		cart.mirror = MirrorHorizontal
	}

	if header.Flags6&0x04 != 0 {
		trainer := make([]uint8, 512)
		if _, err := io.ReadFull(r, trainer); err != nil {
			return nil, fmt.Errorf("%w: trainer: %v", emuerr.ErrTruncatedRom, err)
		}
	}

	prgSize := int(header.PRGROMSize) * 16384
	cart.prgROM = make([]uint8, prgSize)
	if _, err := io.ReadFull(r, cart.prgROM); err != nil {
		return nil, fmt.Errorf("%w: PRG ROM: %v", emuerr.ErrTruncatedRom, err)
	}

	chrSize := int(header.CHRROMSize) * 8192
	if chrSize > 0 {
		cart.chrROM = make([]uint8, chrSize)
		if _, err := io.ReadFull(r, cart.chrROM); err != nil {
			return nil, fmt.Errorf("%w: CHR ROM: %v", emuerr.ErrTruncatedRom, err)
		}
	} else {
		cart.chrROM = make([]uint8, 8192)
		cart.hasCHRRAM = true
	}

	mapper, err := createMapper(cart.mapperID, cart)
	if err != nil {
		return nil, err
	}
	cart.mapper = mapper

	return cart, nil
}

func (c *Cartridge) ReadPRG(address uint16) uint8      { return c.mapper.ReadPRG(address) }
func (c *Cartridge) WritePRG(address uint16, value uint8) { c.mapper.WritePRG(address, value) }
func (c *Cartridge) ReadCHR(address uint16) uint8       { return c.mapper.ReadCHR(address) }
func (c *Cartridge) WriteCHR(address uint16, value uint8) { c.mapper.WriteCHR(address, value) }

// GetMirrorMode reports the cartridge's current nametable mirroring. It
// is asked on every $2000-$2FFF translation rather than cached, since
// MMC1 and MMC3 switch it at runtime.
func (c *Cartridge) GetMirrorMode() MirrorMode { return c.mapper.Mirror() }

// Mirror satisfies memory.CartridgeInterface with a bare numeric code so
// the memory package never needs to import the cartridge package's
// MirrorMode type; the two enums share ordering by construction.
func (c *Cartridge) Mirror() uint8 { return uint8(c.mapper.Mirror()) }

// NotifyA12 forwards a PPU pattern-table address to the mapper's A12
// edge detector (used by MMC3's scanline IRQ counter; a no-op on every
// other mapper).
func (c *Cartridge) NotifyA12(addr uint16, renderingEnabled bool) {
	c.mapper.NotifyA12(addr, renderingEnabled)
}

// CheckIRQ reports whether the mapper currently has an IRQ asserted on
// the cartridge's IRQ line into the CPU.
func (c *Cartridge) CheckIRQ() bool { return c.mapper.CheckIRQ() }

// ClearIRQ acknowledges the mapper's IRQ line.
func (c *Cartridge) ClearIRQ() { c.mapper.ClearIRQ() }

// HasBattery reports whether this cartridge declares battery-backed PRG
// RAM, i.e. whether its SRAM survives a power cycle.
func (c *Cartridge) HasBattery() bool { return c.hasBattery }

// SaveNative writes the cartridge's battery-backed SRAM to <dir>/<name>.sav,
// the convention used for save files that persist independently of save
// states.
func (c *Cartridge) SaveNative(path string) error {
	if !c.hasBattery {
		return nil
	}
	if err := os.WriteFile(path, c.sram[:], 0o644); err != nil {
		return fmt.Errorf("%w: %v", emuerr.ErrSaveNvRamFailed, err)
	}
	return nil
}

// LoadNative reads battery-backed SRAM back from path, ignoring a
// missing file (a cartridge with no prior save simply starts with a
// zeroed SRAM).
func (c *Cartridge) LoadNative(path string) error {
	if !c.hasBattery {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", emuerr.ErrSaveNvRamFailed, err)
	}
	copy(c.sram[:], data)
	return nil
}

func (c *Cartridge) tryLoadNative(romPath string) {
	_ = c.LoadNative(nativeSavePath(romPath))
}

// SaveState serializes the mapper's runtime state (bank registers, IRQ
// state) plus CHR RAM contents, since those are not recoverable from the
// ROM image the way PRG/CHR ROM is.
func (c *Cartridge) SaveState() []byte {
	w := statesave.NewWriter()
	w.U8(c.mapperID)
	w.Bool(c.hasCHRRAM)
	if c.hasCHRRAM {
		w.Bytes(c.chrROM)
	}
	w.Bytes(c.sram[:])
	mapperState := c.mapper.SaveState()
	w.U32(uint32(len(mapperState)))
	w.Bytes(mapperState)
	data, _ := w.Finish()
	return data
}

// LoadState restores state written by SaveState.
func (c *Cartridge) LoadState(data []byte) error {
	r := statesave.NewReader(data)
	mapperID := r.U8()
	hasCHRRAM := r.Bool()
	if mapperID != c.mapperID || hasCHRRAM != c.hasCHRRAM {
		return fmt.Errorf("%w: mapper/CHR-RAM mismatch", emuerr.ErrStateLoadFailed)
	}
	if hasCHRRAM {
		copy(c.chrROM, r.Bytes(len(c.chrROM)))
	}
	copy(c.sram[:], r.Bytes(len(c.sram)))
	n := int(r.U32())
	mapperState := r.Bytes(n)
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: %v", emuerr.ErrStateLoadFailed, err)
	}
	return c.mapper.LoadState(mapperState)
}

// createMapper dispatches on the iNES mapper ID. Unsupported mappers are
// a configuration error the caller must surface rather than silently
// falling back to NROM, which would run the wrong game.
func createMapper(id uint8, cart *Cartridge) (Mapper, error) {
	switch id {
	case 0:
		return NewMapper000(cart), nil
	case 1:
		return NewMapper001(cart), nil
	case 2:
		return NewMapper002(cart), nil
	case 3:
		return NewMapper003(cart), nil
	case 4:
		return NewMapper004(cart), nil
	default:
		return nil, fmt.Errorf("%w: mapper %d", emuerr.ErrUnsupportedMapper, id)
	}
}

func nativeSavePath(romPath string) string {
	ext := len(romPath)
	for i := len(romPath) - 1; i >= 0; i-- {
		if romPath[i] == '.' {
			ext = i
			break
		}
		if romPath[i] == '/' || romPath[i] == '\\' {
			break
		}
	}
	return romPath[:ext] + ".sav"
}
