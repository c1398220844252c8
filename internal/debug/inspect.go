// Package debug exposes read-only inspection hooks over a running
// emulator: nametables, pattern tables, palette RAM, OAM/sprites, and a
// small gRPC service that streams the same data to an external debugger
// process. None of it can mutate emulator state.
package debug

import "corenes/internal/bus"

// Inspector is a read-only view over a bus.Bus's component state.
type Inspector struct {
	bus *bus.Bus
}

// NewInspector wraps bus for inspection. bus must outlive the Inspector.
func NewInspector(b *bus.Bus) *Inspector {
	return &Inspector{bus: b}
}

// NametableSnapshot returns the raw 4KB nametable VRAM.
func (i *Inspector) NametableSnapshot() [0x1000]uint8 {
	return i.bus.PPU.GetMemory().VRAMSnapshot()
}

// PaletteSnapshot returns the 32-byte palette RAM (background + sprite
// palettes, 16 bytes each).
func (i *Inspector) PaletteSnapshot() [32]uint8 {
	return i.bus.PPU.GetMemory().PaletteSnapshot()
}

// OAMSnapshot returns the 256-byte primary OAM table (64 sprites, 4 bytes
// each: Y, tile index, attributes, X).
func (i *Inspector) OAMSnapshot() [256]uint8 {
	return i.bus.PPU.OAMSnapshot()
}

// PatternTable returns one of the two 4KB CHR pattern tables (0 or 1) as
// raw tile data, read through the loaded cartridge's mapper.
func (i *Inspector) PatternTable(index int) [0x1000]uint8 {
	var table [0x1000]uint8
	base := uint16(index&1) * 0x1000
	for offset := uint16(0); offset < 0x1000; offset++ {
		table[offset] = i.bus.ReadCHR(base + offset)
	}
	return table
}

// PPURegisters reports the PPU's externally-visible register values and
// current raster position.
type PPURegisters struct {
	Ctrl     uint8
	Mask     uint8
	Status   uint8
	Scanline int
	Cycle    int
}

// PPURegisters returns a snapshot of the PPU's register file.
func (i *Inspector) PPURegisters() PPURegisters {
	ctrl, mask, status, scanline, cycle := i.bus.PPU.RegisterSnapshot()
	return PPURegisters{Ctrl: ctrl, Mask: mask, Status: status, Scanline: scanline, Cycle: cycle}
}

// Sprite describes one decoded OAM entry.
type Sprite struct {
	Index      int
	X, Y       uint8
	Tile       uint8
	Attributes uint8
}

// Sprites decodes the primary OAM table into individual sprite entries.
func (i *Inspector) Sprites() []Sprite {
	oam := i.OAMSnapshot()
	sprites := make([]Sprite, 0, 64)
	for n := 0; n < 64; n++ {
		base := n * 4
		sprites = append(sprites, Sprite{
			Index:      n,
			Y:          oam[base],
			Tile:       oam[base+1],
			Attributes: oam[base+2],
			X:          oam[base+3],
		})
	}
	return sprites
}

// CycleCounters reports the bus's cycle and frame counters.
type CycleCounters struct {
	CPUCycles  uint64
	FrameCount uint64
}

// CycleCounters returns the current cycle/frame counters.
func (i *Inspector) CycleCounters() CycleCounters {
	return CycleCounters{CPUCycles: i.bus.GetCycleCount(), FrameCount: i.bus.GetFrameCount()}
}
