package cartridge

import "corenes/internal/statesave"

// Mapper000 implements NROM. No bank switching: 16KB PRG ROM is mirrored
// to fill the 32KB CPU window, CHR is a single fixed 8KB bank (ROM or
// RAM), and mirroring is fixed at whatever the header declared.
type Mapper000 struct {
	cart     *Cartridge
	prgBanks uint8
}

func NewMapper000(cart *Cartridge) *Mapper000 {
	return &Mapper000{
		cart:     cart,
		prgBanks: uint8(len(cart.prgROM) / 0x4000),
	}
}

func (m *Mapper000) ReadPRG(address uint16) uint8 {
	if address >= 0x8000 {
		if len(m.cart.prgROM) == 0 {
			return 0
		}
		offset := address - 0x8000
		if m.prgBanks == 1 {
			offset &= 0x3FFF
		}
		if int(offset) < len(m.cart.prgROM) {
			return m.cart.prgROM[offset]
		}
		return 0
	} else if address >= 0x6000 && address < 0x8000 {
		return m.cart.sram[address-0x6000]
	}
	return 0
}

func (m *Mapper000) WritePRG(address uint16, value uint8) {
	if address >= 0x6000 && address < 0x8000 {
		m.cart.sram[address-0x6000] = value
	}
}

func (m *Mapper000) ReadCHR(address uint16) uint8 {
	if address < 0x2000 && int(address) < len(m.cart.chrROM) {
		return m.cart.chrROM[address]
	}
	return 0
}

func (m *Mapper000) WriteCHR(address uint16, value uint8) {
	if address < 0x2000 && m.cart.hasCHRRAM && int(address) < len(m.cart.chrROM) {
		m.cart.chrROM[address] = value
	}
}

func (m *Mapper000) Mirror() MirrorMode { return m.cart.mirror }

func (m *Mapper000) NotifyA12(addr uint16, renderingEnabled bool) {}

func (m *Mapper000) CheckIRQ() bool { return false }
func (m *Mapper000) ClearIRQ()      {}

func (m *Mapper000) SaveState() []byte { return nil }
func (m *Mapper000) LoadState(data []byte) error { _ = statesave.NewReader(data); return nil }
