package cartridge

import "corenes/internal/statesave"

// Mapper001 implements MMC1 (SxROM). A shared 5-bit serial shift register
// is written one bit at a time via any write to $8000-$FFFF; the fifth
// write latches the value into one of four internal registers chosen by
// the address. A write with bit 7 set resets the shift register and
// forces 16KB PRG mode 3 (fixed-high), regardless of what was being
// shifted in.
type Mapper001 struct {
	cart *Cartridge

	shift    uint8
	shiftPos uint8

	control  uint8 // mirroring(1:0) | prgMode(3:2) | chrMode(4)
	chrBank0 uint8
	chrBank1 uint8
	prgBank  uint8

	prgBankCount uint8
	chrBankCount uint8
}

func NewMapper001(cart *Cartridge) *Mapper001 {
	m := &Mapper001{
		cart:    cart,
		control: 0x0C, // power-on: PRG mode 3, CHR mode 0
	}
	m.prgBankCount = uint8(len(cart.prgROM) / 0x4000)
	if m.prgBankCount == 0 {
		m.prgBankCount = 1
	}
	m.chrBankCount = uint8(len(cart.chrROM) / 0x1000)
	if m.chrBankCount == 0 {
		m.chrBankCount = 1
	}
	return m
}

func (m *Mapper001) prgMode() uint8 { return (m.control >> 2) & 0x03 }
func (m *Mapper001) chrMode() uint8 { return (m.control >> 4) & 0x01 }

func (m *Mapper001) ReadPRG(address uint16) uint8 {
	switch {
	case address >= 0x6000 && address < 0x8000:
		if m.prgBank&0x10 != 0 {
			// PRG RAM disabled by bank-register bit 4 on boards that wire it.
			return 0
		}
		return m.cart.sram[address-0x6000]
	case address >= 0x8000:
		bank := m.prgBank & 0x0F
		offset := address - 0x8000
		var bankNum uint8
		switch m.prgMode() {
		case 0, 1: // 32KB mode: ignore low bit of bank
			bankNum = (bank &^ 1) + uint8(offset/0x4000)
			offset &= 0x3FFF
		case 2: // fixed low bank at $8000, switch $C000
			if offset < 0x4000 {
				bankNum = 0
			} else {
				bankNum = bank
				offset -= 0x4000
			}
		default: // 3: switch $8000, fixed last bank at $C000
			if offset < 0x4000 {
				bankNum = bank
			} else {
				bankNum = m.prgBankCount - 1
				offset -= 0x4000
			}
		}
		bankNum %= m.prgBankCount
		addr := uint32(bankNum)*0x4000 + uint32(offset)
		if addr < uint32(len(m.cart.prgROM)) {
			return m.cart.prgROM[addr]
		}
	}
	return 0
}

func (m *Mapper001) WritePRG(address uint16, value uint8) {
	if address >= 0x6000 && address < 0x8000 {
		if m.prgBank&0x10 == 0 {
			m.cart.sram[address-0x6000] = value
		}
		return
	}
	if address < 0x8000 {
		return
	}

	if value&0x80 != 0 {
		m.shift = 0
		m.shiftPos = 0
		m.control |= 0x0C
		return
	}

	complete := m.shiftPos == 4
	m.shift |= (value & 1) << m.shiftPos
	m.shiftPos++

	if !complete {
		return
	}

	result := m.shift
	m.shift = 0
	m.shiftPos = 0

	switch {
	case address < 0xA000:
		m.control = result
	case address < 0xC000:
		m.chrBank0 = result
	case address < 0xE000:
		m.chrBank1 = result
	default:
		m.prgBank = result
	}
}

func (m *Mapper001) chrOffset(address uint16) (uint32, bool) {
	var bank uint8
	if m.chrMode() == 0 {
		bank = (m.chrBank0 &^ 1) + uint8(address/0x1000)
	} else if address < 0x1000 {
		bank = m.chrBank0
	} else {
		bank = m.chrBank1
	}
	if m.chrBankCount == 0 {
		return 0, false
	}
	bank %= m.chrBankCount
	offset := uint32(bank)*0x1000 + uint32(address&0x0FFF)
	return offset, offset < uint32(len(m.cart.chrROM))
}

func (m *Mapper001) ReadCHR(address uint16) uint8 {
	if address >= 0x2000 {
		return 0
	}
	if offset, ok := m.chrOffset(address); ok {
		return m.cart.chrROM[offset]
	}
	return 0
}

func (m *Mapper001) WriteCHR(address uint16, value uint8) {
	if address >= 0x2000 || !m.cart.hasCHRRAM {
		return
	}
	if offset, ok := m.chrOffset(address); ok {
		m.cart.chrROM[offset] = value
	}
}

func (m *Mapper001) Mirror() MirrorMode {
	switch m.control & 0x03 {
	case 0:
		return MirrorSingleScreen0
	case 1:
		return MirrorSingleScreen1
	case 2:
		return MirrorVertical
	default:
		return MirrorHorizontal
	}
}

func (m *Mapper001) NotifyA12(addr uint16, renderingEnabled bool) {}

func (m *Mapper001) CheckIRQ() bool { return false }
func (m *Mapper001) ClearIRQ()      {}

func (m *Mapper001) SaveState() []byte {
	w := statesave.NewWriter()
	w.U8(m.shift)
	w.U8(m.shiftPos)
	w.U8(m.control)
	w.U8(m.chrBank0)
	w.U8(m.chrBank1)
	w.U8(m.prgBank)
	data, _ := w.Finish()
	return data
}

func (m *Mapper001) LoadState(data []byte) error {
	r := statesave.NewReader(data)
	m.shift = r.U8()
	m.shiftPos = r.U8()
	m.control = r.U8()
	m.chrBank0 = r.U8()
	m.chrBank1 = r.U8()
	m.prgBank = r.U8()
	return r.Err()
}
