package cartridge

import "corenes/internal/statesave"

// MockCartridge is a bare ReadPRG/WritePRG/ReadCHR/WriteCHR stand-in used
// by bus- and memory-level tests that need a cartridge without parsing a
// real iNES image.
type MockCartridge struct {
	prgROM    [0x8000]uint8
	chrROM    [0x2000]uint8
	prgRAM    [0x2000]uint8
	chrRAM    [0x2000]uint8
	mirroring MirrorMode

	prgReads  []uint16
	prgWrites []uint16
	chrReads  []uint16
	chrWrites []uint16
}

func NewMockCartridge() *MockCartridge {
	return &MockCartridge{mirroring: MirrorHorizontal}
}

func (c *MockCartridge) ReadPRG(address uint16) uint8 {
	c.prgReads = append(c.prgReads, address)
	if address >= 0x8000 {
		index := address - 0x8000
		if index >= 0x4000 && len(c.prgROM) == 0x4000 {
			index %= 0x4000
		}
		return c.prgROM[index]
	}
	if address >= 0x6000 {
		return c.prgRAM[address-0x6000]
	}
	return 0
}

func (c *MockCartridge) WritePRG(address uint16, value uint8) {
	c.prgWrites = append(c.prgWrites, address)
	if address >= 0x6000 && address < 0x8000 {
		c.prgRAM[address-0x6000] = value
	}
}

func (c *MockCartridge) ReadCHR(address uint16) uint8 {
	c.chrReads = append(c.chrReads, address)
	if address < 0x2000 {
		return c.chrROM[address]
	}
	return 0
}

func (c *MockCartridge) WriteCHR(address uint16, value uint8) {
	c.chrWrites = append(c.chrWrites, address)
	if address < 0x2000 {
		c.chrRAM[address] = value
	}
}

func (c *MockCartridge) LoadPRG(data []uint8) { copy(c.prgROM[:], data) }
func (c *MockCartridge) LoadCHR(data []uint8) { copy(c.chrROM[:], data) }

func (c *MockCartridge) SetMirroring(mode MirrorMode) { c.mirroring = mode }
func (c *MockCartridge) GetMirroring() MirrorMode     { return c.mirroring }

// Mirror satisfies memory.CartridgeInterface.
func (c *MockCartridge) Mirror() uint8 { return uint8(c.mirroring) }

// NotifyA12, CheckIRQ, ClearIRQ satisfy memory.CartridgeInterface; this
// mock carries no mapper IRQ logic.
func (c *MockCartridge) NotifyA12(address uint16, renderingEnabled bool) {}
func (c *MockCartridge) CheckIRQ() bool                                  { return false }
func (c *MockCartridge) ClearIRQ()                                       {}

// SaveState serializes PRG/CHR RAM, enough for save-state round-trip
// tests exercising bus.Bus.SaveState/LoadState without a real mapper.
func (c *MockCartridge) SaveState() []byte {
	w := statesave.NewWriter()
	w.Bytes(c.prgRAM[:])
	w.Bytes(c.chrRAM[:])
	data, _ := w.Finish()
	return data
}

// LoadState restores state written by SaveState.
func (c *MockCartridge) LoadState(data []byte) error {
	r := statesave.NewReader(data)
	copy(c.prgRAM[:], r.Bytes(len(c.prgRAM)))
	copy(c.chrRAM[:], r.Bytes(len(c.chrRAM)))
	return r.Err()
}

func (c *MockCartridge) ClearLogs() {
	c.prgReads = c.prgReads[:0]
	c.prgWrites = c.prgWrites[:0]
	c.chrReads = c.chrReads[:0]
	c.chrWrites = c.chrWrites[:0]
}
