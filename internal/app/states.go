// Package app provides save state functionality for the NES emulator.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"corenes/internal/bus"
	"corenes/internal/emuerr"
)

// StateManager manages the on-disk save-state slots for a running ROM.
// The file format itself (CPU/PPU/APU/Cartridge, each length-prefixed,
// in that order) is owned by bus.Bus.SaveState/LoadState; this type only
// deals with slot numbering, file paths, and directory bookkeeping.
type StateManager struct {
	saveDirectory string
	maxSlots      int
}

// StateSlotInfo describes one save-state slot without loading its body.
type StateSlotInfo struct {
	SlotNumber int
	Used       bool
	Timestamp  time.Time
	FilePath   string
	FileSize   int64
}

// NewStateManager creates a state manager rooted at saveDirectory,
// creating the directory if it doesn't already exist.
func NewStateManager(saveDirectory string) *StateManager {
	sm := &StateManager{
		saveDirectory: saveDirectory,
		maxSlots:      10,
	}
	if err := os.MkdirAll(sm.saveDirectory, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "state manager: could not create %s: %v\n", sm.saveDirectory, err)
	}
	return sm
}

// SaveState writes the bus's current state to romPath's slot file.
func (sm *StateManager) SaveState(b *bus.Bus, slot int, romPath string) error {
	if slot < 0 || slot >= sm.maxSlots {
		return fmt.Errorf("%w: invalid save slot %d", emuerr.ErrStateFileError, slot)
	}
	if b == nil {
		return fmt.Errorf("%w: bus is nil", emuerr.ErrStateFileError)
	}

	data, err := b.SaveState()
	if err != nil {
		return err
	}

	filePath := sm.getSlotFilePath(slot, romPath)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("%w: %v", emuerr.ErrStateFileError, err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", emuerr.ErrStateFileError, err)
	}
	return nil
}

// LoadState restores the bus's state from romPath's slot file. The bus
// must already have the matching ROM loaded.
func (sm *StateManager) LoadState(b *bus.Bus, slot int, romPath string) error {
	if slot < 0 || slot >= sm.maxSlots {
		return fmt.Errorf("%w: invalid save slot %d", emuerr.ErrStateFileError, slot)
	}
	if b == nil {
		return fmt.Errorf("%w: bus is nil", emuerr.ErrStateFileError)
	}

	filePath := sm.getSlotFilePath(slot, romPath)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: no save state in slot %d", emuerr.ErrStateFileError, slot)
		}
		return fmt.Errorf("%w: %v", emuerr.ErrStateFileError, err)
	}

	return b.LoadState(data)
}

// getSlotFilePath follows spec.md's <state-dir>/<gamename>.state<slot>
// naming.
func (sm *StateManager) getSlotFilePath(slot int, romPath string) string {
	romName := filepath.Base(romPath)
	gameName := strings.TrimSuffix(romName, filepath.Ext(romName))
	return filepath.Join(sm.saveDirectory, fmt.Sprintf("%s.state%d", gameName, slot))
}

// GetSlotInfo reports, for every slot, whether a save file exists and its
// size/modification time.
func (sm *StateManager) GetSlotInfo(romPath string) []StateSlotInfo {
	slots := make([]StateSlotInfo, sm.maxSlots)
	for i := 0; i < sm.maxSlots; i++ {
		info := StateSlotInfo{SlotNumber: i}
		filePath := sm.getSlotFilePath(i, romPath)
		if stat, err := os.Stat(filePath); err == nil {
			info.Used = true
			info.FilePath = filePath
			info.FileSize = stat.Size()
			info.Timestamp = stat.ModTime()
		}
		slots[i] = info
	}
	return slots
}

// HasSaveState reports whether a slot is occupied.
func (sm *StateManager) HasSaveState(slot int, romPath string) bool {
	if slot < 0 || slot >= sm.maxSlots {
		return false
	}
	_, err := os.Stat(sm.getSlotFilePath(slot, romPath))
	return err == nil
}

// DeleteState removes a slot's save file.
func (sm *StateManager) DeleteState(slot int, romPath string) error {
	if slot < 0 || slot >= sm.maxSlots {
		return fmt.Errorf("%w: invalid save slot %d", emuerr.ErrStateFileError, slot)
	}
	filePath := sm.getSlotFilePath(slot, romPath)
	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: no save state in slot %d", emuerr.ErrStateFileError, slot)
		}
		return fmt.Errorf("%w: %v", emuerr.ErrStateFileError, err)
	}
	return nil
}

// GetMaxSlots returns the number of addressable save slots.
func (sm *StateManager) GetMaxSlots() int { return sm.maxSlots }

// SetMaxSlots changes the number of addressable save slots.
func (sm *StateManager) SetMaxSlots(slots int) {
	if slots > 0 {
		sm.maxSlots = slots
	}
}

// GetSaveDirectory returns the directory save states are written to.
func (sm *StateManager) GetSaveDirectory() string { return sm.saveDirectory }

// SetSaveDirectory changes the save directory, creating it if needed.
func (sm *StateManager) SetSaveDirectory(directory string) error {
	sm.saveDirectory = directory
	return os.MkdirAll(sm.saveDirectory, 0755)
}

// ExportState writes the bus's current state to an arbitrary file path,
// outside the slot numbering scheme.
func (sm *StateManager) ExportState(b *bus.Bus, filePath string) error {
	data, err := b.SaveState()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("%w: %v", emuerr.ErrStateFileError, err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", emuerr.ErrStateFileError, err)
	}
	return nil
}

// ImportState restores the bus's state from an arbitrary file path.
func (sm *StateManager) ImportState(b *bus.Bus, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("%w: %v", emuerr.ErrStateFileError, err)
	}
	return b.LoadState(data)
}

// Cleanup releases state manager resources. The manager holds no open
// file handles between calls, so there is nothing to release; this
// exists to satisfy the same lifecycle shape as the rest of the
// application's subsystems.
func (sm *StateManager) Cleanup() error {
	return nil
}
