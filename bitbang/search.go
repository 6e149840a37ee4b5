// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bitbang

import (
	"fmt"

	"github.com/GermanBionicSystems/owtemp/common"
	"periph.io/x/conn/v3/onewire"
)

// SearchState is a snapshot of the search state kept between passes.
//
// Discrepancies are 1-based bit positions in the ROM code, 0 meaning none.
type SearchState struct {
	LastDiscrepancy       int
	LastFamilyDiscrepancy int
	LastDevice            bool
}

// SearchState returns the state left by the last search pass.
func (b *Bus) SearchState() SearchState {
	return SearchState{
		LastDiscrepancy:       b.lastDiscrepancy,
		LastFamilyDiscrepancy: b.lastFamilyDiscrepancy,
		LastDevice:            b.lastDevice,
	}
}

// ROM returns the ROM code found by the last successful search pass, family
// code first.
func (b *Bus) ROM() [8]byte {
	return b.rom
}

// ResetSearch clears the search state so the next pass starts a new sweep.
func (b *Bus) ResetSearch() {
	b.lastDiscrepancy = 0
	b.lastFamilyDiscrepancy = 0
	b.lastDevice = false
}

// First resets the search state and returns the first device of a new sweep.
func (b *Bus) First() (onewire.Address, error) {
	b.ResetSearch()
	return b.search(cmdSearchROM)
}

// Next returns the next device of the current sweep.
//
// Once the last device has been returned, Next returns ErrNoDevice and the
// search state is reset.
func (b *Bus) Next() (onewire.Address, error) {
	return b.search(cmdSearchROM)
}

// FirstAlarm is First restricted to devices in alarm state.
func (b *Bus) FirstAlarm() (onewire.Address, error) {
	b.ResetSearch()
	return b.search(cmdAlarmSearch)
}

// NextAlarm is Next restricted to devices in alarm state.
func (b *Bus) NextAlarm() (onewire.Address, error) {
	return b.search(cmdAlarmSearch)
}

// TargetFamily prepares the search state so that the following Next returns
// the first device of the given family, if any. The caller must check the
// family of the returned address: when no device of that family is present
// the pass returns a device of another family.
func (b *Bus) TargetFamily(family byte) {
	b.rom = [8]byte{family}
	b.lastDiscrepancy = 64
	b.lastFamilyDiscrepancy = 0
	b.lastDevice = false
}

// SkipFamily prepares the search state so that the following Next skips the
// remaining devices sharing the family code of the device last found.
func (b *Bus) SkipFamily() {
	b.lastDiscrepancy = b.lastFamilyDiscrepancy
	b.lastFamilyDiscrepancy = 0
	if b.lastDiscrepancy == 0 {
		b.lastDevice = true
	}
}

// search performs one pass of the ROM search using cmd.
//
// Each pass walks one path of the binary tree formed by all the ROM codes on
// the bus. At a bit where devices disagree the pass goes the way it went
// during the previous pass up to the last discrepancy, takes 1 at the last
// discrepancy and 0 after it.
func (b *Bus) search(cmd byte) (onewire.Address, error) {
	if b.lastDevice {
		b.ResetSearch()
		return 0, ErrNoDevice
	}
	if present, err := b.Reset(); err != nil {
		b.ResetSearch()
		return 0, err
	} else if !present {
		b.ResetSearch()
		return 0, ErrBusEmpty
	}
	if err := b.WriteByte(cmd); err != nil {
		b.ResetSearch()
		return 0, err
	}

	lastZero := 0
	for id := 1; id <= 64; id++ {
		n, mask := (id-1)/8, byte(1)<<uint((id-1)%8)
		bit, err := b.ReadBit()
		if err != nil {
			b.ResetSearch()
			return 0, err
		}
		cmpBit, err := b.ReadBit()
		if err != nil {
			b.ResetSearch()
			return 0, err
		}
		if bit == 1 && cmpBit == 1 {
			b.log.V(2).Info("search aborted", "bit", id)
			b.ResetSearch()
			return 0, ErrCollision
		}

		var dir byte
		if bit != cmpBit {
			// All remaining devices agree.
			dir = bit
		} else {
			switch {
			case id < b.lastDiscrepancy:
				dir = (b.rom[n] & mask) >> uint((id-1)%8)
			case id == b.lastDiscrepancy:
				dir = 1
			}
			if dir == 0 {
				lastZero = id
				if lastZero < 9 {
					b.lastFamilyDiscrepancy = lastZero
				}
			}
		}

		if dir == 1 {
			b.rom[n] |= mask
		} else {
			b.rom[n] &^= mask
		}
		if err := b.WriteBit(dir); err != nil {
			b.ResetSearch()
			return 0, err
		}
	}

	b.lastDiscrepancy = lastZero
	if lastZero == 0 {
		b.lastDevice = true
	}
	if b.rom[0] == 0 {
		b.ResetSearch()
		return 0, ErrNoDevice
	}
	addr := common.BytesAddress(b.rom)
	b.log.V(2).Info("search pass", "addr", fmt.Sprintf("%#016x", addr), "lastDiscrepancy", b.lastDiscrepancy, "lastDevice", b.lastDevice)
	return addr, nil
}
