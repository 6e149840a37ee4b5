// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bitbang

import "periph.io/x/conn/v3/gpio"

// Reset issues a reset pulse and returns true if at least one device
// answered with a presence pulse.
func (b *Bus) Reset() (bool, error) {
	b.low()
	b.wait(b.timing.ResetLow)
	b.release()
	b.wait(b.timing.PresenceSample)
	present := b.sample() == gpio.Low
	b.wait(b.timing.ResetRecovery)
	if b.err != nil {
		return false, b.err
	}
	return present, nil
}

// WriteBit writes the least significant bit of bit in one write time slot.
func (b *Bus) WriteBit(bit byte) error {
	if bit&1 != 0 {
		b.low()
		b.wait(b.timing.Write1Low)
		b.release()
		b.wait(b.timing.Write1Release)
	} else {
		b.low()
		b.wait(b.timing.Write0Low)
		b.release()
		b.wait(b.timing.Write0Release)
	}
	return b.err
}

// ReadBit generates a read time slot and returns the bit sent by the
// devices, 1 if the line stayed high.
func (b *Bus) ReadBit() (byte, error) {
	b.low()
	b.wait(b.timing.ReadLow)
	b.release()
	b.wait(b.timing.ReadSample)
	var bit byte
	if b.sample() == gpio.High {
		bit = 1
	}
	b.wait(b.timing.ReadRelease)
	if b.err != nil {
		return 0, b.err
	}
	return bit, nil
}

// WriteByte writes c, least significant bit first.
func (b *Bus) WriteByte(c byte) error {
	for i := 0; i < 8; i++ {
		if err := b.WriteBit(c); err != nil {
			return err
		}
		c >>= 1
	}
	return nil
}

// ReadByte reads a byte, least significant bit first.
func (b *Bus) ReadByte() (byte, error) {
	var c byte
	for i := 0; i < 8; i++ {
		bit, err := b.ReadBit()
		if err != nil {
			return 0, err
		}
		c = c>>1 | bit<<7
	}
	return c, nil
}
