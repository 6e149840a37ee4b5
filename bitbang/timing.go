// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bitbang

import (
	"errors"
	"time"
)

// Timing holds the durations used to generate the 1-wire time slots.
//
// A one is written with a short low pulse and a zero with a long one. Both
// write slots must have the same total length.
type Timing struct {
	ResetLow       time.Duration // low time of the reset pulse
	PresenceSample time.Duration // release to presence sample
	ResetRecovery  time.Duration // presence sample to end of reset

	Write1Low     time.Duration
	Write1Release time.Duration
	Write0Low     time.Duration
	Write0Release time.Duration

	ReadLow     time.Duration // low pulse starting a read slot
	ReadSample  time.Duration // release to sample
	ReadRelease time.Duration // sample to end of slot
}

// DefaultTiming is the standard speed timing.
var DefaultTiming = Timing{
	ResetLow:       480 * time.Microsecond,
	PresenceSample: 70 * time.Microsecond,
	ResetRecovery:  410 * time.Microsecond,

	Write1Low:     6 * time.Microsecond,
	Write1Release: 64 * time.Microsecond,
	Write0Low:     60 * time.Microsecond,
	Write0Release: 10 * time.Microsecond,

	ReadLow:     2 * time.Microsecond,
	ReadSample:  10 * time.Microsecond,
	ReadRelease: 50 * time.Microsecond,
}

// Validate returns an error if the timing can't produce valid time slots.
func (t *Timing) Validate() error {
	for _, d := range []time.Duration{t.ResetLow, t.PresenceSample, t.Write1Low, t.Write0Low, t.ReadLow, t.ReadSample} {
		if d <= 0 {
			return errors.New("bitbang: timing values must be positive")
		}
	}
	if t.Write1Low >= t.Write0Low {
		return errors.New("bitbang: write 1 low time must be shorter than write 0 low time")
	}
	if t.Write1Low+t.Write1Release != t.Write0Low+t.Write0Release {
		return errors.New("bitbang: write 1 and write 0 slots must have the same length")
	}
	return nil
}

// WriteSlot returns the total length of a write time slot.
func (t *Timing) WriteSlot() time.Duration {
	return t.Write0Low + t.Write0Release
}

// ReadSlot returns the total length of a read time slot.
func (t *Timing) ReadSlot() time.Duration {
	return t.ReadLow + t.ReadSample + t.ReadRelease
}
