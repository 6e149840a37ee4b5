// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"strconv"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Resolution is the number of bits of a temperature conversion.
type Resolution uint8

const (
	Bits9  Resolution = 9  // 0.5°C, 94ms
	Bits10 Resolution = 10 // 0.25°C, 188ms
	Bits11 Resolution = 11 // 0.125°C, 375ms
	Bits12 Resolution = 12 // 0.0625°C, 750ms

	// InvalidResolution is returned for unsupported values.
	InvalidResolution Resolution = 0xff
)

// Configuration register bits R1 and R0 (datasheet p.9). Bits 0 to 4 always
// read as 1.
const (
	resolutionMask = 0x60
	configOnes     = 0x1f
)

// ResolutionFromBits returns the Resolution for bits in 9..12 and
// InvalidResolution otherwise.
func ResolutionFromBits(bits int) Resolution {
	if bits < 9 || bits > 12 {
		return InvalidResolution
	}
	return Resolution(bits)
}

// resolutionFromConfig decodes the configuration register.
func resolutionFromConfig(conf byte) Resolution {
	return Resolution((conf&resolutionMask)>>5) + Bits9
}

// Valid returns true for 9 to 12 bits.
func (r Resolution) Valid() bool {
	return r >= Bits9 && r <= Bits12
}

// config returns the configuration register conf with its resolution bits
// replaced by r.
func (r Resolution) config(conf byte) byte {
	return conf&^resolutionMask | byte(r-Bits9)<<5
}

// Step returns the temperature represented by the least significant valid
// bit, 0 for an invalid resolution.
func (r Resolution) Step() physic.Temperature {
	if !r.Valid() {
		return 0
	}
	return physic.Kelvin / 2 >> uint(r-Bits9)
}

// ConversionTime returns the maximum duration of a conversion, datasheet p.6.
func (r Resolution) ConversionTime() time.Duration {
	if !r.Valid() {
		return 0
	}
	return (94 << uint(r-Bits9)) * time.Millisecond
}

func (r Resolution) String() string {
	if !r.Valid() {
		return "invalid"
	}
	return strconv.Itoa(int(r)) + " bits"
}
