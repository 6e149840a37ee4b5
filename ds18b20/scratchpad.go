// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"github.com/GermanBionicSystems/owtemp/common"
	"periph.io/x/conn/v3/physic"
)

// Scratchpad is the content of the scratchpad memory as read from the
// device, either the 5 bytes up to the configuration register or the full 9
// bytes including the CRC.
//
//	0-1 temperature, LSB first, two's complement, 1/16°C at 12 bits
//	2   TH alarm register
//	3   TL alarm register
//	4   configuration register
//	5-7 reserved
//	8   CRC
type Scratchpad []byte

const (
	shortScratchpad = 5
	fullScratchpad  = 9
)

// Raw returns the raw temperature register.
func (s Scratchpad) Raw() int16 {
	return int16(s[1])<<8 | int16(s[0])
}

// Alarm returns the TH and TL registers.
func (s Scratchpad) Alarm() (th, tl byte) {
	return s[2], s[3]
}

// Config returns the configuration register.
func (s Scratchpad) Config() byte {
	return s[4]
}

// Resolution returns the resolution set in the configuration register.
func (s Scratchpad) Resolution() Resolution {
	return resolutionFromConfig(s[4])
}

// CRCValid returns true for a full scratchpad whose CRC matches.
func (s Scratchpad) CRCValid() bool {
	return len(s) == fullScratchpad && common.CheckCRC8(s)
}

// Temperature decodes the temperature register at the resolution set in the
// configuration register.
func (s Scratchpad) Temperature() physic.Temperature {
	return decodeTemperature(s.Raw(), s.Resolution())
}

// decodeTemperature converts a raw temperature register. At less than 12
// bits the low bits are undefined and are dropped.
func decodeTemperature(raw int16, r Resolution) physic.Temperature {
	if !r.Valid() {
		return 0
	}
	v := physic.Temperature(raw >> uint(Bits12-r))
	return v*r.Step() + physic.ZeroCelsius
}
