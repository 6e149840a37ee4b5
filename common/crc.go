// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains helpers shared by the 1-wire packages: the
// Dallas/Maxim CRC8 and conversions between a 64-bit ROM code and its wire
// byte order.
package common

import (
	"encoding/binary"

	"periph.io/x/conn/v3/onewire"
)

// CRC8 returns the Dallas/Maxim 8-bit CRC (x^8+x^5+x^4+1) of bytes, the CRC
// used in 1-wire ROM codes and scratchpads.
func CRC8(bytes []byte) byte {
	return onewire.CalcCRC(bytes)
}

// CheckCRC8 returns true when the last byte of buf is the CRC8 of the bytes
// preceding it. Buffers shorter than two bytes never check.
func CheckCRC8(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	return CRC8(buf[:len(buf)-1]) == buf[len(buf)-1]
}

// AddressBytes returns the ROM code in bus order: family code first, CRC
// last.
func AddressBytes(a onewire.Address) [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(a))
	return b
}

// BytesAddress is the inverse of AddressBytes. The CRC byte is not checked.
func BytesAddress(b [8]byte) onewire.Address {
	return onewire.Address(binary.LittleEndian.Uint64(b[:]))
}

// Family returns the family code of a ROM code.
func Family(a onewire.Address) byte {
	return byte(a)
}
