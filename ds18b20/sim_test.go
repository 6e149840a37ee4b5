// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"testing"
	"time"

	"github.com/GermanBionicSystems/owtemp/bitbang"
	"github.com/GermanBionicSystems/owtemp/bitbang/bitbangtest"
	"github.com/GermanBionicSystems/owtemp/common"
	"periph.io/x/conn/v3/onewire"
)

// fakeSensor implements bitbangtest.Function with the DS18B20 function
// commands.
type fakeSensor struct {
	raw    int16
	th, tl byte
	config byte
	eeprom [3]byte
	// corrupt flips a bit of the scratchpad after its CRC was computed.
	corrupt bool

	conversions int
	cmd         byte
	data        []byte
}

func newFakeSensor(raw int16) *fakeSensor {
	return &fakeSensor{raw: raw, th: 0x4b, tl: 0x46, config: 0x7f}
}

func (s *fakeSensor) Reset() {
	s.cmd = 0
	s.data = nil
}

func (s *fakeSensor) Receive(c byte) ([]byte, time.Duration) {
	if s.cmd == 0 {
		s.cmd = c
		switch c {
		case cmdConvert:
			s.conversions++
			return nil, resolutionFromConfig(s.config).ConversionTime()
		case cmdReadScratchpad:
			return s.scratchpad(), 0
		case cmdCopyScratchpad:
			s.eeprom = [3]byte{s.th, s.tl, s.config}
		}
		return nil, 0
	}
	if s.cmd == cmdWriteScratchpad && len(s.data) < 3 {
		if s.data = append(s.data, c); len(s.data) == 3 {
			s.th, s.tl = s.data[0], s.data[1]
			s.config = s.data[2]&resolutionMask | 0x1f
		}
	}
	return nil, 0
}

func (s *fakeSensor) scratchpad() []byte {
	b := []byte{byte(s.raw), byte(s.raw >> 8), s.th, s.tl, s.config, 0xff, 0x0c, 0x10, 0}
	b[8] = common.CRC8(b[:8])
	if s.corrupt {
		b[0] ^= 0x01
	}
	return b
}

// rom returns a ROM code with a valid CRC.
func rom(family Family, serial uint64) onewire.Address {
	var b [8]byte
	b[0] = byte(family)
	for i := 1; i < 7; i++ {
		b[i] = byte(serial >> uint(8*(i-1)))
	}
	b[7] = common.CRC8(b[:7])
	return common.BytesAddress(b)
}

// testBus is a bit-banged bus on a simulated wire with fake sensors.
type testBus struct {
	wire    *bitbangtest.Wire
	bus     *bitbang.Bus
	sensors map[onewire.Address]*fakeSensor
}

func newTestBus(t *testing.T, addrs ...onewire.Address) *testBus {
	tb := &testBus{wire: bitbangtest.NewWire(), sensors: map[onewire.Address]*fakeSensor{}}
	for i, a := range addrs {
		s := newFakeSensor(int16(0x0190 + 0x10*i)) // 25°C, 26°C, ...
		tb.sensors[a] = s
		tb.wire.Devices = append(tb.wire.Devices, &bitbangtest.Device{ROM: a, Function: s})
	}
	b, err := bitbang.New(tb.wire, &bitbang.Opts{Delay: tb.wire.Delay})
	if err != nil {
		t.Fatal(err)
	}
	tb.bus = b
	return tb
}
