// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bitbangtest simulates a 1-wire bus at the electrical level for
// testing a bit-banged master without hardware.
//
// Wire acts as the GPIO pin and as the delay function of the master. Time
// only advances through Delay, so a test runs on a virtual clock and is
// fully deterministic. Devices on the wire decode the time slots generated
// by the master the way real devices do: the length of the low pulse tells a
// write 1 from a write 0 (or a reset), and a device sending a 0 holds the line
// low for the sampling window of the slot.
package bitbangtest

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"
)

// Thresholds used by the simulated devices, from the DS18B20 datasheet.
const (
	// ResetMin is the shortest low pulse seen as a reset.
	ResetMin = 480 * time.Microsecond
	// Write1Max is the longest low pulse seen as a write 1.
	Write1Max = 15 * time.Microsecond
	// presenceDelay and presenceLen place the presence pulse after the
	// master releases the line at the end of a reset.
	presenceDelay = 15 * time.Microsecond
	presenceLen   = 120 * time.Microsecond
	// holdLow is how long a device sending a 0 keeps the line low, counted
	// from the start of the slot.
	holdLow = 45 * time.Microsecond
)

// Wire is a simulated 1-wire bus line with its pull-up resistor.
//
// It implements the Pin interface of package bitbang and provides its Delay
// function.
type Wire struct {
	Devices []*Device
	// Now is the virtual time. It is advanced by Delay.
	Now time.Duration

	// Counters of what the master generated.
	Resets int
	Slots  int
	// Lows records the length of every low pulse driven by the master.
	Lows []time.Duration

	mu      sync.Mutex
	outErr  error
	driving bool
	fallAt  time.Duration
}

// NewWire returns a Wire with the devices attached.
func NewWire(devices ...*Device) *Wire {
	return &Wire{Devices: devices}
}

func (w *Wire) String() string {
	return "wire"
}

// FailOut makes every following Out return err. A nil err stops the
// failures.
func (w *Wire) FailOut(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outErr = err
}

// Delay advances the virtual clock.
func (w *Wire) Delay(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Now += d
}

// Advance is Delay under another name, for use by tests waiting for a
// device.
func (w *Wire) Advance(d time.Duration) {
	w.Delay(d)
}

// Out implements gpio.PinOut. Being open-drain, driving high releases the
// line.
func (w *Wire) Out(l gpio.Level) error {
	w.mu.Lock()
	err := w.outErr
	w.mu.Unlock()
	if err != nil {
		return err
	}
	if l == gpio.High {
		return w.In(gpio.Float, gpio.NoEdge)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.driving {
		w.driving = true
		w.fallAt = w.Now
	}
	return nil
}

// In implements gpio.PinIn. It releases the line, which completes the low
// phase of a time slot.
func (w *Wire) In(pull gpio.Pull, edge gpio.Edge) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.driving {
		return nil
	}
	w.driving = false
	low := w.Now - w.fallAt
	w.Lows = append(w.Lows, low)
	if low >= ResetMin {
		w.Resets++
		for _, d := range w.Devices {
			d.reset(w.Now)
		}
		return nil
	}
	w.Slots++
	for _, d := range w.Devices {
		d.slot(w.fallAt, w.Now, low)
	}
	return nil
}

// Read implements gpio.PinIn. The line is low when the master or any device
// pulls it low.
func (w *Wire) Read() gpio.Level {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.driving {
		return gpio.Low
	}
	for _, d := range w.Devices {
		if d.pullsLow(w.Now) {
			return gpio.Low
		}
	}
	return gpio.High
}

// Function is the device specific part of a simulated device: what happens
// once a ROM command selected it.
type Function interface {
	// Reset is called on every bus reset.
	Reset()
	// Receive is called for every byte written to the selected device.
	//
	// reply is sent back in the following read slots. A non-zero busy keeps
	// the device answering 0 to every slot for that long, as a device does
	// while it converts.
	Receive(c byte) (reply []byte, busy time.Duration)
}

type mode int

const (
	modeIdle mode = iota
	modeROMCommand
	modeSearch
	modeMatch
	modeSend
	modeFunction
)

// Device is a simulated 1-wire device.
type Device struct {
	ROM onewire.Address
	// Alarm makes the device answer the alarm search.
	Alarm bool
	// Function handles function commands. A device without one ignores
	// the bus once selected.
	Function Function
	// Silent devices don't answer resets and never pull the line low.
	Silent bool

	mode      mode
	in        byte
	nin       int
	pos       int // ROM bit position for search and match
	phase     int // search phase: bit, complement, direction
	tx        []byte
	txBit     int
	lowUntil  time.Duration
	presence  [2]time.Duration
	busyUntil time.Duration
}

func (d *Device) reset(now time.Duration) {
	if d.Silent {
		return
	}
	d.mode = modeROMCommand
	d.in, d.nin = 0, 0
	d.tx = nil
	d.presence = [2]time.Duration{now + presenceDelay, now + presenceDelay + presenceLen}
	if d.Function != nil {
		d.Function.Reset()
	}
}

func (d *Device) pullsLow(now time.Duration) bool {
	if d.Silent {
		return false
	}
	if now >= d.presence[0] && now < d.presence[1] {
		return true
	}
	return now < d.lowUntil
}

func (d *Device) romBit() byte {
	return byte(d.ROM>>uint(d.pos)) & 1
}

// receive shifts bit in and returns true when a byte is complete.
func (d *Device) receive(bit byte) bool {
	d.in = d.in>>1 | bit<<7
	d.nin++
	if d.nin == 8 {
		d.nin = 0
		return true
	}
	return false
}

// slot handles one time slot started at fall and released at now.
func (d *Device) slot(fall, now, low time.Duration) {
	if d.Silent {
		return
	}
	var bit byte
	if low < Write1Max {
		bit = 1
	}
	send := func(b byte) {
		if b == 0 {
			d.lowUntil = fall + holdLow
		}
	}
	switch d.mode {
	case modeROMCommand:
		if d.receive(bit) {
			d.romCommand(d.in)
		}
	case modeSearch:
		b := d.romBit()
		switch d.phase {
		case 0:
			send(b)
			d.phase = 1
		case 1:
			send(b ^ 1)
			d.phase = 2
		default:
			d.phase = 0
			if bit != b {
				d.mode = modeIdle
				return
			}
			if d.pos++; d.pos == 64 {
				d.selected()
			}
		}
	case modeMatch:
		if bit != d.romBit() {
			d.mode = modeIdle
			return
		}
		if d.pos++; d.pos == 64 {
			d.selected()
		}
	case modeSend:
		send(d.tx[0] >> uint(d.txBit) & 1)
		if d.txBit++; d.txBit == 8 {
			d.txBit = 0
			if d.tx = d.tx[1:]; len(d.tx) == 0 {
				d.selected()
			}
		}
	case modeFunction:
		if now < d.busyUntil {
			send(0)
			return
		}
		if d.receive(bit) {
			reply, busy := d.Function.Receive(d.in)
			if busy > 0 {
				d.busyUntil = now + busy
			}
			if len(reply) != 0 {
				d.tx = append([]byte(nil), reply...)
				d.txBit = 0
				d.mode = modeSend
			}
		}
	}
}

func (d *Device) romCommand(c byte) {
	d.pos, d.phase = 0, 0
	switch c {
	case 0xf0:
		d.mode = modeSearch
	case 0xec:
		d.mode = modeIdle
		if d.Alarm {
			d.mode = modeSearch
		}
	case 0x55:
		d.mode = modeMatch
	case 0xcc:
		d.selected()
	case 0x33:
		var rom [8]byte
		for i := range rom {
			rom[i] = byte(d.ROM >> uint(8*i))
		}
		d.tx = rom[:]
		d.txBit = 0
		d.mode = modeSend
	default:
		d.mode = modeIdle
	}
}

// selected switches to function commands.
func (d *Device) selected() {
	d.in, d.nin = 0, 0
	if d.Function == nil {
		d.mode = modeIdle
		return
	}
	d.mode = modeFunction
}

// Busy returns true while the device is converting.
func (d *Device) Busy(now time.Duration) bool {
	return now < d.busyUntil
}
