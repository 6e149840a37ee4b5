// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bitbang

import (
	"errors"
	"fmt"
	"time"

	"github.com/GermanBionicSystems/owtemp/common"
	"github.com/go-logr/logr"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/host/v3/cpu"
)

// ROM commands.
const (
	cmdReadROM     = 0x33
	cmdMatchROM    = 0x55
	cmdSkipROM     = 0xcc
	cmdSearchROM   = 0xf0
	cmdAlarmSearch = 0xec
)

// Opts contains options to pass to the constructor.
type Opts struct {
	Timing Timing // zero value selects DefaultTiming

	// Delay busy waits for the given duration. It defaults to cpu.Nanospin.
	// The bus is only as accurate as this function.
	Delay func(time.Duration)

	// Settle is how long the line is left released after construction so
	// devices powered with the bus see a stable idle level.
	Settle time.Duration

	Logger logr.Logger
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Timing: DefaultTiming,
	Settle: 200 * time.Millisecond,
}

// New returns a 1-wire bus driven through the pin p.
//
// The pin is released and left idle for opts.Settle before returning.
func New(p Pin, opts *Opts) (*Bus, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	b := &Bus{
		pin:    p,
		name:   "pin",
		timing: opts.Timing,
		delay:  opts.Delay,
		log:    opts.Logger,
	}
	if b.timing == (Timing{}) {
		b.timing = DefaultTiming
	}
	if err := b.timing.Validate(); err != nil {
		return nil, err
	}
	if b.delay == nil {
		b.delay = cpu.Nanospin
	}
	if b.log.GetSink() == nil {
		b.log = logr.Discard()
	}
	if s, ok := p.(fmt.Stringer); ok {
		b.name = s.String()
	}
	b.release()
	if b.err != nil {
		return nil, b.err
	}
	sleep(opts.Settle)
	return b, nil
}

// Bus is a 1-wire bus master bit-banged on a GPIO pin.
//
// Bus implements a persistent error model: the first error returned by the
// pin is kept and returned by every subsequent call. A new Bus must be
// created to proceed.
//
// Errors on the 1-wire bus itself, such as no device answering a reset, are
// not persistent and implement onewire.BusError.
type Bus struct {
	pin    Pin
	name   string
	delay  func(time.Duration)
	timing Timing
	log    logr.Logger
	err    error

	// Search state, see search.go.
	lastDiscrepancy       int
	lastFamilyDiscrepancy int
	lastDevice            bool
	rom                   [8]byte
}

func (b *Bus) String() string {
	return "bitbang(" + b.name + ")"
}

// Halt implements conn.Resource.
//
// It releases the line.
func (b *Bus) Halt() error {
	b.release()
	return b.err
}

// Tx performs a bus transaction: a reset, then w is written and r is read.
//
// power is accepted for compatibility with onewire.Bus; the line is always
// left on the external pull-up as parasite powered devices aren't supported.
func (b *Bus) Tx(w, r []byte, power onewire.Pullup) error {
	if present, err := b.Reset(); err != nil {
		return err
	} else if !present {
		return ErrBusEmpty
	}
	for _, c := range w {
		if err := b.WriteByte(c); err != nil {
			return err
		}
	}
	for i := range r {
		c, err := b.ReadByte()
		if err != nil {
			return err
		}
		r[i] = c
	}
	return nil
}

// Search performs a full search cycle on the 1-wire bus and returns the
// addresses of all devices on the bus if alarmOnly is false and of all
// devices in alarm state if alarmOnly is true.
//
// If an error occurs during the search the already-discovered devices are
// returned with the error.
func (b *Bus) Search(alarmOnly bool) ([]onewire.Address, error) {
	first, next := b.First, b.Next
	if alarmOnly {
		first, next = b.FirstAlarm, b.NextAlarm
	}
	var addrs []onewire.Address
	addr, err := first()
	for err == nil {
		addrs = append(addrs, addr)
		addr, err = next()
	}
	switch {
	case errors.Is(err, ErrNoDevice):
		return addrs, nil
	case len(addrs) != 0:
		return addrs, err
	case errors.Is(err, ErrBusEmpty):
		return nil, nil
	case alarmOnly && errors.Is(err, ErrCollision):
		// No device is in alarm state, nobody answered the first bit.
		return nil, nil
	}
	return nil, err
}

// SearchTriplet performs a single bit search triplet: it reads the bit and
// its complement, then writes the direction taken.
//
// SearchTriplet lets onewire.Search drive this bus. Prefer Search, or First
// and Next.
func (b *Bus) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	id, err := b.ReadBit()
	if err != nil {
		return onewire.TripletResult{}, err
	}
	cmp, err := b.ReadBit()
	if err != nil {
		return onewire.TripletResult{}, err
	}
	tr := onewire.TripletResult{GotZero: id == 0, GotOne: cmp == 0}
	switch {
	case tr.GotZero && tr.GotOne:
		if direction != 0 {
			tr.Taken = 1
		}
	case tr.GotZero:
		tr.Taken = 0
	default:
		tr.Taken = 1
	}
	return tr, b.WriteBit(tr.Taken)
}

// Select sends the match ROM command followed by addr. Only the device with
// that address answers the following function command.
//
// The bus must have been reset first.
func (b *Bus) Select(addr onewire.Address) error {
	if err := b.WriteByte(cmdMatchROM); err != nil {
		return err
	}
	rom := common.AddressBytes(addr)
	for _, c := range rom {
		if err := b.WriteByte(c); err != nil {
			return err
		}
	}
	return nil
}

// Skip sends the skip ROM command so the following function command is
// addressed to every device on the bus.
//
// The bus must have been reset first.
func (b *Bus) Skip() error {
	return b.WriteByte(cmdSkipROM)
}

// ReadROM reads the address of the only device on the bus. With more than
// one device the answers collide and the CRC check fails.
func (b *Bus) ReadROM() (onewire.Address, error) {
	var rom [8]byte
	if err := b.Tx([]byte{cmdReadROM}, rom[:], onewire.WeakPullup); err != nil {
		return 0, err
	}
	if !common.CheckCRC8(rom[:]) {
		return 0, busError("bitbang: incorrect ROM code CRC")
	}
	return common.BytesAddress(rom), nil
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

var (
	// ErrBusEmpty is returned when no device answers a reset with a
	// presence pulse.
	ErrBusEmpty error = busError("bitbang: no device present")
	// ErrCollision is returned when a search reads a 1 for both a bit and
	// its complement.
	ErrCollision error = busError("bitbang: search read 1 for both bit and complement")
	// ErrNoDevice is returned by First and Next when no (more) device is
	// found.
	ErrNoDevice error = busError("bitbang: no device found")
)

var sleep = time.Sleep

var _ conn.Resource = &Bus{}
var _ onewire.Bus = &Bus{}
var _ onewire.BusSearcher = &Bus{}
