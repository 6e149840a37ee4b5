// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"
	"fmt"

	"github.com/GermanBionicSystems/owtemp/bitbang"
	"github.com/GermanBionicSystems/owtemp/common"
	"github.com/go-logr/logr"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// Bus is a 1-wire bus giving access to single read slots and to the
// incremental ROM search. bitbang.Bus implements it.
type Bus interface {
	onewire.Bus
	// Reset issues a reset pulse and reports whether a device answered.
	Reset() (bool, error)
	// ReadBit performs a single read time slot.
	ReadBit() (byte, error)
	// First and Next enumerate the devices on the bus one at a time. They
	// return bitbang.ErrNoDevice once every device was returned.
	First() (onewire.Address, error)
	Next() (onewire.Address, error)
}

var (
	// ErrChecksum is returned when a scratchpad CRC doesn't match.
	ErrChecksum error = busError("ds18b20: incorrect scratchpad CRC")
	// ErrNoResponse is returned when a scratchpad read only returns ones.
	ErrNoResponse error = busError("ds18b20: device did not respond")
	// ErrNotReady is returned while a conversion is in progress.
	ErrNotReady error = busError("ds18b20: conversion in progress")
	// ErrFamily is returned for an address that isn't a DS18B20's.
	ErrFamily = errors.New("ds18b20: not a DS18B20")
	// ErrRegistryFull is returned by Initialize when more sensors answered
	// than the Manager can hold.
	ErrRegistryFull = errors.New("ds18b20: sensor table full")
	// ErrIndexOutOfRange is returned for a sensor index not below Count.
	ErrIndexOutOfRange = errors.New("ds18b20: sensor index out of range")
	// ErrNoReading is returned by Temperature until a read succeeded.
	ErrNoReading = errors.New("ds18b20: no valid reading")
)

// Opts contains options to pass to NewManager.
type Opts struct {
	// MaxSensors is the capacity of the sensor table.
	MaxSensors int
	// CheckCRC reads the full scratchpad and verifies its CRC. Otherwise
	// only the first 5 bytes are read.
	CheckCRC bool

	Logger logr.Logger
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	MaxSensors: 4,
	CheckCRC:   true,
}

// Sensor is an entry of the Manager's sensor table.
type Sensor struct {
	Addr onewire.Address
	// Temperature is the last successful reading. It is only meaningful
	// when Valid is true.
	Temperature physic.Temperature
	Valid       bool
}

func (s *Sensor) String() string {
	if !s.Valid {
		return fmt.Sprintf("%#016x: -", uint64(s.Addr))
	}
	return fmt.Sprintf("%#016x: %s", uint64(s.Addr), s.Temperature)
}

// Manager drives every DS18B20 found on a bus.
//
// Conversions are started without waiting for them. AllConversionsDone polls
// the bus and ReadAll collects the results once every device is done.
//
// Like the bus it drives, a Manager is not safe for concurrent use.
type Manager struct {
	bus      Bus
	sensors  []Sensor // len is the sensor count, cap the capacity
	checkCRC bool
	log      logr.Logger
}

// NewManager returns a Manager with an empty sensor table. Call Initialize to
// populate it.
func NewManager(bus Bus, opts *Opts) *Manager {
	if opts == nil {
		opts = &DefaultOpts
	}
	n := opts.MaxSensors
	if n <= 0 {
		n = DefaultOpts.MaxSensors
	}
	m := &Manager{
		bus:      bus,
		sensors:  make([]Sensor, 0, n),
		checkCRC: opts.CheckCRC,
		log:      opts.Logger,
	}
	if m.log.GetSink() == nil {
		m.log = logr.Discard()
	}
	return m
}

func (m *Manager) String() string {
	return fmt.Sprintf("ds18b20.Manager{%s, %d/%d}", m.bus, len(m.sensors), cap(m.sensors))
}

// Initialize enumerates the devices on the bus into the sensor table, sets
// the resolution of every DS18B20 found and starts a conversion on all of
// them.
//
// Devices past the table capacity are ignored and ErrRegistryFull is
// returned once the rest of the initialization completed.
func (m *Manager) Initialize(res Resolution) error {
	if !res.Valid() {
		return errors.New("ds18b20: invalid resolution")
	}
	m.sensors = m.sensors[:0]
	full := false
	addr, err := m.bus.First()
	for err == nil {
		if rom := common.AddressBytes(addr); !common.CheckCRC8(rom[:]) {
			m.log.V(1).Info("skipping device with bad ROM CRC", "addr", fmt.Sprintf("%#016x", uint64(addr)))
		} else if len(m.sensors) == cap(m.sensors) {
			full = true
			break
		} else {
			m.sensors = append(m.sensors, Sensor{Addr: addr})
			m.log.V(1).Info("found device", "addr", fmt.Sprintf("%#016x", uint64(addr)), "family", Family(addr&0xff).String())
		}
		addr, err = m.bus.Next()
	}
	if err != nil && !errors.Is(err, bitbang.ErrNoDevice) {
		if len(m.sensors) == 0 {
			return err
		}
		m.log.Error(err, "search stopped early", "found", len(m.sensors))
	}

	for i := range m.sensors {
		if !IsFamilyMember(m.sensors[i].Addr) {
			continue
		}
		if err := m.SetResolution(i, res); err != nil {
			return fmt.Errorf("ds18b20: setting resolution of sensor %d: %w", i, err)
		}
	}
	if err := m.StartAll(); err != nil {
		return err
	}
	if full {
		m.log.Info("sensor table full, ignoring remaining devices", "capacity", cap(m.sensors))
		return ErrRegistryFull
	}
	return nil
}

// Count returns the number of sensors in the table.
func (m *Manager) Count() int {
	return len(m.sensors)
}

// IsFamilyMember returns true if addr is the address of a DS18B20.
func (m *Manager) IsFamilyMember(addr onewire.Address) bool {
	return IsFamilyMember(addr)
}

// Address returns the address of sensor i.
func (m *Manager) Address(i int) (onewire.Address, error) {
	if i < 0 || i >= len(m.sensors) {
		return 0, ErrIndexOutOfRange
	}
	return m.sensors[i].Addr, nil
}

// SetAddress replaces the address of sensor i, for example to restore a
// saved sensor order. The cached reading is invalidated.
func (m *Manager) SetAddress(i int, addr onewire.Address) error {
	if i < 0 || i >= len(m.sensors) {
		return ErrIndexOutOfRange
	}
	m.sensors[i] = Sensor{Addr: addr}
	return nil
}

// Temperature returns the last temperature read from sensor i by ReadAll.
func (m *Manager) Temperature(i int) (physic.Temperature, error) {
	if i < 0 || i >= len(m.sensors) {
		return 0, ErrIndexOutOfRange
	}
	if !m.sensors[i].Valid {
		return 0, ErrNoReading
	}
	return m.sensors[i].Temperature, nil
}

// Sensors returns a copy of the sensor table.
func (m *Manager) Sensors() []Sensor {
	return append([]Sensor(nil), m.sensors...)
}

// StartOne starts a conversion on sensor i and returns immediately.
func (m *Manager) StartOne(i int) error {
	d, err := m.dev(i)
	if err != nil {
		return err
	}
	return d.Tx([]byte{cmdConvert}, nil)
}

// StartAll starts a conversion on every device of the bus at once and
// returns immediately.
func (m *Manager) StartAll() error {
	return StartAll(m.bus)
}

// AllConversionsDone returns true when no device holds the line low, that is
// when every conversion started completed.
func (m *Manager) AllConversionsDone() (bool, error) {
	bit, err := m.bus.ReadBit()
	if err != nil {
		return false, err
	}
	return bit == 1, nil
}

// GetResolution reads the resolution configured in sensor i.
func (m *Manager) GetResolution(i int) (Resolution, error) {
	d, err := m.dev(i)
	if err != nil {
		return InvalidResolution, err
	}
	spad, err := m.readScratchpad(d)
	if err != nil {
		return InvalidResolution, err
	}
	return spad.Resolution(), nil
}

// SetResolution sets the resolution of sensor i and saves it to EEPROM. The
// alarm registers are preserved.
func (m *Manager) SetResolution(i int, r Resolution) error {
	if !r.Valid() {
		return errors.New("ds18b20: invalid resolution")
	}
	d, err := m.dev(i)
	if err != nil {
		return err
	}
	spad, err := m.readScratchpad(d)
	if err != nil {
		return err
	}
	th, tl := spad.Alarm()
	if err := d.Tx([]byte{cmdWriteScratchpad, th, tl, r.config(spad.Config())}, nil); err != nil {
		return err
	}
	return d.Tx([]byte{cmdCopyScratchpad}, nil)
}

// ReadOne reads the result of the last conversion of sensor i.
//
// It returns ErrNotReady while a conversion is still running on the bus.
func (m *Manager) ReadOne(i int) (physic.Temperature, error) {
	d, err := m.dev(i)
	if err != nil {
		return 0, err
	}
	if done, err := m.AllConversionsDone(); err != nil {
		return 0, err
	} else if !done {
		return 0, ErrNotReady
	}
	return m.readOne(d)
}

func (m *Manager) readOne(d *onewire.Dev) (physic.Temperature, error) {
	spad, err := m.readScratchpad(d)
	if err != nil {
		return 0, err
	}
	return spad.Temperature(), nil
}

// ReadAll updates the cached reading of every sensor.
//
// Nothing is read, and ErrNotReady returned, while a conversion is running.
// Otherwise each sensor is read in turn; a sensor whose read fails is marked
// invalid and keeps its previous temperature.
func (m *Manager) ReadAll() error {
	if done, err := m.AllConversionsDone(); err != nil {
		return err
	} else if !done {
		return ErrNotReady
	}
	for i := range m.sensors {
		s := &m.sensors[i]
		s.Valid = false
		if !IsFamilyMember(s.Addr) {
			continue
		}
		t, err := m.readOne(&onewire.Dev{Bus: m.bus, Addr: s.Addr})
		if err != nil {
			m.log.V(1).Info("read failed", "sensor", i, "err", err.Error())
			continue
		}
		s.Temperature, s.Valid = t, true
	}
	return nil
}

// dev returns the device of sensor i, which must be a DS18B20.
func (m *Manager) dev(i int) (*onewire.Dev, error) {
	if i < 0 || i >= len(m.sensors) {
		return nil, ErrIndexOutOfRange
	}
	addr := m.sensors[i].Addr
	if !IsFamilyMember(addr) {
		return nil, ErrFamily
	}
	return &onewire.Dev{Bus: m.bus, Addr: addr}, nil
}

// readScratchpad reads 5 or 9 bytes of scratchpad depending on CheckCRC. The
// read is terminated with a reset.
//
// A device still converting answers zeros, ErrNoResponse is returned then.
func (m *Manager) readScratchpad(d *onewire.Dev) (Scratchpad, error) {
	n := shortScratchpad
	if m.checkCRC {
		n = fullScratchpad
	}
	spad := make(Scratchpad, n)
	if err := d.Tx([]byte{cmdReadScratchpad}, spad); err != nil {
		return nil, err
	}
	if _, err := m.bus.Reset(); err != nil {
		return nil, err
	}
	if err := checkScratchpad(spad, m.checkCRC); err != nil {
		return nil, err
	}
	return spad, nil
}
