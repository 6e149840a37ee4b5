// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bitbang

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Pin is the part of gpio.PinIO used to drive the bus. The pin must be wired
// to the data line with an external pull-up resistor.
type Pin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Out(l gpio.Level) error
	Read() gpio.Level
}

// low pulls the line low.
func (b *Bus) low() {
	if b.err != nil {
		return
	}
	if err := b.pin.Out(gpio.Low); err != nil {
		b.err = fmt.Errorf("bitbang: failed to drive %s low: %w", b.name, err)
	}
}

// release stops driving the line and lets the pull-up take it high.
func (b *Bus) release() {
	if b.err != nil {
		return
	}
	if err := b.pin.In(gpio.Float, gpio.NoEdge); err != nil {
		b.err = fmt.Errorf("bitbang: failed to release %s: %w", b.name, err)
	}
}

// sample returns the line level. It returns gpio.High, the idle level, once
// the bus is in error.
func (b *Bus) sample() gpio.Level {
	if b.err != nil {
		return gpio.High
	}
	return b.pin.Read()
}

func (b *Bus) wait(d time.Duration) {
	if b.err != nil || d <= 0 {
		return
	}
	b.delay(d)
}
