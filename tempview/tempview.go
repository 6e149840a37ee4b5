// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tempview renders a table of temperature sensors to a terminal
// using ANSI color codes.
//
// Every sensor is drawn on its own line as a bar whose length and color
// follow the temperature, followed by the sensor address and reading. Each
// Render redraws the previous table in place.
package tempview

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"

	"github.com/GermanBionicSystems/owtemp/ds18b20"
	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/physic"
)

// Opts represents the options available for this view.
type Opts struct {
	// W defaults to stdout, with escape codes translated on Windows.
	W       io.Writer
	Palette *ansi256.Palette
	// Min and Max are the temperatures at the ends of the bar.
	Min, Max physic.Temperature
	// Width is the length of the bar in characters.
	Width int

	_ struct{}
}

// DefaultOpts is the recommended default options, a 0°C to 40°C scale.
var DefaultOpts = Opts{
	Min:   physic.ZeroCelsius,
	Max:   40*physic.Celsius + physic.ZeroCelsius,
	Width: 20,
}

// Dev is a sensor table view on the console.
type Dev struct {
	w        io.Writer
	palette  ansi256.Palette
	min, max physic.Temperature
	width    int

	lines int
	buf   bytes.Buffer
}

// New returns a Dev that displays at the console.
func New(opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.Max <= opts.Min {
		return nil, errors.New("tempview: Max must be above Min")
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	d := &Dev{
		w:       opts.W,
		palette: *p,
		min:     opts.Min,
		max:     opts.Max,
		width:   opts.Width,
	}
	if d.w == nil {
		d.w = colorable.NewColorableStdout()
	}
	if d.width <= 0 {
		d.width = DefaultOpts.Width
	}
	return d, nil
}

func (d *Dev) String() string {
	return "TempView"
}

// Halt implements conn.Resource.
//
// It resets the terminal colors.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\033[0m"))
	return err
}

// Render draws sensors, replacing the previously rendered table.
func (d *Dev) Render(sensors []ds18b20.Sensor) error {
	d.buf.Reset()
	if d.lines != 0 {
		fmt.Fprintf(&d.buf, "\033[%dA", d.lines)
	}
	for i := range sensors {
		s := &sensors[i]
		_, _ = d.buf.WriteString("\r\033[0m")
		n := 0
		if s.Valid {
			n = d.fill(s.Temperature)
			b := d.palette.Block(d.heat(s.Temperature))
			for j := 0; j < n; j++ {
				_, _ = io.WriteString(&d.buf, b)
			}
		}
		_, _ = d.buf.WriteString("\033[0m")
		for j := n; j < d.width; j++ {
			_ = d.buf.WriteByte(' ')
		}
		fmt.Fprintf(&d.buf, " %2d %#016x ", i, uint64(s.Addr))
		if s.Valid {
			fmt.Fprintf(&d.buf, "%8.3f°C", s.Temperature.Celsius())
		} else {
			_, _ = d.buf.WriteString("       -  ")
		}
		_, _ = d.buf.WriteString("\033[K\n")
	}
	d.lines = len(sensors)
	_, err := d.buf.WriteTo(d.w)
	return err
}

// fraction returns the position of t on the scale, clamped to [0, 1].
func (d *Dev) fraction(t physic.Temperature) float64 {
	f := float64(t-d.min) / float64(d.max-d.min)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// fill returns the number of characters of the bar for t. A valid reading
// always shows at least one.
func (d *Dev) fill(t physic.Temperature) int {
	n := int(d.fraction(t)*float64(d.width) + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}

// heat returns a color going from blue at Min to red at Max.
func (d *Dev) heat(t physic.Temperature) color.NRGBA {
	f := d.fraction(t)
	return color.NRGBA{R: uint8(255 * f), G: uint8(64 * (1 - f)), B: uint8(255 * (1 - f)), A: 255}
}

var _ fmt.Stringer = &Dev{}
