// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// owtemp reads every DS18B20 on a 1-wire bus bit-banged on a GPIO pin.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/GermanBionicSystems/owtemp/bitbang"
	"github.com/GermanBionicSystems/owtemp/ds18b20"
	"github.com/GermanBionicSystems/owtemp/tempview"
	"github.com/GermanBionicSystems/owtemp/templog"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

func newLogger(verbose int, production bool) (logr.Logger, func(), error) {
	cfg := zap.NewDevelopmentConfig()
	if production {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbose))
	z, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, nil, err
	}
	return zapr.NewLogger(z), func() { _ = z.Sync() }, nil
}

// reading is the JSON output of one sensor.
type reading struct {
	Time    time.Time `json:"time"`
	Index   int       `json:"index"`
	Addr    string    `json:"addr"`
	Celsius *float64  `json:"celsius"`
}

type output interface {
	write(at time.Time, sensors []ds18b20.Sensor) error
}

type jsonOutput struct {
	enc *json.Encoder
}

func (j *jsonOutput) write(at time.Time, sensors []ds18b20.Sensor) error {
	for i, s := range sensors {
		r := reading{Time: at, Index: i, Addr: fmt.Sprintf("%#016x", uint64(s.Addr))}
		if s.Valid {
			c := s.Temperature.Celsius()
			r.Celsius = &c
		}
		if err := j.enc.Encode(&r); err != nil {
			return err
		}
	}
	return nil
}

type viewOutput struct {
	d *tempview.Dev
}

func (v *viewOutput) write(at time.Time, sensors []ds18b20.Sensor) error {
	return v.d.Render(sensors)
}

// waitConversions polls the bus until every conversion completed.
func waitConversions(ctx context.Context, m *ds18b20.Manager, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := m.AllConversionsDone()
		if err != nil || done {
			return err
		}
		if time.Now().After(deadline) {
			return ds18b20.ErrNotReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func mainImpl() error {
	pinName := flag.String("pin", "GPIO4", "GPIO pin wired to the 1-wire data line")
	bits := flag.Int("res", 12, "conversion resolution in bits, 9 to 12")
	maxSensors := flag.Int("max", ds18b20.DefaultOpts.MaxSensors, "maximum number of sensors")
	checkCRC := flag.Bool("crc", true, "read the whole scratchpad and check its CRC")
	interval := flag.Duration("interval", time.Second, "time between two conversions")
	n := flag.Int("n", 0, "number of conversions, 0 to run until interrupted")
	verbose := flag.Int("v", 0, "log verbosity")
	prod := flag.Bool("prod", false, "log JSON lines instead of console output")
	asJSON := flag.Bool("json", false, "print readings as JSON lines instead of a table")
	dbPath := flag.String("db", "", "record readings in this SQLite database")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}
	res := ds18b20.ResolutionFromBits(*bits)
	if res == ds18b20.InvalidResolution {
		return fmt.Errorf("-res %d is not supported, use 9 to 12", *bits)
	}

	log, flush, err := newLogger(*verbose, *prod)
	if err != nil {
		return err
	}
	defer flush()

	if _, err := host.Init(); err != nil {
		return err
	}
	p := gpioreg.ByName(*pinName)
	if p == nil {
		return fmt.Errorf("unknown pin %q", *pinName)
	}
	opts := bitbang.DefaultOpts
	opts.Logger = log.WithName("bitbang")
	bus, err := bitbang.New(p, &opts)
	if err != nil {
		return err
	}
	defer bus.Halt()

	m := ds18b20.NewManager(bus, &ds18b20.Opts{MaxSensors: *maxSensors, CheckCRC: *checkCRC, Logger: log.WithName("ds18b20")})
	if err := m.Initialize(res); err != nil {
		if !errors.Is(err, ds18b20.ErrRegistryFull) {
			return err
		}
		log.Info("more sensors than -max, ignoring the rest", "max", *maxSensors)
	}
	log.Info("initialized", "bus", bus.String(), "sensors", m.Count(), "resolution", res.String())
	if m.Count() == 0 {
		return errors.New("no sensor found")
	}

	var out output
	if *asJSON {
		out = &jsonOutput{enc: json.NewEncoder(os.Stdout)}
	} else {
		v, err := tempview.New(nil)
		if err != nil {
			return err
		}
		defer v.Halt()
		out = &viewOutput{d: v}
	}
	var db *templog.DB
	if *dbPath != "" {
		if db, err = templog.Open(*dbPath); err != nil {
			return err
		}
		defer db.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	for i := 0; *n == 0 || i < *n; i++ {
		if err := waitConversions(ctx, m, 2*res.ConversionTime()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := m.ReadAll(); err != nil {
			return err
		}
		now := time.Now()
		sensors := m.Sensors()
		if err := out.write(now, sensors); err != nil {
			return err
		}
		if db != nil {
			if _, err := db.Record(ctx, now, sensors); err != nil {
				log.Error(err, "recording readings")
			}
		}
		if err := m.StartAll(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(*interval):
		}
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "owtemp: %s.\n", err)
		os.Exit(1)
	}
}
