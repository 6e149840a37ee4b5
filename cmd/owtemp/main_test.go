// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/GermanBionicSystems/owtemp/ds18b20"
	"periph.io/x/conn/v3/physic"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	o := &jsonOutput{enc: json.NewEncoder(&buf)}
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	err := o.write(at, []ds18b20.Sensor{
		{Addr: 0x740000070e41ac28, Temperature: 25*physic.Celsius + physic.ZeroCelsius, Valid: true},
		{Addr: 0x5a0000070e41ac28},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		`{"time":"2025-01-02T03:04:05Z","index":0,"addr":"0x740000070e41ac28","celsius":25}`,
		`{"time":"2025-01-02T03:04:05Z","index":1,"addr":"0x5a0000070e41ac28","celsius":null}`,
	}
	if len(lines) != len(want) {
		t.Fatalf("%q", buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("%d: %s != %s", i, lines[i], want[i])
		}
	}
}

func TestNewLogger(t *testing.T) {
	for _, prod := range []bool{false, true} {
		log, flush, err := newLogger(2, prod)
		if err != nil {
			t.Fatal(err)
		}
		if !log.V(2).Enabled() || log.V(3).Enabled() {
			t.Errorf("prod=%t: wrong verbosity", prod)
		}
		flush()
	}
}
