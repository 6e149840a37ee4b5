// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bitbang implements a 1-wire bus master on a single GPIO pin.
//
// The line is driven open-drain: the master only ever pulls it low and
// otherwise leaves it floating on the external pull-up resistor. All the
// protocol timing (reset, presence detect, read and write time slots) is
// produced by busy waiting between pin transitions, so the process must be
// able to keep the pin to itself for the ~70µs of a time slot.
//
// Bus implements onewire.Bus and onewire.BusSearcher so the rest of the
// periph.io ecosystem can use it. It also exposes the bit level primitives
// and the incremental ROM search (First/Next) directly.
//
// A Bus is not safe for concurrent use. A transaction (reset, ROM command,
// function command, data) must not be interleaved with another one; callers
// sharing a Bus across goroutines must serialize access themselves.
//
// Datasheets
//
// https://www.analog.com/en/resources/technical-articles/1wire-communication-through-software.html
//
// https://www.analog.com/en/resources/app-notes/1wire-search-algorithm.html
package bitbang
