// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owtemp is a container for a bit-banged 1-wire bus master and the
// DS18B20 temperature sensor drivers using it.
//
// bitbang drives the bus on a single GPIO pin, ds18b20 manages the sensors
// found on it, tempview and templog report their readings and cmd/owtemp
// ties them together.
package owtemp
