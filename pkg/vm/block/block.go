// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package block provides sector-granular block devices backing the swap area.
package block

import (
	"fmt"
)

// SectorSize is the size of a block device sector in bytes.
const SectorSize = 512

// Sector indexes a sector on a Device.
type Sector uint32

// Device is a sector-addressable block device.
//
// Implementations must be safe for concurrent use: the swap store issues
// reads and writes for different slots in parallel.
type Device interface {
	// Name returns a human-readable name for the device.
	Name() string

	// Size returns the capacity of the device in sectors.
	Size() Sector

	// Read reads sector into buf.
	//
	// Preconditions: len(buf) == SectorSize.
	Read(sector Sector, buf []byte) error

	// Write writes buf to sector.
	//
	// Preconditions: len(buf) == SectorSize.
	Write(sector Sector, buf []byte) error
}

// checkAccess validates a single-sector access against a device of the given
// size.
func checkAccess(name string, size, sector Sector, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("%s: buffer of %d bytes, want %d", name, len(buf), SectorSize)
	}
	if sector >= size {
		return fmt.Errorf("%s: sector %d out of range [0, %d)", name, sector, size)
	}
	return nil
}
