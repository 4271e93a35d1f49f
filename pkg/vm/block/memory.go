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

package block

import (
	"sync/atomic"

	"gvisor.dev/vmcore/pkg/sync"
)

// Memory is a Device backed by a byte slice.
type Memory struct {
	name string

	// mu protects data.
	mu   sync.RWMutex
	data []byte

	reads  atomic.Uint64
	writes atomic.Uint64
}

var _ Device = (*Memory)(nil)

// NewMemory returns a zeroed in-memory device of the given number of sectors.
func NewMemory(name string, sectors Sector) *Memory {
	return &Memory{
		name: name,
		data: make([]byte, int(sectors)*SectorSize),
	}
}

// Name implements Device.Name.
func (m *Memory) Name() string {
	return m.name
}

// Size implements Device.Size.
func (m *Memory) Size() Sector {
	return Sector(len(m.data) / SectorSize)
}

// Read implements Device.Read.
func (m *Memory) Read(sector Sector, buf []byte) error {
	if err := checkAccess(m.name, m.Size(), sector, buf); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	off := int(sector) * SectorSize
	copy(buf, m.data[off:off+SectorSize])
	m.reads.Add(1)
	return nil
}

// Write implements Device.Write.
func (m *Memory) Write(sector Sector, buf []byte) error {
	if err := checkAccess(m.name, m.Size(), sector, buf); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	off := int(sector) * SectorSize
	copy(m.data[off:off+SectorSize], buf)
	m.writes.Add(1)
	return nil
}

// Reads returns the number of sectors read so far.
func (m *Memory) Reads() uint64 {
	return m.reads.Load()
}

// Writes returns the number of sectors written so far.
func (m *Memory) Writes() uint64 {
	return m.writes.Load()
}
