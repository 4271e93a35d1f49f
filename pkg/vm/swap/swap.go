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

// Package swap implements the swap store: a bitmap of page-sized slots over a
// block device.
//
// Slot n occupies sectors [n*SectorsPerPage, (n+1)*SectorsPerPage). Each
// allocated slot holds the content of exactly one page descriptor.
package swap

import (
	"fmt"

	"gvisor.dev/vmcore/pkg/bitmap"
	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/log"
	"gvisor.dev/vmcore/pkg/sync"
	"gvisor.dev/vmcore/pkg/vm/block"
)

// SectorsPerPage is the number of device sectors in one slot.
const SectorsPerPage = hostarch.PageSize / block.SectorSize

// Slot identifies a page-sized extent of the swap device.
type Slot uint32

// Sector returns the first device sector of s.
func (s Slot) Sector() block.Sector {
	return block.Sector(s) * SectorsPerPage
}

// Store allocates slots on a swap device.
//
// Store is safe for concurrent use. Slot allocation is serialized by an
// internal mutex; device I/O for distinct slots proceeds in parallel.
type Store struct {
	dev block.Device

	// mu protects used.
	mu   sync.Mutex
	used bitmap.Bitmap
}

// New binds a store to dev. Trailing sectors that do not fill a whole slot
// are unused.
func New(dev block.Device) (*Store, error) {
	slots := uint64(dev.Size()) / SectorsPerPage
	if slots > uint64(bitmap.MaxBitEntryLimit) {
		return nil, fmt.Errorf("swap device %q: %d slots exceeds the allocation map limit %d", dev.Name(), slots, bitmap.MaxBitEntryLimit)
	}
	used, err := bitmap.New(uint32(slots))
	if err != nil {
		return nil, fmt.Errorf("swap device %q: %w", dev.Name(), err)
	}
	log.Infof("Swap device %q: %d slots", dev.Name(), slots)
	return &Store{
		dev:  dev,
		used: used,
	}, nil
}

// Write copies page to a free slot and returns it. It panics if no slot is
// free.
//
// Preconditions: len(page) == hostarch.PageSize.
func (s *Store) Write(page []byte) Slot {
	checkPage(page)
	s.mu.Lock()
	idx, ok := s.used.ScanAndSet(0)
	s.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("swap device %q: no swap space", s.dev.Name()))
	}
	slot := Slot(idx)
	for i := block.Sector(0); i < SectorsPerPage; i++ {
		off := int(i) * block.SectorSize
		if err := s.dev.Write(slot.Sector()+i, page[off:off+block.SectorSize]); err != nil {
			panic(fmt.Sprintf("swap slot %d: %v", slot, err))
		}
	}
	return slot
}

// Read copies slot into page and frees slot.
//
// Preconditions: slot is allocated. len(page) == hostarch.PageSize.
func (s *Store) Read(slot Slot, page []byte) {
	checkPage(page)
	s.checkAllocated(slot)
	for i := block.Sector(0); i < SectorsPerPage; i++ {
		off := int(i) * block.SectorSize
		if err := s.dev.Read(slot.Sector()+i, page[off:off+block.SectorSize]); err != nil {
			panic(fmt.Sprintf("swap slot %d: %v", slot, err))
		}
	}
	s.Release(slot)
}

// Release frees slot without reading it.
//
// Preconditions: slot is allocated.
func (s *Store) Release(slot Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint32(slot) >= s.used.Size() || !s.used.IsSet(uint32(slot)) {
		panic(fmt.Sprintf("swap slot %d released while free", slot))
	}
	s.used.Remove(uint32(slot))
}

// Slots returns the capacity of the store.
func (s *Store) Slots() uint32 {
	return s.used.Size()
}

// InUse returns the number of allocated slots.
func (s *Store) InUse() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used.GetNumOnes()
}

func (s *Store) checkAllocated(slot Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint32(slot) >= s.used.Size() || !s.used.IsSet(uint32(slot)) {
		panic(fmt.Sprintf("swap slot %d read while free", slot))
	}
}

func checkPage(page []byte) {
	if len(page) != hostarch.PageSize {
		panic(fmt.Sprintf("swap buffer of %d bytes, want %d", len(page), hostarch.PageSize))
	}
}
