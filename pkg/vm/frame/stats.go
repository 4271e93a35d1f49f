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

package frame

// Stats are counters and gauges of a Table.
type Stats struct {
	// Frames is the capacity of the user pool.
	Frames uint32

	// Resident is the number of frames in use.
	Resident uint32

	// Pinned is the number of frames with at least one pin.
	Pinned uint32

	// Shared is the number of frames with more than one sharer.
	Shared uint32

	// Cached is the number of frames in the read-only cache.
	Cached uint32

	// SwapSlots and SwapInUse describe the swap store.
	SwapSlots uint32
	SwapInUse uint32

	// The counters below are cumulative.

	ZeroFills    uint64
	KernelCopies uint64
	FileReads    uint64
	FileWrites   uint64
	SwapIns      uint64
	SwapOuts     uint64
	CacheHits    uint64
	Evictions    uint64
}

// Stats returns a snapshot of the table's statistics.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Frames = t.user.Size()
	for f := t.ring.Front(); f != nil; f = f.Next() {
		s.Resident++
		if f.pins > 0 {
			s.Pinned++
		}
		if len(f.sharers) > 1 {
			s.Shared++
		}
	}
	s.Cached = uint32(t.cache.len())
	s.SwapSlots = t.swap.Slots()
	s.SwapInUse = t.swap.InUse()
	return s
}
