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

import (
	"fmt"

	"gvisor.dev/vmcore/pkg/log"
	"gvisor.dev/vmcore/pkg/vm/page"
	"gvisor.dev/vmcore/pkg/vm/swap"
)

// evict selects a victim frame, writes its content back if required, detaches
// its sharers and returns it zeroed. The frame stays in the ring.
//
// Preconditions: t.mu is locked.
func (t *Table) evict() *Frame {
	f := t.victim()
	t.stats.Evictions++
	t.pressureLog.Warningf("Frame table under memory pressure: %d evictions, %d swap slots in use", t.stats.Evictions, t.swap.InUse())

	if len(f.sharers) == 0 {
		panic(fmt.Sprintf("frame %d in the ring has no sharers", f.id))
	}
	dirty := false
	for _, d := range f.sharers {
		pd, addr := d.Directory(), d.Addr()
		if pd.IsDirty(addr) {
			dirty = true
		}
		pd.ClearPage(addr)
	}

	owner := f.sharers[0]
	swapped := false
	var slot swap.Slot
	if dirty || owner.Writable()&page.WritableToSwap != 0 {
		if len(f.sharers) != 1 {
			panic(fmt.Sprintf("writing back frame %d with %d sharers", f.id, len(f.sharers)))
		}
		if fb, ok := owner.Backing().(page.FileBacking); ok && owner.Writable()&page.WritableToFile != 0 {
			t.doIO(f, func() { writeRegion(fb, f.page.Bytes()) })
			t.stats.FileWrites++
			log.Debugf("Evicted %v to its file", owner)
		} else {
			t.doIO(f, func() { slot = t.swap.Write(f.page.Bytes()) })
			swapped = true
			t.stats.SwapOuts++
			log.Debugf("Evicted %v to swap slot %d", owner, slot)
		}
	} else if owner.IsSharable() {
		t.cache.remove(owner, f)
	}

	for _, d := range f.sharers {
		d.SetFrame(page.NoFrame)
		if swapped {
			d.SetSwapped(slot)
		}
	}
	f.sharers = f.sharers[:0]
	clear(f.page.Bytes())
	return f
}

// victim runs the clock over the ring and returns the first frame whose
// sharers were not accessed since the last sweep and that is neither pinned
// nor busy. Accessed bits are cleared as the hand passes. The hand is left on
// the frame after the victim.
//
// If a full revolution finds no victim, the frame the scan started from is
// chosen if it is not pinned. Otherwise there is no evictable frame and victim
// panics.
//
// Preconditions: t.mu is locked.
func (t *Table) victim() *Frame {
	if t.hand == nil {
		panic("no frame available for eviction: frame table is empty")
	}
	start := t.hand
	cur := start
	for {
		accessed := false
		for _, d := range cur.sharers {
			pd, addr := d.Directory(), d.Addr()
			if pd.IsAccessed(addr) {
				accessed = true
				pd.SetAccessed(addr, false)
			}
		}
		next := t.next(cur)
		if !accessed && cur.pins == 0 && !cur.io {
			t.hand = next
			return cur
		}
		cur = next
		if cur == start {
			break
		}
	}
	if start.pins != 0 || start.io {
		panic(fmt.Sprintf("no frame available for eviction: %d frames, starting frame %d pinned", t.ring.Len(), start.id))
	}
	t.hand = t.next(start)
	return start
}
