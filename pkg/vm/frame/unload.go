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

	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/vm/page"
)

// Unload tears down the mapping of the page containing addr in pd and releases
// its descriptor. If the descriptor was the last sharer of its frame, the
// frame is freed, after writing it back to its file if it is dirty and
// writable to file. A swap slot or preloaded kernel page held by the
// descriptor is released. Unload is a no-op if pd has no descriptor for the
// page.
//
// Preconditions: The caller owns pd and holds no pin on the page.
func (t *Table) Unload(pd page.Directory, addr hostarch.Addr) {
	addr, d := descriptor(pd, addr)
	if d == nil {
		return
	}

	t.mu.Lock()
	for id := d.Frame(); id != page.NoFrame && t.frame(id).io; id = d.Frame() {
		t.frame(id).ioDone.Wait()
	}
	var (
		freed *Frame
		dirty bool
	)
	if id := d.Frame(); id != page.NoFrame {
		f := t.frame(id)
		dirty = pd.IsDirty(addr)
		pd.ClearPage(addr)
		t.removeSharer(f, d)
		if len(f.sharers) == 0 {
			if d.IsSharable() {
				t.cache.remove(d, f)
			}
			t.unlink(f)
			if f.pins != 0 {
				panic(fmt.Sprintf("unloading %v: frame %d has %d pins", d, f.id, f.pins))
			}
			freed = f
		}
	}
	if checkInvariants {
		t.assertInvariantsLocked()
	}
	t.mu.Unlock()

	if freed != nil {
		// freed is unreachable from the table, so its page may be used
		// without the lock.
		fb, ok := d.Backing().(page.FileBacking)
		writeBack := ok && dirty && d.Writable()&page.WritableToFile != 0
		if writeBack {
			writeRegion(fb, freed.page.Bytes())
		}
		t.mu.Lock()
		if writeBack {
			t.stats.FileWrites++
		}
		t.release(freed)
		t.mu.Unlock()
	}

	switch b := d.Backing().(type) {
	case page.SwapBacking:
		t.swap.Release(b.Slot)
		d.ClearBacking()
	case page.KernelBacking:
		b.Page.Free()
		d.ClearBacking()
	}
	pd.SetDescriptor(addr, nil)
	d.Release()
}
