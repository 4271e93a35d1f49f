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

	"gvisor.dev/vmcore/pkg/errors/linuxerr"
	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/log"
	"gvisor.dev/vmcore/pkg/vm/page"
)

// Load makes the page containing addr in pd resident and mapped.
//
// It returns EFAULT if pd has no descriptor for the page, and EACCES if write
// is set and the page is read-only.
//
// Preconditions: The caller owns pd.
func (t *Table) Load(pd page.Directory, addr hostarch.Addr, write bool) error {
	return t.load(pd, addr, write, false)
}

// Lock is equivalent to Load, but also pins the frame so that it cannot be
// evicted until a matching call to Unlock.
//
// Preconditions: The caller owns pd.
func (t *Table) Lock(pd page.Directory, addr hostarch.Addr, write bool) error {
	return t.load(pd, addr, write, true)
}

// Unlock releases a pin taken by Lock. It is a no-op if pd has no descriptor
// for the page or the page is not resident.
//
// Preconditions: The caller owns pd.
func (t *Table) Unlock(pd page.Directory, addr hostarch.Addr) {
	_, d := descriptor(pd, addr)
	if d == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id := d.Frame()
	if id == page.NoFrame {
		return
	}
	f := t.frame(id)
	if f.pins == 0 {
		panic(fmt.Sprintf("unlocking unpinned frame %d of %v", f.id, d))
	}
	f.pins--
}

func (t *Table) load(pd page.Directory, addr hostarch.Addr, write, pin bool) error {
	_, d := descriptor(pd, addr)
	if d == nil {
		return linuxerr.EFAULT
	}
	if write && d.Writable() == page.ReadOnly {
		return linuxerr.EACCES
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if checkInvariants {
		defer t.assertInvariantsLocked()
	}

	// A resident frame may be under I/O, e.g. being flushed by eviction. In
	// that case it may no longer be ours once the I/O completes.
	for id := d.Frame(); id != page.NoFrame; id = d.Frame() {
		f := t.frame(id)
		if f.io {
			f.ioDone.Wait()
			continue
		}
		if pin {
			f.pins++
		}
		return nil
	}

	if d.IsSharable() && t.share(d, pin) {
		return nil
	}

	f := t.allocate()
	if d.IsSharable() && t.cache.lookup(d) != nil {
		// Another address space loaded the region while allocate had
		// t.mu released for eviction.
		t.unlink(f)
		t.release(f)
		t.share(d, pin)
		return nil
	}
	t.mapPage(f, d)
	t.fill(f, d)
	if pin {
		f.pins++
	}
	return nil
}

// share maps d onto the cached frame holding its file region, if any.
//
// Preconditions: t.mu is locked. d is sharable and not resident.
func (t *Table) share(d *page.Descriptor, pin bool) bool {
	f := t.cache.lookup(d)
	if f == nil {
		return false
	}
	t.mapPage(f, d)
	t.stats.CacheHits++
	// The sharer that inserted the frame may still be reading it in.
	f.pins++
	t.waitIO(f)
	if !pin {
		f.pins--
	}
	return true
}

// fill copies the content of d into f.
//
// Preconditions: t.mu is locked. d is the only sharer of f, which is zeroed.
func (t *Table) fill(f *Frame, d *page.Descriptor) {
	switch b := d.Backing().(type) {
	case nil:
		t.stats.ZeroFills++
	case page.SwapBacking:
		t.doIO(f, func() { t.swap.Read(b.Slot, f.page.Bytes()) })
		d.ClearBacking()
		t.stats.SwapIns++
		log.Debugf("Swapped in %v from slot %d", d, b.Slot)
	case page.FileBacking:
		if d.IsSharable() {
			t.cache.insert(d, f)
		}
		t.doIO(f, func() { readRegion(b, f.page.Bytes()) })
		t.stats.FileReads++
	case page.KernelBacking:
		copy(f.page.Bytes(), b.Page.Bytes())
		b.Page.Free()
		d.ClearBacking()
		t.stats.KernelCopies++
	default:
		panic(fmt.Sprintf("%v: unknown backing %T", d, b))
	}
}
