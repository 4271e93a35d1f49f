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

// Package frame implements the frame table: the pool of physical frames shared
// by all user address spaces, clock eviction to swap or file, and sharing of
// read-only file frames across address spaces.
//
// Lock order:
//
//	Table.mu
//	  page.Directory implementation locks
//	  palloc.Pool.mu
//	  swap.Store.mu
//
// Device and file I/O is never performed with Table.mu held. A frame under
// I/O is marked busy and pinned; every path that reaches such a frame waits
// on Frame.ioDone before touching it.
package frame

import (
	"fmt"
	"time"

	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/ilist"
	"gvisor.dev/vmcore/pkg/log"
	"gvisor.dev/vmcore/pkg/sync"
	"gvisor.dev/vmcore/pkg/vm/page"
	"gvisor.dev/vmcore/pkg/vm/palloc"
	"gvisor.dev/vmcore/pkg/vm/swap"
)

// If checkInvariants is true, perform runtime checks for invariants expected
// by the frame table. This is normally disabled since frame table operations
// are on the page fault path.
const checkInvariants = false

// Frame is one physical page committed to the user pool.
type Frame struct {
	// Entry links the frame into Table.ring while it is in use.
	ilist.Entry[*Frame]

	id page.FrameID

	// All fields below are protected by Table.mu.

	// page is the physical memory of the frame. It is valid iff the frame
	// is in use.
	page palloc.Page

	// sharers are the descriptors mapped onto this frame. There is more
	// than one sharer only for read-only file pages.
	sharers []*page.Descriptor

	// pins is the number of holds preventing eviction.
	pins int

	// io is true while the frame is being filled or flushed with Table.mu
	// released.
	io bool

	// ioDone is signalled, with L == &Table.mu, when io becomes false.
	ioDone sync.Cond
}

// ID returns the handle of f.
func (f *Frame) ID() page.FrameID {
	return f.id
}

// TableOpts contains options to NewTable.
type TableOpts struct {
	// User is the pool frames are allocated from.
	User *palloc.Pool

	// Swap receives evicted pages that cannot be written to a file.
	Swap *swap.Store

	// PressureLogInterval bounds how often a memory pressure warning is
	// logged. Zero means once a minute.
	PressureLogInterval time.Duration
}

// Table is the frame table.
type Table struct {
	user *palloc.Pool
	swap *swap.Store

	// pressureLog reports eviction activity at a bounded rate.
	pressureLog log.Logger

	// mu protects all fields below and all Frames in frames.
	mu sync.Mutex

	// frames is the frame arena. frames[i] holds the user pool page with
	// index i-1, so that page.NoFrame indexes no frame.
	frames []Frame

	// ring is the circular eviction order over frames in use.
	ring ilist.List[*Frame]

	// hand is the next eviction candidate. It is nil iff ring is empty.
	hand *Frame

	// cache indexes frames holding read-only file pages.
	cache roCache

	stats Stats
}

// NewTable returns a frame table over opts.User.
func NewTable(opts TableOpts) *Table {
	if opts.User == nil || opts.Swap == nil {
		panic("frame table requires a user pool and a swap store")
	}
	every := opts.PressureLogInterval
	if every == 0 {
		every = time.Minute
	}
	t := &Table{
		user:        opts.User,
		swap:        opts.Swap,
		pressureLog: log.BasicRateLimitedLogger(every),
		frames:      make([]Frame, opts.User.Size()+1),
		cache:       newROCache(),
	}
	for i := range t.frames {
		t.frames[i].id = page.FrameID(i)
		t.frames[i].ioDone.L = &t.mu
	}
	log.Infof("Frame table: %d frames", opts.User.Size())
	return t
}

// frame returns the frame with the given handle.
//
// Preconditions: t.mu is locked. id != page.NoFrame.
func (t *Table) frame(id page.FrameID) *Frame {
	if id == page.NoFrame || int(id) >= len(t.frames) {
		panic(fmt.Sprintf("invalid frame handle %d", id))
	}
	return &t.frames[id]
}

// next returns the frame after f in ring order, wrapping around.
//
// Preconditions: t.mu is locked. f is in the ring.
func (t *Table) next(f *Frame) *Frame {
	if n := f.Next(); n != nil {
		return n
	}
	return t.ring.Front()
}

// allocate returns a zeroed frame with no sharers, evicting if the user pool
// is exhausted. The frame is in the ring.
//
// Preconditions: t.mu is locked.
func (t *Table) allocate() *Frame {
	p, ok := t.user.Get(palloc.Zero)
	if !ok {
		return t.evict()
	}
	f := &t.frames[p.Index()+1]
	f.page = p
	if t.hand == nil {
		t.ring.PushBack(f)
		t.hand = f
	} else {
		t.ring.InsertBefore(t.hand, f)
	}
	return f
}

// release returns f, which has no sharers, to the user pool.
//
// Preconditions: t.mu is locked. f is not in the ring.
func (t *Table) release(f *Frame) {
	if f.pins != 0 || f.io || len(f.sharers) != 0 {
		panic(fmt.Sprintf("releasing frame %d: %d pins, io %t, %d sharers", f.id, f.pins, f.io, len(f.sharers)))
	}
	f.page.Free()
	f.page = palloc.Page{}
	f.sharers = nil
}

// unlink removes f from the ring, moving the hand off it.
//
// Preconditions: t.mu is locked. f is in the ring.
func (t *Table) unlink(f *Frame) {
	if t.hand == f {
		t.hand = t.next(f)
		if t.hand == f {
			t.hand = nil
		}
	}
	t.ring.Remove(f)
}

// mapPage adds d as a sharer of f and maps it.
//
// Preconditions: t.mu is locked.
func (t *Table) mapPage(f *Frame, d *page.Descriptor) {
	f.sharers = append(f.sharers, d)
	d.SetFrame(f.id)
	d.Directory().SetPage(d.Addr(), f.page, d.Writable() != page.ReadOnly)
}

// removeSharer removes d from the sharers of f.
//
// Preconditions: t.mu is locked. d is a sharer of f.
func (t *Table) removeSharer(f *Frame, d *page.Descriptor) {
	for i, s := range f.sharers {
		if s == d {
			f.sharers = append(f.sharers[:i], f.sharers[i+1:]...)
			d.SetFrame(page.NoFrame)
			return
		}
	}
	panic(fmt.Sprintf("%v is not a sharer of frame %d", d, f.id))
}

// doIO runs fn with f marked busy and pinned and t.mu released. t.mu is
// reacquired and waiters are woken even if fn panics.
//
// Preconditions: t.mu is locked. f is not busy.
func (t *Table) doIO(f *Frame, fn func()) {
	if f.io {
		panic(fmt.Sprintf("frame %d: nested I/O", f.id))
	}
	f.io = true
	f.pins++
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		f.pins--
		f.io = false
		f.ioDone.Broadcast()
	}()
	fn()
}

// waitIO blocks until f is not busy.
//
// Preconditions: t.mu is locked.
func (t *Table) waitIO(f *Frame) {
	for f.io {
		f.ioDone.Wait()
	}
}

// checkInvariantsLocked returns an error describing the first violated
// invariant of the ring and the read-only cache, or nil.
//
// Preconditions: t.mu is locked.
func (t *Table) checkInvariantsLocked() error {
	if (t.hand == nil) != t.ring.Empty() {
		return fmt.Errorf("hand set %t with %d frames in the ring", t.hand != nil, t.ring.Len())
	}
	if n := t.ring.Len(); uint32(n) > t.user.InUse() {
		return fmt.Errorf("%d frames in the ring, %d pool pages in use", n, t.user.InUse())
	}
	handSeen := t.hand == nil
	sharable := 0
	for f := t.ring.Front(); f != nil; f = f.Next() {
		if f == t.hand {
			handSeen = true
		}
		if !f.page.Valid() || len(f.sharers) == 0 {
			return fmt.Errorf("frame %d in the ring with page %v and %d sharers", f.id, f.page, len(f.sharers))
		}
		for _, d := range f.sharers {
			if d.Frame() != f.id {
				return fmt.Errorf("frame %d: sharer %v maps frame %d", f.id, d, d.Frame())
			}
		}
		owner := f.sharers[0]
		if !owner.IsSharable() {
			if len(f.sharers) > 1 {
				return fmt.Errorf("frame %d: %d sharers of private %v", f.id, len(f.sharers), owner)
			}
			continue
		}
		sharable++
		key := keyOf(owner)
		for _, d := range f.sharers[1:] {
			if !d.IsSharable() || keyOf(d) != key {
				return fmt.Errorf("frame %d: sharer %v does not map the region of %v", f.id, d, owner)
			}
		}
		if t.cache.lookup(owner) != f {
			return fmt.Errorf("frame %d: region of %v is not cached in it", f.id, owner)
		}
	}
	if !handSeen {
		return fmt.Errorf("hand on frame %d outside the ring", t.hand.id)
	}
	if n := t.cache.len(); n != sharable {
		return fmt.Errorf("%d cached regions, %d read-only frames in the ring", n, sharable)
	}
	return nil
}

// assertInvariantsLocked panics if the table is inconsistent.
//
// Preconditions: t.mu is locked.
func (t *Table) assertInvariantsLocked() {
	if err := t.checkInvariantsLocked(); err != nil {
		panic(fmt.Sprintf("frame table invariant violated: %v", err))
	}
}

// readRegion fills buf from the file region of b.
func readRegion(b page.FileBacking, buf []byte) {
	size := b.Size()
	n, err := b.File.ReadAt(buf[:size], b.Offset())
	if int64(n) != size {
		panic(fmt.Sprintf("short read of file region [%d, %d): %d bytes: %v", b.Offset(), b.EndOffset, n, err))
	}
}

// writeRegion writes buf back to the file region of b.
func writeRegion(b page.FileBacking, buf []byte) {
	size := b.Size()
	n, err := b.File.WriteAt(buf[:size], b.Offset())
	if int64(n) != size || err != nil {
		panic(fmt.Sprintf("short write of file region [%d, %d): %d bytes: %v", b.Offset(), b.EndOffset, n, err))
	}
}

// descriptor returns the descriptor of the page containing addr.
func descriptor(pd page.Directory, addr hostarch.Addr) (hostarch.Addr, *page.Descriptor) {
	addr = addr.RoundDown()
	return addr, pd.Descriptor(addr)
}
