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

package page

import (
	"fmt"

	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/vm/palloc"
	"gvisor.dev/vmcore/pkg/vm/swap"
)

// Residency is where a descriptor's content currently lives.
type Residency int

const (
	// Unmapped pages have never been loaded, or were evicted clean and will
	// be refilled from their type's source.
	Unmapped Residency = iota

	// Resident pages have a frame.
	Resident

	// Swapped pages live in a swap slot.
	Swapped

	// Released descriptors have been torn down.
	Released
)

// String implements fmt.Stringer.
func (r Residency) String() string {
	switch r {
	case Unmapped:
		return "unmapped"
	case Resident:
		return "resident"
	case Swapped:
		return "swapped"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("Residency(%d)", int(r))
	}
}

// Descriptor describes one user virtual page of one page directory.
type Descriptor struct {
	typ      Type
	writable Writable
	dir      Directory
	addr     hostarch.Addr

	// frame and backing are protected by the frame table lock once the
	// descriptor is installed.
	frame   FrameID
	backing Backing

	released bool
}

// New returns a zero-filled, read-only descriptor.
func New() *Descriptor {
	return &Descriptor{}
}

// Release marks d torn down.
//
// Preconditions: d is neither resident nor swapped.
func (d *Descriptor) Release() {
	if d.frame != NoFrame {
		panic(fmt.Sprintf("releasing %v with frame %d", d, d.frame))
	}
	if _, ok := d.backing.(SwapBacking); ok {
		panic(fmt.Sprintf("releasing %v while swapped", d))
	}
	d.released = true
	d.backing = nil
	d.dir = nil
}

// Type returns the fill source of d.
func (d *Descriptor) Type() Type {
	return d.typ
}

// SetType sets the fill source of d.
func (d *Descriptor) SetType(t Type) {
	d.typ = t
}

// Writable returns the write-back permissions of d.
func (d *Descriptor) Writable() Writable {
	return d.writable
}

// SetWritable sets the write-back permissions of d.
func (d *Descriptor) SetWritable(w Writable) {
	d.writable = w
}

// Directory returns the page directory d belongs to.
func (d *Descriptor) Directory() Directory {
	return d.dir
}

// SetDirectory sets the page directory d belongs to.
func (d *Descriptor) SetDirectory(dir Directory) {
	d.dir = dir
}

// Addr returns the user page address of d.
func (d *Descriptor) Addr() hostarch.Addr {
	return d.addr
}

// SetAddr sets the user page address of d.
//
// Preconditions: addr is page-aligned.
func (d *Descriptor) SetAddr(addr hostarch.Addr) {
	if !addr.IsPageAligned() {
		panic(fmt.Sprintf("descriptor address %v is not page-aligned", addr))
	}
	d.addr = addr
}

// SetFile makes d a file page backed by the region of f ending at endOffset.
func (d *Descriptor) SetFile(f File, endOffset int64) {
	d.typ = TypeFile
	d.backing = FileBacking{File: f, EndOffset: endOffset}
}

// SetKernelPage makes d a kernel-preloaded page copied from p.
func (d *Descriptor) SetKernelPage(p palloc.Page) {
	d.typ = TypeKernel
	d.backing = KernelBacking{Page: p}
}

// Backing returns the backing of d.
func (d *Descriptor) Backing() Backing {
	return d.backing
}

// Frame returns the frame currently backing d, or NoFrame.
func (d *Descriptor) Frame() FrameID {
	return d.frame
}

// Swapped returns true if d's content lives in swap.
func (d *Descriptor) Swapped() bool {
	_, ok := d.backing.(SwapBacking)
	return ok
}

// Residency returns where d's content lives.
func (d *Descriptor) Residency() Residency {
	switch {
	case d.released:
		return Released
	case d.frame != NoFrame:
		return Resident
	case d.Swapped():
		return Swapped
	default:
		return Unmapped
	}
}

// IsSharable returns true if d may share a frame with other descriptors
// mapping the same file region.
func (d *Descriptor) IsSharable() bool {
	_, ok := d.backing.(FileBacking)
	return ok && d.typ == TypeFile && d.writable == ReadOnly
}

// SetFrame records the frame backing d.
//
// Preconditions: the frame table lock is held.
func (d *Descriptor) SetFrame(id FrameID) {
	d.frame = id
}

// SetSwapped records that d's content was written to slot.
//
// Preconditions: the frame table lock is held. d has no frame.
func (d *Descriptor) SetSwapped(slot swap.Slot) {
	d.backing = SwapBacking{Slot: slot}
}

// ClearBacking demotes d to a zero-fill page once its content has been
// copied into a frame from swap or a kernel page.
//
// Preconditions: the frame table lock is held.
func (d *Descriptor) ClearBacking() {
	d.typ = TypeZero
	d.backing = nil
}

// String implements fmt.Stringer.
func (d *Descriptor) String() string {
	return fmt.Sprintf("page %v (%v, %v, %v)", d.addr, d.typ, d.writable, d.Residency())
}
