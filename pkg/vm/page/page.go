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

// Package page defines the per-virtual-page descriptor and the interfaces of
// the translation and file layers that the frame table consumes.
//
// A Descriptor is plain data. Its exported setters are used by whoever
// establishes a mapping (process loading, stack growth, mmap) before the page
// is first faulted. Once a descriptor is installed in a Directory, its frame
// and backing are mutated only by the frame table, under the frame table
// lock.
package page

import (
	"fmt"

	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/vm/palloc"
	"gvisor.dev/vmcore/pkg/vm/swap"
)

// UserTop is the first address above user space.
const UserTop hostarch.Addr = 0xc0000000

// IsUserAddr returns true if addr is a user virtual address.
func IsUserAddr(addr hostarch.Addr) bool {
	return addr < UserTop
}

// Type is the source that fills a page on first access.
type Type int

const (
	// TypeZero pages are filled with zeroes.
	TypeZero Type = iota

	// TypeKernel pages are copied from a preloaded kernel page, after which
	// they become TypeZero.
	TypeKernel

	// TypeFile pages are read from a region of a file.
	TypeFile
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeZero:
		return "zero"
	case TypeKernel:
		return "kernel"
	case TypeFile:
		return "file"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Writable is a set of independent permissions to write a page back.
type Writable uint8

const (
	// WritableToFile pages are written back to their file.
	WritableToFile Writable = 1 << iota

	// WritableToSwap pages are written to swap on eviction.
	WritableToSwap
)

// ReadOnly is the empty Writable set.
const ReadOnly Writable = 0

// String implements fmt.Stringer.
func (w Writable) String() string {
	switch w {
	case ReadOnly:
		return "ro"
	case WritableToFile:
		return "file"
	case WritableToSwap:
		return "swap"
	case WritableToFile | WritableToSwap:
		return "file|swap"
	default:
		return fmt.Sprintf("Writable(%#x)", uint8(w))
	}
}

// FrameID is a handle to a frame in the frame table's arena.
type FrameID uint32

// NoFrame is the FrameID of a page that is not resident.
const NoFrame FrameID = 0

// File is the file layer consumed by file-backed pages.
type File interface {
	// ReadAt and WriteAt have io.ReaderAt and io.WriterAt semantics.
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)

	// Size returns the current length of the file.
	Size() (int64, error)

	// Identity returns a value that is equal for two Files iff they refer to
	// the same backing store. It keys the sharing of read-only frames.
	Identity() uint64
}

// Directory is the translation layer: a page directory mapping the user
// pages of one address space.
//
// All methods take page-aligned user addresses, run in O(1), and may be called
// with the frame table lock held. Implementations must be safe for concurrent
// use, since the eviction engine manipulates any directory on behalf of any
// thread.
type Directory interface {
	// Descriptor returns the descriptor installed at addr, or nil.
	Descriptor(addr hostarch.Addr) *Descriptor

	// SetDescriptor installs d at addr. A nil d removes the descriptor.
	SetDescriptor(addr hostarch.Addr, d *Descriptor)

	// SetPage maps addr to p, with the dirty bit clear and the accessed bit
	// set.
	SetPage(addr hostarch.Addr, p palloc.Page, writable bool)

	// ClearPage unmaps addr. The descriptor and the dirty and accessed bits
	// are retained.
	ClearPage(addr hostarch.Addr)

	// IsDirty and SetDirty get and set the dirty bit of the mapping at addr.
	IsDirty(addr hostarch.Addr) bool
	SetDirty(addr hostarch.Addr, dirty bool)

	// IsAccessed and SetAccessed get and set the accessed bit of the mapping
	// at addr.
	IsAccessed(addr hostarch.Addr) bool
	SetAccessed(addr hostarch.Addr, accessed bool)

	// Translate performs a user access of type at to the page containing
	// addr, as the MMU would: it returns the bytes of the mapped page and
	// sets the accessed bit, and the dirty bit for writes. ok is false if
	// the page is not mapped or the access is not permitted.
	Translate(addr hostarch.Addr, at hostarch.AccessType) (b []byte, ok bool)

	// Access is Translate, but calls fn with the bytes of the page while the
	// mapping is held: ClearPage on addr does not return until fn has. It
	// returns false, without calling fn, if Translate would fail. fn must
	// not call into the directory.
	Access(addr hostarch.Addr, at hostarch.AccessType, fn func(b []byte)) bool
}

// Backing is where a non-resident page's content lives. It is one of
// FileBacking, SwapBacking or KernelBacking. A nil Backing means the page is
// zero-filled.
type Backing interface {
	isBacking()
}

// FileBacking is a page-sized region of a file ending at EndOffset.
type FileBacking struct {
	File      File
	EndOffset int64
}

// SwapBacking is a swap slot holding the page.
type SwapBacking struct {
	Slot swap.Slot
}

// KernelBacking is a kernel page preloaded with the page's initial content.
type KernelBacking struct {
	Page palloc.Page
}

func (FileBacking) isBacking()   {}
func (SwapBacking) isBacking()   {}
func (KernelBacking) isBacking() {}

// Offset returns the page-aligned file offset of the region.
func (b FileBacking) Offset() int64 {
	return RegionOffset(b.EndOffset)
}

// Size returns the number of file bytes in the region.
func (b FileBacking) Size() int64 {
	return b.EndOffset - b.Offset()
}

// RegionOffset returns the start of the page-aligned region of at most one
// page that ends at end.
func RegionOffset(end int64) int64 {
	if end <= 0 {
		return 0
	}
	return (end - 1) &^ hostarch.PageMask
}
