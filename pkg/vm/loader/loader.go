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

// Package loader sets up the page descriptors of a process image and of
// memory-mapped files. Nothing is read until the pages are faulted in.
package loader

import (
	"fmt"

	"gvisor.dev/vmcore/pkg/cleanup"
	"gvisor.dev/vmcore/pkg/errors/linuxerr"
	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/vm/frame"
	"gvisor.dev/vmcore/pkg/vm/page"
	"gvisor.dev/vmcore/pkg/vm/palloc"
)

// Segment is a loadable segment of an executable.
type Segment struct {
	// Addr is the page-aligned user address of the segment.
	Addr hostarch.Addr

	// Offset is the page-aligned file offset of the segment.
	Offset int64

	// FileSize bytes are read from the file. The remaining MemSize-FileSize
	// bytes are zero.
	FileSize int64
	MemSize  int64

	// Writable segments are private to the process and are written to swap
	// when evicted. Read-only segments are shared between processes.
	Writable bool
}

// Directory is a page directory whose descriptors can be enumerated.
type Directory interface {
	page.Directory
	Addrs() []hostarch.Addr
}

// checkRange validates a page-aligned range of user pages.
func checkRange(addr hostarch.Addr, offset, length int64) error {
	if !addr.IsPageAligned() || offset%hostarch.PageSize != 0 || offset < 0 || length < 0 {
		return linuxerr.EINVAL
	}
	end, ok := addr.AddLength(uint64(length))
	if !ok || end > page.UserTop {
		return linuxerr.EFAULT
	}
	return nil
}

// checkFile returns EINVAL unless the length bytes of f at offset exist.
// Pages are filled lazily, so a region past the end of the file would only
// be noticed by the fault that reads it.
func checkFile(f page.File, offset, length int64) error {
	if f == nil {
		return fmt.Errorf("no file for %d bytes at offset %d: %w", length, offset, linuxerr.EINVAL)
	}
	size, err := f.Size()
	if err != nil {
		return err
	}
	if offset+length > size {
		return fmt.Errorf("range [%d, %d) exceeds file size %d: %w", offset, offset+length, size, linuxerr.EINVAL)
	}
	return nil
}

// installer installs descriptors, removing them again unless released.
type installer struct {
	pd page.Directory
	cu cleanup.Cleanup
}

func (in *installer) install(addr hostarch.Addr, setup func(d *page.Descriptor)) error {
	if in.pd.Descriptor(addr) != nil {
		return fmt.Errorf("page %v already mapped: %w", addr, linuxerr.EINVAL)
	}
	d := page.New()
	d.SetAddr(addr)
	d.SetDirectory(in.pd)
	setup(d)
	in.pd.SetDescriptor(addr, d)
	in.cu.Add(func() {
		in.pd.SetDescriptor(addr, nil)
		d.Release()
	})
	return nil
}

// LoadSegment installs descriptors for seg. Pages holding file content are
// file pages whose regions end at the last segment byte they hold; the rest
// are zero pages.
//
// Preconditions: The caller owns pd.
func LoadSegment(pd page.Directory, f page.File, seg Segment) error {
	if seg.FileSize < 0 || seg.FileSize > seg.MemSize {
		return linuxerr.EINVAL
	}
	if err := checkRange(seg.Addr, seg.Offset, seg.MemSize); err != nil {
		return err
	}
	if seg.FileSize > 0 {
		if err := checkFile(f, seg.Offset, seg.FileSize); err != nil {
			return err
		}
	}
	w := page.ReadOnly
	if seg.Writable {
		w = page.WritableToSwap
	}
	in := installer{pd: pd}
	defer in.cu.Clean()
	for done := int64(0); done < seg.MemSize; done += hostarch.PageSize {
		addr := seg.Addr + hostarch.Addr(done)
		read := min(seg.FileSize-done, hostarch.PageSize)
		err := in.install(addr, func(d *page.Descriptor) {
			d.SetWritable(w)
			if read > 0 {
				d.SetFile(f, seg.Offset+done+read)
			}
		})
		if err != nil {
			return err
		}
	}
	in.cu.Release()
	return nil
}

// Preload installs kernel-preloaded, swap-writable pages at addr holding
// data, e.g. a process's initial stack. Kernel pages are taken from kpool and
// freed once the user pages are first loaded or unmapped.
//
// Preconditions: The caller owns pd.
func Preload(pd page.Directory, kpool *palloc.Pool, addr hostarch.Addr, data []byte) error {
	if err := checkRange(addr, 0, int64(len(data))); err != nil {
		return err
	}
	in := installer{pd: pd}
	defer in.cu.Clean()
	for done := 0; done < len(data); done += hostarch.PageSize {
		kp, ok := kpool.Get(palloc.Zero)
		if !ok {
			return linuxerr.ENOMEM
		}
		copy(kp.Bytes(), data[done:])
		err := in.install(addr+hostarch.Addr(done), func(d *page.Descriptor) {
			d.SetWritable(page.WritableToSwap)
			d.SetKernelPage(kp)
		})
		if err != nil {
			kp.Free()
			return err
		}
		in.cu.Add(kp.Free)
	}
	in.cu.Release()
	return nil
}

// MapFile maps the first length bytes of f at addr. Pages are written back
// to f when evicted or unmapped dirty. It returns EINVAL if f is shorter than
// length.
//
// Preconditions: The caller owns pd.
func MapFile(pd page.Directory, f page.File, addr hostarch.Addr, length int64) error {
	if length <= 0 {
		return linuxerr.EINVAL
	}
	if err := checkRange(addr, 0, length); err != nil {
		return err
	}
	if err := checkFile(f, 0, length); err != nil {
		return err
	}
	in := installer{pd: pd}
	defer in.cu.Clean()
	for off := int64(0); off < length; off += hostarch.PageSize {
		end := min(off+hostarch.PageSize, length)
		err := in.install(addr+hostarch.Addr(off), func(d *page.Descriptor) {
			d.SetWritable(page.WritableToFile)
			d.SetFile(f, end)
		})
		if err != nil {
			return err
		}
	}
	in.cu.Release()
	return nil
}

// Unmap unloads the pages of [addr, addr+length) in pd.
//
// Preconditions: The caller owns pd.
func Unmap(t *frame.Table, pd page.Directory, addr hostarch.Addr, length int64) {
	for off := int64(0); off < length; off += hostarch.PageSize {
		t.Unload(pd, addr+hostarch.Addr(off))
	}
}

// UnmapAll unloads every page of pd, as on process exit.
//
// Preconditions: The caller owns pd.
func UnmapAll(t *frame.Table, pd Directory) {
	for _, addr := range pd.Addrs() {
		t.Unload(pd, addr)
	}
}
