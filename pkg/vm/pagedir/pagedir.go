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

// Package pagedir provides a software page directory: the translation layer
// of one user address space.
package pagedir

import (
	"sort"

	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/sync"
	"gvisor.dev/vmcore/pkg/vm/page"
	"gvisor.dev/vmcore/pkg/vm/palloc"
)

// pte is the per-page state of a Directory.
type pte struct {
	desc *page.Descriptor

	page     palloc.Page
	present  bool
	writable bool
	dirty    bool
	accessed bool
}

// Directory implements page.Directory with a map of page table entries.
type Directory struct {
	name string

	// mu protects ptes.
	mu   sync.Mutex
	ptes map[hostarch.Addr]*pte
}

var _ page.Directory = (*Directory)(nil)

// New returns an empty directory.
func New(name string) *Directory {
	return &Directory{
		name: name,
		ptes: make(map[hostarch.Addr]*pte),
	}
}

// Name returns the name given to New.
func (d *Directory) Name() string {
	return d.name
}

// String implements fmt.Stringer.
func (d *Directory) String() string {
	return d.name
}

// lookup returns the entry for the page containing addr.
//
// Preconditions: d.mu is locked.
func (d *Directory) lookup(addr hostarch.Addr, create bool) *pte {
	addr = addr.RoundDown()
	e := d.ptes[addr]
	if e == nil && create {
		e = &pte{}
		d.ptes[addr] = e
	}
	return e
}

// gc drops the entry at addr if it no longer carries anything.
//
// Preconditions: d.mu is locked.
func (d *Directory) gc(addr hostarch.Addr, e *pte) {
	if e.desc == nil && !e.present {
		delete(d.ptes, addr.RoundDown())
	}
}

// Descriptor implements page.Directory.Descriptor.
func (d *Directory) Descriptor(addr hostarch.Addr) *page.Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e := d.lookup(addr, false); e != nil {
		return e.desc
	}
	return nil
}

// SetDescriptor implements page.Directory.SetDescriptor.
func (d *Directory) SetDescriptor(addr hostarch.Addr, desc *page.Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.lookup(addr, desc != nil)
	if e == nil {
		return
	}
	e.desc = desc
	d.gc(addr, e)
}

// SetPage implements page.Directory.SetPage.
func (d *Directory) SetPage(addr hostarch.Addr, p palloc.Page, writable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.lookup(addr, true)
	e.page = p
	e.present = true
	e.writable = writable
	e.dirty = false
	e.accessed = true
}

// ClearPage implements page.Directory.ClearPage.
func (d *Directory) ClearPage(addr hostarch.Addr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e := d.lookup(addr, false); e != nil {
		e.present = false
		e.page = palloc.Page{}
		d.gc(addr, e)
	}
}

// IsDirty implements page.Directory.IsDirty.
func (d *Directory) IsDirty(addr hostarch.Addr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.lookup(addr, false)
	return e != nil && e.dirty
}

// SetDirty implements page.Directory.SetDirty.
func (d *Directory) SetDirty(addr hostarch.Addr, dirty bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e := d.lookup(addr, false); e != nil {
		e.dirty = dirty
	}
}

// IsAccessed implements page.Directory.IsAccessed.
func (d *Directory) IsAccessed(addr hostarch.Addr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.lookup(addr, false)
	return e != nil && e.accessed
}

// SetAccessed implements page.Directory.SetAccessed.
func (d *Directory) SetAccessed(addr hostarch.Addr, accessed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e := d.lookup(addr, false); e != nil {
		e.accessed = accessed
	}
}

// Translate implements page.Directory.Translate.
func (d *Directory) Translate(addr hostarch.Addr, at hostarch.AccessType) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.translateLocked(addr, at)
}

// Access implements page.Directory.Access.
func (d *Directory) Access(addr hostarch.Addr, at hostarch.AccessType, fn func(b []byte)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.translateLocked(addr, at)
	if ok {
		fn(b)
	}
	return ok
}

// Preconditions: d.mu is locked.
func (d *Directory) translateLocked(addr hostarch.Addr, at hostarch.AccessType) ([]byte, bool) {
	e := d.lookup(addr, false)
	if e == nil || !e.present {
		return nil, false
	}
	if at.Write && !e.writable {
		return nil, false
	}
	e.accessed = true
	if at.Write {
		e.dirty = true
	}
	return e.page.Bytes(), true
}

// IsMapped returns true if the page containing addr is present.
func (d *Directory) IsMapped(addr hostarch.Addr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.lookup(addr, false)
	return e != nil && e.present
}

// Addrs returns the addresses of all installed descriptors in ascending
// order.
func (d *Directory) Addrs() []hostarch.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	addrs := make([]hostarch.Addr, 0, len(d.ptes))
	for addr, e := range d.ptes {
		if e.desc != nil {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
