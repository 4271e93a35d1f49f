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

// Package palloc implements a fixed-size pool of page-sized, page-aligned
// physical frames.
//
// The pool stands in for the user pool of physical memory. Pages are handed
// out whole; there is no coalescing and no allocation of runs.
package palloc

import (
	"fmt"

	"gvisor.dev/vmcore/pkg/bitmap"
	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/sync"
)

// Flags modify Get.
type Flags int

const (
	// Zero requests a zero-filled page.
	Zero Flags = 1 << iota
)

// Page is a single allocated frame. The zero value is not a valid page.
type Page struct {
	pool  *Pool
	index uint32
}

// Valid returns true if p refers to an allocated page.
func (p Page) Valid() bool {
	return p.pool != nil
}

// Index returns the index of p within its pool.
func (p Page) Index() uint32 {
	return p.index
}

// Bytes returns the page-sized slice backing p.
func (p Page) Bytes() []byte {
	off := int(p.index) * hostarch.PageSize
	return p.pool.mem[off : off+hostarch.PageSize : off+hostarch.PageSize]
}

// Free returns p to its pool.
func (p Page) Free() {
	p.pool.Free(p)
}

// String implements fmt.Stringer.
func (p Page) String() string {
	if !p.Valid() {
		return "page(nil)"
	}
	return fmt.Sprintf("%s[%d]", p.pool.name, p.index)
}

// Pool is a fixed set of frames.
type Pool struct {
	name string

	// mu protects used.
	mu   sync.Mutex
	used bitmap.Bitmap

	// mem is immutable after NewPool. Each page's bytes are owned by the
	// holder of that page.
	mem []byte
}

// NewPool returns a pool of the given number of pages.
func NewPool(name string, pages uint32) (*Pool, error) {
	if pages == 0 {
		return nil, fmt.Errorf("pool %q: no pages", name)
	}
	used, err := bitmap.New(pages)
	if err != nil {
		return nil, fmt.Errorf("pool %q: %w", name, err)
	}
	return &Pool{
		name: name,
		used: used,
		mem:  make([]byte, int(pages)*hostarch.PageSize),
	}, nil
}

// Get allocates a page. It returns false if the pool is exhausted.
func (p *Pool) Get(flags Flags) (Page, bool) {
	p.mu.Lock()
	idx, ok := p.used.ScanAndSet(0)
	p.mu.Unlock()
	if !ok {
		return Page{}, false
	}
	pg := Page{pool: p, index: idx}
	if flags&Zero != 0 {
		clear(pg.Bytes())
	}
	return pg, true
}

// Free returns pg to the pool.
//
// Preconditions: pg was allocated from p and has not been freed.
func (p *Pool) Free(pg Page) {
	if pg.pool != p {
		panic(fmt.Sprintf("pool %q: freeing %v from another pool", p.name, pg))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.used.IsSet(pg.index) {
		panic(fmt.Sprintf("pool %q: double free of %v", p.name, pg))
	}
	p.used.Remove(pg.index)
}

// Size returns the capacity of the pool in pages.
func (p *Pool) Size() uint32 {
	return p.used.Size()
}

// InUse returns the number of allocated pages.
func (p *Pool) InUse() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used.GetNumOnes()
}
