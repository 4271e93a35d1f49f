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

	"github.com/google/btree"
	"gvisor.dev/vmcore/pkg/vm/page"
)

// roKey identifies a read-only file region.
type roKey struct {
	identity  uint64
	endOffset int64
}

func (k roKey) less(o roKey) bool {
	if k.identity != o.identity {
		return k.identity < o.identity
	}
	return k.endOffset < o.endOffset
}

type roEntry struct {
	key   roKey
	frame *Frame
}

// roCache maps read-only file regions to the frames holding them.
//
// All methods require Table.mu.
type roCache struct {
	tree *btree.BTreeG[roEntry]
}

func newROCache() roCache {
	return roCache{
		tree: btree.NewG[roEntry](8, func(a, b roEntry) bool { return a.key.less(b.key) }),
	}
}

// keyOf returns the cache key of d.
//
// Preconditions: d.IsSharable().
func keyOf(d *page.Descriptor) roKey {
	fb := d.Backing().(page.FileBacking)
	return roKey{identity: fb.File.Identity(), endOffset: fb.EndOffset}
}

// lookup returns the frame holding the region of d, or nil.
func (c *roCache) lookup(d *page.Descriptor) *Frame {
	e, ok := c.tree.Get(roEntry{key: keyOf(d)})
	if !ok {
		return nil
	}
	return e.frame
}

// insert records that f holds the region of d.
func (c *roCache) insert(d *page.Descriptor, f *Frame) {
	if old, ok := c.tree.ReplaceOrInsert(roEntry{key: keyOf(d), frame: f}); ok {
		panic(fmt.Sprintf("read-only region of %v cached in frames %d and %d", d, old.frame.id, f.id))
	}
}

// remove drops the entry for the region of d, which must be held by f.
func (c *roCache) remove(d *page.Descriptor, f *Frame) {
	e, ok := c.tree.Delete(roEntry{key: keyOf(d)})
	if !ok || e.frame != f {
		panic(fmt.Sprintf("read-only region of %v not cached in frame %d", d, f.id))
	}
}

// len returns the number of cached frames.
func (c *roCache) len() int {
	return c.tree.Len()
}
