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

package palloc

import (
	"testing"

	"gvisor.dev/vmcore/pkg/hostarch"
)

func TestGetExhaust(t *testing.T) {
	p, err := NewPool("user", 3)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	var pages []Page
	for i := 0; i < 3; i++ {
		pg, ok := p.Get(0)
		if !ok {
			t.Fatalf("Get #%d failed", i)
		}
		if got := len(pg.Bytes()); got != hostarch.PageSize {
			t.Errorf("len(Bytes()) = %d, want %d", got, hostarch.PageSize)
		}
		pages = append(pages, pg)
	}
	if _, ok := p.Get(0); ok {
		t.Fatalf("Get on an exhausted pool succeeded")
	}
	if got := p.InUse(); got != 3 {
		t.Errorf("InUse() = %d, want 3", got)
	}
	pages[1].Free()
	pg, ok := p.Get(0)
	if !ok {
		t.Fatalf("Get after Free failed")
	}
	if pg.Index() != pages[1].Index() {
		t.Errorf("Get returned page %d, want the freed page %d", pg.Index(), pages[1].Index())
	}
}

func TestZero(t *testing.T) {
	p, err := NewPool("user", 1)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	pg, _ := p.Get(0)
	for i := range pg.Bytes() {
		pg.Bytes()[i] = 0xff
	}
	pg.Free()
	pg, _ = p.Get(Zero)
	for i, b := range pg.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d = %#x after Get(Zero)", i, b)
		}
	}
}

func TestDoubleFree(t *testing.T) {
	p, err := NewPool("user", 1)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	pg, _ := p.Get(0)
	pg.Free()
	defer func() {
		if recover() == nil {
			t.Errorf("double free did not panic")
		}
	}()
	pg.Free()
}

func TestPagesDisjoint(t *testing.T) {
	p, err := NewPool("user", 2)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	a, _ := p.Get(Zero)
	b, _ := p.Get(Zero)
	a.Bytes()[hostarch.PageSize-1] = 1
	if b.Bytes()[0] != 0 {
		t.Errorf("write to the end of one page is visible in the next")
	}
}
