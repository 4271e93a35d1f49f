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

package fault

import (
	"bytes"
	"testing"

	"gvisor.dev/vmcore/pkg/errors"
	"gvisor.dev/vmcore/pkg/errors/linuxerr"
	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/vm/block"
	"gvisor.dev/vmcore/pkg/vm/frame"
	"gvisor.dev/vmcore/pkg/vm/fsfile"
	"gvisor.dev/vmcore/pkg/vm/page"
	"gvisor.dev/vmcore/pkg/vm/pagedir"
	"gvisor.dev/vmcore/pkg/vm/palloc"
	"gvisor.dev/vmcore/pkg/vm/swap"
)

const sp = page.UserTop - 0x100

func newHandler(t *testing.T, frames uint32) *Handler {
	t.Helper()
	user, err := palloc.NewPool("user", frames)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	s, err := swap.New(block.NewMemory("swap", 64*swap.SectorsPerPage))
	if err != nil {
		t.Fatalf("swap.New failed: %v", err)
	}
	return NewHandler(frame.NewTable(frame.TableOpts{User: user, Swap: s}), nil)
}

func install(pd *pagedir.Directory, addr hostarch.Addr, w page.Writable, f page.File, end int64) {
	d := page.New()
	d.SetAddr(addr)
	d.SetDirectory(pd)
	d.SetWritable(w)
	if f != nil {
		d.SetFile(f, end)
	}
	pd.SetDescriptor(addr, d)
}

func checkErr(t *testing.T, what string, got error, want *errors.Error) {
	t.Helper()
	if want == nil {
		if got != nil {
			t.Errorf("%s = %v, want nil", what, got)
		}
		return
	}
	if !linuxerr.Equals(want, got) {
		t.Errorf("%s = %v, want %v", what, got, want)
	}
}

func TestHandleUserFault(t *testing.T) {
	h := newHandler(t, 2)
	pd := pagedir.New("p")
	install(pd, 0x8048000, page.ReadOnly, fsfile.NewMemory([]byte("text")), 4)

	for _, tc := range []struct {
		name string
		addr hostarch.Addr
		at   hostarch.AccessType
		want *errors.Error
	}{
		{name: "kernel address", addr: page.UserTop + 0x10, at: hostarch.Read, want: linuxerr.EFAULT},
		{name: "no descriptor", addr: 0x10000, at: hostarch.Read, want: linuxerr.EFAULT},
		{name: "text read", addr: 0x8048002, at: hostarch.Read},
		{name: "text write", addr: 0x8048002, at: hostarch.Write, want: linuxerr.EACCES},
		{name: "push grows the stack", addr: sp - 4, at: hostarch.Write},
		{name: "far below sp", addr: sp - 0x800, at: hostarch.Write, want: linuxerr.EFAULT},
	} {
		t.Run(tc.name, func(t *testing.T) {
			checkErr(t, "HandleUserFault", h.HandleUserFault(pd, tc.addr, tc.at, sp), tc.want)
		})
	}
	if !pd.IsMapped(sp - 4) {
		t.Errorf("grown stack page is not mapped")
	}
	if got := h.Faults(); got != 6 {
		t.Errorf("Faults() = %d, want 6", got)
	}
}

func TestProbe(t *testing.T) {
	h := newHandler(t, 1)
	pd := pagedir.New("p")
	install(pd, 0x1000, page.ReadOnly, nil, 0)
	install(pd, 0x2000, page.WritableToSwap, nil, 0)

	for _, tc := range []struct {
		name string
		addr hostarch.Addr
		at   hostarch.AccessType
		want *errors.Error
	}{
		{name: "read-only read", addr: 0x1000, at: hostarch.Read},
		{name: "read-only write", addr: 0x1fff, at: hostarch.Write, want: linuxerr.EACCES},
		{name: "writable", addr: 0x2010, at: hostarch.Write},
		{name: "unmapped", addr: 0x3000, at: hostarch.Read, want: linuxerr.EFAULT},
		{name: "stack", addr: sp, at: hostarch.Write},
		{name: "kernel", addr: page.UserTop, at: hostarch.Read, want: linuxerr.EFAULT},
	} {
		t.Run(tc.name, func(t *testing.T) {
			checkErr(t, "Probe", h.Probe(pd, tc.addr, tc.at, sp), tc.want)
		})
	}
	if pd.Descriptor(sp.RoundDown()) != nil {
		t.Errorf("Probe grew the stack")
	}
	if s := h.table.Stats(); s.Resident != 0 {
		t.Errorf("Probe loaded %d pages", s.Resident)
	}
}

func TestCopyAcrossPages(t *testing.T) {
	// One frame forces every page crossing to evict the previous page.
	h := newHandler(t, 1)
	pd := pagedir.New("p")
	for addr := hostarch.Addr(0x1000); addr < 0x5000; addr += hostarch.PageSize {
		install(pd, addr, page.WritableToSwap, nil, 0)
	}

	src := make([]byte, 2*hostarch.PageSize+100)
	for i := range src {
		src[i] = byte(i % 251)
	}
	const start = 0x1000 + hostarch.PageSize - 50
	if err := h.CopyOut(pd, start, src, sp); err != nil {
		t.Fatalf("CopyOut failed: %v", err)
	}
	dst := make([]byte, len(src))
	if err := h.CopyIn(pd, start, dst, sp); err != nil {
		t.Fatalf("CopyIn failed: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Errorf("CopyIn returned different bytes than CopyOut wrote")
	}
	if s := h.table.Stats(); s.SwapOuts == 0 || s.Pinned != 0 {
		t.Errorf("stats = %+v, want swap-outs and no pins left", s)
	}
}

func TestCopyErrors(t *testing.T) {
	h := newHandler(t, 2)
	pd := pagedir.New("p")
	install(pd, 0x1000, page.ReadOnly, nil, 0)

	checkErr(t, "CopyOut to read-only", h.CopyOut(pd, 0x1000, []byte("x"), sp), linuxerr.EACCES)
	checkErr(t, "CopyIn past the mapping", h.CopyIn(pd, 0x1ff0, make([]byte, 32), sp), linuxerr.EFAULT)
	checkErr(t, "CopyIn from the kernel", h.CopyIn(pd, page.UserTop-8, make([]byte, 16), sp), linuxerr.EFAULT)
	checkErr(t, "empty CopyIn", h.CopyIn(pd, page.UserTop, nil, sp), nil)
	if s := h.table.Stats(); s.Pinned != 0 {
		t.Errorf("%d frames left pinned after failed copies", s.Pinned)
	}
}

func TestCopyOutGrowsStack(t *testing.T) {
	h := newHandler(t, 2)
	pd := pagedir.New("p")
	if err := h.CopyOut(pd, sp-32, make([]byte, 32), sp); err != nil {
		t.Fatalf("CopyOut below sp failed: %v", err)
	}
	if pd.Descriptor((sp - 32).RoundDown()) == nil {
		t.Errorf("stack did not grow")
	}
}

func TestAccess(t *testing.T) {
	// With one frame every page crossing faults and evicts the previous page.
	h := newHandler(t, 1)
	pd := pagedir.New("p")
	for addr := hostarch.Addr(0x1000); addr < 0x5000; addr += hostarch.PageSize {
		install(pd, addr, page.WritableToSwap, nil, 0)
	}

	src := make([]byte, 2*hostarch.PageSize+100)
	for i := range src {
		src[i] = byte(i % 253)
	}
	const start = 0x1000 + hostarch.PageSize - 50
	if err := h.Access(pd, start, src, hostarch.Write, sp); err != nil {
		t.Fatalf("write Access failed: %v", err)
	}
	dst := make([]byte, len(src))
	if err := h.Access(pd, start, dst, hostarch.Read, sp); err != nil {
		t.Fatalf("read Access failed: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Errorf("read Access returned different bytes than write Access stored")
	}
	if got := h.Faults(); got != 8 {
		t.Errorf("Faults() = %d, want 8", got)
	}
	if s := h.table.Stats(); s.SwapOuts == 0 || s.Pinned != 0 {
		t.Errorf("stats = %+v, want swap-outs and no pins", s)
	}
}

func TestAccessErrors(t *testing.T) {
	h := newHandler(t, 2)
	pd := pagedir.New("p")
	install(pd, 0x1000, page.ReadOnly, nil, 0)

	checkErr(t, "write to read-only", h.Access(pd, 0x1000, []byte("x"), hostarch.Write, sp), linuxerr.EACCES)
	checkErr(t, "read past the mapping", h.Access(pd, 0x1ff0, make([]byte, 32), hostarch.Read, sp), linuxerr.EFAULT)
	checkErr(t, "read from the kernel", h.Access(pd, page.UserTop-8, make([]byte, 16), hostarch.Read, sp), linuxerr.EFAULT)
	checkErr(t, "empty read", h.Access(pd, page.UserTop, nil, hostarch.Read, sp), nil)
	checkErr(t, "push below sp", h.Access(pd, sp-4, []byte("ret!"), hostarch.Write, sp), nil)
	if pd.Descriptor((sp - 4).RoundDown()) == nil {
		t.Errorf("stack did not grow")
	}
}

func TestCopyCountsFaults(t *testing.T) {
	h := newHandler(t, 2)
	pd := pagedir.New("p")
	install(pd, 0x1000, page.WritableToSwap, nil, 0)

	if err := h.CopyOut(pd, 0x1000, []byte("x"), sp); err != nil {
		t.Fatalf("CopyOut failed: %v", err)
	}
	if got := h.Faults(); got != 1 {
		t.Errorf("Faults() after copying to a new page = %d, want 1", got)
	}
	b := make([]byte, 1)
	if err := h.CopyIn(pd, 0x1000, b, sp); err != nil {
		t.Fatalf("CopyIn failed: %v", err)
	}
	if got := h.Faults(); got != 1 || b[0] != 'x' {
		t.Errorf("CopyIn of a resident page: Faults() = %d, byte %q, want 1 and %q", got, b[0], 'x')
	}
}
