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

// Package fault is the page fault entry point and the user memory access
// helpers used at the system call boundary.
package fault

import (
	"fmt"
	"sync/atomic"

	"gvisor.dev/vmcore/pkg/errors/linuxerr"
	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/vm/frame"
	"gvisor.dev/vmcore/pkg/vm/page"
	"gvisor.dev/vmcore/pkg/vm/stack"
)

// Handler resolves user page faults against a frame table.
type Handler struct {
	table *frame.Table
	stack *stack.Policy

	faults atomic.Uint64
}

// NewHandler returns a Handler. A nil p uses stack.DefaultPolicy.
func NewHandler(t *frame.Table, p *stack.Policy) *Handler {
	if p == nil {
		p = &stack.DefaultPolicy
	}
	return &Handler{
		table: t,
		stack: p,
	}
}

// Faults returns the number of page faults taken, by user accesses or by
// copies between the kernel and user memory.
func (h *Handler) Faults() uint64 {
	return h.faults.Load()
}

// HandleUserFault handles a fault of type at on addr by a thread of pd whose
// user stack pointer is sp. On success the page is resident and mapped. An
// error means the access is invalid and the faulting process must be
// terminated.
//
// Preconditions: The caller owns pd.
func (h *Handler) HandleUserFault(pd page.Directory, addr hostarch.Addr, at hostarch.AccessType, sp hostarch.Addr) error {
	h.faults.Add(1)
	if !page.IsUserAddr(addr) {
		return linuxerr.EFAULT
	}
	h.stack.MaybeGrow(pd, addr, sp)
	return h.table.Load(pd, addr, at.Write)
}

// Probe returns nil if an access of type at to addr would be satisfied by a
// fault, without faulting.
func (h *Handler) Probe(pd page.Directory, addr hostarch.Addr, at hostarch.AccessType, sp hostarch.Addr) error {
	if !page.IsUserAddr(addr) {
		return linuxerr.EFAULT
	}
	d := pd.Descriptor(addr.RoundDown())
	if d == nil {
		if h.stack.IsStackAccess(addr, sp) {
			return nil
		}
		return linuxerr.EFAULT
	}
	if at.Write && d.Writable() == page.ReadOnly {
		return linuxerr.EACCES
	}
	return nil
}

// CopyIn copies len(dst) bytes from user memory at addr into dst.
//
// Preconditions: The caller owns pd.
func (h *Handler) CopyIn(pd page.Directory, addr hostarch.Addr, dst []byte, sp hostarch.Addr) error {
	return h.copy(pd, addr, dst, hostarch.Read, sp)
}

// CopyOut copies src to user memory at addr.
//
// Preconditions: The caller owns pd.
func (h *Handler) CopyOut(pd page.Directory, addr hostarch.Addr, src []byte, sp hostarch.Addr) error {
	return h.copy(pd, addr, src, hostarch.Write, sp)
}

// Access performs an access of type at to [addr, addr+len(buf)) by a user
// thread of pd whose stack pointer is sp, the way the CPU would: each page is
// translated through pd, and a failed translation raises a page fault after
// which the access is retried. Writes store buf and reads fill it. An error is
// the fault that would terminate the thread.
//
// Preconditions: The caller owns pd.
func (h *Handler) Access(pd page.Directory, addr hostarch.Addr, buf []byte, at hostarch.AccessType, sp hostarch.Addr) error {
	if len(buf) == 0 {
		return nil
	}
	if end, ok := addr.AddLength(uint64(len(buf))); !ok || !page.IsUserAddr(end-1) {
		return linuxerr.EFAULT
	}
	for done := 0; done < len(buf); {
		cur := addr + hostarch.Addr(done)
		off := int(cur.PageOffset())
		n := 0
		mapped := pd.Access(cur.RoundDown(), at, func(mem []byte) {
			if at.Write {
				n = copy(mem[off:], buf[done:])
			} else {
				n = copy(buf[done:], mem[off:])
			}
		})
		if !mapped {
			// The page may be evicted again before the retry, in which
			// case it faults again.
			if err := h.HandleUserFault(pd, cur, at, sp); err != nil {
				return err
			}
			continue
		}
		done += n
	}
	return nil
}

// copy pins each page of the range in turn and copies through its mapping.
func (h *Handler) copy(pd page.Directory, addr hostarch.Addr, buf []byte, at hostarch.AccessType, sp hostarch.Addr) error {
	if len(buf) == 0 {
		return nil
	}
	if end, ok := addr.AddLength(uint64(len(buf))); !ok || !page.IsUserAddr(end-1) {
		return linuxerr.EFAULT
	}
	for done := 0; done < len(buf); {
		cur := addr + hostarch.Addr(done)
		if _, ok := pd.Translate(cur.RoundDown(), at); !ok {
			// The access would have faulted.
			h.faults.Add(1)
		}
		h.stack.MaybeGrow(pd, cur, sp)
		if err := h.table.Lock(pd, cur, at.Write); err != nil {
			return err
		}
		mem, ok := pd.Translate(cur, at)
		if !ok {
			panic(fmt.Sprintf("pinned page %v of %v is not mapped for %v", cur.RoundDown(), pd, at))
		}
		off := int(cur.PageOffset())
		var n int
		if at.Write {
			n = copy(mem[off:], buf[done:])
		} else {
			n = copy(buf[done:], mem[off:])
		}
		h.table.Unlock(pd, cur)
		done += n
	}
	return nil
}
