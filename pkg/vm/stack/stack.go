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

// Package stack decides when a fault below the mapped stack grows the stack.
package stack

import (
	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/log"
	"gvisor.dev/vmcore/pkg/vm/page"
)

// DefaultMaxSize is the default bound on the size of the user stack.
const DefaultMaxSize = 64 * hostarch.PageSize

// DefaultPolicy is a stack at the top of user space of at most DefaultMaxSize.
var DefaultPolicy = Policy{
	Top:     page.UserTop,
	MaxSize: DefaultMaxSize,
}

// Policy describes the stack region of an address space.
type Policy struct {
	// Top is the address just above the stack.
	Top hostarch.Addr

	// MaxSize is the maximum size of the stack in bytes.
	MaxSize uint64
}

// Floor returns the lowest address the stack may grow to.
func (p *Policy) Floor() hostarch.Addr {
	if uint64(p.Top) < p.MaxSize {
		return 0
	}
	return p.Top - hostarch.Addr(p.MaxSize)
}

// IsStackAccess returns true if an access to addr by a thread whose stack
// pointer is sp looks like a stack access: addr lies in the stack region and
// is at or above sp, or exactly 4 or 32 bytes below it. The latter cover the
// pre-decrement of PUSH and PUSHA.
//
// This is a heuristic. It rejects, for instance, a function that reserves a
// large frame and touches its far end first.
func (p *Policy) IsStackAccess(addr, sp hostarch.Addr) bool {
	if addr < p.Floor() || addr >= p.Top {
		return false
	}
	if addr >= sp {
		return true
	}
	below := sp - addr
	return below == 4 || below == 32
}

// MaybeGrow installs a zero-fill, swap-writable descriptor for the page
// containing addr in pd if there is none and the access looks like a stack
// access. It returns true if it installed one.
//
// Preconditions: The caller owns pd.
func (p *Policy) MaybeGrow(pd page.Directory, addr, sp hostarch.Addr) bool {
	base := addr.RoundDown()
	if pd.Descriptor(base) != nil || !p.IsStackAccess(addr, sp) {
		return false
	}
	d := page.New()
	d.SetAddr(base)
	d.SetType(page.TypeZero)
	d.SetWritable(page.WritableToSwap)
	d.SetDirectory(pd)
	pd.SetDescriptor(base, d)
	log.Debugf("Grew stack of %v to %v (sp %v)", pd, base, sp)
	return true
}
