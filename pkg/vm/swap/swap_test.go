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

package swap

import (
	"bytes"
	"strings"
	"testing"

	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/vm/block"
)

func pageOf(b byte) []byte {
	return bytes.Repeat([]byte{b}, hostarch.PageSize)
}

func mustNew(t *testing.T, sectors block.Sector) (*Store, *block.Memory) {
	t.Helper()
	dev := block.NewMemory("swap", sectors)
	s, err := New(dev)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, dev
}

func TestSlots(t *testing.T) {
	for _, tc := range []struct {
		sectors block.Sector
		want    uint32
	}{
		{sectors: 0, want: 0},
		{sectors: SectorsPerPage - 1, want: 0},
		{sectors: SectorsPerPage, want: 1},
		{sectors: 10*SectorsPerPage + 3, want: 10},
	} {
		s, _ := mustNew(t, tc.sectors)
		if got := s.Slots(); got != tc.want {
			t.Errorf("%d sectors: Slots() = %d, want %d", tc.sectors, got, tc.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	s, dev := mustNew(t, 4*SectorsPerPage)
	data := pageOf(0)
	for i := range data {
		data[i] = byte(i * 7)
	}
	slot := s.Write(data)
	if got := s.InUse(); got != 1 {
		t.Errorf("InUse() = %d after Write, want 1", got)
	}
	if got := dev.Writes(); got != SectorsPerPage {
		t.Errorf("Write issued %d sector writes, want %d", got, SectorsPerPage)
	}

	buf := make([]byte, hostarch.PageSize)
	s.Read(slot, buf)
	if !bytes.Equal(buf, data) {
		t.Errorf("Read returned different content than written")
	}
	if got := s.InUse(); got != 0 {
		t.Errorf("InUse() = %d after Read, want 0", got)
	}
}

func TestFirstFit(t *testing.T) {
	s, _ := mustNew(t, 3*SectorsPerPage)
	a := s.Write(pageOf(1))
	b := s.Write(pageOf(2))
	c := s.Write(pageOf(3))
	if a != 0 || b != 1 || c != 2 {
		t.Fatalf("slots = %d, %d, %d, want 0, 1, 2", a, b, c)
	}
	s.Release(b)
	if got := s.Write(pageOf(4)); got != b {
		t.Errorf("Write after Release got slot %d, want %d", got, b)
	}
	if got := b.Sector(); got != SectorsPerPage {
		t.Errorf("Sector() = %d, want %d", got, SectorsPerPage)
	}
}

func TestExhaustion(t *testing.T) {
	s, _ := mustNew(t, SectorsPerPage)
	if got := s.Slots(); got != 1 {
		t.Fatalf("Slots() = %d, want 1", got)
	}
	s.Write(pageOf(1))
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("second Write on a full store did not panic")
		}
		if msg, ok := r.(string); !ok || !strings.Contains(msg, "no swap space") {
			t.Errorf("panic = %v, want no swap space", r)
		}
	}()
	s.Write(pageOf(2))
}

func TestReleaseFree(t *testing.T) {
	s, _ := mustNew(t, SectorsPerPage)
	slot := s.Write(pageOf(1))
	s.Release(slot)
	defer func() {
		if recover() == nil {
			t.Errorf("releasing a free slot did not panic")
		}
	}()
	s.Release(slot)
}
