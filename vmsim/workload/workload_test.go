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


package workload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/vmcore/pkg/errors/linuxerr"
	"gvisor.dev/vmcore/pkg/vm/block"
	"gvisor.dev/vmcore/pkg/vm/fault"
	"gvisor.dev/vmcore/pkg/vm/frame"
	"gvisor.dev/vmcore/pkg/vm/palloc"
	"gvisor.dev/vmcore/pkg/vm/swap"
)

func newEnv(t *testing.T, frames uint32) Env {
	t.Helper()
	user, err := palloc.NewPool("user", frames)
	if err != nil {
		t.Fatalf("NewPool(user) failed: %v", err)
	}
	kernel, err := palloc.NewPool("kernel", 4)
	if err != nil {
		t.Fatalf("NewPool(kernel) failed: %v", err)
	}
	s, err := swap.New(block.NewMemory("swap", 512))
	if err != nil {
		t.Fatalf("swap.New failed: %v", err)
	}
	table := frame.NewTable(frame.TableOpts{User: user, Swap: s})
	return Env{
		Table:   table,
		Handler: fault.NewHandler(table, nil),
		Kernel:  kernel,
	}
}

func parse(t *testing.T, doc string) *Workload {
	t.Helper()
	w, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return w
}

func TestParse(t *testing.T) {
	w := parse(t, `
files:
  - name: prog
    data: "PROG"
    size: 8192
processes:
  - name: init
    segments:
      - file: prog
        addr: 0x08048000
        filesize: 100
        memsize: 4096
    stack: "init"
    ops:
      - {op: read, addr: 0x08048000, expect: "PROG"}
      - {op: push, data: "x", length: 16}
`)
	want := &Workload{
		Files: []File{{Name: "prog", Data: "PROG", Size: 8192}},
		Processes: []Process{{
			Name: "init",
			Segments: []Segment{{
				File:     "prog",
				Addr:     0x08048000,
				FileSize: 100,
				MemSize:  4096,
			}},
			Stack: "init",
			Ops: []Op{
				{Op: OpRead, Addr: 0x08048000, Expect: "PROG"},
				{Op: OpPush, Data: "x", Length: 16},
			},
		}},
	}
	if diff := cmp.Diff(want, w); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown field",
			doc:  "processes: [{name: p, ops: [], color: red}]",
			want: "color",
		},
		{
			name: "no processes",
			doc:  "files: [{name: f, data: x}]",
			want: "no processes",
		},
		{
			name: "duplicate process",
			doc:  "processes: [{name: p}, {name: p}]",
			want: "duplicate process",
		},
		{
			name: "unknown file",
			doc:  "processes: [{name: p, segments: [{file: f, addr: 0, filesize: 0, memsize: 4096}]}]",
			want: "unknown file",
		},
		{
			name: "path and data",
			doc:  "files: [{name: f, path: /x, data: y}]\nprocesses: [{name: p}]",
			want: "path excludes",
		},
		{
			name: "unknown op",
			doc:  "processes: [{name: p, ops: [{op: jump}]}]",
			want: "unknown op",
		},
		{
			name: "unaligned unmap",
			doc:  "processes: [{name: p, ops: [{op: unmap, addr: 0x10, length: 4096}]}]",
			want: "page-aligned",
		},
		{
			name: "long expect",
			doc:  "processes: [{name: p, ops: [{op: read, addr: 0, length: 2, expect: abc}]}]",
			want: "longer",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Parse() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestExpand(t *testing.T) {
	w := parse(t, `
processes:
  - name: w
    replicas: 2
    ops: [{op: touch, addr: 0x1000, length: 1}]
  - name: solo
    ops: []
`)
	procs := w.Expand()
	var names []string
	for _, p := range procs {
		names = append(names, p.Name)
	}
	if diff := cmp.Diff([]string{"w.0", "w.1", "solo"}, names); diff != "" {
		t.Errorf("Expand() names mismatch (-want +got):\n%s", diff)
	}

	// Replicas do not alias each other or the original.
	procs[0].Ops[0].Addr = 0x2000
	if got := procs[1].Ops[0].Addr; got != 0x1000 {
		t.Errorf("replica op address = %#x after modifying another replica, want 0x1000", got)
	}
	if got := w.Processes[0].Ops[0].Addr; got != 0x1000 {
		t.Errorf("original op address = %#x after modifying a replica, want 0x1000", got)
	}
}

func TestRun(t *testing.T) {
	w := parse(t, `
files:
  - name: prog
    data: "PROG"
    size: 8192
processes:
  - name: worker
    replicas: 3
    segments:
      - {file: prog, addr: 0x08048000, filesize: 8192, memsize: 8192}
      - {file: prog, addr: 0x0804a000, filesize: 100, memsize: 16384, writable: true}
    stack: "argv0"
    ops:
      - {op: read, addr: 0x08048000, expect: "PROGPROG"}
      - {op: read, addr: 0x08049ffc, expect: "PROG"}
      - {op: write, addr: 0x08048000, data: "x", fault: true}
      - {op: write, addr: 0x0804a000, data: "data", length: 16384}
      - {op: read, addr: 0x0804d000, length: 8, expect: "data"}
      - {op: read, addr: 0xbffffffb, expect: "argv0"}
      - {op: push, data: "frame", length: 8192}
      - {op: read, addr: 0x40000000, length: 1, fault: true}
      - {op: touch, addr: 0x0804a000, length: 16384}
      - {op: read, addr: 0x0804a000, expect: "datadata"}
`)
	env := newEnv(t, 12)
	got, err := w.Run(context.Background(), env)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []Result{
		{Name: "worker.0", Ops: 10, Faults: 2},
		{Name: "worker.1", Ops: 10, Faults: 2},
		{Name: "worker.2", Ops: 10, Faults: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Run() mismatch (-want +got):\n%s", diff)
	}

	stats := env.Table.Stats()
	if stats.Resident != 0 || stats.SwapInUse != 0 || stats.Cached != 0 {
		t.Errorf("Stats() = %+v, want nothing resident, swapped or cached after exit", stats)
	}
	if n := env.Kernel.InUse(); n != 0 {
		t.Errorf("kernel pool has %d pages in use after exit, want 0", n)
	}
}

func TestRunUnderMemoryPressure(t *testing.T) {
	w := parse(t, `
files:
  - name: prog
    data: "PROG"
    size: 8192
processes:
  - name: worker
    segments:
      - {file: prog, addr: 0x08048000, filesize: 8192, memsize: 8192}
      - {file: prog, addr: 0x0804a000, filesize: 100, memsize: 16384, writable: true}
      - {file: prog, addr: 0x10000000, filesize: 4096, memsize: 4096}
    stack: "argv0"
    ops:
      - {op: read, addr: 0x08048000, expect: "PROGPROG"}
      - {op: read, addr: 0x10000000, expect: "PROG"}
      - {op: read, addr: 0x08049ffc, expect: "PROG"}
      - {op: write, addr: 0x08048000, data: "x", fault: true}
      - {op: write, addr: 0x0804a000, data: "data", length: 16384}
      - {op: read, addr: 0x0804d000, length: 8, expect: "data"}
      - {op: read, addr: 0xbffffffb, expect: "argv0"}
      - {op: push, data: "frame", length: 8192}
      - {op: read, addr: 0x40000000, length: 1, fault: true}
      - {op: touch, addr: 0x0804a000, length: 16384, write: true}
      - {op: read, addr: 0x0804a000, expect: "datadata"}
      - {op: read, addr: 0xbfffdffb, expect: "framefr"}
`)
	// Five frames hold fewer pages than the process uses, so its data and
	// stack pages go through swap. The first text page is also mapped at
	// 0x10000000 and is shared while resident.
	env := newEnv(t, 5)
	got, err := w.Run(context.Background(), env)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if diff := cmp.Diff([]Result{{Name: "worker", Ops: 12, Faults: 2}}, got); diff != "" {
		t.Errorf("Run() mismatch (-want +got):\n%s", diff)
	}

	stats := env.Table.Stats()
	if stats.Evictions == 0 || stats.SwapOuts == 0 || stats.SwapIns == 0 {
		t.Errorf("Stats() = %+v, want evictions and swap traffic", stats)
	}
	if stats.CacheHits == 0 {
		t.Errorf("Stats() = %+v, want a read-only cache hit", stats)
	}
	if env.Handler.Faults() == 0 {
		t.Errorf("no page faults counted")
	}
	if stats.Resident != 0 || stats.SwapInUse != 0 || stats.Cached != 0 {
		t.Errorf("Stats() = %+v, want nothing resident, swapped or cached after exit", stats)
	}
	if n := env.Kernel.InUse(); n != 0 {
		t.Errorf("kernel pool has %d pages in use after exit, want 0", n)
	}
}

func TestRunMapPastEndOfFile(t *testing.T) {
	w := parse(t, `
files:
  - {name: short, data: "abc", size: 100}
processes:
  - name: p
    mappings:
      - {file: short, addr: 0x10000000, length: 4096}
    ops:
      - {op: read, addr: 0x10000000, length: 1}
`)
	env := newEnv(t, 4)
	_, err := w.Run(context.Background(), env)
	if !linuxerr.Equals(linuxerr.EINVAL, err) || !strings.Contains(err.Error(), "mapping at 0x10000000") {
		t.Fatalf("Run() = %v, want EINVAL for the mapping", err)
	}
	if stats := env.Table.Stats(); stats.FileReads != 0 {
		t.Errorf("Stats().FileReads = %d, want 0", stats.FileReads)
	}
}

func TestRunMapsHostFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(path, []byte(strings.Repeat("-", 6000)), 0644); err != nil {
		t.Fatal(err)
	}
	w := parse(t, `
files:
  - {name: data, path: `+path+`}
processes:
  - name: editor
    mappings:
      - {file: data, addr: 0x10000000, length: 6000}
    ops:
      - {op: read, addr: 0x10000000, expect: "---"}
      - {op: write, addr: 0x10001000, data: "HELLO"}
      - {op: unmap, addr: 0x10001000, length: 4096}
      - {op: read, addr: 0x10001000, length: 1, fault: true}
`)
	if _, err := w.Run(context.Background(), newEnv(t, 4)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Repeat("-", 4096) + "HELLO" + strings.Repeat("-", 6000-4096-5)
	if string(got) != want {
		t.Errorf("file contents after run = %q..., want %q...", got[4090:4110], want[4090:4110])
	}
}

func TestRunFailure(t *testing.T) {
	w := parse(t, `
files:
  - {name: prog, data: "abcd", size: 4096}
processes:
  - name: ok
    replicas: 2
    segments:
      - {file: prog, addr: 0x1000, filesize: 4096, memsize: 4096}
    ops:
      - {op: read, addr: 0x1000, expect: "abcd"}
  - name: bad
    segments:
      - {file: prog, addr: 0x1000, filesize: 4096, memsize: 4096}
    ops:
      - {op: read, addr: 0x1000, expect: "dcba"}
`)
	env := newEnv(t, 4)
	_, err := w.Run(context.Background(), env)
	if err == nil || !strings.Contains(err.Error(), `process "bad"`) {
		t.Fatalf("Run() = %v, want error from process \"bad\"", err)
	}
	if stats := env.Table.Stats(); stats.Resident != 0 {
		t.Errorf("Stats().Resident = %d after failed run, want 0", stats.Resident)
	}

	w = parse(t, `
processes:
  - name: p
    ops:
      - {op: read, addr: 0x1000, length: 1}
`)
	if _, err := w.Run(context.Background(), newEnv(t, 4)); err == nil || !strings.Contains(err.Error(), "bad address") {
		t.Errorf("Run() = %v, want bad address", err)
	}
}
