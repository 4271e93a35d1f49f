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


// Package workload describes and runs simulated processes against a frame
// table. A workload is a YAML document naming backing files and processes;
// each process loads an image, maps files and then performs a list of memory
// operations.
package workload

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"
	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/vm/page"
)

// Workload is the top-level document.
type Workload struct {
	Files     []File    `yaml:"files"`
	Processes []Process `yaml:"processes"`
}

// File is a backing file shared by all processes. If Path is set it names a
// host file; otherwise the file lives in memory and holds Data repeated to
// Size bytes.
type File struct {
	Name string `yaml:"name"`
	Path string `yaml:"path,omitempty"`
	Data string `yaml:"data,omitempty"`
	Size int64  `yaml:"size,omitempty"`
}

// Process describes one simulated process.
type Process struct {
	Name string `yaml:"name"`

	// Replicas is the number of identical copies to run. Zero means one.
	Replicas int `yaml:"replicas,omitempty"`

	// Segments are loaded from files, as by an executable loader.
	Segments []Segment `yaml:"segments,omitempty"`

	// Stack is preloaded at the top of the stack, e.g. program arguments.
	// The initial stack pointer points at its first byte.
	Stack string `yaml:"stack,omitempty"`

	// Mappings are memory-mapped files.
	Mappings []Mapping `yaml:"mappings,omitempty"`

	Ops []Op `yaml:"ops"`
}

// Segment is a loadable segment. See loader.Segment.
type Segment struct {
	File     string `yaml:"file"`
	Addr     uint64 `yaml:"addr"`
	Offset   int64  `yaml:"offset,omitempty"`
	FileSize int64  `yaml:"filesize"`
	MemSize  int64  `yaml:"memsize"`
	Writable bool   `yaml:"writable,omitempty"`
}

// Mapping maps the first Length bytes of File at Addr.
type Mapping struct {
	File   string `yaml:"file"`
	Addr   uint64 `yaml:"addr"`
	Length int64  `yaml:"length"`
}

// OpKind is the kind of a memory operation.
type OpKind string

// Memory operations.
const (
	// OpRead loads Length bytes from Addr as user code would, faulting
	// pages in as needed. If Expect is set, the bytes read must start with
	// it.
	OpRead OpKind = "read"

	// OpWrite copies Data, repeated to Length bytes, out to Addr.
	OpWrite OpKind = "write"

	// OpTouch accesses one byte of every page of [Addr, Addr+Length), for
	// writing if Write is set. Page contents are unchanged.
	OpTouch OpKind = "touch"

	// OpPush moves the stack pointer down by Length bytes and writes Data,
	// repeated to Length bytes, at the new stack pointer.
	OpPush OpKind = "push"

	// OpPop moves the stack pointer up by Length bytes.
	OpPop OpKind = "pop"

	// OpUnmap unloads the pages of [Addr, Addr+Length).
	OpUnmap OpKind = "unmap"
)

// Op is a memory operation.
type Op struct {
	Op     OpKind `yaml:"op"`
	Addr   uint64 `yaml:"addr,omitempty"`
	Length int64  `yaml:"length,omitempty"`
	Data   string `yaml:"data,omitempty"`
	Expect string `yaml:"expect,omitempty"`
	Write  bool   `yaml:"write,omitempty"`

	// Fault means the access is invalid and must fail.
	Fault bool `yaml:"fault,omitempty"`
}

// Parse decodes and validates a workload.
func Parse(r io.Reader) (*Workload, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var w Workload
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decoding workload: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Load reads a workload from the file at path.
func Load(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	w, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("workload %q: %w", path, err)
	}
	return w, nil
}

// Validate checks names and references. Address ranges are checked when the
// workload runs.
func (w *Workload) Validate() error {
	files := make(map[string]bool)
	for _, f := range w.Files {
		if f.Name == "" {
			return fmt.Errorf("file without a name")
		}
		if files[f.Name] {
			return fmt.Errorf("duplicate file %q", f.Name)
		}
		if f.Path != "" && (f.Data != "" || f.Size != 0) {
			return fmt.Errorf("file %q: path excludes data and size", f.Name)
		}
		if f.Size < 0 || (f.Size > 0 && f.Data == "") {
			return fmt.Errorf("file %q: invalid size %d", f.Name, f.Size)
		}
		files[f.Name] = true
	}
	if len(w.Processes) == 0 {
		return fmt.Errorf("no processes")
	}
	procs := make(map[string]bool)
	for _, p := range w.Processes {
		if p.Name == "" {
			return fmt.Errorf("process without a name")
		}
		if procs[p.Name] {
			return fmt.Errorf("duplicate process %q", p.Name)
		}
		procs[p.Name] = true
		if p.Replicas < 0 {
			return fmt.Errorf("process %q: invalid replicas %d", p.Name, p.Replicas)
		}
		for _, s := range p.Segments {
			if !files[s.File] {
				return fmt.Errorf("process %q: segment of unknown file %q", p.Name, s.File)
			}
		}
		for _, m := range p.Mappings {
			if !files[m.File] {
				return fmt.Errorf("process %q: mapping of unknown file %q", p.Name, m.File)
			}
		}
		if hostarch.Addr(len(p.Stack)) > page.UserTop {
			return fmt.Errorf("process %q: stack too large", p.Name)
		}
		for i, op := range p.Ops {
			if err := op.validate(); err != nil {
				return fmt.Errorf("process %q: op %d: %w", p.Name, i, err)
			}
		}
	}
	return nil
}

func (op *Op) validate() error {
	if op.Length < 0 {
		return fmt.Errorf("negative length %d", op.Length)
	}
	switch op.Op {
	case OpRead:
		if op.Length == 0 && op.Expect == "" {
			return fmt.Errorf("read needs a length or an expected value")
		}
		if op.Length != 0 && int64(len(op.Expect)) > op.Length {
			return fmt.Errorf("expected value longer than the read")
		}
	case OpWrite, OpPush:
		if op.Data == "" {
			return fmt.Errorf("%s needs data", op.Op)
		}
	case OpTouch, OpPop:
		if op.Length == 0 {
			return fmt.Errorf("%s needs a length", op.Op)
		}
	case OpUnmap:
		if op.Length == 0 || !hostarch.Addr(op.Addr).IsPageAligned() || op.Length%hostarch.PageSize != 0 {
			return fmt.Errorf("unmap needs a page-aligned range")
		}
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
	return nil
}

// Expand returns the processes of w with replicas spelled out. Replica i of
// a process named p is named "p.i".
func (w *Workload) Expand() []Process {
	var out []Process
	for _, p := range w.Processes {
		if p.Replicas <= 1 {
			out = append(out, p)
			continue
		}
		for i := 0; i < p.Replicas; i++ {
			r := deepcopy.Copy(p).(Process)
			r.Name = fmt.Sprintf("%s.%d", p.Name, i)
			r.Replicas = 0
			out = append(out, r)
		}
	}
	return out
}

// content returns the bytes of an in-memory file.
func (f *File) content() []byte {
	if f.Size == 0 {
		return []byte(f.Data)
	}
	return repeat(f.Data, f.Size)
}

// repeat returns s repeated to n bytes, or s if n is not larger.
func repeat(s string, n int64) []byte {
	if n <= int64(len(s)) {
		return []byte(s)
	}
	b := make([]byte, n)
	for i := int64(0); i < n; {
		i += int64(copy(b[i:], s))
	}
	return b
}
