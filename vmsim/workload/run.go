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
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/vmcore/pkg/cleanup"
	"gvisor.dev/vmcore/pkg/errors/linuxerr"
	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/log"
	"gvisor.dev/vmcore/pkg/vm/fault"
	"gvisor.dev/vmcore/pkg/vm/frame"
	"gvisor.dev/vmcore/pkg/vm/fsfile"
	"gvisor.dev/vmcore/pkg/vm/loader"
	"gvisor.dev/vmcore/pkg/vm/page"
	"gvisor.dev/vmcore/pkg/vm/pagedir"
	"gvisor.dev/vmcore/pkg/vm/palloc"
)

// Env is the machine a workload runs on.
type Env struct {
	Table   *frame.Table
	Handler *fault.Handler

	// Kernel holds preloaded stack pages.
	Kernel *palloc.Pool
}

// Result summarizes the run of one process.
type Result struct {
	Name string

	// Ops is the number of operations performed.
	Ops int

	// Faults is the number of operations that failed as expected.
	Faults int
}

// Run runs the processes of w concurrently and returns their results in the
// order of Expand. The first process to fail cancels the others.
func (w *Workload) Run(ctx context.Context, env Env) ([]Result, error) {
	files, closeFiles, err := w.open()
	if err != nil {
		return nil, err
	}
	defer closeFiles()

	procs := w.Expand()
	results := make([]Result, len(procs))
	g, ctx := errgroup.WithContext(ctx)
	for i := range procs {
		g.Go(func() error {
			var err error
			results[i], err = procs[i].run(ctx, env, files)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// open opens the files of w. The returned function closes them.
func (w *Workload) open() (map[string]page.File, func(), error) {
	var cu cleanup.Cleanup
	defer cu.Clean()

	files := make(map[string]page.File, len(w.Files))
	for _, f := range w.Files {
		if f.Path == "" {
			files[f.Name] = fsfile.NewMemory(f.content())
			continue
		}
		hf, err := fsfile.Open(f.Path, true)
		if err != nil {
			return nil, nil, fmt.Errorf("file %q: %w", f.Name, err)
		}
		cu.Add(func() {
			if err := hf.Close(); err != nil {
				log.Warningf("Closing %q: %v", hf.Name(), err)
			}
		})
		files[f.Name] = hf
	}
	return files, cu.Release(), nil
}

// run builds the address space of p, performs its operations and unmaps it.
func (p *Process) run(ctx context.Context, env Env, files map[string]page.File) (Result, error) {
	res := Result{Name: p.Name}
	pd := pagedir.New(p.Name)
	defer loader.UnmapAll(env.Table, pd)

	for _, s := range p.Segments {
		seg := loader.Segment{
			Addr:     hostarch.Addr(s.Addr),
			Offset:   s.Offset,
			FileSize: s.FileSize,
			MemSize:  s.MemSize,
			Writable: s.Writable,
		}
		if err := loader.LoadSegment(pd, files[s.File], seg); err != nil {
			return res, fmt.Errorf("process %q: segment at %#x: %w", p.Name, s.Addr, err)
		}
	}
	for _, m := range p.Mappings {
		if err := loader.MapFile(pd, files[m.File], hostarch.Addr(m.Addr), m.Length); err != nil {
			return res, fmt.Errorf("process %q: mapping at %#x: %w", p.Name, m.Addr, err)
		}
	}
	sp := page.UserTop
	if p.Stack != "" {
		sp -= hostarch.Addr(len(p.Stack))
		base := sp.RoundDown()
		data := make([]byte, page.UserTop-base)
		copy(data[sp-base:], p.Stack)
		if err := loader.Preload(pd, env.Kernel, base, data); err != nil {
			return res, fmt.Errorf("process %q: stack: %w", p.Name, err)
		}
	}
	log.Debugf("Process %q started with sp %v", p.Name, sp)

	for i := range p.Ops {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		op := &p.Ops[i]
		err := op.do(env, pd, &sp)
		switch {
		case op.Fault && err == nil:
			return res, fmt.Errorf("process %q: op %d: %s at %#x succeeded, want fault", p.Name, i, op.Op, op.Addr)
		case op.Fault && isAccessError(err):
			log.Debugf("Process %q: op %d: %s at %#x faulted: %v", p.Name, i, op.Op, op.Addr, err)
			res.Faults++
		case err != nil:
			return res, fmt.Errorf("process %q: op %d: %w", p.Name, i, err)
		}
		res.Ops++
	}
	log.Infof("Process %q exited after %d ops", p.Name, res.Ops)
	return res, nil
}

func isAccessError(err error) bool {
	return linuxerr.Equals(linuxerr.EFAULT, err) || linuxerr.Equals(linuxerr.EACCES, err)
}

// do performs op in pd, whose thread's stack pointer is *sp.
func (op *Op) do(env Env, pd *pagedir.Directory, sp *hostarch.Addr) error {
	addr := hostarch.Addr(op.Addr)
	switch op.Op {
	case OpRead:
		n := op.Length
		if n == 0 {
			n = int64(len(op.Expect))
		}
		buf := make([]byte, n)
		if err := env.Handler.Access(pd, addr, buf, hostarch.Read, *sp); err != nil {
			return err
		}
		if want := []byte(op.Expect); !bytes.HasPrefix(buf, want) {
			return fmt.Errorf("read %q at %#x, want %q", buf[:len(want)], op.Addr, want)
		}
	case OpWrite:
		return env.Handler.CopyOut(pd, addr, repeat(op.Data, op.Length), *sp)
	case OpTouch:
		end, ok := addr.AddLength(uint64(op.Length))
		if !ok {
			return linuxerr.EFAULT
		}
		// A write touch stores back the byte it loaded.
		var b [1]byte
		for a := addr.RoundDown(); a < end; a += hostarch.PageSize {
			if err := env.Handler.Access(pd, a, b[:], hostarch.Read, *sp); err != nil {
				return err
			}
			if !op.Write {
				continue
			}
			if err := env.Handler.Access(pd, a, b[:], hostarch.Write, *sp); err != nil {
				return err
			}
		}
	case OpPush:
		data := repeat(op.Data, op.Length)
		nsp := *sp - hostarch.Addr(len(data))
		if nsp > *sp {
			return linuxerr.EFAULT
		}
		if err := env.Handler.CopyOut(pd, nsp, data, nsp); err != nil {
			return err
		}
		*sp = nsp
	case OpPop:
		*sp += hostarch.Addr(op.Length)
	case OpUnmap:
		loader.Unmap(env.Table, pd, addr, op.Length)
	default:
		panic(fmt.Sprintf("unknown op %q", op.Op))
	}
	return nil
}
