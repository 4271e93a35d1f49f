// Copyright 2018 The gVisor Authors.
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


// Package cmd holds implementations of the vmsim commands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"gvisor.dev/vmcore/pkg/cleanup"
	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/log"
	"gvisor.dev/vmcore/pkg/vm/block"
	"gvisor.dev/vmcore/pkg/vm/fault"
	"gvisor.dev/vmcore/pkg/vm/frame"
	"gvisor.dev/vmcore/pkg/vm/page"
	"gvisor.dev/vmcore/pkg/vm/palloc"
	"gvisor.dev/vmcore/pkg/vm/stack"
	"gvisor.dev/vmcore/pkg/vm/swap"
	"gvisor.dev/vmcore/vmsim/config"
	"gvisor.dev/vmcore/vmsim/workload"
)

// swapLockTimeout bounds how long commands wait for a swap image that is in
// use by another vmsim.
const swapLockTimeout = 5 * time.Second

// machine is a simulated machine sized by the configuration.
type machine struct {
	env  workload.Env
	swap *swap.Store

	// close releases the swap image, if any.
	close func()
}

func newMachine(conf *config.Config) (*machine, error) {
	var cu cleanup.Cleanup
	defer cu.Clean()

	user, err := palloc.NewPool("user", uint32(conf.Frames))
	if err != nil {
		return nil, err
	}
	kernel, err := palloc.NewPool("kernel", uint32(conf.KernelFrames))
	if err != nil {
		return nil, err
	}

	var dev block.Device
	if conf.SwapFile == "" {
		dev = block.NewMemory("swap", block.Sector(conf.SwapSectors))
	} else {
		f, err := block.OpenFile(conf.SwapFile, block.FileOpts{LockTimeout: swapLockTimeout})
		if err != nil {
			return nil, err
		}
		cu.Add(func() {
			if err := f.Close(); err != nil {
				log.Warningf("Closing swap image %q: %v", f.Name(), err)
			}
		})
		if f.Size() == 0 {
			return nil, fmt.Errorf("swap image %q is empty, create it with mkswap", conf.SwapFile)
		}
		dev = f
	}
	s, err := swap.New(dev)
	if err != nil {
		return nil, err
	}

	table := frame.NewTable(frame.TableOpts{User: user, Swap: s})
	policy := &stack.Policy{
		Top:     page.UserTop,
		MaxSize: uint64(conf.StackPages) * hostarch.PageSize,
	}
	return &machine{
		env: workload.Env{
			Table:   table,
			Handler: fault.NewHandler(table, policy),
			Kernel:  kernel,
		},
		swap:  s,
		close: cu.Release(),
	}, nil
}

// writeMetrics writes the frame table metrics to the destination named by
// --metrics, if any.
func (m *machine) writeMetrics(conf *config.Config, labels map[string]string) error {
	var w io.Writer
	switch conf.Metrics {
	case "":
		return nil
	case "-":
		w = os.Stdout
	default:
		f, err := os.Create(conf.Metrics)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return m.env.Table.WriteMetrics(w, labels)
}
