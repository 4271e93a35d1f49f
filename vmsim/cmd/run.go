// Copyright 2018 Google LLC
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


package cmd

import (
	"context"
	"flag"
	"path/filepath"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/vmcore/vmsim/cmd/util"
	"gvisor.dev/vmcore/vmsim/config"
	"gvisor.dev/vmcore/vmsim/workload"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run the processes of a workload"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <workload.yaml> - runs the processes of a workload concurrently against one frame table
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&r.timeout, "timeout", 0, "stop the workload after this long. Zero means no limit.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	path := f.Arg(0)
	conf := args[0].(*config.Config)

	w, err := workload.Load(path)
	if err != nil {
		util.Fatalf("loading workload: %v", err)
	}
	m, err := newMachine(conf)
	if err != nil {
		util.Fatalf("creating machine: %v", err)
	}
	defer m.close()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	results, err := w.Run(ctx, m.env)
	if err != nil {
		return util.Errorf("running workload: %v", err)
	}
	for _, res := range results {
		util.Infof("%-20s %6d ops %4d faults", res.Name, res.Ops, res.Faults)
	}
	stats := m.env.Table.Stats()
	util.Infof("%d processes in %v: %d page faults, %d evictions, %d swap-ins, %d swap-outs, %d read-only cache hits",
		len(results), time.Since(start), m.env.Handler.Faults(), stats.Evictions, stats.SwapIns, stats.SwapOuts, stats.CacheHits)

	labels := map[string]string{"workload": filepath.Base(path)}
	if err := m.writeMetrics(conf, labels); err != nil {
		return util.Errorf("writing metrics: %v", err)
	}
	return subcommands.ExitSuccess
}
