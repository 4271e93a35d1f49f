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


package cmd

import (
	"context"
	"flag"

	"github.com/google/subcommands"
	"gvisor.dev/vmcore/pkg/hostarch"
	"gvisor.dev/vmcore/pkg/vm/block"
	"gvisor.dev/vmcore/pkg/vm/swap"
	"gvisor.dev/vmcore/vmsim/cmd/util"
	"gvisor.dev/vmcore/vmsim/config"
)

// Mkswap implements subcommands.Command for the "mkswap" command.
type Mkswap struct{}

// Name implements subcommands.Command.Name.
func (*Mkswap) Name() string {
	return "mkswap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Mkswap) Synopsis() string {
	return "create or resize a swap image"
}

// Usage implements subcommands.Command.Usage.
func (*Mkswap) Usage() string {
	return `mkswap [<path>] - creates a swap image of --swap-sectors sectors at path, or at --swap-file if path is omitted
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Mkswap) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Mkswap) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	path, ok := swapPath(f, conf)
	if !ok {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if conf.SwapSectors == 0 {
		util.Fatalf("--swap-sectors must be positive to create a swap image")
	}

	dev, err := block.OpenFile(path, block.FileOpts{
		Sectors:     block.Sector(conf.SwapSectors),
		LockTimeout: swapLockTimeout,
	})
	if err != nil {
		util.Fatalf("creating swap image: %v", err)
	}
	defer dev.Close()
	s, err := swap.New(dev)
	if err != nil {
		util.Fatalf("%v", err)
	}
	util.Infof("Created swap image %q: %d sectors, %d slots", path, dev.Size(), s.Slots())
	return subcommands.ExitSuccess
}

// Swapinfo implements subcommands.Command for the "swapinfo" command.
type Swapinfo struct{}

// Name implements subcommands.Command.Name.
func (*Swapinfo) Name() string {
	return "swapinfo"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Swapinfo) Synopsis() string {
	return "print the geometry of a swap image"
}

// Usage implements subcommands.Command.Usage.
func (*Swapinfo) Usage() string {
	return `swapinfo [<path>] - prints the size of the swap image at path, or at --swap-file if path is omitted
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Swapinfo) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Swapinfo) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	path, ok := swapPath(f, conf)
	if !ok {
		f.Usage()
		return subcommands.ExitUsageError
	}

	dev, err := block.OpenFile(path, block.FileOpts{LockTimeout: swapLockTimeout})
	if err != nil {
		util.Fatalf("opening swap image: %v", err)
	}
	defer dev.Close()
	s, err := swap.New(dev)
	if err != nil {
		util.Fatalf("%v", err)
	}
	util.Infof("%s: %d sectors of %d bytes, %d slots of %d bytes", path, dev.Size(), block.SectorSize, s.Slots(), hostarch.PageSize)
	if rem := dev.Size() % swap.SectorsPerPage; rem != 0 {
		util.Infof("%s: %d trailing sectors unused", path, rem)
	}
	return subcommands.ExitSuccess
}

// swapPath returns the image path named on the command line or by
// --swap-file.
func swapPath(f *flag.FlagSet, conf *config.Config) (string, bool) {
	switch f.NArg() {
	case 0:
		return conf.SwapFile, conf.SwapFile != ""
	case 1:
		return f.Arg(0), true
	default:
		return "", false
	}
}
