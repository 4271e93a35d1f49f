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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/subcommands"
	"gvisor.dev/vmcore/vmsim/config"
)

func testConfig(t *testing.T, flags ...string) *config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(flags); err != nil {
		t.Fatalf("parsing flags: %v", err)
	}
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		t.Fatalf("NewFromFlags failed: %v", err)
	}
	return conf
}

// execute runs c with the given arguments, as subcommands.Execute would.
func execute(c subcommands.Command, conf *config.Config, args ...string) subcommands.ExitStatus {
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	c.SetFlags(fs)
	if err := fs.Parse(args); err != nil {
		return subcommands.ExitUsageError
	}
	return c.Execute(context.Background(), fs, conf)
}

func TestMachineInMemorySwap(t *testing.T) {
	conf := testConfig(t, "--frames=4", "--swap-sectors=64")
	m, err := newMachine(conf)
	if err != nil {
		t.Fatalf("newMachine failed: %v", err)
	}
	defer m.close()
	if got, want := m.swap.Slots(), uint32(8); got != want {
		t.Errorf("swap slots = %d, want %d", got, want)
	}
	if got, want := m.env.Table.Stats().Frames, 4; int(got) != want {
		t.Errorf("frames = %d, want %d", got, want)
	}
}

func TestMachineEmptySwapImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap.img")
	conf := testConfig(t, "--swap-file="+path)
	if _, err := newMachine(conf); err == nil || !strings.Contains(err.Error(), "mkswap") {
		t.Errorf("newMachine() = %v, want error suggesting mkswap", err)
	}
}

func TestMkswap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap.img")
	conf := testConfig(t, "--swap-sectors=128")
	if got := execute(new(Mkswap), conf, path); got != subcommands.ExitSuccess {
		t.Fatalf("mkswap = %v, want success", got)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(128 * 512); st.Size() != want {
		t.Errorf("swap image size = %d, want %d", st.Size(), want)
	}
	if got := execute(new(Swapinfo), conf, path); got != subcommands.ExitSuccess {
		t.Errorf("swapinfo = %v, want success", got)
	}

	// The machine picks up the image through --swap-file.
	conf = testConfig(t, "--swap-file="+path)
	m, err := newMachine(conf)
	if err != nil {
		t.Fatalf("newMachine failed: %v", err)
	}
	defer m.close()
	if got, want := m.swap.Slots(), uint32(16); got != want {
		t.Errorf("swap slots = %d, want %d", got, want)
	}
}

func TestSwapCommandsUsage(t *testing.T) {
	conf := testConfig(t)
	for _, c := range []subcommands.Command{new(Mkswap), new(Swapinfo)} {
		if got := execute(c, conf); got != subcommands.ExitUsageError {
			t.Errorf("%s without a path = %v, want usage error", c.Name(), got)
		}
		if got := execute(c, conf, "a", "b"); got != subcommands.ExitUsageError {
			t.Errorf("%s with two paths = %v, want usage error", c.Name(), got)
		}
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	wl := filepath.Join(dir, "workload.yaml")
	const doc = `
files:
  - {name: prog, data: "code", size: 4096}
processes:
  - name: p
    replicas: 2
    segments:
      - {file: prog, addr: 0x1000, filesize: 4096, memsize: 8192, writable: true}
    ops:
      - {op: read, addr: 0x1000, expect: "code"}
      - {op: write, addr: 0x2000, data: "heap", length: 4096}
`
	if err := os.WriteFile(wl, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	metrics := filepath.Join(dir, "metrics.txt")
	conf := testConfig(t, "--frames=4", "--swap-sectors=64", "--metrics="+metrics)
	if got := execute(new(Run), conf, wl); got != subcommands.ExitSuccess {
		t.Fatalf("run = %v, want success", got)
	}
	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"vm_evictions_total", `workload="workload.yaml"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metrics do not contain %q:\n%s", want, data)
		}
	}
}

func TestRunUsage(t *testing.T) {
	if got := execute(new(Run), testConfig(t)); got != subcommands.ExitUsageError {
		t.Errorf("run without a workload = %v, want usage error", got)
	}
}
