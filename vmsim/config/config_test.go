// Copyright 2020 The gVisor Authors.
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


package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newFlagSet() *flag.FlagSet {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet())
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newFlagSet()
	for name, val := range map[string]string{
		"debug":     "true",
		"frames":    "12",
		"swap-file": "/tmp/swap.img",
	} {
		if err := testFlags.Lookup(name).Value.Set(val); err != nil {
			t.Errorf("Flag set: %v", err)
		}
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := 12; c.Frames != want {
		t.Errorf("Frames=%v, want: %v", c.Frames, want)
	}
	if want := "/tmp/swap.img"; c.SwapFile != want {
		t.Errorf("SwapFile=%v, want: %v", c.SwapFile, want)
	}
}

func TestToFlags(t *testing.T) {
	testFlags := newFlagSet()
	testFlags.Set("debug", "true")
	testFlags.Set("frames", "12")
	testFlags.Set("stack-pages", "64") // Matches default value.
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}

	got := c.ToFlags()
	want := []string{"--frames=12", "--debug=true"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		value string
	}{
		{name: "frames", value: "0"},
		{name: "kernel-frames", value: "0"},
		{name: "swap-sectors", value: "12"},
		{name: "stack-pages", value: "0"},
		{name: "debug-log-format", value: "xml"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newFlagSet()
			if err := testFlags.Set(tc.name, tc.value); err != nil {
				t.Fatalf("Flag set: %v", err)
			}
			if _, err := NewFromFlags(testFlags); err == nil {
				t.Errorf("NewFromFlags(--%s=%s) succeeded, want error", tc.name, tc.value)
			}
		})
	}
}

func TestOverride(t *testing.T) {
	testFlags := newFlagSet()
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Override(testFlags, "swap-sectors", "64"); err != nil {
		t.Fatalf("Override(swap-sectors) failed: %v", err)
	}
	if want := 64; c.SwapSectors != want {
		t.Errorf("SwapSectors=%v, want: %v", c.SwapSectors, want)
	}
	if err := c.Override(testFlags, "swap-sectors", "7"); err == nil {
		t.Errorf("Override(swap-sectors=7) succeeded, want error")
	}
	if err := c.Override(testFlags, "no-such-flag", "1"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Override(no-such-flag) = %v, want not found error", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmsim.toml")
	const data = `
frames = 8
kernel_frames = 2
swap_sectors = 256
debug_log_format = "json"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	testFlags := newFlagSet()
	testFlags.Set("config", path)
	// Command line wins over the file.
	testFlags.Set("kernel-frames", "4")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Frames:         8,
		KernelFrames:   4,
		SwapSectors:    256,
		StackPages:     64,
		DebugLogFormat: "json",
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmsim.toml")
	if err := os.WriteFile(path, []byte("frames = 8\nframez = 9\n"), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{Frames: 1, StackPages: 1, DebugLogFormat: "text"}
	if err := c.LoadFile(path); err == nil || !strings.Contains(err.Error(), "framez") {
		t.Errorf("LoadFile() = %v, want error naming the unknown key", err)
	}
}
