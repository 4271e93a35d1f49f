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


// Package config provides basic infrastructure to set configuration settings
// for vmsim. Each setting is exposed as a command line flag and may also be
// read from a TOML file.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"gvisor.dev/vmcore/pkg/log"
	"gvisor.dev/vmcore/pkg/vm/swap"
)

// Config holds configuration that is shared by all vmsim commands. Fields
// tagged with "flag" are set by RegisterFlags; the "toml" tag names the key
// in a configuration file.
type Config struct {
	// Frames is the number of frames in the user pool.
	Frames int `flag:"frames" toml:"frames"`

	// KernelFrames is the number of frames in the kernel pool, which holds
	// kernel-preloaded pages until they are first faulted in.
	KernelFrames int `flag:"kernel-frames" toml:"kernel_frames"`

	// SwapFile is the path of the swap image. If empty, an in-memory swap
	// device with SwapSectors sectors is used.
	SwapFile string `flag:"swap-file" toml:"swap_file"`

	// SwapSectors is the size of the swap device in sectors.
	SwapSectors int `flag:"swap-sectors" toml:"swap_sectors"`

	// StackPages is the maximum size of a process stack in pages.
	StackPages int `flag:"stack-pages" toml:"stack_pages"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// DebugLog is the path to log debug information to, if not empty. If it
	// ends with '/', a file named after the command is created inside it.
	DebugLog string `flag:"debug-log" toml:"debug_log"`

	// DebugLogFormat is the log format for debug: text or json.
	DebugLogFormat string `flag:"debug-log-format" toml:"debug_log_format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// Metrics is the path Prometheus metrics are written to when a command
	// finishes. "-" means stdout.
	Metrics string `flag:"metrics" toml:"metrics"`
}

// LoadFile overlays the keys set in the TOML file at path onto c.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("error reading config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in config file %q: %v", path, undecoded)
	}
	return c.validate()
}

func (c *Config) validate() error {
	if c.Frames <= 0 {
		return fmt.Errorf("frames must be positive, got: %d", c.Frames)
	}
	if c.KernelFrames <= 0 {
		return fmt.Errorf("kernel-frames must be positive, got: %d", c.KernelFrames)
	}
	if c.SwapSectors < 0 || c.SwapSectors%swap.SectorsPerPage != 0 {
		return fmt.Errorf("swap-sectors must be a non-negative multiple of %d, got: %d", swap.SectorsPerPage, c.SwapSectors)
	}
	if c.StackPages <= 0 {
		return fmt.Errorf("stack-pages must be positive, got: %d", c.StackPages)
	}
	switch c.DebugLogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid debug-log-format %q", c.DebugLogFormat)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	for _, f := range c.ToFlags() {
		log.Infof("\t%s", f)
	}
}
