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

// Package fsfile provides page.File implementations over host files and
// memory.
package fsfile

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
	"gvisor.dev/vmcore/pkg/sync"
	"gvisor.dev/vmcore/pkg/vm/page"
)

// File is a page.File over an open host file.
type File struct {
	f        *os.File
	fd       int
	identity uint64
}

var _ page.File = (*File)(nil)

// Open opens the host file at path, read-write if writable is set.
func Open(path string, writable bool) (*File, error) {
	flags := os.O_RDONLY
	if writable {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, err
	}
	file, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return file, nil
}

// New wraps f. The returned File takes ownership of f.
func New(f *os.File) (*File, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return nil, fmt.Errorf("fstat %q: %w", f.Name(), err)
	}
	return &File{
		f:        f,
		fd:       int(f.Fd()),
		identity: identity(uint64(st.Dev), st.Ino),
	}, nil
}

// identity mixes a device and inode number into a single key.
func identity(dev, ino uint64) uint64 {
	return dev*0x9e3779b97f4a7c15 ^ ino
}

// Name returns the host path of f.
func (f *File) Name() string {
	return f.f.Name()
}

// Size implements page.File.Size.
func (f *File) Size() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); err != nil {
		return 0, fmt.Errorf("fstat %q: %w", f.Name(), err)
	}
	return st.Size, nil
}

// ReadAt implements page.File.ReadAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	done := 0
	for done < len(p) {
		n, err := unix.Pread(f.fd, p[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, err
		}
		if n == 0 {
			return done, io.EOF
		}
		done += n
	}
	return done, nil
}

// WriteAt implements page.File.WriteAt.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	done := 0
	for done < len(p) {
		n, err := unix.Pwrite(f.fd, p[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, err
		}
		done += n
	}
	return done, nil
}

// Identity implements page.File.Identity.
func (f *File) Identity() uint64 {
	return f.identity
}

// Close closes the host file.
func (f *File) Close() error {
	return f.f.Close()
}

// Memory is a page.File backed by a growable byte slice.
type Memory struct {
	identity uint64

	mu   sync.RWMutex
	data []byte
}

var _ page.File = (*Memory)(nil)

// memoryIdentities numbers Memory files. The top bit keeps them disjoint from
// most host file identities.
var (
	memoryMu         sync.Mutex
	memoryIdentities uint64 = 1 << 63
)

// NewMemory returns a file holding a copy of data.
func NewMemory(data []byte) *Memory {
	memoryMu.Lock()
	memoryIdentities++
	id := memoryIdentities
	memoryMu.Unlock()
	return &Memory{
		identity: id,
		data:     append([]byte(nil), data...),
	}
}

// ReadAt implements page.File.ReadAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements page.File.WriteAt.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if end := off + int64(len(p)); end > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}
	return copy(m.data[off:], p), nil
}

// Identity implements page.File.Identity.
func (m *Memory) Identity() uint64 {
	return m.identity
}

// Size implements page.File.Size.
func (m *Memory) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data)), nil
}

// Bytes returns a copy of the file's contents.
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}
