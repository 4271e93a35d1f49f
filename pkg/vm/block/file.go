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

package block

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"gvisor.dev/vmcore/pkg/cleanup"
	"gvisor.dev/vmcore/pkg/log"
)

// errLocked is returned while another process holds the device lock.
var errLocked = errors.New("device is locked by another process")

// FileOpts contains options for OpenFile.
type FileOpts struct {
	// Sectors, if non-zero, resizes the backing file to hold exactly this
	// many sectors. Otherwise the existing file size determines the capacity.
	Sectors Sector

	// LockTimeout bounds how long OpenFile waits for another user of the
	// same image to release it. Zero means try exactly once.
	LockTimeout time.Duration
}

// File is a Device backed by a host file, e.g. a swap image. The image is
// locked exclusively for as long as the File is open.
type File struct {
	name    string
	fd      int
	file    *os.File
	lock    *flock.Flock
	sectors Sector
}

var _ Device = (*File)(nil)

// OpenFile opens or creates the image at path.
func OpenFile(path string, opts FileOpts) (*File, error) {
	lock := flock.NewFlock(path + ".lock")
	if err := acquire(lock, opts.LockTimeout); err != nil {
		return nil, fmt.Errorf("locking %q: %w", path, err)
	}
	cu := cleanup.Make(func() { lock.Unlock() })
	defer cu.Clean()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	cu.Add(func() { f.Close() })

	if opts.Sectors != 0 {
		if err := f.Truncate(int64(opts.Sectors) * SectorSize); err != nil {
			return nil, fmt.Errorf("resizing %q to %d sectors: %w", path, opts.Sectors, err)
		}
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return nil, fmt.Errorf("fstat %q: %w", path, err)
	}
	if st.Size%SectorSize != 0 {
		log.Warningf("Block device %q size %d is not a multiple of the sector size, ignoring the tail", path, st.Size)
	}

	cu.Release()
	return &File{
		name:    path,
		fd:      int(f.Fd()),
		file:    f,
		lock:    lock,
		sectors: Sector(st.Size / SectorSize),
	}, nil
}

// acquire takes lock, retrying with exponential backoff for up to timeout.
func acquire(lock *flock.Flock, timeout time.Duration) error {
	try := func() error {
		ok, err := lock.TryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLocked
		}
		return nil
	}
	if timeout == 0 {
		return try()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxElapsedTime = timeout
	return backoff.Retry(try, b)
}

// Name implements Device.Name.
func (f *File) Name() string {
	return f.name
}

// Size implements Device.Size.
func (f *File) Size() Sector {
	return f.sectors
}

// Read implements Device.Read.
func (f *File) Read(sector Sector, buf []byte) error {
	if err := checkAccess(f.name, f.sectors, sector, buf); err != nil {
		return err
	}
	n, err := unix.Pread(f.fd, buf, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("%s: reading sector %d: %w", f.name, sector, err)
	}
	if n != SectorSize {
		return fmt.Errorf("%s: reading sector %d: %w", f.name, sector, io.ErrUnexpectedEOF)
	}
	return nil
}

// Write implements Device.Write.
func (f *File) Write(sector Sector, buf []byte) error {
	if err := checkAccess(f.name, f.sectors, sector, buf); err != nil {
		return err
	}
	n, err := unix.Pwrite(f.fd, buf, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("%s: writing sector %d: %w", f.name, sector, err)
	}
	if n != SectorSize {
		return fmt.Errorf("%s: writing sector %d: %w", f.name, sector, io.ErrShortWrite)
	}
	return nil
}

// Close releases the image and its lock.
func (f *File) Close() error {
	err := f.file.Close()
	if uerr := f.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
