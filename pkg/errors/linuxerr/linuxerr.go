// Copyright 2021 The gVisor Authors.
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

// Package linuxerr contains syscall error codes exported as *errors.Error
// values, so that they can be compared by identity and carried across the
// fault-handling boundary.
package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/vmcore/pkg/errors"
)

// The following errors are the only ones returned by the memory manager. Page
// faults that fail with one of them terminate the faulting process, never the
// kernel.
var (
	EACCES = errors.New(unix.EACCES, "permission denied")
	EFAULT = errors.New(unix.EFAULT, "bad address")
	EINVAL = errors.New(unix.EINVAL, "invalid argument")
	EIO    = errors.New(unix.EIO, "I/O error")
	ENOMEM = errors.New(unix.ENOMEM, "cannot allocate memory")
	ENOSPC = errors.New(unix.ENOSPC, "no space left on device")
)

// Equals checks if an error is equal to the given *errors.Error, either
// directly or through a chain of wrapped errors.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == nil
	}
	var target *errors.Error
	if goerrors.As(err, &target) {
		return target == e
	}
	return false
}

// ToUnix translates err to its errno. ok is false if err does not carry one.
func ToUnix(err error) (errno unix.Errno, ok bool) {
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Errno(), true
	}
	var u unix.Errno
	if goerrors.As(err, &u) {
		return u, true
	}
	return 0, false
}
