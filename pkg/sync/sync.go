// Copyright 2020 The gVisor Authors.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd.

// Package sync provides the locking primitives of the memory manager.
package sync

import (
	"sync"
)

type (
	// Mutex is an alias of sync.Mutex. The frame table lock is a Mutex.
	Mutex = sync.Mutex

	// RWMutex is an alias of sync.RWMutex.
	RWMutex = sync.RWMutex

	// Cond is an alias of sync.Cond. Frames use a Cond to wait for I/O.
	Cond = sync.Cond
)
