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

// Package gate provides a usage Gate synchronization primitive.
package gate

import (
	"sync/atomic"
)

const (
	// gateClosed is the bit set in the gate's user count to indicate that
	// it has been closed. It is the MSB of the 32-bit field; the other 31
	// bits carry the actual count.
	gateClosed = 0x80000000
)

// Gate is a synchronization primitive that allows concurrent goroutines to
// "enter" it as long as it hasn't been closed yet. Once it's been closed,
// goroutines cannot enter it anymore, but are allowed to leave, and the closer
// will be informed when all goroutines have left.
//
// Descriptors use a Gate to make close(2) wait for in-flight system calls on
// the same fd number:
//
//	if !d.gate.Enter() {
//		// Descriptor is closed.
//		return ErrInvalidDescriptor
//	}
//	defer d.gate.Leave()
//	n, err := unix.Read(d.fd, buf)
//
// Closer:
//
//	d.gate.Close()
//	unix.Close(d.fd)
//
// The zero value is an open gate ready for use.
type Gate struct {
	userCount atomic.Uint32
	done      chan struct{}
}

// Enter tries to enter the gate. It will succeed if it hasn't been closed yet,
// in which case the caller must eventually call Leave().
//
// This function is thread-safe.
func (g *Gate) Enter() bool {
	if g == nil {
		return false
	}

	for {
		v := g.userCount.Load()
		if v&gateClosed != 0 {
			return false
		}

		if g.userCount.CompareAndSwap(v, v+1) {
			return true
		}
	}
}

// Leave leaves the gate. This must only be called after a successful call to
// Enter(). If the gate has been closed and this is the last one inside the
// gate, it will notify the closer that the gate is done.
//
// This function is thread-safe.
func (g *Gate) Leave() {
	for {
		v := g.userCount.Load()
		if v&^gateClosed == 0 {
			panic("leaving a gate with zero usage count")
		}

		if g.userCount.CompareAndSwap(v, v-1) {
			if v == gateClosed+1 {
				close(g.done)
			}
			return
		}
	}
}

// Closed returns true if Close has been called.
func (g *Gate) Closed() bool {
	return g.userCount.Load()&gateClosed != 0
}

// Close closes the gate for entering, and waits until all goroutines [that are
// currently inside the gate] leave before returning. It reports whether this
// call was the one that closed the gate; later calls return false immediately.
//
// Only one goroutine can close the gate; concurrent closers must be
// serialized by the caller.
func (g *Gate) Close() bool {
	for {
		v := g.userCount.Load()
		if v&gateClosed != 0 {
			return false
		}
		if v != 0 && g.done == nil {
			g.done = make(chan struct{})
		}
		if g.userCount.CompareAndSwap(v, v|gateClosed) {
			if v != 0 {
				<-g.done
			}
			return true
		}
	}
}
