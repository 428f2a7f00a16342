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

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DefaultMaxEvents is the default capacity of a Batch.
const DefaultMaxEvents = 256

// Backend selects the kernel polling mechanism.
type Backend int

// Supported backends.
const (
	// BackendEpoll uses epoll(7).
	BackendEpoll Backend = iota
	// BackendPoll uses poll(2) over the registered descriptors. It is
	// level-triggered only.
	BackendPoll
)

// String implements fmt.Stringer.
func (b Backend) String() string {
	switch b {
	case BackendEpoll:
		return "epoll"
	case BackendPoll:
		return "poll"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// Set implements flag.Value.
func (b *Backend) Set(v string) error {
	switch v {
	case "epoll":
		*b = BackendEpoll
	case "poll":
		*b = BackendPoll
	default:
		return fmt.Errorf("invalid backend %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (b *Backend) Get() any {
	return *b
}

// MarshalText implements encoding.TextMarshaler.
func (b Backend) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Backend) UnmarshalText(text []byte) error {
	return b.Set(string(text))
}

type options struct {
	edgeTriggered bool
	backend       Backend
	sigmask       *unix.Sigset_t
	strict        bool
	maxEvents     int
}

// Option configures a Context.
type Option func(*options)

// WithEdgeTriggered makes every registration edge-triggered (EPOLLET).
//
// Handlers must then drain their descriptor until ErrWouldBlock before
// returning, or they will not be notified again until new data arrives. Not
// supported by BackendPoll.
func WithEdgeTriggered() Option {
	return func(o *options) {
		o.edgeTriggered = true
	}
}

// WithBackend selects the polling mechanism. The default is BackendEpoll.
func WithBackend(b Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithSignalMask installs set as the thread's signal mask for the duration of
// each blocking wait (epoll_pwait/ppoll). The mask only has a meaningful
// effect when the waiting goroutine is locked to its OS thread.
func WithSignalMask(set *unix.Sigset_t) Option {
	return func(o *options) {
		if set == nil {
			o.sigmask = nil
			return
		}
		m := *set
		o.sigmask = &m
	}
}

// WithStrictContracts turns contract violations (such as closing a
// descriptor twice or dispatching a stale batch) into panics.
func WithStrictContracts() Option {
	return func(o *options) {
		o.strict = true
	}
}

// WithMaxEvents sets the maximum number of events returned by one Wait.
// Values below one select DefaultMaxEvents.
func WithMaxEvents(n int) Option {
	return func(o *options) {
		o.maxEvents = n
	}
}
