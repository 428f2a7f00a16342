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

// readyEvent is a notification as reported by a backend.
type readyEvent struct {
	tok  token
	mask uint32
}

// backend is a kernel polling mechanism.
//
// add, modify and remove are serialized by Context.mu. wait is only called
// by the goroutine running Context.Wait, without Context.mu held. wake may be
// called from any goroutine.
type backend interface {
	// add starts watching fd for events, tagging notifications with tok.
	add(fd int, tok token, events uint32) error

	// modify replaces the events watched for fd.
	modify(fd int, tok token, events uint32) error

	// remove stops watching fd.
	remove(fd int) error

	// wait blocks for up to msec milliseconds (forever if negative) and
	// fills out with ready registrations. woken reports whether the wait
	// was interrupted by wake. EINTR is returned as is.
	wait(out []readyEvent, msec int) (n int, woken bool, err error)

	// wake interrupts a concurrent or subsequent wait.
	wake() error

	// close releases the backend's descriptors.
	close() error

	// edgeTriggered reports whether the backend can honour EPOLLET.
	edgeTriggered() bool
}
