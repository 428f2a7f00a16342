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
	"unsafe"

	"golang.org/x/sys/unix"
)

// kernelSigsetSize is the size of the kernel's sigset_t, which is smaller
// than unix.Sigset_t.
const kernelSigsetSize = 8

// epollPwait performs a blocking wait on epfd, with sigmask installed for the
// duration of the wait if it is non-nil.
//
// Preconditions:
//   - len(events) > 0
func epollPwait(epfd int, events []unix.EpollEvent, msec int, sigmask *unix.Sigset_t) (int, error) {
	if len(events) == 0 {
		panic("Empty events passed to epollPwait")
	}

	var mask, size uintptr
	if sigmask != nil {
		mask = uintptr(unsafe.Pointer(sigmask))
		size = kernelSigsetSize
	}
	// epoll_pwait with a NULL sigmask is what the Go runtime itself uses, so
	// it is preferred over epoll_wait even when no mask is requested.
	r, _, e := unix.Syscall6(unix.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(unsafe.Pointer(&events[0])), uintptr(len(events)), uintptr(msec), mask, size)
	if e != 0 {
		return 0, e
	}
	return int(r), nil
}
