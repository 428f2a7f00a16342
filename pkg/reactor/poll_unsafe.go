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

// ppoll waits on fds, with sigmask installed for the duration of the wait if
// it is non-nil. A nil timeout blocks indefinitely.
//
// unix.Ppoll passes a zero sigset size, which the kernel rejects with EINVAL
// for any non-nil mask, so the system call is issued directly.
//
// Preconditions:
//   - len(fds) > 0
func ppoll(fds []unix.PollFd, timeout *unix.Timespec, sigmask *unix.Sigset_t) (int, error) {
	var mask, size uintptr
	if sigmask != nil {
		mask = uintptr(unsafe.Pointer(sigmask))
		size = kernelSigsetSize
	}
	n, _, e := unix.Syscall6(unix.SYS_PPOLL, uintptr(unsafe.Pointer(&fds[0])), uintptr(len(fds)), uintptr(unsafe.Pointer(timeout)), mask, size, 0)
	if e != 0 {
		return 0, e
	}
	return int(n), nil
}
