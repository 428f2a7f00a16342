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
	"sync"

	"golang.org/x/sys/unix"
)

type pollEntry struct {
	tok    token
	events uint32
}

// pollBackend polls with ppoll(2) over the registered descriptors and is
// woken through a self-pipe. Each wait rebuilds the pollfd array from the
// current registrations.
type pollBackend struct {
	sigmask *unix.Sigset_t

	// pipe[0] is polled by wait; wake writes to pipe[1].
	pipe [2]int

	mu sync.Mutex
	// entries is keyed by fd number and protected by mu.
	entries map[int]pollEntry
	// order holds the keys of entries in registration order. Protected by
	// mu.
	order []int

	// pfds and toks are only used by wait.
	pfds []unix.PollFd
	toks []token

	// next is the position in order where the next wait starts reporting
	// when the previous one filled its output. Only used by wait.
	next int
}

var _ backend = (*pollBackend)(nil)

func newPollBackend(sigmask *unix.Sigset_t) (*pollBackend, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &pollBackend{
		sigmask: sigmask,
		pipe:    p,
		entries: make(map[int]pollEntry),
	}, nil
}

func (p *pollBackend) add(fd int, tok token, events uint32) error {
	if fd < 0 {
		return unix.EBADF
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[fd]; ok {
		return unix.EEXIST
	}
	p.entries[fd] = pollEntry{tok: tok, events: events}
	p.order = append(p.order, fd)
	return nil
}

func (p *pollBackend) modify(fd int, tok token, events uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[fd]; !ok {
		return unix.ENOENT
	}
	p.entries[fd] = pollEntry{tok: tok, events: events}
	return nil
}

func (p *pollBackend) remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[fd]; !ok {
		return unix.ENOENT
	}
	delete(p.entries, fd)
	for i, o := range p.order {
		if o == fd {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

func (p *pollBackend) wait(out []readyEvent, msec int) (int, bool, error) {
	p.mu.Lock()
	p.pfds = append(p.pfds[:0], unix.PollFd{Fd: int32(p.pipe[0]), Events: unix.POLLIN})
	p.toks = p.toks[:0]
	for _, fd := range p.order {
		e := p.entries[fd]
		p.pfds = append(p.pfds, unix.PollFd{Fd: int32(fd), Events: int16(e.events)})
		p.toks = append(p.toks, e.tok)
	}
	p.mu.Unlock()

	var timeout *unix.Timespec
	if msec >= 0 {
		ts := unix.NsecToTimespec(int64(msec) * 1e6)
		timeout = &ts
	}
	if _, err := ppoll(p.pfds, timeout, p.sigmask); err != nil {
		return 0, false, err
	}

	woken := false
	if p.pfds[0].Revents != 0 {
		woken = true
		p.drain()
	}

	// Reporting resumes after the last descriptor reported by a full
	// previous wait, so a small out cannot starve descriptors late in order.
	n := len(p.toks)
	start := p.next
	if start >= n {
		start = 0
	}
	k, last := 0, 0
	for j := 0; j < n && k < len(out); j++ {
		i := (start + j) % n
		if rev := p.pfds[i+1].Revents; rev != 0 {
			out[k] = readyEvent{tok: p.toks[i], mask: uint32(uint16(rev))}
			k++
			last = i
		}
	}
	p.next = 0
	if k == len(out) {
		p.next = last + 1
	}
	return k, woken, nil
}

// drain empties the self-pipe.
func (p *pollBackend) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.pipe[0], buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n < len(buf) {
			return
		}
	}
}

func (p *pollBackend) wake() error {
	for {
		_, err := unix.Write(p.pipe[1], []byte{0})
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			// The pipe is full, so a wakeup is already pending.
			return nil
		default:
			return err
		}
	}
}

func (p *pollBackend) close() error {
	rerr := unix.Close(p.pipe[0])
	if err := unix.Close(p.pipe[1]); err != nil {
		return err
	}
	return rerr
}

func (p *pollBackend) edgeTriggered() bool {
	return false
}
