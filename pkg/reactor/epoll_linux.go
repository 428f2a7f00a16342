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
	"golang.org/x/sys/unix"
	"gvisor.dev/dpoll/pkg/cleanup"
	"gvisor.dev/dpoll/pkg/eventfd"
)

// epollBackend polls with epoll(7) and is woken through an eventfd.
type epollBackend struct {
	epfd    int
	wakefd  eventfd.Eventfd
	sigmask *unix.Sigset_t

	// raw is only used by wait.
	raw []unix.EpollEvent
}

var _ backend = (*epollBackend)(nil)

func newEpollBackend(maxEvents int, sigmask *unix.Sigset_t) (*epollBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { unix.Close(epfd) })
	defer cu.Clean()

	wakefd, err := eventfd.Create()
	if err != nil {
		return nil, err
	}
	cu.Add(func() { wakefd.Close() })

	ev := unix.EpollEvent{Events: unix.EPOLLIN}
	setToken(&ev, token{index: wakeIndex})
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd.FD(), &ev); err != nil {
		return nil, err
	}

	cu.Release()
	return &epollBackend{
		epfd:    epfd,
		wakefd:  wakefd,
		sigmask: sigmask,
		raw:     make([]unix.EpollEvent, maxEvents),
	}, nil
}

// setToken stores tok in the user-data of ev.
func setToken(ev *unix.EpollEvent, tok token) {
	ev.Fd = int32(tok.index)
	ev.Pad = int32(tok.gen)
}

func getToken(ev *unix.EpollEvent) token {
	return token{index: uint32(ev.Fd), gen: uint32(ev.Pad)}
}

func (e *epollBackend) ctl(op, fd int, tok token, events uint32) error {
	ev := unix.EpollEvent{Events: events}
	setToken(&ev, tok)
	return unix.EpollCtl(e.epfd, op, fd, &ev)
}

func (e *epollBackend) add(fd int, tok token, events uint32) error {
	return e.ctl(unix.EPOLL_CTL_ADD, fd, tok, events)
}

func (e *epollBackend) modify(fd int, tok token, events uint32) error {
	return e.ctl(unix.EPOLL_CTL_MOD, fd, tok, events)
}

func (e *epollBackend) remove(fd int) error {
	return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (e *epollBackend) wait(out []readyEvent, msec int) (int, bool, error) {
	if len(out) < len(e.raw) {
		e.raw = e.raw[:len(out)]
	}
	n, err := epollPwait(e.epfd, e.raw, msec, e.sigmask)
	if err != nil {
		return 0, false, err
	}
	woken := false
	k := 0
	for i := 0; i < n; i++ {
		ev := &e.raw[i]
		tok := getToken(ev)
		if tok.index == wakeIndex {
			woken = true
			if _, err := e.wakefd.Drain(); err != nil {
				return 0, false, err
			}
			continue
		}
		out[k] = readyEvent{tok: tok, mask: ev.Events}
		k++
	}
	return k, woken, nil
}

func (e *epollBackend) wake() error {
	return e.wakefd.Notify()
}

func (e *epollBackend) close() error {
	werr := e.wakefd.Close()
	if err := unix.Close(e.epfd); err != nil {
		return err
	}
	return werr
}

func (e *epollBackend) edgeTriggered() bool {
	return true
}
