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
	"math"
)

// token identifies a registration in the kernel. It is stored in the
// user-data of each kernel registration and compared against the table when
// a notification comes back.
type token struct {
	index uint32
	gen   uint32
}

// wakeIndex is the slot index reserved for the wakeup descriptor.
const wakeIndex = math.MaxUint32

type slot struct {
	// gen is bumped every time the slot is freed, retiring all tokens that
	// were handed out for it.
	gen uint32
	reg *registration
}

// table is a generational slot table of registrations. It is not
// synchronized; Context.mu protects it.
type table struct {
	slots []slot
	free  []uint32
	live  int
}

// insert stores r and returns its token.
func (t *table) insert(r *registration) token {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if uint64(len(t.slots)) >= wakeIndex {
			panic("reactor: registration table exhausted")
		}
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot{gen: 1})
	}
	s := &t.slots[idx]
	s.reg = r
	t.live++
	return token{index: idx, gen: s.gen}
}

// get returns the registration for tok, or nil if tok is stale.
func (t *table) get(tok token) *registration {
	if int(tok.index) >= len(t.slots) {
		return nil
	}
	s := &t.slots[tok.index]
	if s.gen != tok.gen {
		return nil
	}
	return s.reg
}

// remove frees tok's slot. It reports whether tok was live.
func (t *table) remove(tok token) bool {
	if t.get(tok) == nil {
		return false
	}
	s := &t.slots[tok.index]
	s.reg = nil
	s.gen++
	if s.gen == 0 {
		// Generation zero is never handed out.
		s.gen = 1
	}
	t.free = append(t.free, tok.index)
	t.live--
	return true
}

// all calls fn for every live registration.
func (t *table) all(fn func(*registration)) {
	for i := range t.slots {
		if r := t.slots[i].reg; r != nil {
			fn(r)
		}
	}
}
