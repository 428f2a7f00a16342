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

// Package reactor implements a readiness reactor: a Context multiplexes many
// non-blocking descriptors behind one kernel polling instance (epoll by
// default, poll(2) on request), collects readiness notifications with Wait
// and runs the registered handlers with Dispatch.
//
// A minimal loop looks like:
//
//	c, err := reactor.Open()
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	if _, err := c.Register(conn, waiter.EventIn, reactor.HandlerFunc(onReadable)); err != nil {
//		return err
//	}
//	for {
//		b, err := c.Wait(ctx, -1)
//		if err != nil {
//			return err
//		}
//		if err := c.Dispatch(b); err != nil {
//			log.Warningf("%v", err)
//		}
//	}
//
// Registrations are addressed in the kernel by a generational token rather
// than by fd number. A notification that was queued for a registration that
// has since been removed (or whose fd number was reused) carries a stale
// token and is dropped before it reaches a handler.
//
// A Context is meant to be driven by a single goroutine. Wake and
// cancellation of the context.Context passed to Wait are the only operations
// that may come from other goroutines while Wait is blocked. Use one Context
// per goroutine for parallelism.
package reactor
