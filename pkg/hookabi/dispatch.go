// Copyright 2024 The zpoline-go Authors.
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

//go:build linux && amd64
// +build linux,amd64

package hookabi

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// HandlerFunc is the signature every installed handler and every built-in
// default must satisfy: receive the register image for the intercepted
// syscall, return the value that becomes %rax.
type HandlerFunc func(*Image) int64

// handlerSlot is the process-wide, atomically replaceable handler pointer
// described in spec §3's "Handler Slot". It is read on every dispatch and
// written only by InstallHandler, so readers never take a lock.
var handlerSlot atomic.Value // holds HandlerFunc

func init() {
	handlerSlot.Store(HandlerFunc(RawSyscall))
}

// InstallHandler atomically replaces the active handler. A nil fn restores
// the built-in default, which simply forwards to RawSyscall. Handlers are
// not chained: a caller that wants to compose behavior with a previous
// handler must capture it first and call it explicitly.
func InstallHandler(fn HandlerFunc) {
	if fn == nil {
		fn = RawSyscall
	}
	handlerSlot.Store(fn)
}

// CurrentHandler returns the handler that would run if dispatch were called
// right now. Dispatch reads the handler slot through it.
func CurrentHandler() HandlerFunc {
	return handlerSlot.Load().(HandlerFunc)
}

// reentry tracks, per real OS thread (not per goroutine), whether a
// dispatch is already in progress. Dispatch is reached as a cgo callback
// from the rewritten instruction's own OS thread, so keying by kernel TID
// gives each thread an independent, uncontended entry without needing
// thread-local C storage.
var reentry sync.Map // int32 (tid) -> struct{} presence means "active"

// Dispatch is called by the trampoline's dispatch stub, reached through
// the cgo-exported C-ABI entry point in dispatch_cgo.go, with a pointer
// to the register image the stub built on its stack.
// If a dispatch is already active on this thread, the nested call is
// assumed to originate from inside a handler and is routed directly to the
// raw syscall, never back into the handler. Otherwise the current handler
// runs with the flag held for its duration.
func Dispatch(img *Image) int64 {
	tid := unix.Gettid()
	if _, active := reentry.Load(tid); active {
		return RawSyscall(img)
	}
	reentry.Store(tid, struct{}{})
	defer reentry.Delete(tid)

	h := CurrentHandler()
	return h(img)
}

// ReentryActive reports whether dispatch is currently active on the
// calling OS thread. Used by tests.
func ReentryActive() bool {
	_, active := reentry.Load(unix.Gettid())
	return active
}
