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
	"reflect"
	"runtime"

	"golang.org/x/sys/unix"
)

// rawSyscall6 is implemented in rawsyscall_amd64.s. It executes the real
// "syscall" instruction and returns the kernel's raw result, negative-errno
// encoded exactly as the kernel produces it.
func rawSyscall6(nr, a1, a2, a3, a4, a5, a6 uintptr) uintptr

// RawSyscall performs the system call described by img using the inline
// syscall instruction in rawSyscall6, bypassing the handler entirely. It is
// the escape hatch handlers use to reach the kernel without re-triggering
// interception, and it is also what dispatch falls back to when the
// re-entry flag is already set or no handler has been installed.
func RawSyscall(img *Image) int64 {
	args := img.Args()
	ret := rawSyscall6(img.Sysno(), uintptr(args[0]), uintptr(args[1]), uintptr(args[2]), uintptr(args[3]), uintptr(args[4]), uintptr(args[5]))
	return int64(ret)
}

// ExcludedPage returns the page-aligned address range that must never be
// rewritten because it holds the rawSyscall6 instruction sequence. The
// range is intentionally a single page starting at the function's entry
// point rounded down: rawSyscall6 is NOSPLIT, makes no calls, and is a
// handful of instructions, so it cannot span more than one page in
// practice, but callers should still treat this as a conservative
// over-approximation rather than an exact function boundary, since the Go
// runtime does not expose one.
func ExcludedPage() (begin, end uintptr) {
	pc := reflect.ValueOf(rawSyscall6).Pointer()
	fn := runtime.FuncForPC(pc)
	entry := pc
	if fn != nil {
		entry = fn.Entry()
	}
	pageSize := uintptr(unix.Getpagesize())
	begin = entry &^ (pageSize - 1)
	end = begin + pageSize
	return begin, end
}
