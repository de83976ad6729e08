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

import "golang.org/x/sys/unix"

// Per-syscall façades over RawSyscall, for handler authors who would rather
// not hardcode syscall numbers for the common cases. None of these inspect
// or alter the result; they exist purely for readability at call sites and
// carry no tracing or statistics behavior of their own (that belongs to
// concrete handler implementations, which are out of scope here).

// DefaultRead forwards to the kernel's read(2).
func DefaultRead(img *Image) int64 {
	img.Rax = unix.SYS_READ
	return RawSyscall(img)
}

// DefaultWrite forwards to the kernel's write(2).
func DefaultWrite(img *Image) int64 {
	img.Rax = unix.SYS_WRITE
	return RawSyscall(img)
}

// DefaultClose forwards to the kernel's close(2).
func DefaultClose(img *Image) int64 {
	img.Rax = unix.SYS_CLOSE
	return RawSyscall(img)
}

// DefaultMmap forwards to the kernel's mmap(2).
func DefaultMmap(img *Image) int64 {
	img.Rax = unix.SYS_MMAP
	return RawSyscall(img)
}

// DefaultGetpid forwards to the kernel's getpid(2).
func DefaultGetpid(img *Image) int64 {
	img.Rax = unix.SYS_GETPID
	return RawSyscall(img)
}

// DefaultExitGroup forwards to the kernel's exit_group(2).
func DefaultExitGroup(img *Image) int64 {
	img.Rax = unix.SYS_EXIT_GROUP
	return RawSyscall(img)
}
