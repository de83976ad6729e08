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

// Package hookabi defines the contract between the dispatch stub built by
// pkg/trampoline and handler code supplied by the host process: the register
// image layout, the dispatch entry point the stub calls into, the raw
// syscall escape hatch handlers use to reach the kernel without triggering
// another interception, and the re-entry guard that keeps handler-internal
// syscalls from recursing into the handler.
package hookabi

// Image is the register record the dispatch stub builds on its stack and
// passes to dispatch by pointer. Field order is part of the ABI: the stub
// pushes registers in reverse order so that Rax ends up at the lowest
// address, and nothing may reorder these fields without also changing the
// stub's push/pop sequence in pkg/trampoline.
type Image struct {
	Rax uint64 // syscall number on entry, return value on exit
	Rdi uint64
	Rsi uint64
	Rdx uint64
	R10 uint64
	R8  uint64
	R9  uint64
}

// Args returns the six argument registers in kernel syscall order, as used
// by RawSyscall and by the per-syscall façades in defaults.go.
func (img *Image) Args() [6]uint64 {
	return [6]uint64{img.Rdi, img.Rsi, img.Rdx, img.R10, img.R8, img.R9}
}

// SetReturn stores v in the image's Rax field. The dispatch stub does not
// read this field back: the %rax the rewritten instruction's caller
// observes is the value the handler returns from dispatch.
func (img *Image) SetReturn(v int64) {
	img.Rax = uint64(v)
}

// Return reads the current %rax field as the signed, errno-style return
// value a handler would produce.
func (img *Image) Return() int64 {
	return int64(img.Rax)
}

// Sysno returns the syscall number the image was built with.
func (img *Image) Sysno() uintptr {
	return uintptr(img.Rax)
}
