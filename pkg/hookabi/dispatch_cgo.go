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

//go:build linux && amd64 && cgo
// +build linux,amd64,cgo

package hookabi

/*
#include <stdint.h>

extern int64_t zpoline_dispatch_entry(uint64_t *image);

static void *zpoline_dispatch_entry_addr(void) {
	return (void *)zpoline_dispatch_entry;
}
*/
import "C"

import "unsafe"

// zpoline_dispatch_entry is the trampoline stub's actual "call *%r11"
// target. Go function values obtained through reflect are not
// System-V-AMD64-callable: since Go 1.17, Go uses its own
// register-based internal calling convention for ordinary functions,
// not the C convention the hand-assembled stub builds its Register
// Image for. A cgo //export wrapper is the one way to get a genuinely
// C-ABI-compatible entry point that raw machine code can call into
// directly with arguments in %rdi per the stub's contract.
//
//export zpoline_dispatch_entry
func zpoline_dispatch_entry(image *C.uint64_t) C.int64_t {
	img := (*Image)(unsafe.Pointer(image))
	return C.int64_t(Dispatch(img))
}

// Available reports whether this build can provide a real dispatch
// entry point (requires cgo). See dispatch_nocgo.go for the !cgo case.
func Available() bool { return true }

// DispatchEntryAddr returns the address the trampoline must be built
// with as its dispatch target.
func DispatchEntryAddr() uint64 {
	return uint64(uintptr(C.zpoline_dispatch_entry_addr()))
}
