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

package rewriter

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// target is one syscall/sysenter instruction found during a scan, still
// awaiting patching.
type target struct {
	addr uintptr
	op   x86asm.Op // SYSCALL or SYSENTER
}

// patchBytes is the two-byte indirect call that replaces every target:
// FF D0, i.e. "callq *%rax".
var patchBytes = [2]byte{0xff, 0xd0}

// scanBytes decodes data (the live content of a region, based at base)
// instruction by instruction with the same mnemonic-accurate decoder
// other_examples' Windows API hooking code uses before patching a call
// site, rather than a raw byte-pattern search: 0F 05 and 0F 34 can appear
// as part of a longer instruction's immediate or displacement bytes, and
// only a real decoder tracks instruction boundaries correctly.
//
// A decode failure aborts the entire region per spec §7 ("decoder failure
// within a region: the region is skipped entirely") since it means the
// decoder has lost synchronization with instruction boundaries and every
// subsequent offset in the region is unreliable. A syscall/sysenter
// opcode decoded with an unexpected length is a narrower failure: only
// that one instruction is skipped, and scanning resumes at the next
// instruction boundary using the decoder's own reported length.
func scanBytes(base uintptr, data []byte) ([]target, error) {
	var targets []target
	off := 0
	for off < len(data) {
		inst, err := x86asm.Decode(data[off:], 64)
		if err != nil {
			return nil, fmt.Errorf("decode failed at offset %#x: %w", off, err)
		}
		if inst.Len == 0 {
			return nil, fmt.Errorf("decoder reported zero-length instruction at offset %#x", off)
		}
		switch inst.Op {
		case x86asm.SYSCALL, x86asm.SYSENTER:
			if inst.Len == 2 {
				targets = append(targets, target{addr: base + uintptr(off), op: inst.Op})
			}
			// Any other length means this opcode byte pair was decoded as
			// part of a longer encoding (unexpected prefixes); the spec
			// calls for skipping just this instance, which the loop does
			// implicitly by advancing past inst.Len like any other
			// instruction.
		}
		off += inst.Len
	}
	return targets, nil
}
