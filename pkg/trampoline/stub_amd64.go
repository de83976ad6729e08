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

package trampoline

import "encoding/binary"

// The dispatch stub is hand-assembled here one instruction at a time, the
// same way other_examples' amd64 machine-code generators (e.g. bfcc's ELF
// backend) build a raw byte stream: a small named emitter per instruction
// form, concatenated with append. Each emitter documents the instruction it
// produces so the byte layout stays traceable to the ABI contract in
// hookabi.Image.

func pushR9() []byte  { return []byte{0x41, 0x51} }          // push %r9
func pushR8() []byte  { return []byte{0x41, 0x50} }          // push %r8
func pushR10() []byte { return []byte{0x41, 0x52} }          // push %r10
func pushRdx() []byte { return []byte{0x52} }                // push %rdx
func pushRsi() []byte { return []byte{0x56} }                // push %rsi
func pushRdi() []byte { return []byte{0x57} }                // push %rdi
func pushRax() []byte { return []byte{0x50} }                // push %rax

func movRspToRdi() []byte { return []byte{0x48, 0x89, 0xe7} } // mov %rsp, %rdi
func subRsp8() []byte     { return []byte{0x48, 0x83, 0xec, 0x08} } // sub $8, %rsp

// addRsp16 discards both the alignment padding subRsp8 introduced and
// the pushed Rax slot, which is deliberately never popped back into
// %rax: dispatch's C-ABI return value is already sitting in %rax when
// the call returns, and popping the stale pre-call Rax on top of it
// would destroy that value. Skipping both 8-byte slots in one add
// lands %rsp exactly on the Rdi slot the next pop expects.
func addRsp16() []byte { return []byte{0x48, 0x83, 0xc4, 0x10} } // add $16, %rsp

// movabsR11 loads a 64-bit immediate into %r11, the scratch register used
// to hold the dispatch entry point. %r11 is already clobbered by the
// syscall instruction the rewriter replaced, so reusing it here costs
// nothing extra in terms of registers the caller must expect preserved.
func movabsR11(addr uint64) []byte {
	b := make([]byte, 10)
	b[0], b[1] = 0x49, 0xbb // REX.WB movabs $imm64, %r11
	binary.LittleEndian.PutUint64(b[2:], addr)
	return b
}

func callR11() []byte { return []byte{0x41, 0xff, 0xd3} } // call *%r11

func popRdi() []byte { return []byte{0x5f} }               // pop %rdi
func popRsi() []byte { return []byte{0x5e} }               // pop %rsi
func popRdx() []byte { return []byte{0x5a} }               // pop %rdx
func popR10() []byte { return []byte{0x41, 0x5a} }         // pop %r10
func popR8() []byte  { return []byte{0x41, 0x58} }         // pop %r8
func popR9() []byte  { return []byte{0x41, 0x59} }         // pop %r9

func ret() []byte { return []byte{0xc3} } // ret

// buildStub assembles the dispatch stub described in spec §4.1: save the
// six argument registers plus %rax into a hookabi.Image on the stack
// (pushed in reverse so %rax lands at the lowest address), call dispatch
// through a register so the call site needs no relocation, then restore
// everything except %rax, which is left holding dispatch's return value.
func buildStub(dispatchAddr uint64) []byte {
	var code []byte
	emit := func(b []byte) { code = append(code, b...) }

	// 1. Build the Register Image on the stack.
	emit(pushR9())
	emit(pushR8())
	emit(pushR10())
	emit(pushRdx())
	emit(pushRsi())
	emit(pushRdi())
	emit(pushRax())

	// Capture the image's address (the current top of stack) into %rdi
	// before the alignment padding below moves %rsp further, so %rdi
	// points exactly at the lowest-addressed field (Rax).
	emit(movRspToRdi())

	// 2. Restore 16-byte stack alignment before the call.
	emit(subRsp8())

	// 3 & 4. Call dispatch through %r11; no fixups required.
	emit(movabsR11(dispatchAddr))
	emit(callR11())

	// 5. Undo the alignment padding and skip the abandoned Rax slot in
	// one step, then restore every other register. %rax itself is left
	// untouched, holding dispatch's i64 result.
	emit(addRsp16())
	emit(popRdi())
	emit(popRsi())
	emit(popRdx())
	emit(popR10())
	emit(popR8())
	emit(popR9())
	emit(ret())

	return code
}

// StubLen reports the length in bytes of the dispatch stub that buildStub
// would produce. It is constant regardless of dispatchAddr's value because
// movabs always encodes a fixed-width 64-bit immediate.
func StubLen() int {
	return len(buildStub(0))
}
