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

import "testing"

func TestBuildLayoutSledIsAllNops(t *testing.T) {
	const maxSysno = 64
	layout := buildLayout(0xdeadbeefcafebabe, maxSysno)

	for i := uintptr(0); i < maxSysno; i++ {
		if layout[i] != nopByte {
			t.Fatalf("sled[%d] = %#x, want %#x", i, layout[i], nopByte)
		}
	}
}

func TestBuildLayoutStubFollowsSled(t *testing.T) {
	const maxSysno = 64
	dispatchAddr := uint64(0x1122334455667788)
	layout := buildLayout(dispatchAddr, maxSysno)
	stub := buildStub(dispatchAddr)

	if len(layout) != int(maxSysno)+len(stub) {
		t.Fatalf("layout length = %d, want %d", len(layout), int(maxSysno)+len(stub))
	}
	got := layout[maxSysno:]
	for i := range stub {
		if got[i] != stub[i] {
			t.Fatalf("stub byte %d = %#x, want %#x", i, got[i], stub[i])
		}
	}
}

func TestBuildStubEncodesDispatchAddress(t *testing.T) {
	dispatchAddr := uint64(0x0011223344556677)
	stub := buildStub(dispatchAddr)

	// movabs $imm64, %r11 is REX.WB (0x49) + 0xBB + 8 little-endian bytes.
	// It directly follows the seven pushes and the mov %rsp,%rdi / sub
	// $8,%rsp pair that buildStub emits before it. The pushes take 10
	// bytes: %r9, %r8 and %r10 need a REX prefix (2 bytes each), the other
	// four are 1 byte each.
	const movabsOffset = 10 /* pushes */ + 3 /* mov %rsp,%rdi */ + 4 /* sub $8,%rsp */
	if stub[movabsOffset] != 0x49 || stub[movabsOffset+1] != 0xbb {
		t.Fatalf("expected movabs opcode at offset %d, got %#x %#x", movabsOffset, stub[movabsOffset], stub[movabsOffset+1])
	}
	var got uint64
	for i := 0; i < 8; i++ {
		got |= uint64(stub[movabsOffset+2+i]) << (8 * i)
	}
	if got != dispatchAddr {
		t.Fatalf("encoded dispatch address = %#x, want %#x", got, dispatchAddr)
	}
}

func TestBuildStubRestoresFullStackDepthAfterCall(t *testing.T) {
	stub := buildStub(0x1122334455667788)

	// The instruction immediately after call *%r11 (0x41 0xff 0xd3) must
	// discard both the alignment pad and the abandoned Rax slot: add
	// $16, %rsp, not add $8, %rsp. Popping only 8 bytes here would leave
	// the six register pops that follow reading one slot too high,
	// handing the stale Rax/sysno value back as %rdi and cascading
	// through every other restored register.
	const movabsOffset = 10 + 3 + 4
	const callOffset = movabsOffset + 10
	addOffset := callOffset + 3
	want := []byte{0x48, 0x83, 0xc4, 0x10}
	got := stub[addOffset : addOffset+4]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("post-call restore at offset %d = % x, want % x (add $16, %%rsp)", addOffset, got, want)
		}
	}

	// Six single-register pops and a ret follow: 1+1+1+2+2+2+1 bytes.
	wantLen := addOffset + 4 + 1 + 1 + 1 + 2 + 2 + 2 + 1
	if len(stub) != wantLen {
		t.Fatalf("stub length = %d, want %d", len(stub), wantLen)
	}
	if stub[len(stub)-1] != 0xc3 {
		t.Fatalf("last stub byte = %#x, want ret (0xc3)", stub[len(stub)-1])
	}
}

func TestStubLenIndependentOfAddress(t *testing.T) {
	if len(buildStub(0)) != len(buildStub(0xffffffffffffffff)) {
		t.Fatalf("stub length depends on dispatch address value")
	}
	if StubLen() != len(buildStub(0)) {
		t.Fatalf("StubLen() = %d, want %d", StubLen(), len(buildStub(0)))
	}
}

func TestPageRound(t *testing.T) {
	ps := pageRound(1)
	if ps == 0 {
		t.Fatalf("pageRound(1) = 0")
	}
	if pageRound(0) != 0 {
		t.Fatalf("pageRound(0) = %d, want 0", pageRound(0))
	}
	if pageRound(ps) != ps {
		t.Fatalf("pageRound(%d) = %d, want %d (already page aligned)", ps, pageRound(ps), ps)
	}
	if pageRound(ps+1) != 2*ps {
		t.Fatalf("pageRound(%d) = %d, want %d", ps+1, pageRound(ps+1), 2*ps)
	}
}
