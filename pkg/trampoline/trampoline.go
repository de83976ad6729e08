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

// Package trampoline builds and installs the fixed virtual-address-zero
// mapping that every rewritten syscall/sysenter instruction lands in. The
// mapping is a sled of single-byte no-ops indexed by syscall number,
// followed immediately by a dispatch stub: since %rax already holds the
// syscall number when the rewritten "callq *%rax" executes, any syscall
// number at all drifts deterministically into the stub.
package trampoline

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
)

// DefaultMaxSysno is the sled length used unless a caller overrides it. 512
// comfortably exceeds the highest syscall number on any mainline x86-64
// kernel at the time of writing, per spec §3.
const DefaultMaxSysno = 512

const nopByte = 0x90

// Trampoline is a single contiguous executable mapping at virtual address
// zero: a sled of no-ops followed by the dispatch stub. Once Map returns
// successfully the mapping is read+execute only; nothing in this package
// ever raises its protection again.
type Trampoline struct {
	maxSysno uintptr
	size     uintptr
	data     []byte // the live mapping, Base()..Base()+Size()
}

// MaxSysno returns the sled length, i.e. the stub's offset from VA 0.
func (t *Trampoline) MaxSysno() uintptr { return t.maxSysno }

// Size returns the total mapping size, page-rounded.
func (t *Trampoline) Size() uintptr { return t.size }

// Base returns the mapping's virtual address. It is always 0: the entire
// scheme depends on the kernel honoring a MAP_FIXED request at address
// zero.
func (t *Trampoline) Base() uintptr { return 0 }

// buildLayout returns the sled+stub byte sequence independent of where it
// will eventually be mapped, so layout correctness can be checked without
// touching real memory (see stub_amd64.go for the stub itself).
func buildLayout(dispatchAddr uint64, maxSysno uintptr) []byte {
	buf := make([]byte, maxSysno, maxSysno+uintptr(StubLen()))
	for i := range buf {
		buf[i] = nopByte
	}
	return append(buf, buildStub(dispatchAddr)...)
}

// pageRound rounds n up to the next multiple of the system page size.
func pageRound(n uintptr) uintptr {
	pageSize := uintptr(unix.Getpagesize())
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// Map constructs the trampoline and installs it at virtual address zero.
// dispatchAddr is the address the stub will call through %r11 into — the
// Hook ABI's dispatch entry point, resolved by the caller (the Loader)
// before Map is invoked. maxSysno of 0 selects DefaultMaxSysno.
//
// Per spec §4.4 step 1, a refusal to map address zero (EPERM/EACCES,
// meaning the kernel's mmap_min_addr policy forbids it) is not retried: it
// is the fatal "VA=0 unavailable" condition and is returned immediately so
// the Loader can abort initialization with a clear diagnostic. Transient
// failures (EAGAIN/EINTR) are retried a bounded number of times, mirroring
// the retry discipline the teacher applies to its own process-readiness
// polling.
func Map(dispatchAddr uint64, maxSysno uintptr) (*Trampoline, error) {
	if maxSysno == 0 {
		maxSysno = DefaultMaxSysno
	}
	layout := buildLayout(dispatchAddr, maxSysno)
	size := pageRound(uintptr(len(layout)))

	var data []byte
	attempt := func() error {
		m, err := unix.Mmap(-1, 0, int(size),
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		data = m
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	b := backoff.WithContext(backoff.NewConstantBackOff(5*time.Millisecond), ctx)
	if err := backoff.Retry(attempt, b); err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			err = perm.Err
		}
		return nil, fmt.Errorf("mapping trampoline at VA=0: %w (is vm.mmap_min_addr permissive?)", err)
	}

	copy(data, layout)

	if err := unix.Mprotect(data, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("locking down trampoline protection: %w", err)
	}

	return &Trampoline{maxSysno: maxSysno, size: size, data: data}, nil
}

// WellFormed checks the invariants spec §8 lists for the trampoline: every
// byte in [0, MaxSysno) is 0x90, and the byte at MaxSysno is the first byte
// of the dispatch stub.
func (t *Trampoline) WellFormed(dispatchAddr uint64) error {
	for i := uintptr(0); i < t.maxSysno; i++ {
		if t.data[i] != nopByte {
			return fmt.Errorf("sled byte at offset %d is %#x, want %#x", i, t.data[i], nopByte)
		}
	}
	stub := buildStub(dispatchAddr)
	if len(stub) == 0 {
		return fmt.Errorf("dispatch stub is empty")
	}
	if t.data[t.maxSysno] != stub[0] {
		return fmt.Errorf("byte at MaxSysno (%d) is %#x, want stub's first byte %#x", t.maxSysno, t.data[t.maxSysno], stub[0])
	}
	return nil
}

// Unmap tears the mapping down. Only zpolinectl dump-trampoline calls
// it, for its scratch mapping; a running interposer never calls this.
func (t *Trampoline) Unmap() error {
	if t.data == nil {
		return nil
	}
	err := unix.Munmap(t.data)
	t.data = nil
	return err
}
