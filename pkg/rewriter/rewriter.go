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
	"context"
	"sync/atomic"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// Counters tallies what a Run pass did, for the loader's summary log line
// and its Result. All fields are updated with atomic.AddInt64
// since regions are rewritten concurrently.
type Counters struct {
	RegionsScanned    int64
	RegionsRewritten  int64
	RegionsSkipped    int64
	SyscallsReplaced  int64
	SysentersReplaced int64
}

// Diagnostic is one rate-limited note about a region the rewriter
// excluded or could not fully process: an exclusion match, a decoder
// desync, or a failed mprotect. A syscall/sysenter decoded with a length
// other than two is skipped by scanBytes without a diagnostic.
type Diagnostic struct {
	Region Region
	Detail string
}

// DiagnosticSink receives diagnostics as they're produced. Loggers that
// want every diagnostic regardless of rate limiting can wrap zplog
// directly; Run rate-limits calls into the sink itself so a region full
// of false-positive opcode bytes can't flood the log.
type DiagnosticSink func(Diagnostic)

// Rewriter walks a process's executable regions once and replaces every
// syscall/sysenter instruction not covered by its ExclusionSet.
type Rewriter struct {
	Exclude  *ExclusionSet
	Counters Counters

	// Diagnose receives rate-limited diagnostics. Nil discards them.
	Diagnose DiagnosticSink

	limiter *rate.Limiter
}

// New returns a Rewriter that rate-limits diagnostics to roughly one per
// 10ms with a small burst allowance, matching the "a pathological region
// must not be able to stall the whole pass with log I/O" requirement from
// spec §7.
func New(exclude *ExclusionSet, diagnose DiagnosticSink) *Rewriter {
	return &Rewriter{
		Exclude:  exclude,
		Diagnose: diagnose,
		limiter:  rate.NewLimiter(rate.Every(10*1e6), 20), // ~100/s, burst 20
	}
}

func (rw *Rewriter) diagnose(d Diagnostic) {
	if rw.Diagnose == nil {
		return
	}
	if rw.limiter.Allow() {
		rw.Diagnose(d)
	}
}

// Run enumerates the calling process's own executable regions, filters
// out anything in rw.Exclude, and rewrites the rest concurrently: one
// goroutine per surviving region, fanned out through an errgroup exactly
// as the teacher's own network-setup code fans work out across
// goroutines bounded by a single error channel. A per-region failure
// (decoder desync, mprotect failure) is recorded as a skipped region and
// a diagnostic; it does not abort sibling regions and does not make Run
// itself return an error, since a partially-rewritten process is still a
// usable one — that's the point of isolating failures per region.
//
// ctx cancellation stops launching new region goroutines but lets
// in-flight ones finish, so a timeout never leaves a region half-patched.
func (rw *Rewriter) Run(ctx context.Context) error {
	regions, err := ExecutableRegions(0)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range regions {
		r := r
		if reason, excluded := rw.Exclude.Region(r); excluded {
			rw.diagnose(Diagnostic{Region: r, Detail: "excluded: " + reason})
			continue
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			rw.rewriteRegion(r)
			return nil
		})
	}
	return g.Wait()
}

// rewriteRegion scans and patches a single region in place. It never
// returns an error: every failure mode it can hit is a per-region
// skip-and-diagnose condition, not a process-wide one.
func (rw *Rewriter) rewriteRegion(r Region) {
	data := unsafe.Slice((*byte)(unsafe.Pointer(r.Begin)), int(r.Len()))
	targets, err := scanBytes(r.Begin, data)
	if err != nil {
		atomic.AddInt64(&rw.Counters.RegionsSkipped, 1)
		rw.diagnose(Diagnostic{Region: r, Detail: err.Error()})
		return
	}
	atomic.AddInt64(&rw.Counters.RegionsScanned, 1)
	if len(targets) == 0 {
		return
	}

	if !rw.patchTargets(r, targets) {
		atomic.AddInt64(&rw.Counters.RegionsSkipped, 1)
		return
	}
	atomic.AddInt64(&rw.Counters.RegionsRewritten, 1)
}

// patchTargets groups targets by the page they fall in, widens each
// page's protection to RWX just long enough to write the two-byte patch,
// then narrows it back to the region's original protection. Per spec
// §4.3 ("widen, patch, narrow"), the protection window is scoped to one
// page at a time rather than the whole region, so a mapping spanning many
// pages never has more than one page briefly writable at once.
func (rw *Rewriter) patchTargets(r Region, targets []target) bool {
	pageSize := uintptr(unix.Getpagesize())
	byPage := make(map[uintptr][]target)
	for _, t := range targets {
		page := t.addr &^ (pageSize - 1)
		byPage[page] = append(byPage[page], t)
	}

	ok := true
	for page, pts := range byPage {
		pageBytes := unsafe.Slice((*byte)(unsafe.Pointer(page)), int(pageSize))
		if err := unix.Mprotect(pageBytes, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
			rw.diagnose(Diagnostic{Region: r, Detail: "mprotect widen failed: " + err.Error()})
			ok = false
			continue
		}
		for _, t := range pts {
			b := unsafe.Slice((*byte)(unsafe.Pointer(t.addr)), 2)
			b[0], b[1] = patchBytes[0], patchBytes[1]
			if t.op == x86asm.SYSCALL {
				atomic.AddInt64(&rw.Counters.SyscallsReplaced, 1)
			} else {
				atomic.AddInt64(&rw.Counters.SysentersReplaced, 1)
			}
		}
		if err := unix.Mprotect(pageBytes, r.Prot); err != nil {
			rw.diagnose(Diagnostic{Region: r, Detail: "mprotect narrow failed: " + err.Error()})
			ok = false
		}
	}
	return ok
}
