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

//go:build linux
// +build linux

// Package rewriter walks a process's executable memory regions, decodes
// them instruction-by-instruction, and replaces every syscall/sysenter
// with the two-byte indirect call FF D0 (callq *%rax), skipping anything
// listed in an ExclusionSet.
package rewriter

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Region describes one half-open executable mapping, as read from the
// kernel-maintained memory map at init time. Regions are built once,
// consulted by the rewriter, and discarded — this repo never tracks them
// past a single rewrite pass, since Non-goals rule out re-scanning for
// self-modifying or JIT-generated code.
type Region struct {
	Begin, End uintptr
	Prot       int    // unix.PROT_* bits, as originally mapped
	Path       string // backing pathname, or one of the Anon* sentinels
}

// Sentinel pathnames for mappings with no backing file, matching what
// /proc/<pid>/maps itself prints for these cases.
const (
	AnonStack    = "[stack]"
	AnonHeap     = "[heap]"
	AnonVDSO     = "[vdso]"
	AnonVsyscall = "[vsyscall]"
	AnonMapping  = "" // no pathname field at all on the maps line
)

// Len returns the region's size in bytes.
func (r Region) Len() uintptr { return r.End - r.Begin }

// ExecutableRegions parses /proc/<pid>/maps and returns every mapping
// whose protection bits permit execution. pid == 0 means the calling
// process itself ("self"), which is the only case the core interposer
// ever needs: it rewrites its own host process, never another one.
func ExecutableRegions(pid int) ([]Region, error) {
	path := "/proc/self/maps"
	if pid != 0 {
		path = fmt.Sprintf("/proc/%d/maps", pid)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var regions []Region
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		r, ok, err := parseMapsLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if ok && r.Prot&unix.PROT_EXEC != 0 {
			regions = append(regions, r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return regions, nil
}

// parseMapsLine parses one line of /proc/<pid>/maps, e.g.:
//
//	00400000-00452000 r-xp 00000000 08:02 173521 /usr/bin/dbus-daemon
//
// ok is false for malformed lines, which should not happen on a real
// kernel but are treated as "nothing to report" rather than a hard parse
// failure so one odd line doesn't abort the whole scan; a genuinely
// unreadable maps file is the fatal "memory-map parse failure" case from
// spec §7, signaled by returning an error from the caller's os.Open/Scan,
// not from here.
func parseMapsLine(line string) (Region, bool, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Region{}, false, nil
	}
	addrRange := strings.SplitN(fields[0], "-", 2)
	if len(addrRange) != 2 {
		return Region{}, false, nil
	}
	begin, err := strconv.ParseUint(addrRange[0], 16, 64)
	if err != nil {
		return Region{}, false, fmt.Errorf("bad range start %q: %w", fields[0], err)
	}
	end, err := strconv.ParseUint(addrRange[1], 16, 64)
	if err != nil {
		return Region{}, false, fmt.Errorf("bad range end %q: %w", fields[0], err)
	}

	perms := fields[1]
	var prot int
	if strings.Contains(perms, "r") {
		prot |= unix.PROT_READ
	}
	if strings.Contains(perms, "w") {
		prot |= unix.PROT_WRITE
	}
	if strings.Contains(perms, "x") {
		prot |= unix.PROT_EXEC
	}

	path := AnonMapping
	if len(fields) >= 6 {
		path = strings.Join(fields[5:], " ")
	}

	return Region{Begin: uintptr(begin), End: uintptr(end), Prot: prot, Path: path}, true, nil
}
