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

package loader

import (
	"strconv"
	"strings"

	"github.com/zpoline-go/zpoline/pkg/rewriter"
	"github.com/zpoline-go/zpoline/pkg/zplog"
)

// excludeEntry is one colon-separated ZPOLINE_EXCLUDE element: either a
// bare path substring, or a "begin-end" hex address range.
type excludeEntry struct {
	path         string // non-empty for a path-substring entry
	begin, end   uintptr
	isRange      bool
}

func (e excludeEntry) apply(set *rewriter.ExclusionSet) {
	if e.isRange {
		set.ExcludeRange(e.begin, e.end, "ZPOLINE_EXCLUDE")
		return
	}
	set.ExcludePath(e.path)
}

// parseExcludeEnv parses ZPOLINE_EXCLUDE, a colon-separated list whose
// elements are either a path substring or a "0xBEGIN-0xEND" address
// range, per spec.md §6. An element that does not parse as a range is
// kept as a path substring rather than aborting the whole loader (a
// range-shaped element with end <= begin is also logged), since a typo
// in one entry should not prevent every other exclusion (or the whole
// interposer) from taking effect. Empty elements are skipped.
func parseExcludeEnv(val string) []excludeEntry {
	if val == "" {
		return nil
	}
	var entries []excludeEntry
	for _, raw := range strings.Split(val, ":") {
		if raw == "" {
			continue
		}
		if begin, end, ok := parseRange(raw); ok {
			entries = append(entries, excludeEntry{begin: begin, end: end, isRange: true})
			continue
		}
		entries = append(entries, excludeEntry{path: raw})
	}
	return entries
}

func parseRange(raw string) (begin, end uintptr, ok bool) {
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	b, errB := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 64)
	e, errE := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 64)
	if errB != nil || errE != nil {
		return 0, 0, false
	}
	if e <= b {
		zplog.Warnf("ZPOLINE_EXCLUDE range %q has end <= begin, treating as path substring instead", raw)
		return 0, 0, false
	}
	return uintptr(b), uintptr(e), true
}
