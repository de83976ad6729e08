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
	"testing"

	"github.com/zpoline-go/zpoline/pkg/rewriter"
)

func TestParseExcludeEnvEmpty(t *testing.T) {
	if got := parseExcludeEnv(""); got != nil {
		t.Fatalf("parseExcludeEnv(\"\") = %v, want nil", got)
	}
}

func TestParseExcludeEnvMixed(t *testing.T) {
	entries := parseExcludeEnv("libasan.so:0x1000-0x2000:libc.so")
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].isRange || entries[0].path != "libasan.so" {
		t.Fatalf("entry 0 = %+v, want path substring libasan.so", entries[0])
	}
	if !entries[1].isRange || entries[1].begin != 0x1000 || entries[1].end != 0x2000 {
		t.Fatalf("entry 1 = %+v, want range [0x1000, 0x2000)", entries[1])
	}
	if entries[2].isRange || entries[2].path != "libc.so" {
		t.Fatalf("entry 2 = %+v, want path substring libc.so", entries[2])
	}
}

func TestParseExcludeEnvInvalidRangeFallsBackToPath(t *testing.T) {
	// end <= begin: not a valid range, even though it looks
	// range-shaped; parseRange reports ok=false (with a warning) and
	// parseExcludeEnv then treats it as a literal
	// path substring (a degenerate one, but that's the documented
	// fallback for anything that doesn't parse as a range).
	entries := parseExcludeEnv("0x2000-0x1000")
	if len(entries) != 1 || entries[0].isRange {
		t.Fatalf("entries = %+v, want one non-range entry", entries)
	}
}

func TestExcludeEntryApply(t *testing.T) {
	set := rewriter.NewExclusionSet()
	e := excludeEntry{begin: 0x4000, end: 0x5000, isRange: true}
	e.apply(set)
	if _, excluded := set.Region(rewriter.Region{Begin: 0x4400, End: 0x4500}); !excluded {
		t.Fatalf("expected range entry to exclude overlapping region")
	}

	p := excludeEntry{path: "libfoo.so"}
	p.apply(set)
	if _, excluded := set.Region(rewriter.Region{Path: "/usr/lib/libfoo.so.1"}); !excluded {
		t.Fatalf("expected path entry to exclude matching region")
	}
}
