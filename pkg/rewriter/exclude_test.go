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

package rewriter

import "testing"

func TestExclusionSetPathMatch(t *testing.T) {
	s := NewExclusionSet()
	s.ExcludePath("libc.so")

	r := Region{Begin: 0x1000, End: 0x2000, Path: "/usr/lib/x86_64-linux-gnu/libc.so.6"}
	if _, excluded := s.Region(r); !excluded {
		t.Fatalf("expected region with matching path to be excluded")
	}

	other := Region{Begin: 0x1000, End: 0x2000, Path: "/usr/bin/myapp"}
	if _, excluded := s.Region(other); excluded {
		t.Fatalf("expected non-matching path to not be excluded")
	}
}

func TestExclusionSetRangeOverlap(t *testing.T) {
	s := NewExclusionSet()
	s.ExcludeRange(0x1000, 0x2000, "trampoline")

	cases := []struct {
		name     string
		r        Region
		excluded bool
	}{
		{"fully inside", Region{Begin: 0x1200, End: 0x1800}, true},
		{"overlaps start", Region{Begin: 0x0800, End: 0x1400}, true},
		{"overlaps end", Region{Begin: 0x1800, End: 0x2400}, true},
		{"exactly adjacent before", Region{Begin: 0x0000, End: 0x1000}, false},
		{"exactly adjacent after", Region{Begin: 0x2000, End: 0x3000}, false},
		{"disjoint", Region{Begin: 0x5000, End: 0x6000}, false},
	}
	for _, c := range cases {
		_, got := s.Region(c.r)
		if got != c.excluded {
			t.Errorf("%s: Region(%+v) excluded = %v, want %v", c.name, c.r, got, c.excluded)
		}
	}
}

func TestExclusionSetMultipleRanges(t *testing.T) {
	s := NewExclusionSet()
	s.ExcludeRange(0x1000, 0x2000, "a")
	s.ExcludeRange(0x5000, 0x6000, "b")
	s.ExcludeRange(0x9000, 0xa000, "c")

	if _, excluded := s.Region(Region{Begin: 0x5500, End: 0x5600}); !excluded {
		t.Fatalf("expected middle range to be found")
	}
	if _, excluded := s.Region(Region{Begin: 0x3000, End: 0x4000}); excluded {
		t.Fatalf("expected gap between ranges to not be excluded")
	}
}

func TestExclusionSetIgnoresEmptyRange(t *testing.T) {
	s := NewExclusionSet()
	s.ExcludeRange(0x1000, 0x1000, "degenerate")
	if _, excluded := s.Region(Region{Begin: 0x1000, End: 0x2000}); excluded {
		t.Fatalf("degenerate (empty) range should never match")
	}
}
