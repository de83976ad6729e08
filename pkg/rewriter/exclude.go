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

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/btree"
)

// excludedRange is a btree.Item ordered by its lower bound, so the set of
// ranges with begin < some pivot can be asked for with AscendLessThan
// without a linear scan of every excluded range.
type excludedRange struct {
	begin, end uintptr
	reason     string
}

func (r excludedRange) Less(other btree.Item) bool {
	return r.begin < other.(excludedRange).begin
}

// ExclusionSet holds every region a rewrite pass must leave untouched: the
// trampoline and dispatch stub's own pages, the raw-syscall escape hatch,
// named ranges supplied by configuration, and path substrings matched
// against a region's backing file. Safe for concurrent use: Region() is
// called from every goroutine the rewriter fans scanning out to.
type ExclusionSet struct {
	mu             sync.RWMutex
	pathSubstrings []string
	ranges         *btree.BTree
}

// NewExclusionSet returns an empty set.
func NewExclusionSet() *ExclusionSet {
	return &ExclusionSet{ranges: btree.New(32)}
}

// ExcludePath adds a substring match against a region's backing pathname.
// An empty substring is ignored rather than matching everything.
func (s *ExclusionSet) ExcludePath(substr string) {
	if substr == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pathSubstrings = append(s.pathSubstrings, substr)
}

// ExcludeRange adds a named address range [begin, end) that must never be
// rewritten, e.g. the trampoline mapping or the raw-syscall stub's page.
func (s *ExclusionSet) ExcludeRange(begin, end uintptr, reason string) {
	if end <= begin {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranges.ReplaceOrInsert(excludedRange{begin: begin, end: end, reason: reason})
}

// Region reports whether r must be skipped in its entirety, and why.
func (s *ExclusionSet) Region(r Region) (reason string, excluded bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.pathSubstrings {
		if strings.Contains(r.Path, sub) {
			return fmt.Sprintf("path %q matches excluded substring %q", r.Path, sub), true
		}
	}
	if reason, ok := s.overlaps(r.Begin, r.End); ok {
		return reason, true
	}
	return "", false
}

// overlaps reports whether any excluded range intersects [begin, end),
// and the reason recorded for the first one found. Candidates are every
// range whose lower bound is less than end; each candidate is then
// checked for end > begin to confirm actual overlap rather than mere
// adjacency in sort order.
func (s *ExclusionSet) overlaps(begin, end uintptr) (string, bool) {
	var reason string
	found := false
	s.ranges.AscendLessThan(excludedRange{begin: end}, func(item btree.Item) bool {
		er := item.(excludedRange)
		if er.end > begin {
			reason = er.reason
			found = true
			return false
		}
		return true
	})
	return reason, found
}
