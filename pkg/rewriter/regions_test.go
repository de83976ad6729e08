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
	"testing"

	"golang.org/x/sys/unix"
)

func TestParseMapsLineExecutable(t *testing.T) {
	line := "00400000-00452000 r-xp 00000000 08:02 173521 /usr/bin/dbus-daemon"
	r, ok, err := parseMapsLine(line)
	if err != nil || !ok {
		t.Fatalf("parseMapsLine: ok=%v err=%v", ok, err)
	}
	if r.Begin != 0x00400000 || r.End != 0x00452000 {
		t.Fatalf("range = [%#x, %#x), want [0x400000, 0x452000)", r.Begin, r.End)
	}
	if r.Prot&unix.PROT_EXEC == 0 {
		t.Fatalf("expected PROT_EXEC set")
	}
	if r.Path != "/usr/bin/dbus-daemon" {
		t.Fatalf("path = %q, want /usr/bin/dbus-daemon", r.Path)
	}
}

func TestParseMapsLineAnonymous(t *testing.T) {
	line := "7f1234500000-7f1234520000 rw-p 00000000 00:00 0 "
	r, ok, err := parseMapsLine(line)
	if err != nil || !ok {
		t.Fatalf("parseMapsLine: ok=%v err=%v", ok, err)
	}
	if r.Path != AnonMapping {
		t.Fatalf("path = %q, want empty", r.Path)
	}
	if r.Prot&unix.PROT_EXEC != 0 {
		t.Fatalf("expected no PROT_EXEC")
	}
}

func TestParseMapsLineStack(t *testing.T) {
	line := "7ffd12340000-7ffd12361000 rw-p 00000000 00:00 0                          [stack]"
	r, ok, err := parseMapsLine(line)
	if err != nil || !ok {
		t.Fatalf("parseMapsLine: ok=%v err=%v", ok, err)
	}
	if r.Path != AnonStack {
		t.Fatalf("path = %q, want %q", r.Path, AnonStack)
	}
}

func TestParseMapsLineMalformedIsSkippedNotFatal(t *testing.T) {
	_, ok, err := parseMapsLine("")
	if err != nil {
		t.Fatalf("empty line should not error: %v", err)
	}
	if ok {
		t.Fatalf("empty line should not parse as a region")
	}
}

func TestExecutableRegionsFindsSelf(t *testing.T) {
	regions, err := ExecutableRegions(0)
	if err != nil {
		t.Fatalf("ExecutableRegions: %v", err)
	}
	if len(regions) == 0 {
		t.Fatalf("expected at least one executable region in the test binary's own map")
	}
	for _, r := range regions {
		if r.Prot&unix.PROT_EXEC == 0 {
			t.Fatalf("region %+v returned without PROT_EXEC", r)
		}
		if r.End <= r.Begin {
			t.Fatalf("region %+v has End <= Begin", r)
		}
	}
}
