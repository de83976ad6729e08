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

//go:build linux && amd64 && !cgo
// +build linux,amd64,!cgo

package hookabi

// Available reports false: without cgo this package cannot produce a
// C-ABI-callable dispatch entry point, so the trampoline has nothing
// safe to call through %r11. Callers (pkg/loader) must fail
// initialization rather than map a trampoline pointing nowhere useful.
func Available() bool { return false }

// DispatchEntryAddr always returns 0 in this build; callers must check
// Available() first.
func DispatchEntryAddr() uint64 { return 0 }
