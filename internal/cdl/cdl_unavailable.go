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

//go:build !(linux && amd64 && cgo)
// +build !linux !amd64 !cgo

package cdl

import (
	"fmt"
	"unsafe"
)

// Handle is never constructed in this build; its methods exist only so
// callers compile uniformly across both build configurations.
type Handle struct{}

// Available reports false: this build was compiled without cgo (or for
// a platform other than linux/amd64), so isolated-namespace handler
// loading cannot work. Callers fall back to the built-in raw-syscall
// default handler, per the degradation path the loader documents.
func Available() bool { return false }

// Open always fails in this build.
func Open(path string) (*Handle, error) {
	return nil, fmt.Errorf("cdl: dlmopen isolation unavailable (built without cgo, or non-linux/amd64)")
}

func (h *Handle) Sym(name string) (unsafe.Pointer, error) {
	return nil, fmt.Errorf("cdl: dlmopen isolation unavailable")
}

func (h *Handle) Close() error { return nil }
