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

//go:build linux && amd64 && cgo
// +build linux,amd64,cgo

// Package cdl loads a handler shared object into its own, disjoint
// dynamic-linker namespace. It needs cgo (as do pkg/hookabi's dispatch
// entry, pkg/loader's handler installation and preload's constructor):
// Go's own plugin package always loads into the host
// process's single link map, which is the opposite of the isolation a
// hot-swappable handler library needs (a handler that itself calls
// libc must not collide symbol-for-symbol with the host's own libc, or
// with whatever the instrumented process already linked).
package cdl

/*
#cgo LDFLAGS: -ldl
#define _GNU_SOURCE
#include <dlfcn.h>
#include <stdlib.h>

// dlmopen's LM_ID_NEWLM is a macro, not a symbol, so it's easiest to
// re-expose the one call this package needs as a tiny wrapper rather
// than fight cgo's macro-import rules for a single constant.
static void *cdl_open_new_namespace(const char *path) {
	return dlmopen(LM_ID_NEWLM, path, RTLD_NOW);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Handle is an opened shared object living in its own dlmopen namespace.
type Handle struct {
	ptr  unsafe.Pointer
	path string
}

// Available reports whether dlmopen-based isolation can be used in this
// build. It is always true when this file is compiled (cgo enabled,
// linux/amd64); the non-cgo build (cdl_unavailable.go) reports false.
func Available() bool { return true }

// Open loads path into a fresh dynamic-linker namespace via
// dlmopen(LM_ID_NEWLM, path, RTLD_NOW). A non-glibc libc (e.g. musl)
// that lacks dlmopen fails here with a C-level symbol-resolution error
// at link time, which is a build-time condition, not a runtime one;
// runtime failures (missing file, unresolved symbol in the .so itself)
// come back as a non-nil error from dlerror.
func Open(path string) (*Handle, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	ptr := C.cdl_open_new_namespace(cpath)
	if ptr == nil {
		return nil, fmt.Errorf("dlmopen(LM_ID_NEWLM, %s, RTLD_NOW): %s", path, C.GoString(C.dlerror()))
	}
	return &Handle{ptr: ptr, path: path}, nil
}

// Sym resolves a symbol within the handle's isolated namespace and
// returns its address as a function pointer usable by the caller via
// further unsafe/cgo plumbing (the loader casts this to the agreed
// handler-install function signature).
func (h *Handle) Sym(name string) (unsafe.Pointer, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	sym := C.dlsym(h.ptr, cname)
	if sym == nil {
		return nil, fmt.Errorf("dlsym(%s, %q): %s", h.path, name, C.GoString(C.dlerror()))
	}
	return sym, nil
}

// Close unloads the handle via dlclose. Nothing in this repository calls
// it: the loader keeps a handler library loaded for the process's whole
// lifetime.
func (h *Handle) Close() error {
	if C.dlclose(h.ptr) != 0 {
		return fmt.Errorf("dlclose(%s): %s", h.path, C.GoString(C.dlerror()))
	}
	return nil
}
