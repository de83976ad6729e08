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

package loader

/*
#include <stdint.h>

// zpoline_handler_install's agreed C signature: it takes no arguments
// and returns a pointer to a function matching
// int64_t(*)(uint64_t *image), where image points at a seven-field
// hookabi.Image laid out exactly as the trampoline stub builds it.
typedef int64_t (*zpoline_raw_handler_fn)(uint64_t *image);

static zpoline_raw_handler_fn zpoline_call_install(void *sym) {
	zpoline_raw_handler_fn (*install)(void) = (zpoline_raw_handler_fn (*)(void))sym;
	return install();
}

static int64_t zpoline_invoke(zpoline_raw_handler_fn fn, uint64_t *image) {
	return fn(image);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/zpoline-go/zpoline/internal/cdl"
	"github.com/zpoline-go/zpoline/pkg/hookabi"
)

// installHandlerFromLibrary resolves zpoline_handler_install in the
// isolated namespace, calls it to obtain the library's raw C handler
// function pointer, and wraps that pointer in a hookabi.HandlerFunc
// closure that marshals an Image to and from the seven-uint64 layout
// the C side expects.
func installHandlerFromLibrary(handle *cdl.Handle) error {
	sym, err := handle.Sym("zpoline_handler_install")
	if err != nil {
		return err
	}
	fn := C.zpoline_call_install(sym)
	if fn == nil {
		return fmt.Errorf("zpoline_handler_install returned a null handler")
	}

	hookabi.InstallHandler(func(img *hookabi.Image) int64 {
		var raw [7]C.uint64_t
		raw[0] = C.uint64_t(img.Rax)
		raw[1] = C.uint64_t(img.Rdi)
		raw[2] = C.uint64_t(img.Rsi)
		raw[3] = C.uint64_t(img.Rdx)
		raw[4] = C.uint64_t(img.R10)
		raw[5] = C.uint64_t(img.R8)
		raw[6] = C.uint64_t(img.R9)

		ret := int64(C.zpoline_invoke(fn, (*C.uint64_t)(unsafe.Pointer(&raw[0]))))

		img.Rdi = uint64(raw[1])
		img.Rsi = uint64(raw[2])
		img.Rdx = uint64(raw[3])
		img.R10 = uint64(raw[4])
		img.R8 = uint64(raw[5])
		img.R9 = uint64(raw[6])
		return ret
	})
	return nil
}
