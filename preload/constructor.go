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

// Command preload builds as a C shared object
// (-buildmode=c-shared -o zpoline_preload.so ./preload) meant to be
// loaded into an arbitrary host process via LD_PRELOAD. Its only job is
// to run the loader's six-step initialization sequence once, at load
// time, through an ELF constructor — the actual interposition work
// (trampoline, rewrite, dispatch) lives in pkg/loader and the packages
// it orchestrates.
package main

/*
void zpoline_run_constructor(void);

__attribute__((constructor))
static void zpoline_ctor(void) {
	zpoline_run_constructor();
}
*/
import "C"

import (
	"context"

	"github.com/zpoline-go/zpoline/pkg/loader"
	"github.com/zpoline-go/zpoline/pkg/zplog"
)

//export zpoline_run_constructor
func zpoline_run_constructor() {
	result, err := loader.Run(context.Background())
	if err != nil {
		zplog.Fatalf("zpoline initialization failed: %v", err)
		return
	}
	if result.HandlerLib == "" {
		zplog.Infof("zpoline initialized with default raw-syscall passthrough")
	}
}

// main is required by -buildmode=c-shared but is never executed: the
// host process that LD_PRELOADs this object has its own main, and this
// object's only entry point is the ELF constructor above.
func main() {}
