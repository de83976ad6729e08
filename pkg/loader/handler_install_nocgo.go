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

package loader

import (
	"fmt"

	"github.com/zpoline-go/zpoline/internal/cdl"
)

// installHandlerFromLibrary is unreachable in a !cgo build: cdl.Open
// above already fails first, since cdl.Available() is false. This stub
// exists only so the package compiles uniformly across both
// configurations.
func installHandlerFromLibrary(handle *cdl.Handle) error {
	return fmt.Errorf("handler library installation requires cgo")
}
