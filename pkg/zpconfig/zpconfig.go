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

// Package zpconfig parses the optional ZPOLINE_CONFIG file. Everything
// it carries is also reachable through the two environment variables
// the loader reads directly (ZPOLINE_HOOK, ZPOLINE_EXCLUDE); this file
// is a more structured, composable alternative, never a requirement.
package zpconfig

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// NamedRange is an address range excluded from rewriting under a label;
// the label is the reason the exclusion set reports for a region it
// skips because of this range.
type NamedRange struct {
	Name  string `toml:"name"`
	Begin uint64 `toml:"begin"`
	End   uint64 `toml:"end"`
}

// Config is the ZPOLINE_CONFIG file's shape.
type Config struct {
	// ExcludePaths lists substrings matched against a region's backing
	// pathname; equivalent to ZPOLINE_EXCLUDE entries that name a path.
	ExcludePaths []string `toml:"exclude_paths"`

	// ExcludeRanges lists named address ranges never to rewrite, beyond
	// the trampoline/stub/raw-syscall ranges the loader always excludes.
	ExcludeRanges []NamedRange `toml:"exclude_ranges"`

	// HandlerSearchPaths is consulted, in order, when ZPOLINE_HOOK is
	// unset: the first existing file wins.
	HandlerSearchPaths []string `toml:"handler_search_paths"`
}

// Load parses the TOML file at path. A missing ZPOLINE_CONFIG is not an
// error at this layer — callers check os.Getenv first and simply don't
// call Load when the variable is unset, matching spec.md's "additive,
// absence is identical to original two-env-var behavior" contract.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}
