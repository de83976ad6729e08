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

package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/google/subcommands"

	"github.com/zpoline-go/zpoline/pkg/rewriter"
)

// mapsCmd implements "zpolinectl maps [pid]".
type mapsCmd struct {
	excludePath string
}

func (*mapsCmd) Name() string     { return "maps" }
func (*mapsCmd) Synopsis() string { return "list executable regions and which would be excluded" }
func (*mapsCmd) Usage() string {
	return "maps [-exclude-path substr] [pid] - dump executable regions without rewriting anything\n"
}

func (c *mapsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.excludePath, "exclude-path", "", "path substring to mark as excluded in the listing")
}

func (c *mapsCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	pid := 0
	if f.NArg() == 1 {
		p, err := strconv.Atoi(f.Arg(0))
		if err != nil {
			fmt.Printf("invalid pid %q: %v\n", f.Arg(0), err)
			return subcommands.ExitUsageError
		}
		pid = p
	}

	regions, err := rewriter.ExecutableRegions(pid)
	if err != nil {
		fmt.Printf("reading maps: %v\n", err)
		return subcommands.ExitFailure
	}

	exclude := rewriter.NewExclusionSet()
	if c.excludePath != "" {
		exclude.ExcludePath(c.excludePath)
	}

	for _, r := range regions {
		reason, excluded := exclude.Region(r)
		mark := " "
		if excluded {
			mark = "X"
		}
		fmt.Printf("%s %#016x-%#016x %8d  %s", mark, r.Begin, r.End, r.Len(), r.Path)
		if excluded {
			fmt.Printf("  (%s)", reason)
		}
		fmt.Println()
	}
	return subcommands.ExitSuccess
}
