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

// Command zpolinectl is a diagnostics and self-test harness for the
// zpoline interposer. It never injects itself into a target process —
// that stays the job of the preloaded shared object built from
// package preload — it only inspects, simulates, and drives seed
// scenarios against a separately launched instrumented child.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/zpoline-go/zpoline/pkg/zplog"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&mapsCmd{}, "")
	subcommands.Register(&dumpTrampolineCmd{}, "")
	subcommands.Register(&selftestCmd{}, "")

	verbose := flag.Bool("v", false, "enable debug-level diagnostics")
	flag.Parse()
	zplog.SetVerbose(*verbose)

	os.Exit(int(subcommands.Execute(context.Background())))
}
