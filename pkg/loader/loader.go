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

//go:build linux && amd64
// +build linux,amd64

// Package loader runs the six-step sequence that turns a freshly
// preloaded process into a fully instrumented one: build the
// trampoline, build the exclusion set, run the rewriter, locate a
// handler library, load it in an isolated namespace, and install it as
// the active handler.
package loader

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/mohae/deepcopy"
	"github.com/syndtr/gocapability/capability"

	"github.com/zpoline-go/zpoline/internal/cdl"
	"github.com/zpoline-go/zpoline/pkg/hookabi"
	"github.com/zpoline-go/zpoline/pkg/rewriter"
	"github.com/zpoline-go/zpoline/pkg/trampoline"
	"github.com/zpoline-go/zpoline/pkg/zpconfig"
	"github.com/zpoline-go/zpoline/pkg/zplog"
)

const (
	// EnvHook names the handler shared object to load, mirroring
	// spec.md §6's ZPOLINE_HOOK.
	EnvHook = "ZPOLINE_HOOK"
	// EnvExclude is a colon-separated list of path substrings and/or
	// hex address ranges ("begin-end") to exclude, per spec.md §6.
	EnvExclude = "ZPOLINE_EXCLUDE"
	// EnvConfig names an optional supplemental TOML config file.
	EnvConfig = "ZPOLINE_CONFIG"
)

// Result reports what a successful Run did, for the caller (preload's
// constructor). Config is a deep copy of the loaded configuration.
type Result struct {
	Trampoline *trampoline.Trampoline
	Counters   rewriter.Counters
	Config     *zpconfig.Config // nil if ZPOLINE_CONFIG was unset
	HandlerLib string           // empty if no handler library was loaded
}

// Run executes the six-step initialization sequence described in
// spec §4.4. It is the constructor entry point's only real job; see
// preload/constructor.go for the cgo-exported wrapper that calls it.
func Run(ctx context.Context) (*Result, error) {
	probeCapabilities()

	cfg, err := loadSupplementalConfig()
	if err != nil {
		// A malformed config file degrades to "as if unset" rather than
		// aborting initialization, since the two env vars alone are a
		// complete, supported configuration on their own.
		zplog.Warnf("ignoring ZPOLINE_CONFIG: %v", err)
		cfg = nil
	}

	exclude := buildExclusionSet(cfg)

	guard, err := acquireSingleInstanceGuard()
	if err != nil {
		return nil, fmt.Errorf("acquiring single-instance guard: %w", err)
	}
	if guard == nil {
		zplog.Infof("another zpoline instance already initialized this process; no-op")
		return &Result{}, nil
	}
	heldGuard = guard

	// Step 1: build the trampoline. hookabi.DispatchEntryAddr resolves
	// to a cgo-exported, genuinely C-ABI-callable entry point; a plain
	// reflect.ValueOf(hookabi.Dispatch).Pointer() would give the
	// Go-internal-ABI entry instead, which the hand-assembled stub's
	// register-based call sequence cannot call into directly.
	if !hookabi.Available() {
		err := fmt.Errorf("zpoline requires a cgo-enabled build (rebuild with CGO_ENABLED=1)")
		zplog.Fatalf("%v", err)
		return nil, err
	}
	dispatchAddr := hookabi.DispatchEntryAddr()
	tr, err := trampoline.Map(dispatchAddr, trampoline.DefaultMaxSysno)
	if err != nil {
		zplog.Fatalf("mapping trampoline: %v", err)
		return nil, err // unreachable: Fatalf exits, but keeps this function typed
	}

	// Step 2: exclusion set additions that depend on the trampoline's
	// own address and the raw-syscall stub's address, both of which
	// must never be rewritten.
	exclude.ExcludeRange(tr.Base(), tr.Base()+tr.Size(), "trampoline")
	rawBegin, rawEnd := hookabi.ExcludedPage()
	exclude.ExcludeRange(rawBegin, rawEnd, "raw-syscall escape hatch")

	// Step 3: run the rewriter across every remaining executable region.
	rw := rewriter.New(exclude, func(d rewriter.Diagnostic) {
		zplog.Debugf("rewriter: %s: %s", d.Region.Path, d.Detail)
	})
	if err := rw.Run(ctx); err != nil {
		return nil, fmt.Errorf("rewriting executable regions: %w", err)
	}
	zplog.Infof("rewrite complete: scanned=%d rewritten=%d skipped=%d syscalls=%d sysenters=%d",
		rw.Counters.RegionsScanned, rw.Counters.RegionsRewritten, rw.Counters.RegionsSkipped,
		rw.Counters.SyscallsReplaced, rw.Counters.SysentersReplaced)

	result := &Result{Trampoline: tr, Counters: rw.Counters}
	if cfg != nil {
		result.Config = deepcopy.Copy(cfg).(*zpconfig.Config)
	}

	// Steps 4-6: locate, load, and install the handler library. A
	// missing or unloadable handler is not fatal: the trampoline and
	// rewrite already succeeded, and hookabi.Dispatch's default handler
	// slot already forwards every syscall through RawSyscall, so a host
	// process with no handler configured simply runs exactly as it
	// would unmodified.
	if libPath, ok := locateHandlerLibrary(EnvHook, result.Config); ok {
		if err := loadAndInstallHandler(libPath); err != nil {
			zplog.Warnf("handler library %s not installed: %v", libPath, err)
		} else {
			result.HandlerLib = libPath
			zplog.Infof("handler library installed: %s", libPath)
		}
	} else {
		zplog.Infof("no handler library configured; using default raw-syscall passthrough")
	}

	return result, nil
}

// probeCapabilities logs, at debug level, whether the process holds
// capabilities that typically correlate with a permissive
// vm.mmap_min_addr. This is advisory only: VA=0 refusal is still
// treated as fatal by trampoline.Map regardless of what this reports.
func probeCapabilities() {
	caps, err := capability.NewPid2(os.Getpid())
	if err != nil {
		zplog.Debugf("capability probe unavailable: %v", err)
		return
	}
	if err := caps.Load(); err != nil {
		zplog.Debugf("capability probe failed to load: %v", err)
		return
	}
	hasAdmin := caps.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN)
	zplog.Debugf("capability probe: CAP_SYS_ADMIN effective=%v (advisory only; does not gate VA=0 mapping)", hasAdmin)
}

func loadSupplementalConfig() (*zpconfig.Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return nil, nil
	}
	return zpconfig.Load(path)
}

// heldGuard keeps the single-instance lock referenced, and so held, for
// the rest of the process's life once Run has taken it.
var heldGuard *flock.Flock

// acquireSingleInstanceGuard takes an advisory lock on a well-known,
// per-process path so a constructor that accidentally runs twice (e.g.
// a duplicated LD_PRELOAD entry) degrades to a no-op second run instead
// of mapping VA=0 twice. A nil, nil return means the lock was already
// held by this same process (a concurrent or repeated constructor call)
// and the caller should skip initialization entirely.
func acquireSingleInstanceGuard() (*flock.Flock, error) {
	path := fmt.Sprintf("%s/zpoline-%d.lock", os.TempDir(), os.Getpid())
	fl := flock.New(path)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil && err != context.DeadlineExceeded {
		return nil, err
	}
	if !locked {
		return nil, nil
	}
	return fl, nil
}

func buildExclusionSet(cfg *zpconfig.Config) *rewriter.ExclusionSet {
	exclude := rewriter.NewExclusionSet()
	for _, entry := range parseExcludeEnv(os.Getenv(EnvExclude)) {
		entry.apply(exclude)
	}
	if cfg != nil {
		for _, p := range cfg.ExcludePaths {
			exclude.ExcludePath(p)
		}
		for _, r := range cfg.ExcludeRanges {
			exclude.ExcludeRange(uintptr(r.Begin), uintptr(r.End), r.Name)
		}
	}
	return exclude
}

func locateHandlerLibrary(envVar string, cfg *zpconfig.Config) (string, bool) {
	if p := os.Getenv(envVar); p != "" {
		if fileExists(p) {
			return p, true
		}
		zplog.Warnf("%s=%s does not exist", envVar, p)
	}
	if cfg != nil {
		for _, p := range cfg.HandlerSearchPaths {
			if fileExists(p) {
				return p, true
			}
		}
	}
	return "", false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// loadAndInstallHandler loads libPath in an isolated dynamic-linker
// namespace and installs its exported handler as the active one. When
// cgo/dlmopen isolation is unavailable in this build, it returns an
// error describing the degradation rather than panicking; Run logs it
// and keeps the default handler, as it does when no library is found.
func loadAndInstallHandler(libPath string) error {
	if !cdl.Available() {
		return fmt.Errorf("isolated namespace loading unavailable in this build (cgo disabled, or non-linux/amd64)")
	}
	handle, err := cdl.Open(libPath)
	if err != nil {
		return err
	}
	// The agreed entry symbol: a C function matching
	// void* zpoline_handler_install(void) that returns a function
	// pointer compatible with hookabi.HandlerFunc's C ABI shape. The
	// actual cgo cast lives in handler_install_cgo.go, built only under
	// cgo, which owns the unsafe.Pointer-to-Go-func conversion; this
	// function only proves the symbol resolves.
	if _, err := handle.Sym("zpoline_handler_install"); err != nil {
		return err
	}
	return installHandlerFromLibrary(handle)
}
