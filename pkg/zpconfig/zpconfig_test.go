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

package zpconfig

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `
exclude_paths = ["libasan.so", "libc.so"]
handler_search_paths = ["/etc/zpoline/handler.so", "/usr/local/lib/zpoline-handler.so"]

[[exclude_ranges]]
name = "scratch"
begin = 0x10000
end = 0x20000
`

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zpoline.toml")
	if err := writeFile(path, sample); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.ExcludePaths) != 2 || cfg.ExcludePaths[0] != "libasan.so" {
		t.Fatalf("ExcludePaths = %v", cfg.ExcludePaths)
	}
	if len(cfg.HandlerSearchPaths) != 2 {
		t.Fatalf("HandlerSearchPaths = %v", cfg.HandlerSearchPaths)
	}
	if len(cfg.ExcludeRanges) != 1 || cfg.ExcludeRanges[0].Name != "scratch" {
		t.Fatalf("ExcludeRanges = %v", cfg.ExcludeRanges)
	}
	if cfg.ExcludeRanges[0].Begin != 0x10000 || cfg.ExcludeRanges[0].End != 0x20000 {
		t.Fatalf("ExcludeRanges[0] bounds = [%#x, %#x)", cfg.ExcludeRanges[0].Begin, cfg.ExcludeRanges[0].End)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/zpoline.toml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
