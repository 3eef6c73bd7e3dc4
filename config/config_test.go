package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mengsuenyan/fce/config"
	ferrors "github.com/mengsuenyan/fce/errors"
)

const sample = `
modules:
  - name: strings
    path: ./strings.wasm
    mem_pages_count: 32
    imports:
      util: helpers
    capabilities:
      envs: { WASM_LOG: debug }
      args: [ "-v" ]
      preopened_dirs: [ /tmp/work ]
      mapped_dirs: { sites: /var/www }
  - name: calc
    path: calc.wasm
`

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Modules) != 2 {
		t.Fatalf("modules = %d", len(cfg.Modules))
	}

	m := cfg.Modules[0]
	if m.Name != "strings" || m.Path != "./strings.wasm" || m.MemPages != 32 {
		t.Fatalf("first module = %+v", m)
	}
	if m.Imports["util"] != "helpers" {
		t.Fatalf("imports = %v", m.Imports)
	}
	if m.Capabilities.Envs["WASM_LOG"] != "debug" {
		t.Fatalf("envs = %v", m.Capabilities.Envs)
	}
	if len(m.Capabilities.PreopenedDirs) != 1 || m.Capabilities.PreopenedDirs[0] != "/tmp/work" {
		t.Fatalf("preopens = %v", m.Capabilities.PreopenedDirs)
	}
	if m.Capabilities.MappedDirs["sites"] != "/var/www" {
		t.Fatalf("mapped = %v", m.Capabilities.MappedDirs)
	}

	// default applied
	if cfg.Modules[1].MemPages != config.DefaultMemPages {
		t.Fatalf("default pages = %d", cfg.Modules[1].MemPages)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "modules: []", "declares no modules"},
		{"no name", "modules:\n  - path: a.wasm\n", "name must not be empty"},
		{"no path", "modules:\n  - name: a\n", "path must not be empty"},
		{"dup name", "modules:\n  - name: a\n    path: a.wasm\n  - name: a\n    path: b.wasm\n", "duplicate module name"},
		{"pages", "modules:\n  - name: a\n    path: a.wasm\n    mem_pages_count: 70000\n", "wasm32 limit"},
		{"bad yaml", "modules: [", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tc.yaml))
			if !ferrors.IsKind(err, ferrors.KindInvalidInput) {
				t.Fatalf("err = %v, want invalid_input", err)
			}
			if tc.want != "" && !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	wasmPath := filepath.Join(dir, "calc.wasm")
	if err := os.WriteFile(wasmPath, []byte{0x00, 0x61, 0x73, 0x6D}, 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "app.yaml")
	if err := os.WriteFile(cfgPath, []byte("modules:\n  - name: calc\n    path: ./calc.wasm\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.ModulePath(cfg.Modules[0]); got != wasmPath {
		t.Fatalf("path = %q, want %q", got, wasmPath)
	}
	data, err := cfg.ReadModule(cfg.Modules[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 4 {
		t.Fatalf("read %d bytes", len(data))
	}
}

func TestReadModuleMissingFile(t *testing.T) {
	cfg, err := config.Parse([]byte("modules:\n  - name: a\n    path: /definitely/not/here.wasm\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := cfg.ReadModule(cfg.Modules[0]); !ferrors.IsKind(err, ferrors.KindInvalidInput) {
		t.Fatalf("err = %v, want invalid_input", err)
	}
}
