// Package config loads the application description: which wasm modules to
// register, their memory limits, import renames and ambient capabilities.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	ferrors "github.com/mengsuenyan/fce/errors"
)

// DefaultMemPages is applied when a module entry does not set
// mem_pages_count.
const DefaultMemPages = 16

// maxMemPages is the wasm32 linear memory ceiling, 4 GiB in 64 KiB pages.
const maxMemPages = 65536

type Config struct {
	Modules []Module `koanf:"modules"`

	// base directory for resolving relative module paths; set by Load to
	// the config file's directory.
	base string
}

type Module struct {
	Name     string `koanf:"name"`
	Path     string `koanf:"path"`
	MemPages uint32 `koanf:"mem_pages_count"`
	// Interface overrides the binary's embedded description.
	Interface string `koanf:"interface"`
	// Imports renames import namespaces to registered module names.
	Imports      map[string]string `koanf:"imports"`
	Capabilities Capabilities      `koanf:"capabilities"`
}

type Capabilities struct {
	Envs          map[string]string `koanf:"envs"`
	Args          []string          `koanf:"args"`
	PreopenedDirs []string          `koanf:"preopened_dirs"`
	MappedDirs    map[string]string `koanf:"mapped_dirs"`
}

// Load reads and validates a YAML config file. Relative module paths are
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, configErr("read config", err)
	}
	cfg, err := unmarshal(k)
	if err != nil {
		return nil, err
	}
	cfg.base = filepath.Dir(path)
	return cfg, nil
}

// Parse reads and validates config from bytes. Relative module paths are
// resolved against the working directory.
func Parse(data []byte) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, configErr("parse config", err)
	}
	return unmarshal(k)
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, configErr("decode config", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Modules) == 0 {
		return ferrors.New(ferrors.PhaseConfig, ferrors.KindInvalidInput).
			Detail("config declares no modules").
			Build()
	}
	seen := make(map[string]bool, len(c.Modules))
	for i := range c.Modules {
		m := &c.Modules[i]
		if m.Name == "" {
			return moduleErr(i, "", "module name must not be empty")
		}
		if seen[m.Name] {
			return moduleErr(i, m.Name, "duplicate module name")
		}
		seen[m.Name] = true
		if m.Path == "" {
			return moduleErr(i, m.Name, "module path must not be empty")
		}
		if m.MemPages == 0 {
			m.MemPages = DefaultMemPages
		}
		if m.MemPages > maxMemPages {
			return moduleErr(i, m.Name,
				fmt.Sprintf("mem_pages_count %d exceeds the wasm32 limit of %d", m.MemPages, maxMemPages))
		}
	}
	return nil
}

// ModulePath resolves a module's wasm path against the config location.
func (c *Config) ModulePath(m Module) string {
	if c.base == "" || filepath.IsAbs(m.Path) {
		return m.Path
	}
	return filepath.Join(c.base, m.Path)
}

// ReadModule returns the module's wasm bytes.
func (c *Config) ReadModule(m Module) ([]byte, error) {
	data, err := os.ReadFile(c.ModulePath(m))
	if err != nil {
		return nil, ferrors.New(ferrors.PhaseConfig, ferrors.KindInvalidInput).
			Module(m.Name).
			Detail("read module binary").
			Cause(err).
			Build()
	}
	return data, nil
}

func configErr(what string, err error) error {
	return ferrors.New(ferrors.PhaseConfig, ferrors.KindInvalidInput).
		Detail("%s", what).
		Cause(err).
		Build()
}

func moduleErr(index int, name, detail string) error {
	b := ferrors.New(ferrors.PhaseConfig, ferrors.KindInvalidInput).
		Detail("modules[%d]: %s", index, detail)
	if name != "" {
		b = b.Module(name)
	}
	return b.Build()
}
