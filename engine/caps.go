package engine

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/tetratelabs/wazero"
)

// Capabilities is the ambient authority granted to one module instance:
// WASI environment, arguments, standard streams and filesystem mounts. The
// zero value grants nothing.
type Capabilities struct {
	// Env is the WASI environment visible to the guest.
	Env map[string]string
	// Args become the guest's argv; the module name is always argv[0].
	Args []string
	// Preopens maps guest paths to host directories.
	Preopens map[string]string
	// MappedDirs is like Preopens but read-only on the host side.
	MappedDirs map[string]string
	// Stdout and Stderr receive the guest's standard streams. Nil means
	// the stream is discarded.
	Stdout io.Writer
	Stderr io.Writer
}

func (c Capabilities) moduleConfig(name string) (wazero.ModuleConfig, error) {
	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithArgs(append([]string{name}, c.Args...)...).
		// compute modules are reactors: run the initializer, never main
		WithStartFunctions("_initialize")

	// deterministic env order keeps instantiation reproducible
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cfg = cfg.WithEnv(k, c.Env[k])
	}

	if c.Stdout != nil {
		cfg = cfg.WithStdout(c.Stdout)
	}
	if c.Stderr != nil {
		cfg = cfg.WithStderr(c.Stderr)
	}

	if len(c.Preopens) > 0 || len(c.MappedDirs) > 0 {
		fsCfg := wazero.NewFSConfig()
		for guest, host := range c.Preopens {
			if err := checkDir(host); err != nil {
				return nil, fmt.Errorf("preopen %q: %w", guest, err)
			}
			fsCfg = fsCfg.WithDirMount(host, guest)
		}
		for guest, host := range c.MappedDirs {
			if err := checkDir(host); err != nil {
				return nil, fmt.Errorf("mapped dir %q: %w", guest, err)
			}
			fsCfg = fsCfg.WithReadOnlyDirMount(host, guest)
		}
		cfg = cfg.WithFSConfig(fsCfg)
	}
	return cfg, nil
}

func checkDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
