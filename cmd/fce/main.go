package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/mengsuenyan/fce/config"
	"github.com/mengsuenyan/fce/engine"
	"github.com/mengsuenyan/fce/itype"
	"github.com/mengsuenyan/fce/linker"
	"github.com/mengsuenyan/fce/runtime"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to application config (YAML)")
		call        = flag.String("call", "", "Function to call as module.function")
		args        = flag.String("args", "", "Call arguments as a JSON array or object")
		list        = flag.Bool("list", false, "List modules and exported functions, then exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Verbose logging to stderr")
	)
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: fce -config <app.yaml> -call module.function [-args '[1,2]']")
		fmt.Fprintln(os.Stderr, "       fce -config <app.yaml> -list")
		fmt.Fprintln(os.Stderr, "       fce -config <app.yaml> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		log, err := zap.NewDevelopment()
		if err == nil {
			runtime.SetLogger(log)
			linker.SetLogger(log)
			engine.SetLogger(log)
			defer log.Sync()
		}
	}

	if *interactive {
		if err := runInteractive(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*configFile, *call, *args, *list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, call, args string, listOnly bool) error {
	ctx := context.Background()

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	rt := runtime.New()
	defer rt.Close(ctx)

	if err := rt.LoadConfig(ctx, cfg); err != nil {
		return err
	}

	if listOnly {
		printInterface(rt)
		return nil
	}

	module, fn, ok := strings.Cut(call, ".")
	if !ok || module == "" || fn == "" {
		return fmt.Errorf("-call wants module.function, got %q", call)
	}

	if err := rt.Link(); err != nil {
		return err
	}

	out, err := rt.CallJSON(ctx, module, fn, []byte(args))
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printInterface(rt *runtime.Runtime) {
	for _, name := range rt.Modules() {
		iface, err := rt.ModuleInterface(name)
		if err != nil {
			continue
		}
		fmt.Printf("%s:\n", name)
		for _, fn := range iface.Exports {
			fmt.Printf("  %s\n", formatSignature(fn))
		}
		for _, imp := range iface.Imports {
			fmt.Printf("  (imports %s.%s)\n", imp.Namespace, imp.Name)
		}
	}
}

func formatSignature(fn itype.FuncSignature) string {
	var b strings.Builder
	b.WriteString(fn.Name)
	b.WriteByte('(')
	for i, p := range fn.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(p.Type.String())
	}
	b.WriteByte(')')
	for i, res := range fn.Results {
		if i == 0 {
			b.WriteString(" -> ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(res.String())
	}
	return b.String()
}
