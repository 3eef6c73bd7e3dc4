package linker

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mengsuenyan/fce/adapter"
	ferrors "github.com/mengsuenyan/fce/errors"
	"github.com/mengsuenyan/fce/itype"
)

// Link resolves every registered import to its target and freezes the
// registry. Resolution is all-or-nothing: any unresolved import, shape
// mismatch or module-level import cycle leaves the registry unlinked and
// unchanged.
func (r *Registry) Link() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.linked {
		return ferrors.LinkState("already linked")
	}

	type resolution struct {
		binding      *importBinding
		target       adapter.ImportFunc
		targetModule string
	}
	var scratch []resolution
	edges := make(map[string][]string)

	for _, name := range r.order {
		st := r.modules[name]
		for _, b := range st.imports {
			target, targetModule, err := r.resolveLocked(st, b)
			if err != nil {
				return err
			}
			scratch = append(scratch, resolution{binding: b, target: target, targetModule: targetModule})
			if targetModule != "" {
				edges[name] = append(edges[name], targetModule)
			}
		}
	}

	if cycle := findCycle(r.order, edges); cycle != "" {
		return ferrors.ImportCycle(cycle)
	}

	for _, res := range scratch {
		res.binding.target = res.target
		res.binding.targetModule = res.targetModule
	}
	r.linked = true
	r.log.Info("registry linked",
		zap.Int("modules", len(r.order)),
		zap.Int("imports", len(scratch)))
	return nil
}

// resolveLocked finds the target for one import. Precedence: a registered
// module under the namespace, then embedder host functions, then built-in
// capabilities.
func (r *Registry) resolveLocked(st *moduleState, b *importBinding) (adapter.ImportFunc, string, error) {
	ns, fn := b.sig.Namespace, b.sig.Name
	if mapped, ok := st.redirect[ns]; ok {
		ns = mapped
	}

	if target, ok := r.modules[ns]; ok {
		exportSig, ok := target.iface.Export(fn)
		if !ok {
			return nil, "", ferrors.UnresolvedImport(st.name, ns, fn)
		}
		if !shapesMatch(b.sig.FuncSignature, st.iface.Records, exportSig, target.iface.Records) {
			want := deepResolveSignature(b.sig.FuncSignature, st.iface.Records)
			got := deepResolveSignature(exportSig, target.iface.Records)
			return nil, "", ferrors.SignatureMismatch(st.name, ns+"."+fn, want.String(), got.String())
		}
		call := func(ctx context.Context, args []itype.Value) ([]itype.Value, error) {
			return r.callState(ctx, target, fn, args)
		}
		return call, ns, nil
	}

	key := ns + "." + fn
	if h, ok := r.hosts[key]; ok {
		if err := checkHostShape(st, b, key, h.sig); err != nil {
			return nil, "", err
		}
		return adapter.ImportFunc(h.fn), "", nil
	}
	if c, ok := r.caps[key]; ok {
		if err := checkHostShape(st, b, key, c.sig); err != nil {
			return nil, "", err
		}
		return adapter.ImportFunc(c.fn), "", nil
	}
	return nil, "", ferrors.UnresolvedImport(st.name, ns, fn)
}

// checkHostShape compares an import declaration against a host function's
// declared signature. Host signatures are self-contained, so the export
// side resolves against an empty record table.
func checkHostShape(st *moduleState, b *importBinding, key string, sig itype.FuncSignature) error {
	if shapesMatch(b.sig.FuncSignature, st.iface.Records, sig, nil) {
		return nil
	}
	want := deepResolveSignature(b.sig.FuncSignature, st.iface.Records)
	return ferrors.SignatureMismatch(st.name, key, want.String(), sig.String())
}

// shapesMatch compares an import declaration to an export declaration with
// record references resolved against each side's own record table. Record
// names are insignificant across modules; field sequences are what must
// agree.
func shapesMatch(imp itype.FuncSignature, impRecords map[string]itype.Type, exp itype.FuncSignature, expRecords map[string]itype.Type) bool {
	return deepResolveSignature(imp, impRecords).ShapeEqual(deepResolveSignature(exp, expRecords))
}

func deepResolveSignature(sig itype.FuncSignature, records map[string]itype.Type) itype.FuncSignature {
	out := itype.FuncSignature{Name: sig.Name}
	for _, p := range sig.Params {
		out.Params = append(out.Params, itype.Param{Name: p.Name, Type: deepResolveType(p.Type, records, 0)})
	}
	for _, t := range sig.Results {
		out.Results = append(out.Results, deepResolveType(t, records, 0))
	}
	return out
}

// deepResolveType expands record references into their shapes. Generation
// already rejected directly recursive records; the depth guard covers
// list-indirected self reference, which is legal but must not expand
// forever.
func deepResolveType(t itype.Type, records map[string]itype.Type, depth int) itype.Type {
	const maxExpand = 32
	if depth > maxExpand {
		return t
	}
	switch t.Kind {
	case itype.KindRecordRef:
		rec, ok := records[t.Name]
		if !ok {
			return t
		}
		return deepResolveType(rec, records, depth+1)
	case itype.KindList:
		elem := deepResolveType(*t.Elem, records, depth+1)
		return itype.ListOfT(elem)
	case itype.KindRecord:
		fields := make([]itype.Field, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = itype.Field{Name: f.Name, Type: deepResolveType(f.Type, records, depth+1)}
		}
		return itype.RecordT(t.Name, fields...)
	}
	return t
}

// findCycle runs a depth-first search over the module import graph and
// renders the first cycle found as "a -> b -> a".
func findCycle(order []string, edges map[string][]string) string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(order))
	var stack []string

	var visit func(n string) string
	visit = func(n string) string {
		color[n] = gray
		stack = append(stack, n)
		for _, next := range edges[n] {
			switch color[next] {
			case gray:
				// slice the stack from the first occurrence of next
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				return strings.Join(append(stack[start:], next), " -> ")
			case white:
				if c := visit(next); c != "" {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return ""
	}

	for _, n := range order {
		if color[n] == white {
			if c := visit(n); c != "" {
				return c
			}
		}
	}
	return ""
}
