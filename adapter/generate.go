package adapter

import (
	"slices"

	ferrors "github.com/mengsuenyan/fce/errors"
	"github.com/mengsuenyan/fce/itype"
)

// AllocExport is the export name a module must provide before any of its
// adapted functions may move strings, lists or records through its memory.
// The matching optional release export is DeallocExport.
const (
	AllocExport   = "allocate"
	DeallocExport = "deallocate"
)

// GenerateExport compiles the adapter program for one exported function.
// fn is the declared interface signature, core the raw numeric signature of
// the module's export of the same name. The flattened interface signature
// must agree with core exactly.
func GenerateExport(module string, fn itype.FuncSignature, core CoreSignature, records map[string]itype.Type, hasAllocator bool) (*Program, error) {
	prog := &Program{
		Name:    fn.Name,
		Kind:    ProgramExport,
		NumArgs: len(fn.Params),
		Params:  fn.ParamTypes(),
		Results: slices.Clone(fn.Results),
		records: records,
	}

	var flatParams []CoreType
	usesMem := false
	for i := range fn.Params {
		t := &fn.Params[i].Type
		f, err := flatten(t, records, nil)
		if err != nil {
			return nil, annotate(err, module, fn.Name)
		}
		flatParams = append(flatParams, f...)
		usesMem = usesMem || usesMemory(t, records)

		prog.Instructions = append(prog.Instructions, Instruction{Op: OpArgGet, Index: i})
		low, err := lowerOp(t, records)
		if err != nil {
			return nil, annotate(err, module, fn.Name)
		}
		prog.Instructions = append(prog.Instructions, low)
	}

	var flatResults []CoreType
	type lifted struct {
		ins    Instruction
		offset int
		slots  int
	}
	var lifts []lifted
	for i := range fn.Results {
		t := &fn.Results[i]
		f, err := flatten(t, records, nil)
		if err != nil {
			return nil, annotate(err, module, fn.Name)
		}
		usesMem = usesMem || usesMemory(t, records)
		li, err := liftOp(t, records, len(f))
		if err != nil {
			return nil, annotate(err, module, fn.Name)
		}
		lifts = append(lifts, lifted{ins: li, offset: len(flatResults), slots: len(f)})
		flatResults = append(flatResults, f...)
	}

	want := CoreSignature{Params: flatParams, Results: flatResults}
	if !slices.Equal(flatParams, core.Params) || !slices.Equal(flatResults, core.Results) {
		return nil, ferrors.AbiArityMismatch(module, fn.Name, want.String(), core.String())
	}
	if usesMem && !hasAllocator {
		return nil, ferrors.MissingAllocator(module, AllocExport)
	}

	prog.Instructions = append(prog.Instructions, Instruction{
		Op:    OpCallCore,
		Name:  fn.Name,
		Arity: len(flatParams),
	})
	for _, l := range lifts {
		for s := 0; s < l.slots; s++ {
			prog.Instructions = append(prog.Instructions, Instruction{Op: OpRetGet, Index: l.offset + s})
		}
		prog.Instructions = append(prog.Instructions, l.ins)
	}

	prog.CoreParams = flatParams
	prog.CoreResults = flatResults
	return prog, nil
}

// GenerateImport compiles the adapter program for one imported function.
// core is the numeric signature the module declares for the import; index
// is the import's slot in the dispatch table installed at link time.
func GenerateImport(module string, imp itype.Import, index int, core CoreSignature, records map[string]itype.Type, hasAllocator bool) (*Program, error) {
	full := imp.Namespace + "." + imp.Name
	prog := &Program{
		Name:    full,
		Kind:    ProgramImport,
		Params:  imp.ParamTypes(),
		Results: slices.Clone(imp.Results),
		records: records,
	}

	var flatParams []CoreType
	usesMem := false
	for i := range imp.Params {
		t := &imp.Params[i].Type
		f, err := flatten(t, records, nil)
		if err != nil {
			return nil, annotate(err, module, full)
		}
		usesMem = usesMem || usesMemory(t, records)

		for s := 0; s < len(f); s++ {
			prog.Instructions = append(prog.Instructions, Instruction{Op: OpArgGet, Index: len(flatParams) + s})
		}
		li, err := liftOp(t, records, len(f))
		if err != nil {
			return nil, annotate(err, module, full)
		}
		prog.Instructions = append(prog.Instructions, li)
		flatParams = append(flatParams, f...)
	}

	prog.Instructions = append(prog.Instructions, Instruction{
		Op:    OpCallImport,
		Index: index,
		Arity: len(imp.Params),
	})

	var flatResults []CoreType
	for i := range imp.Results {
		t := &imp.Results[i]
		f, err := flatten(t, records, nil)
		if err != nil {
			return nil, annotate(err, module, full)
		}
		usesMem = usesMem || usesMemory(t, records)
		flatResults = append(flatResults, f...)

		prog.Instructions = append(prog.Instructions, Instruction{Op: OpRetGet, Index: i})
		low, err := lowerOp(t, records)
		if err != nil {
			return nil, annotate(err, module, full)
		}
		prog.Instructions = append(prog.Instructions, low)
	}

	want := CoreSignature{Params: flatParams, Results: flatResults}
	if !slices.Equal(flatParams, core.Params) || !slices.Equal(flatResults, core.Results) {
		return nil, ferrors.AbiArityMismatch(module, full, want.String(), core.String())
	}
	if usesMem && !hasAllocator {
		return nil, ferrors.MissingAllocator(module, AllocExport)
	}

	prog.NumArgs = len(flatParams)
	prog.CoreParams = flatParams
	prog.CoreResults = flatResults
	return prog, nil
}

// Flatten exposes the ABI flattening of one interface type. Callers use it
// to derive the numeric signature an import target must satisfy.
func Flatten(t *itype.Type, records map[string]itype.Type) ([]CoreType, error) {
	return flatten(t, records, nil)
}

// FlattenSignature maps a full interface signature to its core signature.
func FlattenSignature(params []itype.Param, results []itype.Type, records map[string]itype.Type) (CoreSignature, error) {
	var sig CoreSignature
	for i := range params {
		f, err := flatten(&params[i].Type, records, nil)
		if err != nil {
			return CoreSignature{}, err
		}
		sig.Params = append(sig.Params, f...)
	}
	for i := range results {
		f, err := flatten(&results[i], records, nil)
		if err != nil {
			return CoreSignature{}, err
		}
		sig.Results = append(sig.Results, f...)
	}
	return sig, nil
}

// NeedsAllocator reports whether any function in the interface moves values
// through guest memory.
func NeedsAllocator(iface *itype.ModuleInterface) bool {
	uses := func(params []itype.Param, results []itype.Type) bool {
		for i := range params {
			if usesMemory(&params[i].Type, iface.Records) {
				return true
			}
		}
		for i := range results {
			if usesMemory(&results[i], iface.Records) {
				return true
			}
		}
		return false
	}
	for _, e := range iface.Exports {
		if uses(e.Params, e.Results) {
			return true
		}
	}
	for _, im := range iface.Imports {
		if uses(im.Params, im.Results) {
			return true
		}
	}
	return false
}

func lowerOp(t *itype.Type, records map[string]itype.Type) (Instruction, error) {
	switch t.Kind {
	case itype.KindI32, itype.KindI64, itype.KindF32, itype.KindF64:
		return Instruction{Op: OpCheckNumeric, Type: t}, nil
	case itype.KindString:
		return Instruction{Op: OpLowerString}, nil
	case itype.KindList:
		return Instruction{Op: OpLowerList, Type: t}, nil
	case itype.KindRecord:
		return Instruction{Op: OpLowerRecord, Type: t}, nil
	case itype.KindRecordRef:
		rec, err := resolve(t, records)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Op: OpLowerRecord, Type: rec}, nil
	}
	return Instruction{}, ferrors.Internal("lower: unknown kind %v", t.Kind)
}

func liftOp(t *itype.Type, records map[string]itype.Type, slots int) (Instruction, error) {
	switch t.Kind {
	case itype.KindI32, itype.KindI64, itype.KindF32, itype.KindF64:
		return Instruction{Op: OpCheckNumeric, Type: t}, nil
	case itype.KindString:
		return Instruction{Op: OpLiftString}, nil
	case itype.KindList:
		return Instruction{Op: OpLiftList, Type: t}, nil
	case itype.KindRecord:
		return Instruction{Op: OpLiftRecord, Type: t, Arity: slots}, nil
	case itype.KindRecordRef:
		rec, err := resolve(t, records)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Op: OpLiftRecord, Type: rec, Arity: slots}, nil
	}
	return Instruction{}, ferrors.Internal("lift: unknown kind %v", t.Kind)
}

func annotate(err error, module, name string) error {
	if e, ok := err.(*ferrors.Error); ok {
		if e.Mod == "" {
			e.Mod = module
		}
		if e.Name == "" {
			e.Name = name
		}
	}
	return err
}
