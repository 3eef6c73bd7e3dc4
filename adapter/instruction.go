package adapter

import (
	"fmt"
	"strings"

	"github.com/mengsuenyan/fce/itype"
)

// CoreType is a value type of the numeric module ABI.
type CoreType byte

const (
	CoreI32 CoreType = iota
	CoreI64
	CoreF32
	CoreF64
)

func (c CoreType) String() string {
	switch c {
	case CoreI32:
		return "i32"
	case CoreI64:
		return "i64"
	case CoreF32:
		return "f32"
	case CoreF64:
		return "f64"
	}
	return fmt.Sprintf("core(%d)", byte(c))
}

// CoreSignature is the raw numeric signature of a core function.
type CoreSignature struct {
	Params  []CoreType
	Results []CoreType
}

func (s CoreSignature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> (")
	for i, r := range s.Results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Op identifies an adapter instruction.
type Op byte

const (
	// OpArgGet pushes program argument Index onto the stack.
	OpArgGet Op = iota
	// OpRetGet pushes saved call result Index onto the stack.
	OpRetGet
	// OpCheckNumeric verifies the top of stack is a numeric value of Type.
	OpCheckNumeric
	// OpCallCore pops Arity numeric values, invokes the core function Name
	// and saves its numeric results.
	OpCallCore
	// OpCallImport pops Arity interface values, dispatches to import Index
	// and saves its interface-typed results.
	OpCallImport
	// OpLowerString pops a string, copies its bytes into guest memory and
	// pushes (ptr, len).
	OpLowerString
	// OpLiftString pops (len, ptr) from the top, reads the bytes out of
	// guest memory and pushes a string.
	OpLiftString
	// OpLowerList pops a list of Type.Elem, writes its packed element array
	// into guest memory and pushes (ptr, count).
	OpLowerList
	// OpLiftList pops (count, ptr) and pushes the list read from memory.
	OpLiftList
	// OpLowerRecord pops a record of shape Type and pushes its flattened
	// field values in declaration order.
	OpLowerRecord
	// OpLiftRecord pops the Arity flattened slots of shape Type and pushes
	// the assembled record.
	OpLiftRecord
)

func (o Op) String() string {
	switch o {
	case OpArgGet:
		return "arg.get"
	case OpRetGet:
		return "ret.get"
	case OpCheckNumeric:
		return "check.numeric"
	case OpCallCore:
		return "call.core"
	case OpCallImport:
		return "call.import"
	case OpLowerString:
		return "string.lower"
	case OpLiftString:
		return "string.lift"
	case OpLowerList:
		return "list.lower"
	case OpLiftList:
		return "list.lift"
	case OpLowerRecord:
		return "record.lower"
	case OpLiftRecord:
		return "record.lift"
	}
	return fmt.Sprintf("op(%d)", byte(o))
}

// Instruction is one step of an adapter program. Index addresses arguments,
// saved results or import slots depending on Op; Arity is the number of
// stack operands consumed by calls and record lifts; Type carries the
// resolved interface type for typed operations.
type Instruction struct {
	Type  *itype.Type
	Name  string
	Index int
	Arity int
	Op    Op
}

func (in Instruction) String() string {
	switch in.Op {
	case OpArgGet, OpRetGet:
		return fmt.Sprintf("%s %d", in.Op, in.Index)
	case OpCallCore:
		return fmt.Sprintf("%s %q arity=%d", in.Op, in.Name, in.Arity)
	case OpCallImport:
		return fmt.Sprintf("%s %d arity=%d", in.Op, in.Index, in.Arity)
	case OpCheckNumeric, OpLowerList, OpLiftList, OpLowerRecord:
		return fmt.Sprintf("%s %s", in.Op, in.Type)
	case OpLiftRecord:
		return fmt.Sprintf("%s %s arity=%d", in.Op, in.Type, in.Arity)
	}
	return in.Op.String()
}

// ProgramKind distinguishes the two call directions a program adapts.
type ProgramKind byte

const (
	// ProgramExport adapts an interface-typed caller to a numeric callee.
	ProgramExport ProgramKind = iota
	// ProgramImport adapts a numeric caller to an interface-typed callee.
	ProgramImport
)

func (k ProgramKind) String() string {
	if k == ProgramImport {
		return "import"
	}
	return "export"
}

// Program is the compiled adapter for one function boundary.
//
// An export program takes interface-typed arguments and returns
// interface-typed results; its body lowers into a core call. An import
// program takes raw core arguments and returns raw core results; its body
// lifts into an import dispatch.
type Program struct {
	Name         string
	Instructions []Instruction
	// Params and Results are the interface-level types, used to validate
	// values entering and leaving the program.
	Params  []itype.Type
	Results []itype.Type
	// CoreParams and CoreResults mirror the core signature the program was
	// generated against.
	CoreParams  []CoreType
	CoreResults []CoreType
	// records is the module's record table, captured so nested record
	// references resolve identically at run time.
	records map[string]itype.Type
	NumArgs int
	Kind    ProgramKind
}

func (p *Program) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %q args=%d\n", p.Kind, p.Name, p.NumArgs)
	for i, in := range p.Instructions {
		fmt.Fprintf(&b, "  %3d: %s\n", i, in)
	}
	return b.String()
}
