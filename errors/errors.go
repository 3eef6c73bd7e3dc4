package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseConfig   Phase = "config"   // application config loading
	PhaseParse    Phase = "parse"    // interface description parsing
	PhaseGenerate Phase = "generate" // adapter program generation
	PhaseRegister Phase = "register" // module registration/instantiation
	PhaseLink     Phase = "link"     // import resolution
	PhaseCall     Phase = "call"     // call-surface lookup and usage
	PhaseTrap     Phase = "trap"     // adapter or executor runtime failure
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedInterface  Kind = "malformed_interface"
	KindDuplicateModule     Kind = "duplicate_module"
	KindDuplicateName       Kind = "duplicate_name"
	KindUnresolvedImport    Kind = "unresolved_import"
	KindSignatureMismatch   Kind = "signature_mismatch"
	KindImportCycle         Kind = "import_cycle"
	KindAbiArityMismatch    Kind = "abi_arity_mismatch"
	KindUnknownRecord       Kind = "unknown_record"
	KindMissingAllocator    Kind = "missing_allocator"
	KindInstantiationFailed Kind = "instantiation_failed"
	KindLinkState           Kind = "link_state"
	KindModuleNotFound      Kind = "module_not_found"
	KindFunctionNotFound    Kind = "function_not_found"
	KindOutOfBounds         Kind = "out_of_bounds"
	KindAllocationFailed    Kind = "allocation_failed"
	KindOverflow            Kind = "overflow"
	KindInvalidUTF8         Kind = "invalid_utf8"
	KindInvalidData         Kind = "invalid_data"
	KindInstancePoisoned    Kind = "instance_poisoned"
	KindInvalidInput        Kind = "invalid_input"
	KindInternal            Kind = "internal"
)

// Error is the structured error type used throughout the engine
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Mod    string // module name, when known
	Name   string // function/import/record name, when known
	Detail string
	Line   int // 1-based source line for parse errors, 0 otherwise
	Column int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Mod != "" || e.Name != "" {
		b.WriteString(" at ")
		if e.Mod != "" {
			b.WriteString(e.Mod)
			if e.Name != "" {
				b.WriteByte('.')
			}
		}
		b.WriteString(e.Name)
	}

	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d, col %d)", e.Line, e.Column)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by phase and kind
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsPhase reports whether err is an *Error from the given phase.
func IsPhase(err error, phase Phase) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Phase == phase {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Module sets the module name
func (b *Builder) Module(name string) *Builder {
	b.err.Mod = name
	return b
}

// Name sets the function, import or record name
func (b *Builder) Name(name string) *Builder {
	b.err.Name = name
	return b
}

// Pos sets the source position for parse errors
func (b *Builder) Pos(line, column int) *Builder {
	b.err.Line = line
	b.err.Column = column
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Malformed creates an interface-description parse error at a source position
func Malformed(line, column int, detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindMalformedInterface,
		Line:   line,
		Column: column,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// DuplicateModule reports a second registration under an existing name
func DuplicateModule(module string) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindDuplicateModule,
		Mod:    module,
		Detail: "module already registered",
	}
}

// UnresolvedImport reports an import with no matching target
func UnresolvedImport(module, namespace, name string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindUnresolvedImport,
		Mod:    module,
		Name:   namespace + "." + name,
		Detail: "no registered module, host function or capability provides this import",
	}
}

// SignatureMismatch reports incompatible import/target shapes
func SignatureMismatch(module, name, want, got string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindSignatureMismatch,
		Mod:    module,
		Name:   name,
		Detail: fmt.Sprintf("import declares %s, target provides %s", want, got),
	}
}

// AbiArityMismatch reports a flattened signature that disagrees with the
// module's raw numeric ABI
func AbiArityMismatch(module, fn, want, got string) *Error {
	return &Error{
		Phase:  PhaseGenerate,
		Kind:   KindAbiArityMismatch,
		Mod:    module,
		Name:   fn,
		Detail: fmt.Sprintf("interface flattens to %s but core function has %s", want, got),
	}
}

// UnknownRecord reports a record name missing from the module's record table
func UnknownRecord(module, record string) *Error {
	return &Error{
		Phase:  PhaseGenerate,
		Kind:   KindUnknownRecord,
		Mod:    module,
		Name:   record,
		Detail: "record type not declared in module interface",
	}
}

// MissingAllocator reports a module whose interface needs guest memory but
// which exports no allocator
func MissingAllocator(module, export string) *Error {
	return &Error{
		Phase:  PhaseGenerate,
		Kind:   KindMissingAllocator,
		Mod:    module,
		Detail: fmt.Sprintf("interface uses memory types but module does not export %q", export),
	}
}

// Instantiation wraps an executor failure during module instantiation
func Instantiation(module string, cause error) *Error {
	return &Error{
		Phase: PhaseRegister,
		Kind:  KindInstantiationFailed,
		Mod:   module,
		Cause: cause,
	}
}

// LinkState reports link() being called at the wrong time
func LinkState(detail string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindLinkState,
		Detail: detail,
	}
}

// ModuleNotFound reports an unknown module name at call time
func ModuleNotFound(module string) *Error {
	return &Error{
		Phase: PhaseCall,
		Kind:  KindModuleNotFound,
		Mod:   module,
	}
}

// FunctionNotFound reports an unknown export name at call time
func FunctionNotFound(module, fn string) *Error {
	return &Error{
		Phase: PhaseCall,
		Kind:  KindFunctionNotFound,
		Mod:   module,
		Name:  fn,
	}
}

// Poisoned reports a call against an instance that trapped earlier
func Poisoned(module string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindInstancePoisoned,
		Mod:    module,
		Detail: "instance poisoned by an earlier trap",
	}
}

// ImportCycle reports module-level circular imports found at link time
func ImportCycle(path string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindImportCycle,
		Detail: path,
	}
}

// OutOfBounds creates a memory range violation trap
func OutOfBounds(offset, length, size uint32) *Error {
	return &Error{
		Phase:  PhaseTrap,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) exceeds memory size %d", offset, uint64(offset)+uint64(length), size),
	}
}

// AllocationFailed creates an allocator failure trap
func AllocationFailed(size uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseTrap,
		Kind:   KindAllocationFailed,
		Detail: fmt.Sprintf("guest allocator failed for %d bytes", size),
		Cause:  cause,
	}
}

// Overflow creates a size computation overflow trap
func Overflow(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseTrap,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// InvalidUTF8 creates an invalid string data trap
func InvalidUTF8(data []byte) *Error {
	preview := data
	if len(preview) > 16 {
		preview = preview[:16]
	}
	return &Error{
		Phase:  PhaseTrap,
		Kind:   KindInvalidUTF8,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// Internal reports a broken machine-generated invariant, never a user error
func Internal(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseTrap,
		Kind:   KindInternal,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// Wrap wraps an existing error with phase and kind context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
