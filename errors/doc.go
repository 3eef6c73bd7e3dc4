// Package errors provides structured error types for the compute engine.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the module and function names involved so
// configuration mistakes can be traced back to the offending module.
//
// Use the Builder for structured construction:
//
//	err := errors.New(errors.PhaseLink, errors.KindSignatureMismatch).
//		Module("site").
//		Name("to-upper").
//		Detail("import declares %s, export provides %s", want, got).
//		Build()
//
// Or the convenience constructors for common patterns:
//
//	err := errors.OutOfBounds(errors.PhaseTrap, offset, length, memSize)
//	err := errors.UnresolvedImport("site", "strings", "to-upper")
//
// All errors implement the standard error interface and support errors.Is/As.
// Two *Error values match under errors.Is when their Phase and Kind agree.
package errors
