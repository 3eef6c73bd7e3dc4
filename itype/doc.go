// Package itype defines the interface-type system: type shapes, rich values
// and function signatures used to describe module boundaries. Everything here
// is pure data with structural comparison; behavior lives in the adapter and
// linker packages.
package itype
