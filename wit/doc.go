// Package wit parses the interface description text attached to a module
// into an itype.ModuleInterface.
//
// The dialect is line-oriented with ;; comments:
//
//	record point { x: f64, y: f64 }
//	export to-upper: func(s: string) -> string
//	export stats: func(xs: list<f64>) -> (f64, f64)
//	import host.log: func(msg: string)
//	import b.add: func(a: i32, b: i32) -> i32
//
// Parsing is a pure function of its input. Errors carry 1-based line and
// column positions and reject unknown type tags, duplicate record fields,
// and duplicate export or import names.
package wit
