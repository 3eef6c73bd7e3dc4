package adapter

import (
	ferrors "github.com/mengsuenyan/fce/errors"
	"github.com/mengsuenyan/fce/itype"
)

// MaxAlloc caps a single guest allocation made while lowering values.
const MaxAlloc = 1 << 30

// resolve replaces a record reference with its declared shape. All other
// types pass through unchanged.
func resolve(t *itype.Type, records map[string]itype.Type) (*itype.Type, error) {
	if t.Kind != itype.KindRecordRef {
		return t, nil
	}
	rec, ok := records[t.Name]
	if !ok {
		return nil, ferrors.UnknownRecord("", t.Name)
	}
	return &rec, nil
}

// flatten maps an interface type to the core value slots it occupies across
// the numeric ABI: numerics map to themselves, strings and lists to a
// (ptr, len) pair of i32, records to the concatenation of their fields.
func flatten(t *itype.Type, records map[string]itype.Type, seen map[string]bool) ([]CoreType, error) {
	switch t.Kind {
	case itype.KindI32:
		return []CoreType{CoreI32}, nil
	case itype.KindI64:
		return []CoreType{CoreI64}, nil
	case itype.KindF32:
		return []CoreType{CoreF32}, nil
	case itype.KindF64:
		return []CoreType{CoreF64}, nil
	case itype.KindString:
		return []CoreType{CoreI32, CoreI32}, nil
	case itype.KindList:
		// The element type never contributes slots, so walk it here:
		// a record cycle hiding behind the list must still be rejected
		// before an adapter program is built around it.
		if err := checkRecordGraph(t.Elem, records, nil, make(map[string]bool)); err != nil {
			return nil, err
		}
		return []CoreType{CoreI32, CoreI32}, nil
	case itype.KindRecord:
		var out []CoreType
		for i := range t.Fields {
			ft, err := flatten(&t.Fields[i].Type, records, seen)
			if err != nil {
				return nil, err
			}
			out = append(out, ft...)
		}
		return out, nil
	case itype.KindRecordRef:
		if seen[t.Name] {
			return nil, ferrors.New(ferrors.PhaseGenerate, ferrors.KindMalformedInterface).
				Name(t.Name).
				Detail("record is directly recursive").
				Build()
		}
		rec, err := resolve(t, records)
		if err != nil {
			return nil, err
		}
		if seen == nil {
			seen = make(map[string]bool)
		}
		seen[t.Name] = true
		out, err := flatten(rec, records, seen)
		delete(seen, t.Name)
		return out, err
	}
	return nil, ferrors.Internal("flatten: unknown kind %v", t.Kind)
}

// checkRecordGraph rejects record cycles that run through fields alone.
// path holds the records on the current field chain; a list resets it,
// since list elements live behind a (ptr, len) indirection and a cycle
// crossing one has a finite footprint. visited memoizes records whose
// field closure has already been walked.
func checkRecordGraph(t *itype.Type, records map[string]itype.Type, path, visited map[string]bool) error {
	switch t.Kind {
	case itype.KindList:
		return checkRecordGraph(t.Elem, records, nil, visited)
	case itype.KindRecord:
		for i := range t.Fields {
			if err := checkRecordGraph(&t.Fields[i].Type, records, path, visited); err != nil {
				return err
			}
		}
	case itype.KindRecordRef:
		if path[t.Name] {
			return ferrors.New(ferrors.PhaseGenerate, ferrors.KindMalformedInterface).
				Name(t.Name).
				Detail("record is recursive").
				Build()
		}
		if visited[t.Name] {
			return nil
		}
		rec, err := resolve(t, records)
		if err != nil {
			return err
		}
		visited[t.Name] = true
		if path == nil {
			path = make(map[string]bool)
		}
		path[t.Name] = true
		err = checkRecordGraph(rec, records, path, visited)
		delete(path, t.Name)
		return err
	}
	return nil
}

// maxTypeDepth bounds memSize recursion. Generation rejects recursive
// records, so hitting the bound means a program was built from a type
// table it never validated.
const maxTypeDepth = 64

// memSize is the packed in-memory footprint of one value of t when stored
// as a list element or record field. Strings and lists store a (ptr, len)
// pair of u32.
func memSize(t *itype.Type, records map[string]itype.Type) (uint32, error) {
	return memSizeAt(t, records, 0)
}

func memSizeAt(t *itype.Type, records map[string]itype.Type, depth int) (uint32, error) {
	if depth > maxTypeDepth {
		return 0, ferrors.Internal("memSize: type nesting exceeds %d", maxTypeDepth)
	}
	switch t.Kind {
	case itype.KindI32, itype.KindF32:
		return 4, nil
	case itype.KindI64, itype.KindF64:
		return 8, nil
	case itype.KindString, itype.KindList:
		return 8, nil
	case itype.KindRecord:
		var total uint32
		for i := range t.Fields {
			n, err := memSizeAt(&t.Fields[i].Type, records, depth+1)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	case itype.KindRecordRef:
		rec, err := resolve(t, records)
		if err != nil {
			return 0, err
		}
		return memSizeAt(rec, records, depth+1)
	}
	return 0, ferrors.Internal("memSize: unknown kind %v", t.Kind)
}

// usesMemory reports whether adapting a value of t touches guest memory,
// which is what obliges the module to export an allocator.
func usesMemory(t *itype.Type, records map[string]itype.Type) bool {
	switch t.Kind {
	case itype.KindString, itype.KindList:
		return true
	case itype.KindRecord:
		for i := range t.Fields {
			if usesMemory(&t.Fields[i].Type, records) {
				return true
			}
		}
	case itype.KindRecordRef:
		if rec, err := resolve(t, records); err == nil {
			return usesMemory(rec, records)
		}
	}
	return false
}
