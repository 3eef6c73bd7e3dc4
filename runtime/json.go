package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"

	ferrors "github.com/mengsuenyan/fce/errors"
	"github.com/mengsuenyan/fce/itype"
)

// CallJSON invokes module.fn with JSON-encoded arguments and returns the
// results as a JSON array. Arguments are either a JSON array matched to
// parameters by position, or a JSON object matched by parameter name.
// Empty or null input means no arguments.
func (r *Runtime) CallJSON(ctx context.Context, module, fn string, argsJSON []byte) ([]byte, error) {
	iface, err := r.reg.Interface(module)
	if err != nil {
		return nil, err
	}
	sig, ok := iface.Export(fn)
	if !ok {
		return nil, ferrors.FunctionNotFound(module, fn)
	}

	args, err := decodeArgs(sig, iface.Records, argsJSON)
	if err != nil {
		return nil, err
	}

	out, err := r.reg.Call(ctx, module, fn, args)
	if err != nil {
		return nil, err
	}

	encoded := make([]any, len(out))
	for i, v := range out {
		encoded[i] = valueToJSON(v)
	}
	return json.Marshal(encoded)
}

func decodeArgs(sig itype.FuncSignature, records map[string]itype.Type, data []byte) ([]itype.Value, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if len(sig.Params) != 0 {
			return nil, jsonErr(sig.Name, "function takes %d arguments, got none", len(sig.Params))
		}
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, jsonErr(sig.Name, "decode arguments: %v", err)
	}

	var positional []any
	switch v := raw.(type) {
	case []any:
		positional = v
	case map[string]any:
		positional = make([]any, len(sig.Params))
		for i, p := range sig.Params {
			arg, ok := v[p.Name]
			if !ok {
				return nil, jsonErr(sig.Name, "missing argument %q", p.Name)
			}
			positional[i] = arg
		}
	default:
		return nil, jsonErr(sig.Name, "arguments must be a JSON array or object")
	}

	if len(positional) != len(sig.Params) {
		return nil, jsonErr(sig.Name, "function takes %d arguments, got %d", len(sig.Params), len(positional))
	}

	args := make([]itype.Value, len(positional))
	for i, raw := range positional {
		v, err := valueFromJSON(sig.Params[i].Type, records, raw)
		if err != nil {
			return nil, jsonErr(sig.Name, "argument %q: %v", sig.Params[i].Name, err)
		}
		args[i] = v
	}
	return args, nil
}

func valueFromJSON(t itype.Type, records map[string]itype.Type, raw any) (itype.Value, error) {
	if t.Kind == itype.KindRecordRef {
		rec, ok := records[t.Name]
		if !ok {
			return itype.Value{}, fmt.Errorf("unknown record %q", t.Name)
		}
		t = rec
	}

	switch t.Kind {
	case itype.KindI32, itype.KindI64:
		n, ok := raw.(json.Number)
		if !ok {
			return itype.Value{}, fmt.Errorf("expected a number, got %T", raw)
		}
		i, err := n.Int64()
		if err != nil {
			return itype.Value{}, fmt.Errorf("expected an integer, got %s", n)
		}
		if t.Kind == itype.KindI32 {
			if i < math.MinInt32 || i > math.MaxInt32 {
				return itype.Value{}, fmt.Errorf("%d out of i32 range", i)
			}
			return itype.Int32(int32(i)), nil
		}
		return itype.Int64(i), nil

	case itype.KindF32, itype.KindF64:
		n, ok := raw.(json.Number)
		if !ok {
			return itype.Value{}, fmt.Errorf("expected a number, got %T", raw)
		}
		f, err := n.Float64()
		if err != nil {
			return itype.Value{}, fmt.Errorf("bad float %s", n)
		}
		if t.Kind == itype.KindF32 {
			return itype.Float32(float32(f)), nil
		}
		return itype.Float64(f), nil

	case itype.KindString:
		s, ok := raw.(string)
		if !ok {
			return itype.Value{}, fmt.Errorf("expected a string, got %T", raw)
		}
		return itype.Str(s), nil

	case itype.KindList:
		arr, ok := raw.([]any)
		if !ok {
			return itype.Value{}, fmt.Errorf("expected an array, got %T", raw)
		}
		elems := make([]itype.Value, len(arr))
		for i, e := range arr {
			v, err := valueFromJSON(*t.Elem, records, e)
			if err != nil {
				return itype.Value{}, fmt.Errorf("[%d]: %v", i, err)
			}
			elems[i] = v
		}
		return itype.ListOf(elems...), nil

	case itype.KindRecord:
		obj, ok := raw.(map[string]any)
		if !ok {
			return itype.Value{}, fmt.Errorf("expected an object, got %T", raw)
		}
		fields := make([]itype.Value, len(t.Fields))
		for i, f := range t.Fields {
			fv, ok := obj[f.Name]
			if !ok {
				return itype.Value{}, fmt.Errorf("missing field %q", f.Name)
			}
			v, err := valueFromJSON(f.Type, records, fv)
			if err != nil {
				return itype.Value{}, fmt.Errorf("field %q: %v", f.Name, err)
			}
			fields[i] = v
		}
		return itype.RecordOf(t, fields...), nil
	}
	return itype.Value{}, fmt.Errorf("unsupported type %s", t)
}

func valueToJSON(v itype.Value) any {
	switch v.Kind() {
	case itype.KindI32:
		return v.I32()
	case itype.KindI64:
		return v.I64()
	case itype.KindF32:
		return v.F32()
	case itype.KindF64:
		return v.F64()
	case itype.KindString:
		return v.Str()
	case itype.KindList:
		out := make([]any, len(v.List()))
		for i, e := range v.List() {
			out[i] = valueToJSON(e)
		}
		return out
	case itype.KindRecord:
		shape := v.RecordShape()
		fields := v.Fields()
		if shape == nil || len(shape.Fields) != len(fields) {
			out := make([]any, len(fields))
			for i, f := range fields {
				out[i] = valueToJSON(f)
			}
			return out
		}
		out := make(map[string]any, len(fields))
		for i, f := range fields {
			out[shape.Fields[i].Name] = valueToJSON(f)
		}
		return out
	}
	return nil
}

func jsonErr(fn, format string, args ...any) error {
	return ferrors.New(ferrors.PhaseCall, ferrors.KindInvalidInput).
		Name(fn).
		Detail(format, args...).
		Build()
}
