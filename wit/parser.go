package wit

import (
	"github.com/mengsuenyan/fce/errors"
	"github.com/mengsuenyan/fce/itype"
)

func errMalformed(line, col int, format string, args ...any) *errors.Error {
	return errors.Malformed(line, col, format, args...)
}

// Parse turns interface description text into a ModuleInterface. It has no
// side effects and never consults the outside world.
func Parse(src string) (*itype.ModuleInterface, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.prime(); err != nil {
		return nil, err
	}

	m := &itype.ModuleInterface{Records: make(map[string]itype.Type)}
	exportNames := make(map[string]bool)
	importNames := make(map[string]bool)

	for p.tok.kind != tokEOF {
		kw, err := p.expectIdent("declaration keyword")
		if err != nil {
			return nil, err
		}
		switch kw.text {
		case "record":
			rec, err := p.parseRecord()
			if err != nil {
				return nil, err
			}
			if _, dup := m.Records[rec.Name]; dup {
				return nil, errMalformed(kw.line, kw.col, "duplicate record %q", rec.Name)
			}
			m.Records[rec.Name] = rec

		case "export":
			sig, err := p.parseFunc()
			if err != nil {
				return nil, err
			}
			if exportNames[sig.Name] {
				return nil, errMalformed(kw.line, kw.col, "duplicate export %q", sig.Name)
			}
			exportNames[sig.Name] = true
			m.Exports = append(m.Exports, sig)

		case "import":
			ns, err := p.expectIdent("import namespace")
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokDot); err != nil {
				return nil, err
			}
			sig, err := p.parseFunc()
			if err != nil {
				return nil, err
			}
			key := ns.text + "." + sig.Name
			if importNames[key] {
				return nil, errMalformed(kw.line, kw.col, "duplicate import %q", key)
			}
			importNames[key] = true
			m.Imports = append(m.Imports, itype.Import{Namespace: ns.text, FuncSignature: sig})

		default:
			return nil, errMalformed(kw.line, kw.col,
				"expected record, export or import, found %q", kw.text)
		}
	}

	if err := checkRecordRefs(m); err != nil {
		return nil, err
	}
	return m, nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) prime() error {
	return p.bump()
}

func (p *parser) bump() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) expect(kind tokenKind) error {
	if p.tok.kind != kind {
		return errMalformed(p.tok.line, p.tok.col, "expected %s, found %s", kind, p.tok.kind)
	}
	return p.bump()
}

func (p *parser) expectIdent(what string) (token, error) {
	if p.tok.kind != tokIdent {
		return token{}, errMalformed(p.tok.line, p.tok.col, "expected %s, found %s", what, p.tok.kind)
	}
	t := p.tok
	return t, p.bump()
}

// parseRecord parses `name { field: type, ... }` after the record keyword.
// Zero-field records are legal.
func (p *parser) parseRecord() (itype.Type, error) {
	name, err := p.expectIdent("record name")
	if err != nil {
		return itype.Type{}, err
	}
	if isTypeKeyword(name.text) {
		return itype.Type{}, errMalformed(name.line, name.col,
			"record name %q shadows a builtin type", name.text)
	}
	if err := p.expect(tokLBrace); err != nil {
		return itype.Type{}, err
	}

	var fields []itype.Field
	seen := make(map[string]bool)
	for p.tok.kind != tokRBrace {
		fname, err := p.expectIdent("field name")
		if err != nil {
			return itype.Type{}, err
		}
		if seen[fname.text] {
			return itype.Type{}, errMalformed(fname.line, fname.col,
				"duplicate field %q in record %q", fname.text, name.text)
		}
		seen[fname.text] = true
		if err := p.expect(tokColon); err != nil {
			return itype.Type{}, err
		}
		ft, err := p.parseType()
		if err != nil {
			return itype.Type{}, err
		}
		fields = append(fields, itype.Field{Name: fname.text, Type: ft})

		if p.tok.kind == tokComma {
			if err := p.bump(); err != nil {
				return itype.Type{}, err
			}
		} else if p.tok.kind != tokRBrace {
			return itype.Type{}, errMalformed(p.tok.line, p.tok.col,
				"expected ',' or '}' in record %q, found %s", name.text, p.tok.kind)
		}
	}
	if err := p.bump(); err != nil { // consume '}'
		return itype.Type{}, err
	}
	return itype.RecordT(name.text, fields...), nil
}

// parseFunc parses `name: func(params) [-> results]` after export/import
// keywords and namespace.
func (p *parser) parseFunc() (itype.FuncSignature, error) {
	name, err := p.expectIdent("function name")
	if err != nil {
		return itype.FuncSignature{}, err
	}
	if err := p.expect(tokColon); err != nil {
		return itype.FuncSignature{}, err
	}
	kw, err := p.expectIdent("func keyword")
	if err != nil {
		return itype.FuncSignature{}, err
	}
	if kw.text != "func" {
		return itype.FuncSignature{}, errMalformed(kw.line, kw.col,
			"expected \"func\", found %q", kw.text)
	}
	if err := p.expect(tokLParen); err != nil {
		return itype.FuncSignature{}, err
	}

	sig := itype.FuncSignature{Name: name.text}
	seen := make(map[string]bool)
	for p.tok.kind != tokRParen {
		pname, err := p.expectIdent("parameter name")
		if err != nil {
			return itype.FuncSignature{}, err
		}
		if seen[pname.text] {
			return itype.FuncSignature{}, errMalformed(pname.line, pname.col,
				"duplicate parameter %q", pname.text)
		}
		seen[pname.text] = true
		if err := p.expect(tokColon); err != nil {
			return itype.FuncSignature{}, err
		}
		pt, err := p.parseType()
		if err != nil {
			return itype.FuncSignature{}, err
		}
		sig.Params = append(sig.Params, itype.Param{Name: pname.text, Type: pt})

		if p.tok.kind == tokComma {
			if err := p.bump(); err != nil {
				return itype.FuncSignature{}, err
			}
		} else if p.tok.kind != tokRParen {
			return itype.FuncSignature{}, errMalformed(p.tok.line, p.tok.col,
				"expected ',' or ')' in parameter list, found %s", p.tok.kind)
		}
	}
	if err := p.bump(); err != nil { // consume ')'
		return itype.FuncSignature{}, err
	}

	if p.tok.kind == tokArrow {
		if err := p.bump(); err != nil {
			return itype.FuncSignature{}, err
		}
		if p.tok.kind == tokLParen {
			if err := p.bump(); err != nil {
				return itype.FuncSignature{}, err
			}
			for p.tok.kind != tokRParen {
				rt, err := p.parseType()
				if err != nil {
					return itype.FuncSignature{}, err
				}
				sig.Results = append(sig.Results, rt)
				if p.tok.kind == tokComma {
					if err := p.bump(); err != nil {
						return itype.FuncSignature{}, err
					}
				} else if p.tok.kind != tokRParen {
					return itype.FuncSignature{}, errMalformed(p.tok.line, p.tok.col,
						"expected ',' or ')' in result list, found %s", p.tok.kind)
				}
			}
			if err := p.bump(); err != nil {
				return itype.FuncSignature{}, err
			}
		} else {
			rt, err := p.parseType()
			if err != nil {
				return itype.FuncSignature{}, err
			}
			sig.Results = append(sig.Results, rt)
		}
	}

	return sig, nil
}

func isTypeKeyword(s string) bool {
	switch s {
	case "i32", "i64", "f32", "f64", "string", "list", "tuple", "func",
		"record", "export", "import":
		return true
	}
	return false
}

func (p *parser) parseType() (itype.Type, error) {
	t, err := p.expectIdent("type")
	if err != nil {
		return itype.Type{}, err
	}
	switch t.text {
	case "i32":
		return itype.I32T, nil
	case "i64":
		return itype.I64T, nil
	case "f32":
		return itype.F32T, nil
	case "f64":
		return itype.F64T, nil
	case "string":
		return itype.StringT, nil
	case "list":
		if err := p.expect(tokLAngle); err != nil {
			return itype.Type{}, err
		}
		elem, err := p.parseType()
		if err != nil {
			return itype.Type{}, err
		}
		if err := p.expect(tokRAngle); err != nil {
			return itype.Type{}, err
		}
		return itype.ListOfT(elem), nil
	case "tuple":
		// tuples are anonymous records with positional field names
		if err := p.expect(tokLAngle); err != nil {
			return itype.Type{}, err
		}
		var fields []itype.Field
		for {
			elem, err := p.parseType()
			if err != nil {
				return itype.Type{}, err
			}
			fields = append(fields, itype.Field{Type: elem})
			if p.tok.kind == tokComma {
				if err := p.bump(); err != nil {
					return itype.Type{}, err
				}
				continue
			}
			break
		}
		if err := p.expect(tokRAngle); err != nil {
			return itype.Type{}, err
		}
		return itype.RecordT("", fields...), nil
	case "func", "record", "export", "import":
		return itype.Type{}, errMalformed(t.line, t.col, "unknown type tag %q", t.text)
	default:
		// a record reference, checked against the record table after parsing
		return itype.RecordRefT(t.text), nil
	}
}

// checkRecordRefs verifies every record reference in signatures and record
// fields names a declared record. Resolution to shapes happens in the
// adapter generator; parse time only guarantees existence.
func checkRecordRefs(m *itype.ModuleInterface) error {
	var walk func(t itype.Type) error
	walk = func(t itype.Type) error {
		switch t.Kind {
		case itype.KindRecordRef:
			if _, ok := m.Records[t.Name]; !ok {
				return errors.New(errors.PhaseParse, errors.KindMalformedInterface).
					Name(t.Name).
					Detail("reference to undeclared record %q", t.Name).
					Build()
			}
		case itype.KindList:
			return walk(*t.Elem)
		case itype.KindRecord:
			for _, f := range t.Fields {
				if err := walk(f.Type); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, rec := range m.Records {
		for _, f := range rec.Fields {
			if err := walk(f.Type); err != nil {
				return err
			}
		}
	}
	for _, e := range m.Exports {
		for _, p := range e.Params {
			if err := walk(p.Type); err != nil {
				return err
			}
		}
		for _, r := range e.Results {
			if err := walk(r); err != nil {
				return err
			}
		}
	}
	for _, im := range m.Imports {
		for _, p := range im.Params {
			if err := walk(p.Type); err != nil {
				return err
			}
		}
		for _, r := range im.Results {
			if err := walk(r); err != nil {
				return err
			}
		}
	}
	return nil
}
