package wit

// tokenKind discriminates lexer output.
type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokColon
	tokComma
	tokDot
	tokArrow  // ->
	tokLParen // (
	tokRParen // )
	tokLBrace // {
	tokRBrace // }
	tokLAngle // <
	tokRAngle // >
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokColon:
		return "':'"
	case tokComma:
		return "','"
	case tokDot:
		return "'.'"
	case tokArrow:
		return "'->'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokLBrace:
		return "'{'"
	case tokRBrace:
		return "'}'"
	case tokLAngle:
		return "'<'"
	case tokRAngle:
		return "'>'"
	default:
		return "unknown token"
	}
}

type token struct {
	text string
	kind tokenKind
	line int
	col  int
}

// lexer produces tokens with 1-based positions. Newlines are not tokens;
// declarations may span lines freely (record bodies usually do).
type lexer struct {
	src  string
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) advance() byte {
	c := l.src[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == ';' && l.pos+1 < len(l.src) && l.src[l.pos+1] == ';':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.advance()
			}
		default:
			return
		}
	}
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_' || c == '-'
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line, col: l.col}, nil
	}

	line, col := l.line, l.col
	c := l.src[l.pos]

	switch c {
	case ':':
		l.advance()
		return token{kind: tokColon, line: line, col: col}, nil
	case ',':
		l.advance()
		return token{kind: tokComma, line: line, col: col}, nil
	case '.':
		l.advance()
		return token{kind: tokDot, line: line, col: col}, nil
	case '(':
		l.advance()
		return token{kind: tokLParen, line: line, col: col}, nil
	case ')':
		l.advance()
		return token{kind: tokRParen, line: line, col: col}, nil
	case '{':
		l.advance()
		return token{kind: tokLBrace, line: line, col: col}, nil
	case '}':
		l.advance()
		return token{kind: tokRBrace, line: line, col: col}, nil
	case '<':
		l.advance()
		return token{kind: tokLAngle, line: line, col: col}, nil
	case '>':
		l.advance()
		return token{kind: tokRAngle, line: line, col: col}, nil
	case '-':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '>' {
			l.advance()
			l.advance()
			return token{kind: tokArrow, line: line, col: col}, nil
		}
	}

	if isIdentByte(c) && c != '-' {
		start := l.pos
		for l.pos < len(l.src) && isIdentByte(l.src[l.pos]) {
			l.advance()
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], line: line, col: col}, nil
	}

	return token{}, errMalformed(line, col, "unexpected character %q", string(c))
}
