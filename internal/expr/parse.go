package expr

import (
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

// ParseError reports malformed expression text.
type ParseError struct {
	Pos int // byte offset into the source
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Msg)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNum
	tokIdent
	tokOp // + - * / ^ **
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case isDigit(src[i]) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			if i < len(src) && src[i] == '.' {
				i++
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			// Exponent only when digits follow, so "2E" lexes as 2*E.
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && isDigit(src[j]) {
					i = j
					for i < len(src) && isDigit(src[i]) {
						i++
					}
				}
			}
			toks = append(toks, token{kind: tokNum, text: src[start:i], pos: start})
		case isLetter(src[i]):
			start := i
			for i < len(src) && (isLetter(src[i]) || isDigit(src[i])) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})
		case c == '*' && i+1 < len(src) && src[i+1] == '*':
			toks = append(toks, token{kind: tokOp, text: "^", pos: i})
			i += 2
		case strings.ContainsRune("+-*/^", c):
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++
		case c == '(' || c == '[':
			toks = append(toks, token{kind: tokOpen, text: string(c), pos: i})
			i++
		case c == ')' || c == ']':
			toks = append(toks, token{kind: tokClose, text: string(c), pos: i})
			i++
		default:
			return nil, &ParseError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func isDigit(b byte) bool  { return b >= '0' && b <= '9' }
func isLetter(b byte) bool { return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }

// callable maps accepted function spellings (lower-cased) to constructors.
var callable = map[string]func(Expr) Expr{
	"sin":    SinOf,
	"cos":    CosOf,
	"tan":    func(a Expr) Expr { return FuncOf("tan", a) },
	"exp":    ExpOf,
	"ln":     LnOf,
	"log":    LnOf,
	"sqrt":   SqrtOf,
	"abs":    func(a Expr) Expr { return FuncOf("abs", a) },
	"asin":   func(a Expr) Expr { return FuncOf("asin", a) },
	"arcsin": func(a Expr) Expr { return FuncOf("asin", a) },
	"acos":   func(a Expr) Expr { return FuncOf("acos", a) },
	"arccos": func(a Expr) Expr { return FuncOf("acos", a) },
	"atan":   func(a Expr) Expr { return FuncOf("atan", a) },
	"arctan": func(a Expr) Expr { return FuncOf("atan", a) },
	"sinh":   func(a Expr) Expr { return FuncOf("sinh", a) },
	"cosh":   func(a Expr) Expr { return FuncOf("cosh", a) },
	"tanh":   func(a Expr) Expr { return FuncOf("tanh", a) },
	"floor":  func(a Expr) Expr { return FuncOf("floor", a) },
	"ceil":   func(a Expr) Expr { return FuncOf("ceil", a) },
	"sign":   func(a Expr) Expr { return FuncOf("sign", a) },
}

// Parse reads infix expression text such as "3*x^2 - 7*x + 3".
//
// Both "^" and "**" denote powers (right associative, binding tighter than
// unary minus). Function calls accept parentheses or square brackets and are
// case-insensitive, so "Sin[x]" and "sin(x)" are the same. Juxtaposition
// multiplies: "3x", "2 x" and "x(x+1)". Decimal literals are read exactly.
func Parse(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	if toks[0].kind == tokEOF {
		return nil, &ParseError{Pos: 0, Msg: "empty expression"}
	}
	p := &parser{toks: toks}
	e, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &ParseError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
	return e.Simplify(), nil
}

// MustParse is Parse for known-good literals; it panics on error.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops ...string) bool {
	t := p.peek()
	if t.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

func (p *parser) parseSum() (Expr, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	terms := []Expr{left}
	for p.isOp("+", "-") {
		op := p.next()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		if op.text == "-" {
			right = MulOf(N(-1), right)
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return AddOf(terms...), nil
}

func (p *parser) startsOperand() bool {
	switch p.peek().kind {
	case tokNum, tokIdent:
		return true
	case tokOpen:
		return p.peek().text == "("
	}
	return false
}

func (p *parser) parseProduct() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isOp("*"):
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = MulOf(left, right)
		case p.isOp("/"):
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			if n, ok := right.(*Num); ok && n.IsZero() {
				return nil, &ParseError{Pos: p.toks[p.pos-1].pos, Msg: "division by zero"}
			}
			left = MulOf(left, PowOf(right, N(-1)))
		case p.startsOperand():
			right, err := p.parsePower()
			if err != nil {
				return nil, err
			}
			left = MulOf(left, right)
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	switch {
	case p.isOp("-"):
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return MulOf(N(-1), operand), nil
	case p.isOp("+"):
		p.next()
		return p.parseUnary()
	}
	return p.parsePower()
}

func (p *parser) parsePower() (Expr, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if !p.isOp("^") {
		return base, nil
	}
	p.next()
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return PowOf(base, exp), nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		text := t.text
		if strings.HasPrefix(text, ".") {
			text = "0" + text
		}
		r, ok := new(big.Rat).SetString(text)
		if !ok {
			return nil, &ParseError{Pos: t.pos, Msg: fmt.Sprintf("invalid number %q", t.text)}
		}
		return &Num{val: r}, nil

	case tokIdent:
		if p.peek().kind == tokOpen {
			if ctor, ok := callable[strings.ToLower(t.text)]; ok {
				arg, err := p.parseGroup()
				if err != nil {
					return nil, err
				}
				return ctor(arg), nil
			}
			if len(t.text) > 1 || p.peek().text == "[" {
				return nil, &ParseError{Pos: t.pos, Msg: fmt.Sprintf("unknown function %q", t.text)}
			}
		}
		switch t.text {
		case "pi", "Pi":
			return S("pi"), nil
		}
		return S(t.text), nil

	case tokOpen:
		if t.text != "(" {
			return nil, &ParseError{Pos: t.pos, Msg: "unexpected \"[\""}
		}
		p.pos--
		return p.parseGroup()

	case tokEOF:
		return nil, &ParseError{Pos: t.pos, Msg: "unexpected end of expression"}
	}
	return nil, &ParseError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
}

// parseGroup reads a bracketed sub-expression whose closer must match its
// opener.
func (p *parser) parseGroup() (Expr, error) {
	open := p.next()
	inner, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	want := ")"
	if open.text == "[" {
		want = "]"
	}
	closing := p.next()
	if closing.kind != tokClose || closing.text != want {
		return nil, &ParseError{Pos: closing.pos, Msg: fmt.Sprintf("expected %q", want)}
	}
	return inner, nil
}
