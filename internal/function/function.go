// Package function holds the textual right-hand side of an equation together
// with the prototype used to display it.
package function

import (
	"fmt"
	"strings"

	"github.com/njchilds90/srpoc/internal/expr"
)

// DefaultPrototype labels a function when none is given.
const DefaultPrototype = "f(x)"

// Function is a mutable (rhs, prototype) pair. The rhs is stored verbatim; it
// is only parsed when Expr is called or when a kernel receives it.
type Function struct {
	rhs       string
	prototype string
}

// New builds a Function. An empty prototype means DefaultPrototype.
func New(rhs, prototype string) *Function {
	if prototype == "" {
		prototype = DefaultPrototype
	}
	f := &Function{prototype: prototype}
	f.SetString(rhs)
	return f
}

// SetString replaces the rhs unconditionally.
func (f *Function) SetString(rhs string) { f.rhs = rhs }

// RHS returns the right-hand side text as last set.
func (f *Function) RHS() string { return f.rhs }

// Prototype returns the display label, such as "f(x)".
func (f *Function) Prototype() string { return f.prototype }

// String renders "<prototype> = <rhs>".
func (f *Function) String() string { return f.prototype + " = " + f.rhs }

// Expr parses the rhs with the symbolic core.
func (f *Function) Expr() (expr.Expr, error) {
	e, err := expr.Parse(f.rhs)
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", f.prototype, err)
	}
	return e, nil
}

// Signature splits the prototype "name(arg)" into its parts. A prototype
// without parentheses is treated as a bare name over x.
func (f *Function) Signature() (name, arg string, err error) {
	p := strings.TrimSpace(f.prototype)
	open := strings.IndexByte(p, '(')
	if open < 0 {
		if p == "" {
			return "", "", fmt.Errorf("empty prototype")
		}
		return p, "x", nil
	}
	if !strings.HasSuffix(p, ")") {
		return "", "", fmt.Errorf("malformed prototype %q", f.prototype)
	}
	name = strings.TrimSpace(p[:open])
	arg = strings.TrimSpace(p[open+1 : len(p)-1])
	if name == "" || arg == "" || strings.ContainsAny(arg, ",()") {
		return "", "", fmt.Errorf("malformed prototype %q", f.prototype)
	}
	return name, arg, nil
}
