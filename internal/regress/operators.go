package regress

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/njchilds90/srpoc/internal/expr"
	"github.com/njchilds90/srpoc/internal/function"
)

// OperatorError reports an operator the engine cannot use.
type OperatorError struct {
	Op     string
	Reason string
}

func (e *OperatorError) Error() string {
	return fmt.Sprintf("regress: operator %q: %s", e.Op, e.Reason)
}

type unaryOp struct {
	name string
	fn   func(float64) float64
	// sym builds the symbolic form; nil renders as name(arg).
	sym func(expr.Expr) expr.Expr
}

type binaryOp struct {
	name  string
	infix bool
	fn    func(a, b float64) float64
	sym   func(a, b expr.Expr) expr.Expr
}

var builtinUnary = map[string]unaryOp{
	"neg":    {name: "neg", fn: func(v float64) float64 { return -v }, sym: func(a expr.Expr) expr.Expr { return expr.MulOf(expr.N(-1), a) }},
	"square": {name: "square", fn: func(v float64) float64 { return v * v }, sym: func(a expr.Expr) expr.Expr { return expr.PowOf(a, expr.N(2)) }},
	"cube":   {name: "cube", fn: func(v float64) float64 { return v * v * v }, sym: func(a expr.Expr) expr.Expr { return expr.PowOf(a, expr.N(3)) }},
	"exp":    {name: "exp", fn: math.Exp, sym: expr.ExpOf},
	"log":    {name: "log", fn: math.Log, sym: expr.LnOf},
	"sqrt":   {name: "sqrt", fn: math.Sqrt, sym: expr.SqrtOf},
	"sin":    {name: "sin", fn: math.Sin, sym: expr.SinOf},
	"cos":    {name: "cos", fn: math.Cos, sym: expr.CosOf},
	"tan":    {name: "tan", fn: math.Tan, sym: func(a expr.Expr) expr.Expr { return expr.FuncOf("tan", a) }},
	"abs":    {name: "abs", fn: math.Abs, sym: func(a expr.Expr) expr.Expr { return expr.FuncOf("abs", a) }},
	"inv":    {name: "inv", fn: func(v float64) float64 { return 1 / v }, sym: func(a expr.Expr) expr.Expr { return expr.PowOf(a, expr.N(-1)) }},
}

var builtinBinary = map[string]binaryOp{
	"+": {name: "+", infix: true, fn: func(a, b float64) float64 { return a + b }, sym: func(a, b expr.Expr) expr.Expr { return expr.AddOf(a, b) }},
	"-": {name: "-", infix: true, fn: func(a, b float64) float64 { return a - b }, sym: func(a, b expr.Expr) expr.Expr { return expr.AddOf(a, expr.MulOf(expr.N(-1), b)) }},
	"*": {name: "*", infix: true, fn: func(a, b float64) float64 { return a * b }, sym: func(a, b expr.Expr) expr.Expr { return expr.MulOf(a, b) }},
	"/": {name: "/", infix: true, fn: func(a, b float64) float64 { return a / b }, sym: func(a, b expr.Expr) expr.Expr { return expr.MulOf(a, expr.PowOf(b, expr.N(-1))) }},
	"^": {name: "^", infix: true, fn: math.Pow, sym: func(a, b expr.Expr) expr.Expr { return expr.PowOf(a, b) }},
	"max": {name: "max", fn: math.Max},
	"min": {name: "min", fn: math.Min},
}

// opSet is the resolved operator configuration of one Fit.
type opSet struct {
	unary  []unaryOp
	binary []binaryOp
}

// checkpoints are where a definition and its mapping must agree.
var checkpoints = []float64{-2, -0.5, 0.25, 1, 3}

// resolveOperators turns the textual operator lists into callables. Unary
// entries are a builtin name, a definition "name(arg) = body", or a bare name
// found in mappings; blank entries are skipped.
func resolveOperators(binary, unary []string, mappings map[string]string) (*opSet, error) {
	ops := &opSet{}
	seen := map[string]bool{}
	for _, b := range binary {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if b == "**" || b == "pow" {
			b = "^"
		}
		op, ok := builtinBinary[b]
		if !ok {
			return nil, &OperatorError{Op: b, Reason: "unknown binary operator"}
		}
		if !seen["2:"+b] {
			seen["2:"+b] = true
			ops.binary = append(ops.binary, op)
		}
	}
	for _, u := range unary {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		op, err := resolveUnary(u, mappings)
		if err != nil {
			return nil, err
		}
		if !seen["1:"+op.name] {
			seen["1:"+op.name] = true
			ops.unary = append(ops.unary, op)
		}
	}
	return ops, nil
}

func resolveUnary(spec string, mappings map[string]string) (unaryOp, error) {
	if op, ok := builtinUnary[spec]; ok {
		return op, nil
	}
	if lhs, body, ok := strings.Cut(spec, "="); ok {
		return defineUnary(spec, lhs, body, mappings)
	}
	if formula, ok := mappings[spec]; ok && isIdent(spec) {
		op, err := mappedUnary(spec, formula)
		if err != nil {
			return unaryOp{}, err
		}
		return op, nil
	}
	return unaryOp{}, &OperatorError{Op: spec, Reason: "not a builtin, a definition, or a mapped name"}
}

// defineUnary compiles "name(arg) = body". When mappings also name the
// operator, both forms must agree on the checkpoints.
func defineUnary(spec, lhs, body string, mappings map[string]string) (unaryOp, error) {
	if strings.TrimSpace(lhs) == "" {
		return unaryOp{}, &OperatorError{Op: spec, Reason: "missing name(arg) before ="}
	}
	name, arg, err := function.New(body, lhs).Signature()
	if err != nil || !isIdent(name) || !isIdent(arg) {
		return unaryOp{}, &OperatorError{Op: spec, Reason: "left side must look like name(arg)"}
	}
	if _, clash := builtinUnary[name]; clash {
		return unaryOp{}, &OperatorError{Op: spec, Reason: "redefines a builtin"}
	}
	e, err := expr.Parse(body)
	if err != nil {
		return unaryOp{}, &OperatorError{Op: spec, Reason: err.Error()}
	}
	eval, err := expr.Compile(e, arg)
	if err != nil {
		return unaryOp{}, &OperatorError{Op: spec, Reason: err.Error()}
	}
	op := unaryOp{
		name: name,
		fn:   func(v float64) float64 { return eval([]float64{v}) },
		sym:  func(a expr.Expr) expr.Expr { return expr.Sub(e, arg, a) },
	}

	if formula, ok := mappings[name]; ok {
		mapped, err := mappedUnary(name, formula)
		if err != nil {
			return unaryOp{}, err
		}
		for _, x := range checkpoints {
			want, got := op.fn(x), mapped.fn(x)
			if math.IsNaN(want) && math.IsNaN(got) {
				continue
			}
			if math.Abs(want-got) > 1e-9*math.Max(1, math.Abs(want)) {
				return unaryOp{}, &OperatorError{
					Op:     spec,
					Reason: fmt.Sprintf("mapping %q disagrees at %g: %g != %g", formula, x, got, want),
				}
			}
		}
	}
	return op, nil
}

// mappedUnary evaluates a closed-form mapping written in x, e.g. "x**3 + 3*x".
func mappedUnary(name, formula string) (unaryOp, error) {
	ev, err := govaluate.NewEvaluableExpressionWithFunctions(formula, mappingFuncs)
	if err != nil {
		return unaryOp{}, &OperatorError{Op: name, Reason: fmt.Sprintf("mapping %q: %v", formula, err)}
	}
	for _, v := range ev.Vars() {
		if v != "x" {
			return unaryOp{}, &OperatorError{Op: name, Reason: fmt.Sprintf("mapping %q uses %q; only x is bound", formula, v)}
		}
	}
	op := unaryOp{
		name: name,
		fn: func(v float64) float64 {
			out, err := ev.Eval(xParam(v))
			if err != nil {
				return math.NaN()
			}
			f, ok := out.(float64)
			if !ok {
				return math.NaN()
			}
			return f
		},
	}
	if e, err := expr.Parse(formula); err == nil {
		op.sym = func(a expr.Expr) expr.Expr { return expr.Sub(e, "x", a) }
	}
	return op, nil
}

// xParam binds the single mapping variable without allocating a map.
type xParam float64

func (p xParam) Get(name string) (interface{}, error) {
	if name == "x" {
		return float64(p), nil
	}
	return nil, errors.New("unbound parameter " + name)
}

func mathFunc(f func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("expected one argument")
		}
		v, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("argument %v is not a number", args[0])
		}
		return f(v), nil
	}
}

var mappingFuncs = map[string]govaluate.ExpressionFunction{
	"sin":  mathFunc(math.Sin),
	"cos":  mathFunc(math.Cos),
	"tan":  mathFunc(math.Tan),
	"exp":  mathFunc(math.Exp),
	"log":  mathFunc(math.Log),
	"sqrt": mathFunc(math.Sqrt),
	"abs":  mathFunc(math.Abs),
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
