package expr

import (
	"fmt"
	"math"
)

// Evaluator computes an expression numerically. args are positional values
// for the variables named at compile time.
type Evaluator func(args []float64) float64

// Compile turns e into a float64 evaluator over vars. Every free symbol must
// be one of vars or a named constant, and every function must be numerically
// known; otherwise an error names the offender.
func Compile(e Expr, vars ...string) (Evaluator, error) {
	index := make(map[string]int, len(vars))
	for i, v := range vars {
		index[v] = i
	}
	return compile(e.Simplify(), index)
}

func compile(e Expr, index map[string]int) (Evaluator, error) {
	switch v := e.(type) {
	case *Num:
		c := v.Float64()
		return func([]float64) float64 { return c }, nil

	case *Sym:
		if i, ok := index[v.name]; ok {
			return func(args []float64) float64 { return args[i] }, nil
		}
		if c, ok := constants[v.name]; ok {
			return func([]float64) float64 { return c }, nil
		}
		return nil, fmt.Errorf("unbound symbol %q", v.name)

	case *Add:
		parts, err := compileAll(v.terms, index)
		if err != nil {
			return nil, err
		}
		return func(args []float64) float64 {
			sum := 0.0
			for _, p := range parts {
				sum += p(args)
			}
			return sum
		}, nil

	case *Mul:
		parts, err := compileAll(v.factors, index)
		if err != nil {
			return nil, err
		}
		return func(args []float64) float64 {
			prod := 1.0
			for _, p := range parts {
				prod *= p(args)
			}
			return prod
		}, nil

	case *Pow:
		base, err := compile(v.base, index)
		if err != nil {
			return nil, err
		}
		if n, ok := v.exp.(*Num); ok {
			switch {
			case n.Equal(N(2)):
				return func(args []float64) float64 { b := base(args); return b * b }, nil
			case n.Equal(N(-1)):
				return func(args []float64) float64 { return 1 / base(args) }, nil
			case n.Equal(F(1, 2)):
				return func(args []float64) float64 { return math.Sqrt(base(args)) }, nil
			}
		}
		exp, err := compile(v.exp, index)
		if err != nil {
			return nil, err
		}
		return func(args []float64) float64 { return math.Pow(base(args), exp(args)) }, nil

	case *Func:
		fn, ok := floatFuncs[v.name]
		if !ok {
			return nil, fmt.Errorf("unknown function %q", v.name)
		}
		arg, err := compile(v.arg, index)
		if err != nil {
			return nil, err
		}
		return func(args []float64) float64 { return fn(arg(args)) }, nil
	}
	return nil, fmt.Errorf("cannot compile %s expression", e.exprType())
}

func compileAll(es []Expr, index map[string]int) ([]Evaluator, error) {
	out := make([]Evaluator, len(es))
	for i, e := range es {
		c, err := compile(e, index)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
