package expr

// ============================================================
// Integration (rule-based antiderivatives)
// ============================================================

// Integrate returns an antiderivative of e with respect to varName, without
// the constant of integration. The rules cover polynomials, 1/x, c^x, and
// sin/cos/exp of a linear argument; ok is false outside them.
func Integrate(e Expr, varName string) (Expr, bool) {
	if !dependsOn(e, varName) {
		return MulOf(e, S(varName)), true
	}
	switch v := e.Simplify().(type) {
	case *Sym:
		return MulOf(F(1, 2), PowOf(v, N(2))), true

	case *Pow:
		if sym, ok := v.base.(*Sym); ok && sym.name == varName && !dependsOn(v.exp, varName) {
			if n, ok := v.exp.(*Num); ok && n.IsNegOne() {
				return LnOf(FuncOf("abs", sym)), true
			}
			next := AddOf(v.exp, N(1))
			return MulOf(PowOf(next, N(-1)), PowOf(sym, next)), true
		}
		if sym, ok := v.exp.(*Sym); ok && sym.name == varName && !dependsOn(v.base, varName) {
			return MulOf(v, PowOf(LnOf(v.base), N(-1))), true
		}
		return nil, false

	case *Mul:
		var constant, varying []Expr
		for _, f := range v.factors {
			if dependsOn(f, varName) {
				varying = append(varying, f)
			} else {
				constant = append(constant, f)
			}
		}
		if len(constant) == 0 {
			return nil, false
		}
		inner, ok := Integrate(MulOf(varying...), varName)
		if !ok {
			return nil, false
		}
		return MulOf(append(constant, inner)...), true

	case *Add:
		terms := make([]Expr, len(v.terms))
		for i, t := range v.terms {
			it, ok := Integrate(t, varName)
			if !ok {
				return nil, false
			}
			terms[i] = it
		}
		return AddOf(terms...), true

	case *Func:
		slope, ok := linearSlope(v.arg, varName)
		if !ok {
			return nil, false
		}
		scale := PowOf(slope, N(-1))
		switch v.name {
		case "sin":
			return MulOf(N(-1), scale, CosOf(v.arg)), true
		case "cos":
			return MulOf(scale, SinOf(v.arg)), true
		case "exp":
			return MulOf(scale, v), true
		}
	}
	return nil, false
}

func dependsOn(e Expr, varName string) bool {
	for _, s := range FreeSymbols(e) {
		if s == varName {
			return true
		}
	}
	return false
}

// linearSlope returns a when arg is a*varName + b with a free of varName.
func linearSlope(arg Expr, varName string) (Expr, bool) {
	slope := Diff(arg, varName)
	if dependsOn(slope, varName) {
		return nil, false
	}
	if n, ok := slope.(*Num); ok && n.IsZero() {
		return nil, false
	}
	return slope, true
}
