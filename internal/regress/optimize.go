package regress

import (
	"gonum.org/v1/gonum/optimize"
)

const (
	optimizeProbability = 0.14
	optimizeEvaluations = 100
)

// optimizeConstants refines the constants of m in place with Nelder-Mead and
// reports whether the loss improved.
func optimizeConstants(m *member, sc *scorer) bool {
	consts := m.tree.constants()
	if len(consts) == 0 {
		return false
	}
	x0 := make([]float64, len(consts))
	for i, c := range consts {
		x0[i] = c.val
	}
	set := func(x []float64) {
		for i, c := range consts {
			c.val = x[i]
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			set(x)
			return sc.ev.loss(m.tree)
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: optimizeEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-10,
			Iterations: 20,
		},
	}
	// Hitting the evaluation limit still leaves the best vertex in res.
	res, _ := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if res == nil || !finite(res.F) || res.F >= m.loss {
		set(x0)
		return false
	}
	set(res.X)
	sc.rescore(m)
	return true
}
