package regress

import (
	"fmt"
	"math"
	"strings"

	"github.com/njchilds90/srpoc/internal/expr"
)

// Equation is one entry of the Pareto front.
type Equation struct {
	Complexity int
	Loss       float64
	Score      float64
	Equation   string
	tree       *node
}

// Model is the result of a Fit: the Pareto front of equations ordered by
// complexity and the one chosen by the selection policy.
type Model struct {
	equations []Equation
	selected  int
	policy    string
	ops       *opSet
	names     []string
}

func newModel(front []*member, ops *opSet, names []string, policy string) *Model {
	m := &Model{selected: -1, policy: policy, ops: ops, names: names}
	for i, f := range front {
		eq := Equation{
			Complexity: f.complexity,
			Loss:       f.loss,
			Equation:   f.tree.format(ops, names),
			tree:       f.tree,
		}
		if i > 0 {
			prev := front[i-1]
			eq.Score = -(safeLog(f.loss) - safeLog(prev.loss)) / float64(f.complexity-prev.complexity)
		}
		m.equations = append(m.equations, eq)
	}
	m.selected = selectEquation(m.equations, policy)
	return m
}

func safeLog(v float64) float64 {
	return math.Log(math.Max(v, 1e-300))
}

func selectEquation(eqs []Equation, policy string) int {
	if len(eqs) == 0 {
		return -1
	}
	best := 0
	switch policy {
	case SelectAccuracy:
		for i, e := range eqs {
			if e.Loss < eqs[best].Loss {
				best = i
			}
		}
	case SelectScore:
		for i, e := range eqs {
			if e.Score > eqs[best].Score {
				best = i
			}
		}
	default:
		minLoss := math.Inf(1)
		for _, e := range eqs {
			minLoss = math.Min(minLoss, e.Loss)
		}
		best = -1
		for i, e := range eqs {
			if e.Loss > 1.5*minLoss {
				continue
			}
			if best < 0 || e.Score > eqs[best].Score {
				best = i
			}
		}
	}
	return best
}

// Equations returns the Pareto front, simplest first.
func (m *Model) Equations() []Equation {
	return append([]Equation(nil), m.equations...)
}

// Best returns the equation chosen by the selection policy; ok is false when
// the search found nothing valid.
func (m *Model) Best() (Equation, bool) {
	if m.selected < 0 {
		return Equation{}, false
	}
	return m.equations[m.selected], true
}

// Predict evaluates the selected equation on each row of X.
func (m *Model) Predict(X [][]float64) ([]float64, error) {
	best, ok := m.Best()
	if !ok {
		return nil, fmt.Errorf("regress: model has no equations")
	}
	if len(X) == 0 {
		return nil, ErrEmptyDataset
	}
	for i, row := range X {
		if len(row) != len(m.names) {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrDimensionMismatch, i, len(row), len(m.names))
		}
	}
	ev := newEvaluator(newDataset(X, make([]float64, len(X))), m.ops)
	out, valid := ev.eval(best.tree)
	if !valid {
		for i, row := range X {
			out[i] = evalRow(best.tree, m.ops, row)
		}
	}
	return out, nil
}

// evalRow evaluates one row without the early NaN exit of the batch path.
func evalRow(n *node, ops *opSet, row []float64) float64 {
	switch n.kind {
	case kindConst:
		return n.val
	case kindVar:
		return row[n.feature]
	case kindUnary:
		return ops.unary[n.op].fn(evalRow(n.l, ops, row))
	}
	return ops.binary[n.op].fn(evalRow(n.l, ops, row), evalRow(n.r, ops, row))
}

// Simplified returns the selected equation passed through the symbolic core,
// with constants rounded to six significant digits.
func (m *Model) Simplified() (expr.Expr, bool) {
	best, ok := m.Best()
	if !ok {
		return nil, false
	}
	return best.tree.toExpr(m.ops, m.names)
}

// String renders the front as a table; the selected row is marked ">>>>".
func (m *Model) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model selection: %s\n", m.policy)
	if len(m.equations) == 0 {
		b.WriteString("(no equations)\n")
		return b.String()
	}
	fmt.Fprintf(&b, "%-6s%-12s%-14s%-14s%s\n", "", "complexity", "loss", "score", "equation")
	for i, e := range m.equations {
		marker := ""
		if i == m.selected {
			marker = ">>>>"
		}
		fmt.Fprintf(&b, "%-6s%-12d%-14.6g%-14.6g%s\n", marker, e.Complexity, e.Loss, e.Score, e.Equation)
	}
	return b.String()
}
