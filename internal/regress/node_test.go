package regress

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/srpoc/internal/expr"
)

func mustParse(t *testing.T, src string) expr.Expr {
	t.Helper()
	e, err := expr.Parse(src)
	require.NoError(t, err)
	return e
}

func arithmetic(t *testing.T, unary ...string) *opSet {
	t.Helper()
	ops, err := resolveOperators([]string{"+", "-", "*", "/"}, unary, nil)
	require.NoError(t, err)
	return ops
}

// squareMinus builds ((x0 * x0) - 3.5).
func squareMinus() *node {
	return &node{kind: kindBinary, op: 1,
		l: &node{kind: kindBinary, op: 2, l: variable(0), r: variable(0)},
		r: constant(3.5),
	}
}

func TestNode_SizeDepthClone(t *testing.T) {
	n := squareMinus()
	assert.Equal(t, 5, n.size())
	assert.Equal(t, 3, n.depth())
	assert.Len(t, n.constants(), 1)

	c := n.clone()
	c.r.val = 1
	assert.Equal(t, 3.5, n.r.val, "clone must not share nodes")
}

func TestNode_FormatAndSimplify(t *testing.T) {
	ops := arithmetic(t, "sin")
	n := squareMinus()
	assert.Equal(t, "((x * x) - 3.5)", n.format(ops, []string{"x"}))

	e, ok := n.toExpr(ops, []string{"x"})
	require.True(t, ok)
	assert.Equal(t, "x^2 - 7/2", e.String())

	wrapped := &node{kind: kindUnary, op: 0, l: variable(0)}
	assert.Equal(t, "sin(x)", wrapped.format(ops, []string{"x"}))
}

func TestEvaluator_Loss(t *testing.T) {
	ops := arithmetic(t)
	X := [][]float64{{0}, {1}, {2}}
	ds := newDataset(X, []float64{-3.5, -2.5, 0.5})
	ev := newEvaluator(ds, ops)

	assert.InDelta(t, 0, ev.loss(squareMinus()), 1e-15)
	assert.InDelta(t, 6.25, ev.loss(constant(0)), 1e-12)
	div := &node{kind: kindBinary, op: 3, l: constant(1), r: variable(0)}
	assert.True(t, math.IsInf(ev.loss(div), 1), "1/0 at x=0 must be invalid")
}
