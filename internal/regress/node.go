package regress

import (
	"math"
	"strconv"
	"strings"

	"github.com/njchilds90/srpoc/internal/expr"
)

type nodeKind uint8

const (
	kindConst nodeKind = iota
	kindVar
	kindUnary
	kindBinary
)

// node is an expression tree over the resolved operator set. op indexes
// opSet.unary or opSet.binary depending on kind.
type node struct {
	kind    nodeKind
	val     float64
	feature int
	op      int
	l, r    *node
}

func constant(v float64) *node { return &node{kind: kindConst, val: v} }
func variable(f int) *node     { return &node{kind: kindVar, feature: f} }

func (n *node) clone() *node {
	c := *n
	if n.l != nil {
		c.l = n.l.clone()
	}
	if n.r != nil {
		c.r = n.r.clone()
	}
	return &c
}

// size is the node count, used as the complexity measure.
func (n *node) size() int {
	s := 1
	if n.l != nil {
		s += n.l.size()
	}
	if n.r != nil {
		s += n.r.size()
	}
	return s
}

func (n *node) depth() int {
	d := 0
	if n.l != nil {
		d = n.l.depth()
	}
	if n.r != nil {
		if rd := n.r.depth(); rd > d {
			d = rd
		}
	}
	return d + 1
}

// walk visits nodes in pre-order.
func (n *node) walk(visit func(*node)) {
	visit(n)
	if n.l != nil {
		n.l.walk(visit)
	}
	if n.r != nil {
		n.r.walk(visit)
	}
}

func (n *node) nodes() []*node {
	var out []*node
	n.walk(func(m *node) { out = append(out, m) })
	return out
}

func (n *node) constants() []*node {
	var out []*node
	n.walk(func(m *node) {
		if m.kind == kindConst {
			out = append(out, m)
		}
	})
	return out
}

// dataset stores features column-wise.
type dataset struct {
	cols [][]float64
	y    []float64
	n    int
}

func newDataset(X [][]float64, y []float64) *dataset {
	nf := len(X[0])
	cols := make([][]float64, nf)
	for f := range cols {
		cols[f] = make([]float64, len(X))
		for i, row := range X {
			cols[f][i] = row[f]
		}
	}
	return &dataset{cols: cols, y: y, n: len(X)}
}

// evaluator evaluates trees over a dataset, recycling scratch buffers. It is
// not safe for concurrent use; each population owns one.
type evaluator struct {
	ds   *dataset
	ops  *opSet
	free [][]float64
}

func newEvaluator(ds *dataset, ops *opSet) *evaluator {
	return &evaluator{ds: ds, ops: ops}
}

func (e *evaluator) get() []float64 {
	if k := len(e.free); k > 0 {
		b := e.free[k-1]
		e.free = e.free[:k-1]
		return b
	}
	return make([]float64, e.ds.n)
}

func (e *evaluator) put(b []float64) { e.free = append(e.free, b) }

// eval returns predictions for every row, or ok=false once any value is NaN
// or infinite. The caller must put the returned buffer back.
func (e *evaluator) eval(n *node) (out []float64, ok bool) {
	switch n.kind {
	case kindConst:
		out = e.get()
		for i := range out {
			out[i] = n.val
		}
		return out, finite(n.val)
	case kindVar:
		out = e.get()
		copy(out, e.ds.cols[n.feature])
		return out, true
	case kindUnary:
		out, ok = e.eval(n.l)
		if !ok {
			return out, false
		}
		fn := e.ops.unary[n.op].fn
		for i, v := range out {
			out[i] = fn(v)
			if !finite(out[i]) {
				return out, false
			}
		}
		return out, true
	}
	out, ok = e.eval(n.l)
	if !ok {
		return out, false
	}
	right, ok := e.eval(n.r)
	defer e.put(right)
	if !ok {
		return out, false
	}
	fn := e.ops.binary[n.op].fn
	for i := range out {
		out[i] = fn(out[i], right[i])
		if !finite(out[i]) {
			return out, false
		}
	}
	return out, true
}

// loss is the mean squared error, +Inf for invalid trees.
func (e *evaluator) loss(n *node) float64 {
	pred, ok := e.eval(n)
	defer e.put(pred)
	if !ok {
		return math.Inf(1)
	}
	sum := 0.0
	for i, p := range pred {
		d := p - e.ds.y[i]
		sum += d * d
	}
	return sum / float64(len(pred))
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// format renders the tree the way the equation table shows it, e.g.
// "((x0 * x0) - 3.5)".
func (n *node) format(ops *opSet, names []string) string {
	var b strings.Builder
	n.writeTo(&b, ops, names)
	return b.String()
}

func (n *node) writeTo(b *strings.Builder, ops *opSet, names []string) {
	switch n.kind {
	case kindConst:
		b.WriteString(formatConst(n.val))
	case kindVar:
		b.WriteString(names[n.feature])
	case kindUnary:
		b.WriteString(ops.unary[n.op].name)
		b.WriteByte('(')
		n.l.writeTo(b, ops, names)
		b.WriteByte(')')
	case kindBinary:
		op := ops.binary[n.op]
		if op.infix {
			b.WriteByte('(')
			n.l.writeTo(b, ops, names)
			b.WriteString(" " + op.name + " ")
			n.r.writeTo(b, ops, names)
			b.WriteByte(')')
			return
		}
		b.WriteString(op.name + "(")
		n.l.writeTo(b, ops, names)
		b.WriteString(", ")
		n.r.writeTo(b, ops, names)
		b.WriteByte(')')
	}
}

func formatConst(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// toExpr converts the tree into the symbolic core. Constants are rounded to
// the printed precision so that simplification yields readable rationals.
// ok is false if an operator has no symbolic form.
func (n *node) toExpr(ops *opSet, names []string) (expr.Expr, bool) {
	switch n.kind {
	case kindConst:
		c, err := expr.Parse(formatConst(n.val))
		if err != nil {
			return nil, false
		}
		return c, true
	case kindVar:
		return expr.S(names[n.feature]), true
	case kindUnary:
		arg, ok := n.l.toExpr(ops, names)
		if !ok {
			return nil, false
		}
		op := ops.unary[n.op]
		if op.sym == nil {
			return expr.FuncOf(op.name, arg), true
		}
		return op.sym(arg), true
	}
	a, ok := n.l.toExpr(ops, names)
	if !ok {
		return nil, false
	}
	b, ok := n.r.toExpr(ops, names)
	if !ok {
		return nil, false
	}
	op := ops.binary[n.op]
	if op.sym == nil {
		return nil, false
	}
	return op.sym(a, b), true
}
