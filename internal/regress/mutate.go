package regress

import (
	"math"
	"math/rand"
)

type mutation int

const (
	mutateConstant mutation = iota
	mutateOperator
	swapOperands
	addNode
	insertNode
	deleteNode
	randomizeTree
	doNothing
	numMutations
)

// mutationWeights are relative, not probabilities.
var mutationWeights = [numMutations]float64{
	mutateConstant: 0.048,
	mutateOperator: 0.47,
	swapOperands:   0.1,
	addNode:        0.79,
	insertNode:     5.1,
	deleteNode:     1.7,
	randomizeTree:  0.00023,
	doNothing:      0.21,
}

const (
	crossoverProbability = 0.066
	maxConstantChange    = 3.5
	negateProbability    = 0.01
	mutationAttempts     = 10
)

// generator builds and edits trees. It owns an rng and so belongs to one
// population.
type generator struct {
	rng      *rand.Rand
	ops      *opSet
	features int
	maxsize  int
	maxdepth int
}

func (g *generator) leaf() *node {
	if g.rng.Intn(2) == 0 {
		return constant(g.rng.NormFloat64())
	}
	return variable(g.rng.Intn(g.features))
}

// wrap puts n under a random operator, with a fresh leaf as the other operand
// for binary operators.
func (g *generator) wrap(n *node) *node {
	nu, nb := len(g.ops.unary), len(g.ops.binary)
	if nu+nb == 0 {
		return n
	}
	if g.rng.Intn(nu+nb) < nu {
		return &node{kind: kindUnary, op: g.rng.Intn(nu), l: n}
	}
	op := g.rng.Intn(nb)
	if g.rng.Intn(2) == 0 {
		return &node{kind: kindBinary, op: op, l: n, r: g.leaf()}
	}
	return &node{kind: kindBinary, op: op, l: g.leaf(), r: n}
}

// randomTree grows a tree by repeatedly extending a random leaf.
func (g *generator) randomTree(nodes int) *node {
	t := g.leaf()
	for i := 0; i < nodes; i++ {
		t = g.appendAtLeaf(t)
	}
	return t
}

func (g *generator) appendAtLeaf(t *node) *node {
	var leaves []*node
	t.walk(func(m *node) {
		if m.kind == kindConst || m.kind == kindVar {
			leaves = append(leaves, m)
		}
	})
	target := leaves[g.rng.Intn(len(leaves))]
	*target = *g.wrap(g.leaf())
	return t
}

func (g *generator) pick(candidates []*node) *node {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[g.rng.Intn(len(candidates))]
}

func operatorNodes(t *node) (all, binary []*node) {
	t.walk(func(m *node) {
		switch m.kind {
		case kindUnary:
			all = append(all, m)
		case kindBinary:
			all = append(all, m)
			binary = append(binary, m)
		}
	})
	return all, binary
}

func (g *generator) chooseMutation(t *node) mutation {
	w := mutationWeights
	ops, bins := operatorNodes(t)
	if len(t.constants()) == 0 {
		w[mutateConstant] = 0
	}
	if len(ops) == 0 {
		w[mutateOperator] = 0
		w[deleteNode] = 0
	}
	if len(bins) == 0 {
		w[swapOperands] = 0
	}
	if t.size() >= g.maxsize {
		w[addNode] = 0
		w[insertNode] = 0
	}
	total := 0.0
	for _, v := range w {
		total += v
	}
	r := g.rng.Float64() * total
	for m, v := range w {
		if r < v {
			return mutation(m)
		}
		r -= v
	}
	return doNothing
}

// mutate returns an edited copy of t that respects the size and depth limits.
// temperature in [0, 1] scales constant perturbations.
func (g *generator) mutate(t *node, temperature float64) *node {
	for attempt := 0; attempt < mutationAttempts; attempt++ {
		c := t.clone()
		c = g.apply(g.chooseMutation(c), c, temperature)
		if c.size() <= g.maxsize && c.depth() <= g.maxdepth {
			return c
		}
	}
	return t.clone()
}

func (g *generator) apply(m mutation, t *node, temperature float64) *node {
	switch m {
	case mutateConstant:
		c := g.pick(t.constants())
		factor := math.Pow(1+maxConstantChange*temperature, g.rng.Float64())
		if g.rng.Intn(2) == 0 {
			factor = 1 / factor
		}
		c.val *= factor
		if g.rng.Float64() < negateProbability {
			c.val = -c.val
		}
	case mutateOperator:
		ops, _ := operatorNodes(t)
		n := g.pick(ops)
		if n.kind == kindUnary {
			n.op = g.rng.Intn(len(g.ops.unary))
		} else {
			n.op = g.rng.Intn(len(g.ops.binary))
		}
	case swapOperands:
		_, bins := operatorNodes(t)
		n := g.pick(bins)
		n.l, n.r = n.r, n.l
	case addNode:
		return g.appendAtLeaf(t)
	case insertNode:
		n := g.pick(t.nodes())
		*n = *g.wrap(&node{kind: n.kind, val: n.val, feature: n.feature, op: n.op, l: n.l, r: n.r})
	case deleteNode:
		ops, _ := operatorNodes(t)
		n := g.pick(ops)
		keep := n.l
		if n.kind == kindBinary && g.rng.Intn(2) == 0 {
			keep = n.r
		}
		*n = *keep
	case randomizeTree:
		return g.randomTree(g.rng.Intn(t.size()) + 1)
	}
	return t
}

// crossover swaps a random subtree of a with one of b, returning two children.
func (g *generator) crossover(a, b *node) (*node, *node) {
	for attempt := 0; attempt < mutationAttempts; attempt++ {
		ca, cb := a.clone(), b.clone()
		x, y := g.pick(ca.nodes()), g.pick(cb.nodes())
		*x, *y = *y, *x
		if ca.size() <= g.maxsize && cb.size() <= g.maxsize &&
			ca.depth() <= g.maxdepth && cb.depth() <= g.maxdepth {
			return ca, cb
		}
	}
	return a.clone(), b.clone()
}
