package regress

import (
	"math"
	"sort"
)

const (
	tournamentSize        = 12
	tournamentProbability = 0.86
)

type member struct {
	tree       *node
	loss       float64
	cost       float64
	complexity int
	birth      int64
}

// scorer turns raw loss into the cost used for selection: loss normalized by
// the data variance plus a parsimony penalty per node.
type scorer struct {
	ev        *evaluator
	baseline  float64
	parsimony float64
}

func (s *scorer) score(t *node, birth int64) *member {
	m := &member{tree: t, complexity: t.size(), birth: birth}
	m.loss = s.ev.loss(t)
	m.cost = m.loss/s.baseline + s.parsimony*float64(m.complexity)
	return m
}

func (s *scorer) rescore(m *member) {
	m.loss = s.ev.loss(m.tree)
	m.complexity = m.tree.size()
	m.cost = m.loss/s.baseline + s.parsimony*float64(m.complexity)
}

// population runs regularized evolution: tournament selection, and children
// replace the oldest member.
type population struct {
	members []*member
	gen     *generator
	sc      *scorer
	hall    *hallOfFame
	clock   int64
}

func newPopulation(size int, gen *generator, sc *scorer, maxsize int) *population {
	p := &population{gen: gen, sc: sc, hall: newHallOfFame(maxsize)}
	for i := 0; i < size; i++ {
		t := gen.randomTree(gen.rng.Intn(3))
		p.members = append(p.members, p.born(t))
	}
	return p
}

func (p *population) born(t *node) *member {
	p.clock++
	m := p.sc.score(t, p.clock)
	p.hall.consider(m)
	return m
}

func (p *population) tournament() *member {
	n := tournamentSize
	if n > len(p.members) {
		n = len(p.members)
	}
	idx := p.gen.rng.Perm(len(p.members))[:n]
	contestants := make([]*member, n)
	for i, j := range idx {
		contestants[i] = p.members[j]
	}
	sort.SliceStable(contestants, func(a, b int) bool { return less(contestants[a].cost, contestants[b].cost) })
	for _, c := range contestants[:n-1] {
		if p.gen.rng.Float64() < tournamentProbability {
			return c
		}
	}
	return contestants[n-1]
}

// less orders costs with NaN last.
func less(a, b float64) bool {
	if math.IsNaN(b) {
		return !math.IsNaN(a)
	}
	return a < b
}

func (p *population) replaceOldest(m *member) {
	oldest := 0
	for i, o := range p.members {
		if o.birth < p.members[oldest].birth {
			oldest = i
		}
	}
	p.members[oldest] = m
}

// evolve runs ncycles of regularized evolution, cooling the constant
// perturbation size over the cycles.
func (p *population) evolve(ncycles int) {
	rounds := (len(p.members) + tournamentSize - 1) / tournamentSize
	for c := 0; c < ncycles; c++ {
		temperature := 1 - float64(c)/float64(ncycles)
		for r := 0; r < rounds; r++ {
			if p.gen.rng.Float64() < crossoverProbability {
				a, b := p.gen.crossover(p.tournament().tree, p.tournament().tree)
				for _, child := range []*node{a, b} {
					if m := p.born(child); finite(m.loss) {
						p.replaceOldest(m)
					}
				}
				continue
			}
			child := p.gen.mutate(p.tournament().tree, temperature)
			if m := p.born(child); finite(m.loss) {
				p.replaceOldest(m)
			}
		}
	}
}

// best returns the n lowest-cost members.
func (p *population) best(n int) []*member {
	sorted := append([]*member(nil), p.members...)
	sort.SliceStable(sorted, func(a, b int) bool { return less(sorted[a].cost, sorted[b].cost) })
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
