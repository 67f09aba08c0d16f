// Package regress searches for closed-form expressions that fit numeric
// data. It evolves several populations of expression trees with regularized
// evolution, refines their constants with Nelder-Mead, and keeps the best
// equation found at each complexity.
package regress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrEmptyDataset      = errors.New("regress: empty dataset")
	ErrDimensionMismatch = errors.New("regress: dimension mismatch")
	ErrNonFiniteData     = errors.New("regress: data contains NaN or Inf")
)

// Model selection policies.
const (
	SelectBest     = "best"
	SelectAccuracy = "accuracy"
	SelectScore    = "score"
)

const (
	hallMigrationFraction       = 0.035
	populationMigrationFraction = 0.00036
	migrationPoolPerPopulation  = 3
)

// Options configures a search. Zero fields take the DefaultOptions value.
type Options struct {
	Niterations          int
	BinaryOperators      []string
	UnaryOperators       []string
	Populations          int
	PopulationSize       int
	NcyclesPerIteration  int
	ModelSelection       string
	ExtraMappings        map[string]string // name -> formula in x
	Maxsize              int
	Maxdepth             int
	ParsimonyCoefficient float64
	Seed                 int64
	VariableNames        []string
	Logger               *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		Niterations:          40,
		BinaryOperators:      []string{"+", "-", "*", "/"},
		Populations:          15,
		PopulationSize:       33,
		NcyclesPerIteration:  100,
		ModelSelection:       SelectBest,
		Maxsize:              20,
		ParsimonyCoefficient: 0.0032,
	}
}

// Regressor runs searches with fixed options. It holds no state between
// Fit calls.
type Regressor struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options) *Regressor {
	def := DefaultOptions()
	if opts.Niterations <= 0 {
		opts.Niterations = def.Niterations
	}
	if opts.BinaryOperators == nil {
		opts.BinaryOperators = def.BinaryOperators
	}
	if opts.Populations <= 0 {
		opts.Populations = def.Populations
	}
	if opts.PopulationSize <= 0 {
		opts.PopulationSize = def.PopulationSize
	}
	if opts.NcyclesPerIteration <= 0 {
		opts.NcyclesPerIteration = def.NcyclesPerIteration
	}
	if opts.ModelSelection == "" {
		opts.ModelSelection = def.ModelSelection
	}
	if opts.Maxsize <= 0 {
		opts.Maxsize = def.Maxsize
	}
	if opts.Maxdepth <= 0 {
		opts.Maxdepth = opts.Maxsize
	}
	if opts.ParsimonyCoefficient < 0 {
		opts.ParsimonyCoefficient = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Regressor{opts: opts, logger: logger}
}

func (r *Regressor) Options() Options { return r.opts }

// Fit searches for equations mapping rows of X to y.
func (r *Regressor) Fit(ctx context.Context, X [][]float64, y []float64) (*Model, error) {
	names, err := r.validate(X, y)
	if err != nil {
		return nil, err
	}
	switch r.opts.ModelSelection {
	case SelectBest, SelectAccuracy, SelectScore:
	default:
		return nil, fmt.Errorf("regress: unknown model selection %q", r.opts.ModelSelection)
	}
	ops, err := resolveOperators(r.opts.BinaryOperators, r.opts.UnaryOperators, r.opts.ExtraMappings)
	if err != nil {
		return nil, err
	}

	baseline := stat.PopVariance(y, nil)
	if !finite(baseline) || baseline <= 0 {
		baseline = 1
	}
	ds := newDataset(X, y)

	pops := make([]*population, r.opts.Populations)
	for i := range pops {
		gen := &generator{
			rng:      rand.New(rand.NewSource(r.opts.Seed + int64(i+1)*1_000_003)),
			ops:      ops,
			features: len(names),
			maxsize:  r.opts.Maxsize,
			maxdepth: r.opts.Maxdepth,
		}
		sc := &scorer{ev: newEvaluator(ds, ops), baseline: baseline, parsimony: r.opts.ParsimonyCoefficient}
		pops[i] = newPopulation(r.opts.PopulationSize, gen, sc, r.opts.Maxsize)
	}
	migrator := rand.New(rand.NewSource(r.opts.Seed))
	hall := newHallOfFame(r.opts.Maxsize)

	r.logger.Debug("fit started",
		zap.Int("rows", len(X)),
		zap.Strings("variables", names),
		zap.Int("unary_ops", len(ops.unary)),
		zap.Int("binary_ops", len(ops.binary)),
		zap.Int("populations", len(pops)))

	for iter := 0; iter < r.opts.Niterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for _, p := range pops {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				p.evolve(r.opts.NcyclesPerIteration)
				for _, m := range p.members {
					if p.gen.rng.Float64() < optimizeProbability && optimizeConstants(m, p.sc) {
						p.hall.consider(m)
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, p := range pops {
			hall.merge(p.hall)
		}
		migrate(pops, hall, migrator)

		if front := hall.front(); len(front) > 0 {
			last := front[len(front)-1]
			r.logger.Debug("iteration complete",
				zap.Int("iteration", iter+1),
				zap.Float64("best_loss", last.loss),
				zap.Int("front", len(front)))
		}
	}

	m := newModel(hall.front(), ops, names, r.opts.ModelSelection)
	if best, ok := m.Best(); ok {
		r.logger.Info("fit complete",
			zap.String("equation", best.Equation),
			zap.Float64("loss", best.Loss),
			zap.Int("complexity", best.Complexity))
	}
	return m, nil
}

func (r *Regressor) validate(X [][]float64, y []float64) ([]string, error) {
	if len(X) == 0 || len(y) == 0 {
		return nil, ErrEmptyDataset
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d targets", ErrDimensionMismatch, len(X), len(y))
	}
	nf := len(X[0])
	if nf == 0 {
		return nil, fmt.Errorf("%w: rows have no features", ErrDimensionMismatch)
	}
	for i, row := range X {
		if len(row) != nf {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrDimensionMismatch, i, len(row), nf)
		}
		for _, v := range row {
			if !finite(v) {
				return nil, fmt.Errorf("%w: row %d", ErrNonFiniteData, i)
			}
		}
		if !finite(y[i]) {
			return nil, fmt.Errorf("%w: target %d", ErrNonFiniteData, i)
		}
	}

	names := r.opts.VariableNames
	if len(names) == 0 {
		names = make([]string, nf)
		for i := range names {
			names[i] = "x" + strconv.Itoa(i)
		}
	}
	if len(names) != nf {
		return nil, fmt.Errorf("%w: %d variable names for %d features", ErrDimensionMismatch, len(names), nf)
	}
	for _, n := range names {
		if !isIdent(n) {
			return nil, fmt.Errorf("regress: invalid variable name %q", n)
		}
	}
	return names, nil
}

// migrate replaces a few random members of each population with copies of
// hall of fame entries and of the best members of other populations.
func migrate(pops []*population, hall *hallOfFame, rng *rand.Rand) {
	front := hall.front()
	var pool []*member
	for _, p := range pops {
		pool = append(pool, p.best(migrationPoolPerPopulation)...)
	}
	for _, p := range pops {
		n := len(p.members)
		fromHall := int(math.Ceil(hallMigrationFraction * float64(n)))
		fromPops := int(math.Ceil(populationMigrationFraction * float64(n)))
		for i := 0; i < fromHall && len(front) > 0; i++ {
			p.adopt(front[rng.Intn(len(front))], rng.Intn(n))
		}
		for i := 0; i < fromPops && len(pool) > 0; i++ {
			p.adopt(pool[rng.Intn(len(pool))], rng.Intn(n))
		}
	}
}

func (p *population) adopt(m *member, slot int) {
	p.clock++
	c := *m
	c.tree = m.tree.clone()
	c.birth = p.clock
	p.members[slot] = &c
}
