// Package experiment runs the solve, sample and fit pipeline once.
package experiment

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/njchilds90/srpoc/internal/config"
	"github.com/njchilds90/srpoc/internal/expr"
	"github.com/njchilds90/srpoc/internal/function"
	"github.com/njchilds90/srpoc/internal/regress"
	"github.com/njchilds90/srpoc/internal/runlog"
	"github.com/njchilds90/srpoc/internal/sample"
	"github.com/njchilds90/srpoc/internal/session"
)

// Model is what the driver needs from a fitted regression.
type Model interface {
	Best() (regress.Equation, bool)
	String() string
}

// Fitter runs one regression.
type Fitter interface {
	Fit(ctx context.Context, X [][]float64, y []float64) (Model, error)
}

type regressFitter struct{ r *regress.Regressor }

func (f regressFitter) Fit(ctx context.Context, X [][]float64, y []float64) (Model, error) {
	m, err := f.r.Fit(ctx, X, y)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewRegressor is the default Fitter factory.
func NewRegressor(opts regress.Options) Fitter { return regressFitter{regress.New(opts)} }

// Option configures an Experiment.
type Option func(*Experiment)

func WithOpener(o Opener) Option                       { return func(e *Experiment) { e.open = o } }
func WithOutput(w io.Writer) Option                    { return func(e *Experiment) { e.out = w } }
func WithLogger(l *zap.Logger) Option                  { return func(e *Experiment) { e.logger = l } }
func WithHistory(s *runlog.Store) Option               { return func(e *Experiment) { e.history = s } }
func WithFitter(f func(regress.Options) Fitter) Option { return func(e *Experiment) { e.fitter = f } }

// Experiment is one configured run. It is not safe for concurrent use.
type Experiment struct {
	cfg     *config.Config
	open    Opener
	out     io.Writer
	logger  *zap.Logger
	history *runlog.Store
	fitter  func(regress.Options) Fitter
	runID   string
}

func New(cfg *config.Config, opts ...Option) *Experiment {
	e := &Experiment{
		cfg:    cfg,
		out:    os.Stdout,
		logger: zap.NewNop(),
		fitter: NewRegressor,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.open == nil {
		e.open = SessionOpener(cfg.Kernel, e.logger)
	}
	return e
}

type fit struct {
	label    string
	unary    []string
	mappings map[string]string
	target   []float64
}

// Run executes the experiment. Solve-phase failures are printed and the fits
// are reported as skipped; only regression failures are returned.
func (e *Experiment) Run(ctx context.Context) error {
	fn := function.New(e.cfg.Function.RHS, e.cfg.Function.Prototype)
	guess := function.New(e.cfg.Guess.RHS, e.cfg.Guess.Prototype)
	e.logger.Info("experiment started", zap.Stringer("function", fn), zap.Stringer("guess", guess))
	e.beginHistory(ctx, fn, guess)

	outcome := e.solve(ctx, fn)
	if !outcome.OK() {
		fmt.Fprintln(e.out, outcome.Err)
		e.record(func(s *runlog.Store) error { return s.RecordSolveError(ctx, e.runID, outcome.Err.Error()) })
	} else if outcome.ClosedForm != "" {
		e.logger.Info("kernel closed form", zap.String("solution", outcome.ClosedForm))
	}

	err := e.fitAll(ctx, fn, guess, outcome)
	if err == nil {
		e.record(func(s *runlog.Store) error { return s.Finish(ctx, e.runID) })
	}
	return err
}

// solve opens the engine, solves and samples. The engine is released exactly
// once whichever way this returns.
func (e *Experiment) solve(ctx context.Context, fn *function.Function) SolveOutcome {
	solver, err := e.open(ctx)
	if err != nil {
		return SolveOutcome{Err: err}
	}
	defer func() {
		if err := solver.Close(); err != nil {
			e.logger.Warn("failed to release solver", zap.Error(err))
		}
	}()

	ode := session.ODE{
		Name:        e.cfg.Solve.Name,
		ConstraintX: e.cfg.Solve.ConstraintX,
		ConstraintY: e.cfg.Solve.ConstraintY,
		StartX:      e.cfg.Solve.StartX,
		EndX:        e.cfg.Solve.EndX,
		Step:        e.cfg.Solve.Step,
	}
	f, err := solver.Solve(ctx, fn, ode)
	if err != nil {
		return SolveOutcome{Err: err}
	}
	set, err := sample.Sample(ctx, f, e.cfg.Sample.Start, e.cfg.Sample.End, e.cfg.Sample.Count)
	if err != nil {
		return SolveOutcome{Err: err}
	}
	e.logger.Debug("sampled solution", zap.Int("points", set.Len()))

	cf, err := solver.ClosedForm(ctx, fn, ode)
	if err != nil {
		e.logger.Debug("no closed form", zap.Error(err))
	}
	return SolveOutcome{Samples: set, ClosedForm: cf}
}

func (e *Experiment) fitAll(ctx context.Context, fn, guess *function.Function, outcome SolveOutcome) error {
	var fits []fit
	if outcome.OK() {
		ref, err := reference(guess)
		if err != nil {
			return err
		}
		y := outcome.Samples.Y
		fits = []fit{
			{label: "guess", unary: []string{guess.String()}, mappings: e.cfg.Regression.ExtraMappings, target: y},
			{label: "plain", unary: []string{""}, target: y},
			{label: "residual", unary: []string{""}, target: outcome.Samples.Residual(ref)},
		}
	} else {
		fits = []fit{{label: "guess"}, {label: "plain"}, {label: "residual"}}
	}

	fmt.Fprintln(e.out, "beginning fit")
	if !outcome.OK() {
		for _, f := range fits {
			fmt.Fprintf(e.out, "fit %s: skipped (%v)\n", f.label, errNoSamples)
			e.record(func(s *runlog.Store) error {
				return s.RecordFit(ctx, e.runID, runlog.Fit{Label: f.label, Skipped: true})
			})
		}
		return nil
	}

	_, variable, err := fn.Signature()
	if err != nil {
		return err
	}
	X := outcome.Samples.Inputs()
	models := make([]Model, len(fits))
	for i, f := range fits {
		opts := e.options(i, variable, f)
		m, err := e.fitter(opts).Fit(ctx, X, f.target)
		if err != nil {
			return fmt.Errorf("fit %s: %w", f.label, err)
		}
		models[i] = m
		e.recordFit(ctx, f.label, m)
	}
	for i, m := range models {
		fmt.Fprintf(e.out, "\n[%s]\n%s", fits[i].label, m)
	}
	return nil
}

func (e *Experiment) options(i int, variable string, f fit) regress.Options {
	rc := e.cfg.Regression
	return regress.Options{
		Niterations:          rc.Niterations,
		BinaryOperators:      rc.BinaryOperators,
		UnaryOperators:       f.unary,
		Populations:          rc.Populations,
		PopulationSize:       rc.PopulationSize,
		NcyclesPerIteration:  rc.NcyclesPerIteration,
		ModelSelection:       rc.ModelSelection,
		ExtraMappings:        f.mappings,
		Maxsize:              rc.Maxsize,
		ParsimonyCoefficient: rc.ParsimonyCoefficient,
		Seed:                 rc.Seed + int64(i),
		VariableNames:        []string{variable},
		Logger:               e.logger.With(zap.String("fit", f.label)),
	}
}

// reference compiles the guess for local evaluation.
func reference(guess *function.Function) (func(float64) float64, error) {
	e, err := guess.Expr()
	if err != nil {
		return nil, err
	}
	_, arg, err := guess.Signature()
	if err != nil {
		return nil, err
	}
	eval, err := expr.Compile(e, arg)
	if err != nil {
		return nil, fmt.Errorf("guess %s: %w", guess, err)
	}
	return func(x float64) float64 { return eval([]float64{x}) }, nil
}

func (e *Experiment) beginHistory(ctx context.Context, fn, guess *function.Function) {
	if e.history == nil {
		return
	}
	id, err := e.history.Begin(ctx, fn.RHS(), guess.RHS())
	if err != nil {
		e.logger.Warn("run history disabled", zap.Error(err))
		e.history = nil
		return
	}
	e.runID = id
	e.logger.Info("recording run", zap.String("run_id", id))
}

func (e *Experiment) recordFit(ctx context.Context, label string, m Model) {
	best, ok := m.Best()
	rec := runlog.Fit{Label: label, Skipped: !ok}
	if ok {
		rec.Equation, rec.Loss, rec.Complexity, rec.Score = best.Equation, best.Loss, best.Complexity, best.Score
		e.logger.Info("fit selected",
			zap.String("fit", label),
			zap.String("equation", best.Equation),
			zap.Float64("loss", best.Loss))
	}
	e.record(func(s *runlog.Store) error { return s.RecordFit(ctx, e.runID, rec) })
}

// record writes to the history store if one is configured. History is
// auxiliary; failures are logged only.
func (e *Experiment) record(write func(*runlog.Store) error) {
	if e.history == nil {
		return
	}
	if err := write(e.history); err != nil {
		e.logger.Warn("failed to record run history", zap.String("run_id", e.runID), zap.Error(err))
	}
}
