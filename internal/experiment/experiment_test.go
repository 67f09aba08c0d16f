package experiment

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/njchilds90/srpoc/internal/config"
	"github.com/njchilds90/srpoc/internal/function"
	"github.com/njchilds90/srpoc/internal/kernel"
	"github.com/njchilds90/srpoc/internal/regress"
	"github.com/njchilds90/srpoc/internal/runlog"
	"github.com/njchilds90/srpoc/internal/sample"
	"github.com/njchilds90/srpoc/internal/session"
)

// pipeOpener serves an in-process kernel over net.Pipe.
func pipeOpener(t *testing.T) Opener {
	return func(ctx context.Context) (Solver, error) {
		client, server := net.Pipe()
		served := make(chan struct{})
		go func() {
			defer close(served)
			_ = kernel.New(nil).Serve(context.Background(), server, server)
			_ = server.Close()
		}()
		t.Cleanup(func() { <-served })
		s, err := session.New(ctx, client, session.WithLogger(zaptest.NewLogger(t)))
		if err != nil {
			return nil, err
		}
		return SessionSolver{s}, nil
	}
}

type fakeModel struct{ label string }

func (m fakeModel) Best() (regress.Equation, bool) {
	return regress.Equation{Complexity: 3, Loss: 0.25, Equation: "(x * x)"}, true
}
func (m fakeModel) String() string { return "model " + m.label + "\n" }

type recordingFitter struct {
	opts    []regress.Options
	X       [][][]float64
	targets [][]float64
	err     error
}

func (r *recordingFitter) factory(opts regress.Options) Fitter {
	r.opts = append(r.opts, opts)
	return fitterFunc(func(ctx context.Context, X [][]float64, y []float64) (Model, error) {
		if r.err != nil {
			return nil, r.err
		}
		r.X = append(r.X, X)
		r.targets = append(r.targets, append([]float64(nil), y...))
		return fakeModel{label: opts.UnaryOperators[0]}, nil
	})
}

type fitterFunc func(ctx context.Context, X [][]float64, y []float64) (Model, error)

func (f fitterFunc) Fit(ctx context.Context, X [][]float64, y []float64) (Model, error) {
	return f(ctx, X, y)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Regression.Seed = 11
	return cfg
}

func cubic(x float64) float64 { return x*x*x - 3.5*x*x + 3*x }

func TestRun_EndToEnd(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var out bytes.Buffer
	rec := &recordingFitter{}
	e := New(testConfig(),
		WithOpener(pipeOpener(t)),
		WithOutput(&out),
		WithLogger(zap.New(core)),
		WithFitter(rec.factory))

	require.NoError(t, e.Run(context.Background()))

	require.Len(t, rec.targets, 3)
	require.Len(t, rec.X[0], 101)
	for i, row := range rec.X[0] {
		x := float64(i)
		require.InDelta(t, x, row[0], 1e-9)
		want := cubic(x)
		assert.InDelta(t, want, rec.targets[0][i], 1e-3*max(1, abs(want)), "x=%v", x)
	}
	assert.Equal(t, rec.targets[0], rec.targets[1])

	assert.Equal(t, []string{"f(x) = x^3 + 3*x"}, rec.opts[0].UnaryOperators)
	assert.Equal(t, map[string]string{"f": "x**3 + 3*x"}, rec.opts[0].ExtraMappings)
	assert.Equal(t, []string{""}, rec.opts[1].UnaryOperators)
	assert.Nil(t, rec.opts[1].ExtraMappings)
	assert.Equal(t, []string{""}, rec.opts[2].UnaryOperators)
	assert.Equal(t, []string{"x"}, rec.opts[0].VariableNames)
	assert.Equal(t, []int64{11, 12, 13}, []int64{rec.opts[0].Seed, rec.opts[1].Seed, rec.opts[2].Seed})

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "beginning fit\n"), text)
	guessAt := strings.Index(text, "[guess]")
	plainAt := strings.Index(text, "[plain]")
	residualAt := strings.Index(text, "[residual]")
	assert.True(t, guessAt > 0 && guessAt < plainAt && plainAt < residualAt, text)

	closed := logs.FilterMessage("kernel closed form").All()
	require.Len(t, closed, 1)
	assert.Equal(t, "x^3 - 7/2*x^2 + 3*x", closed[0].ContextMap()["solution"])
}

func TestRun_ResidualTarget(t *testing.T) {
	rec := &recordingFitter{}
	e := New(testConfig(), WithOpener(pipeOpener(t)), WithOutput(&bytes.Buffer{}), WithFitter(rec.factory))
	require.NoError(t, e.Run(context.Background()))

	require.Len(t, rec.targets, 3)
	for i, row := range rec.X[2] {
		x := row[0]
		want := rec.targets[0][i] - (x*x*x + 3*x)
		assert.InDelta(t, want, rec.targets[2][i], 1e-6, "x=%v", x)
	}
}

func TestRun_SamplesSubRange(t *testing.T) {
	cfg := testConfig()
	cfg.Sample.Start, cfg.Sample.End, cfg.Sample.Count = 10, 50, 41
	rec := &recordingFitter{}
	e := New(cfg, WithOpener(pipeOpener(t)), WithOutput(&bytes.Buffer{}), WithFitter(rec.factory))
	require.NoError(t, e.Run(context.Background()))

	require.Len(t, rec.X, 3)
	require.Len(t, rec.X[0], 41)
	assert.InDelta(t, 10, rec.X[0][0][0], 1e-12)
	assert.InDelta(t, 50, rec.X[0][40][0], 1e-12)
	for i, row := range rec.X[0] {
		want := cubic(row[0])
		assert.InDelta(t, want, rec.targets[0][i], 1e-3*max(1, abs(want)), "x=%v", row[0])
	}
}

func TestRun_SampleOutsideSolveRangeIsSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Sample.End = 150
	var out bytes.Buffer
	rec := &recordingFitter{}
	e := New(cfg, WithOpener(pipeOpener(t)), WithOutput(&out), WithFitter(rec.factory))

	require.NoError(t, e.Run(context.Background()))
	assert.Empty(t, rec.opts)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "outside the solved interval")
	assert.Equal(t, "beginning fit", lines[1])
	for _, l := range lines[2:] {
		assert.Contains(t, l, "skipped (no samples)")
	}
}

func TestRun_EmptyRHSIsNonFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Function.RHS = ""
	var out bytes.Buffer
	rec := &recordingFitter{}
	e := New(cfg, WithOpener(pipeOpener(t)), WithOutput(&out), WithFitter(rec.factory))

	require.NoError(t, e.Run(context.Background()))
	assert.Empty(t, rec.opts, "no regression runs without samples")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "kernel ndsolve")
	assert.Equal(t, "beginning fit", lines[1])
	for _, l := range lines[2:] {
		assert.Contains(t, l, "skipped (no samples)")
	}
}

type fakeSolver struct {
	closes   int
	solveErr error
	evalErr  error
	cfErr    error
}

func (f *fakeSolver) Solve(ctx context.Context, fn *function.Function, o session.ODE) (sample.Func, error) {
	if f.solveErr != nil {
		return nil, f.solveErr
	}
	return evalFunc(func(x float64) (float64, error) {
		if f.evalErr != nil && x > 50 {
			return 0, f.evalErr
		}
		return cubic(x), nil
	}), nil
}

func (f *fakeSolver) ClosedForm(ctx context.Context, fn *function.Function, o session.ODE) (string, error) {
	return "", f.cfErr
}

func (f *fakeSolver) Close() error {
	f.closes++
	return errors.New("already gone")
}

type evalFunc func(float64) (float64, error)

func (f evalFunc) Eval(_ context.Context, x float64) (float64, error) { return f(x) }

func TestRun_ClosesSolverExactlyOnce(t *testing.T) {
	cases := map[string]struct {
		solver  *fakeSolver
		skipped bool
	}{
		"success":           {solver: &fakeSolver{}},
		"solve fails":       {solver: &fakeSolver{solveErr: errors.New("diverged")}, skipped: true},
		"sample fails":      {solver: &fakeSolver{evalErr: errors.New("out of domain")}, skipped: true},
		"closed form fails": {solver: &fakeSolver{cfErr: errors.New("no closed form")}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			rec := &recordingFitter{}
			e := New(testConfig(),
				WithOpener(func(context.Context) (Solver, error) { return tc.solver, nil }),
				WithOutput(&out),
				WithLogger(zaptest.NewLogger(t)),
				WithFitter(rec.factory))

			require.NoError(t, e.Run(context.Background()))
			assert.Equal(t, 1, tc.solver.closes)
			assert.Equal(t, tc.skipped, strings.Contains(out.String(), "skipped"))
			if !tc.skipped {
				assert.Len(t, rec.targets, 3)
			}
		})
	}
}

func TestRun_OpenFailureIsNonFatal(t *testing.T) {
	var out bytes.Buffer
	e := New(testConfig(),
		WithOpener(func(context.Context) (Solver, error) { return nil, session.ErrNoEngine }),
		WithOutput(&out))
	require.NoError(t, e.Run(context.Background()))
	assert.Contains(t, out.String(), session.ErrNoEngine.Error())
	assert.Contains(t, out.String(), "fit residual: skipped")
}

func TestRun_RegressionErrorPropagates(t *testing.T) {
	rec := &recordingFitter{err: regress.ErrDimensionMismatch}
	e := New(testConfig(),
		WithOpener(func(context.Context) (Solver, error) { return &fakeSolver{}, nil }),
		WithOutput(&bytes.Buffer{}),
		WithFitter(rec.factory))

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, regress.ErrDimensionMismatch)
	assert.ErrorContains(t, err, "fit guess")
}

func TestRun_WithRegressor(t *testing.T) {
	cfg := testConfig()
	cfg.Solve.EndX = 4
	cfg.Sample.End = 4
	cfg.Sample.Count = 21
	cfg.Regression.Niterations = 2
	cfg.Regression.Populations = 2
	cfg.Regression.PopulationSize = 12
	cfg.Regression.NcyclesPerIteration = 10

	var out bytes.Buffer
	e := New(cfg, WithOpener(pipeOpener(t)), WithOutput(&out), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 3, strings.Count(out.String(), "Model selection: best"))
}

func TestRun_RecordsHistory(t *testing.T) {
	ctx := context.Background()
	store, err := runlog.Open(ctx, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	rec := &recordingFitter{}
	ok := New(testConfig(),
		WithOpener(func(context.Context) (Solver, error) { return &fakeSolver{}, nil }),
		WithOutput(&bytes.Buffer{}),
		WithHistory(store),
		WithFitter(rec.factory))
	require.NoError(t, ok.Run(ctx))

	failed := New(testConfig(),
		WithOpener(func(context.Context) (Solver, error) { return &fakeSolver{solveErr: errors.New("diverged")}, nil }),
		WithOutput(&bytes.Buffer{}),
		WithHistory(store),
		WithFitter(rec.factory))
	require.NoError(t, failed.Run(ctx))

	run, err := store.Get(ctx, ok.runID)
	require.NoError(t, err)
	assert.Equal(t, "3*x^2 - 7*x + 3", run.RHS)
	require.Len(t, run.Fits, 3)
	assert.Equal(t, "(x * x)", run.Fits[0].Equation)
	assert.False(t, run.FinishedAt.IsZero())

	run, err = store.Get(ctx, failed.runID)
	require.NoError(t, err)
	assert.Equal(t, "diverged", run.SolveError)
	require.Len(t, run.Fits, 3)
	assert.True(t, run.Fits[2].Skipped)
}

func TestResolveKernel(t *testing.T) {
	got, err := ResolveKernel("/opt/engine")
	require.NoError(t, err)
	assert.Equal(t, "/opt/engine", got)

	dir := t.TempDir()
	t.Setenv("PATH", dir)
	_, err = ResolveKernel("")
	assert.ErrorIs(t, err, session.ErrNoEngine)

	bin := filepath.Join(dir, KernelBinary)
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755))
	got, err = ResolveKernel("")
	require.NoError(t, err)
	assert.Equal(t, bin, got)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
