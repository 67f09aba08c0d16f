package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/njchilds90/srpoc/internal/config"
	"github.com/njchilds90/srpoc/internal/function"
	"github.com/njchilds90/srpoc/internal/sample"
	"github.com/njchilds90/srpoc/internal/session"
)

// KernelBinary is the engine executable looked up when no path is configured.
const KernelBinary = "srpoc-kernel"

// Solver is the part of the engine the solve phase uses.
type Solver interface {
	Solve(ctx context.Context, fn *function.Function, o session.ODE) (sample.Func, error)
	ClosedForm(ctx context.Context, fn *function.Function, o session.ODE) (string, error)
	Close() error
}

// Opener starts a Solver. Each run opens exactly one.
type Opener func(ctx context.Context) (Solver, error)

// SessionSolver adapts a kernel session.
type SessionSolver struct {
	*session.Session
}

func (s SessionSolver) Solve(ctx context.Context, fn *function.Function, o session.ODE) (sample.Func, error) {
	h, err := s.SolveODE(ctx, fn, o)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// SessionOpener opens the kernel executable described by cfg.
func SessionOpener(cfg config.KernelConfig, logger *zap.Logger) Opener {
	return func(ctx context.Context) (Solver, error) {
		path, err := ResolveKernel(cfg.Path)
		if err != nil {
			return nil, err
		}
		opts := []session.Option{
			session.WithArgs(cfg.Args...),
			session.WithLogger(logger),
		}
		if cfg.StartTimeout > 0 {
			opts = append(opts, session.WithStartTimeout(cfg.StartTimeout))
		}
		if cfg.CallTimeout > 0 {
			opts = append(opts, session.WithCallTimeout(cfg.CallTimeout))
		}
		s, err := session.Open(ctx, path, opts...)
		if err != nil {
			return nil, err
		}
		return SessionSolver{s}, nil
	}
}

// ResolveKernel returns path if set, otherwise srpoc-kernel next to the
// running executable, otherwise srpoc-kernel from $PATH.
func ResolveKernel(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), KernelBinary)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	found, err := exec.LookPath(KernelBinary)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found next to the executable or on PATH", session.ErrNoEngine, KernelBinary)
	}
	return found, nil
}

// SolveOutcome is the result of the solve phase: either samples or the error
// that prevented them.
type SolveOutcome struct {
	Samples    sample.Set
	ClosedForm string // empty when the kernel has none
	Err        error
}

func (o SolveOutcome) OK() bool { return o.Err == nil }

var errNoSamples = errors.New("no samples")
