// Package sample evaluates a function on an evenly spaced grid.
package sample

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrTooFewPoints = errors.New("sample: count must be at least 2")
	ErrInvalidRange = errors.New("sample: start must be below end")
)

// Func is anything that can be evaluated at a point, such as a kernel handle.
type Func interface {
	Eval(ctx context.Context, x float64) (float64, error)
}

// BatchFunc evaluates many points at once. Sample prefers it when available.
type BatchFunc interface {
	Func
	EvalMany(ctx context.Context, xs []float64) ([]float64, error)
}

// FuncOf adapts a plain Go function.
type FuncOf func(float64) float64

func (f FuncOf) Eval(_ context.Context, x float64) (float64, error) { return f(x), nil }

// Set holds paired samples in ascending x order.
type Set struct {
	X []float64
	Y []float64
}

func (s Set) Len() int { return len(s.X) }

// Inputs returns X as a single-feature matrix, one row per sample.
func (s Set) Inputs() [][]float64 {
	rows := make([][]float64, len(s.X))
	for i, x := range s.X {
		rows[i] = []float64{x}
	}
	return rows
}

// Residual returns y[i] - ref(x[i]).
func (s Set) Residual(ref func(float64) float64) []float64 {
	base := make([]float64, len(s.X))
	for i, x := range s.X {
		base[i] = ref(x)
	}
	return floats.SubTo(make([]float64, len(s.Y)), s.Y, base)
}

// Grid returns count evenly spaced points from start to end inclusive.
func Grid(start, end float64, count int) ([]float64, error) {
	if count < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewPoints, count)
	}
	if math.IsNaN(start) || math.IsNaN(end) || math.IsInf(start, 0) || math.IsInf(end, 0) || start >= end {
		return nil, fmt.Errorf("%w: [%g, %g]", ErrInvalidRange, start, end)
	}
	xs := floats.Span(make([]float64, count), start, end)
	xs[count-1] = end
	return xs, nil
}

// Sample evaluates f on Grid(start, end, count). The first failed evaluation
// fails the whole call; no partial set is returned.
func Sample(ctx context.Context, f Func, start, end float64, count int) (Set, error) {
	xs, err := Grid(start, end, count)
	if err != nil {
		return Set{}, err
	}

	if b, ok := f.(BatchFunc); ok {
		ys, err := b.EvalMany(ctx, xs)
		if err != nil {
			return Set{}, fmt.Errorf("sample [%g, %g]: %w", start, end, err)
		}
		if len(ys) != len(xs) {
			return Set{}, fmt.Errorf("sample: got %d values for %d points", len(ys), len(xs))
		}
		return Set{X: xs, Y: ys}, nil
	}

	ys := make([]float64, len(xs))
	for i, x := range xs {
		if err := ctx.Err(); err != nil {
			return Set{}, err
		}
		y, err := f.Eval(ctx, x)
		if err != nil {
			return Set{}, fmt.Errorf("sample x=%g: %w", x, err)
		}
		ys[i] = y
	}
	return Set{X: xs, Y: ys}, nil
}
