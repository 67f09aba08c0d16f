// Package ode integrates first-order initial value problems y' = f(x, y) with
// a fixed-step classical Runge-Kutta scheme and serves the result as a dense
// function over the solved interval.
package ode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Domain errors for problem setup and evaluation.
var (
	ErrInvalidInterval = errors.New("ode: interval start must be below end")
	ErrInvalidStep     = errors.New("ode: step must be positive and finite")
	ErrBoundaryOutside = errors.New("ode: boundary point lies outside the interval")
	ErrTooManySteps    = errors.New("ode: step too small for the interval")
	ErrDiverged        = errors.New("ode: solution diverged (NaN or Inf detected)")
	ErrOutOfDomain     = errors.New("ode: point outside the solved interval")
)

// MaxSteps bounds the number of RK4 steps a single Solve may take.
const MaxSteps = 10_000_000

// Func is the right-hand side f(x, y) of y' = f(x, y).
type Func func(x, y float64) float64

// Problem is y' = F(x, y) with y(X0) = Y0, solved over [Start, End].
type Problem struct {
	F     Func
	X0    float64
	Y0    float64
	Start float64
	End   float64
	Step  float64
}

// Validate checks the interval, the step and the boundary point.
func (p Problem) Validate() error {
	switch {
	case p.F == nil:
		return errors.New("ode: nil right-hand side")
	case !finite(p.Start) || !finite(p.End) || p.Start >= p.End:
		return fmt.Errorf("%w: [%g, %g]", ErrInvalidInterval, p.Start, p.End)
	case !finite(p.Step) || p.Step <= 0:
		return fmt.Errorf("%w: %g", ErrInvalidStep, p.Step)
	case !finite(p.X0) || p.X0 < p.Start || p.X0 > p.End:
		return fmt.Errorf("%w: x0=%g not in [%g, %g]", ErrBoundaryOutside, p.X0, p.Start, p.End)
	case !finite(p.Y0):
		return fmt.Errorf("ode: boundary value %g is not finite", p.Y0)
	case (p.End-p.Start)/p.Step > MaxSteps:
		return fmt.Errorf("%w: %g steps", ErrTooManySteps, math.Ceil((p.End-p.Start)/p.Step))
	}
	return nil
}

// SolveError reports the step at which integration failed.
type SolveError struct {
	Step int
	X    float64
	Msg  string
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("ode: step %d at x=%g: %s", e.Step, e.X, e.Msg)
}

func (e *SolveError) Unwrap() error { return ErrDiverged }

// Statistics describes the work done by Solve.
type Statistics struct {
	StepCount       int
	EvaluationCount int
}

// Solution is the dense output of Solve: nodes in ascending x with value and
// slope, interpolated by cubic Hermite polynomials between nodes.
type Solution struct {
	xs, ys, dys []float64
	Stats       Statistics
}

// Solve integrates p forward from X0 to End and backward from X0 to Start.
// The last step in each direction is shortened to land on the endpoint.
func Solve(ctx context.Context, p Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var stats Statistics
	dy0 := p.F(p.X0, p.Y0)
	stats.EvaluationCount++
	if !finite(dy0) {
		return nil, &SolveError{Step: 0, X: p.X0, Msg: "non-finite slope at the boundary point"}
	}

	back, err := march(ctx, p, p.Start, &stats)
	if err != nil {
		return nil, err
	}
	fwd, err := march(ctx, p, p.End, &stats)
	if err != nil {
		return nil, err
	}

	n := len(back) + 1 + len(fwd)
	s := &Solution{
		xs:  make([]float64, 0, n),
		ys:  make([]float64, 0, n),
		dys: make([]float64, 0, n),
	}
	for i := len(back) - 1; i >= 0; i-- {
		s.push(back[i])
	}
	s.push(node{x: p.X0, y: p.Y0, dy: dy0})
	for _, nd := range fwd {
		s.push(nd)
	}
	s.Stats = stats
	return s, nil
}

type node struct{ x, y, dy float64 }

func (s *Solution) push(n node) {
	s.xs = append(s.xs, n.x)
	s.ys = append(s.ys, n.y)
	s.dys = append(s.dys, n.dy)
}

// march runs RK4 from (X0, Y0) toward target, returning the nodes after X0
// in the order visited.
func march(ctx context.Context, p Problem, target float64, stats *Statistics) ([]node, error) {
	span := target - p.X0
	if span == 0 {
		return nil, nil
	}
	h := math.Copysign(p.Step, span)
	steps := int(math.Ceil(math.Abs(span)/p.Step - 1e-9))
	out := make([]node, 0, steps)

	x, y := p.X0, p.Y0
	for i := 1; i <= steps; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		next := p.X0 + float64(i)*h
		if i == steps {
			next = target
		}
		y = rk4(p.F, x, y, next-x)
		x = next
		dy := p.F(x, y)
		stats.StepCount++
		stats.EvaluationCount += 5
		if !finite(y) || !finite(dy) {
			return nil, &SolveError{Step: stats.StepCount, X: x, Msg: "state diverged"}
		}
		out = append(out, node{x: x, y: y, dy: dy})
	}
	return out, nil
}

func rk4(f Func, x, y, h float64) float64 {
	const (
		half     = 0.5
		oneSixth = 1 / 6.0
		oneThird = 1 / 3.0
	)
	k1 := h * f(x, y)
	k2 := h * f(x+h*half, y+k1*half)
	k3 := h * f(x+h*half, y+k2*half)
	k4 := h * f(x+h, y+k3)
	return y + oneSixth*(k1+k4) + oneThird*(k2+k3)
}

// Domain returns the solved interval.
func (s *Solution) Domain() (start, end float64) {
	return s.xs[0], s.xs[len(s.xs)-1]
}

// Nodes returns copies of the node abscissae and values.
func (s *Solution) Nodes() (xs, ys []float64) {
	return append([]float64(nil), s.xs...), append([]float64(nil), s.ys...)
}

// At evaluates the solution at x. Points outside the solved interval, allowing
// for rounding at the endpoints, return ErrOutOfDomain.
func (s *Solution) At(x float64) (float64, error) {
	start, end := s.Domain()
	tol := 1e-12 * math.Max(1, end-start)
	if math.IsNaN(x) || x < start-tol || x > end+tol {
		return 0, fmt.Errorf("%w: x=%g not in [%g, %g]", ErrOutOfDomain, x, start, end)
	}
	x = math.Min(math.Max(x, start), end)

	i := sort.SearchFloat64s(s.xs, x)
	if i < len(s.xs) && s.xs[i] == x {
		return s.ys[i], nil
	}
	// s.xs[i-1] < x < s.xs[i]
	x0, x1 := s.xs[i-1], s.xs[i]
	h := x1 - x0
	t := (x - x0) / h
	t2, t3 := t*t, t*t*t
	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + t
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2
	return h00*s.ys[i-1] + h10*h*s.dys[i-1] + h01*s.ys[i] + h11*h*s.dys[i], nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
