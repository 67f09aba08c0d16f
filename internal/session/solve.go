package session

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/njchilds90/srpoc/internal/function"
	"github.com/njchilds90/srpoc/internal/kernel"
)

// ODE describes y'(x) = rhs with y(ConstraintX) = ConstraintY, solved over
// [StartX, EndX] with a fixed Step. Name is the kernel binding; empty means
// kernel.DefaultName.
type ODE struct {
	Name        string
	ConstraintX float64
	ConstraintY float64
	StartX      float64
	EndX        float64
	Step        float64
}

// DefaultODE is y(0) = 0 over [0, 1] with step 0.01.
func DefaultODE() ODE {
	return ODE{StartX: 0, EndX: 1, Step: 0.01}
}

func (o ODE) name() string {
	if o.Name == "" {
		return kernel.DefaultName
	}
	return o.Name
}

func (o ODE) params(fn *function.Function) (map[string]interface{}, error) {
	_, arg, err := fn.Signature()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"name":  o.name(),
		"rhs":   fn.RHS(),
		"var":   arg,
		"func":  "y",
		"x0":    o.ConstraintX,
		"y0":    o.ConstraintY,
		"start": o.StartX,
		"end":   o.EndX,
		"step":  o.Step,
	}, nil
}

// Handle is a numeric function bound in the kernel. It stays valid until the
// session closes; a later solve under the same name changes what it evaluates.
type Handle struct {
	s     *Session
	name  string
	start float64
	end   float64
}

func (h *Handle) Name() string { return h.name }

// Domain is the interval the kernel solved over.
func (h *Handle) Domain() (start, end float64) { return h.start, h.end }

// Eval evaluates the bound solution at x.
func (h *Handle) Eval(ctx context.Context, x float64) (float64, error) {
	ys, err := h.EvalMany(ctx, []float64{x})
	if err != nil {
		return 0, err
	}
	return ys[0], nil
}

// EvalMany evaluates the bound solution at every x in one round trip. A point
// outside the domain fails the whole batch.
func (h *Handle) EvalMany(ctx context.Context, xs []float64) ([]float64, error) {
	resp, err := h.s.call(ctx, "apply", map[string]interface{}{"name": h.name, "points": xs})
	if err != nil {
		return nil, err
	}
	var ys []float64
	if err := json.Unmarshal(resp.Result, &ys); err != nil {
		return nil, fmt.Errorf("decode apply result: %w", err)
	}
	if len(ys) != len(xs) {
		return nil, fmt.Errorf("apply returned %d values for %d points", len(ys), len(xs))
	}
	return ys, nil
}

// SolveODE asks the kernel to integrate fn and bind the solution. Malformed
// rhs text, a degenerate interval, a bad step and divergence all come back as
// *KernelError.
func (s *Session) SolveODE(ctx context.Context, fn *function.Function, o ODE) (*Handle, error) {
	p, err := o.params(fn)
	if err != nil {
		return nil, err
	}
	resp, err := s.call(ctx, "ndsolve", p)
	if err != nil {
		return nil, err
	}
	var bound struct {
		Name  string  `json:"name"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Steps int     `json:"steps"`
	}
	if err := json.Unmarshal(resp.Result, &bound); err != nil {
		return nil, fmt.Errorf("decode ndsolve result: %w", err)
	}
	s.logger.Info("ode solved",
		zap.String("function", fn.String()),
		zap.String("bound", bound.Name),
		zap.Int("steps", bound.Steps))
	return &Handle{s: s, name: bound.Name, start: bound.Start, end: bound.End}, nil
}

// ClosedForm asks the kernel for an exact solution of the same problem.
// It only exists when rhs is free of y and integrable by rule.
func (s *Session) ClosedForm(ctx context.Context, fn *function.Function, o ODE) (string, error) {
	p, err := o.params(fn)
	if err != nil {
		return "", err
	}
	resp, err := s.call(ctx, "dsolve", map[string]interface{}{
		"rhs": p["rhs"], "var": p["var"], "func": p["func"], "x0": p["x0"], "y0": p["y0"],
	})
	if err != nil {
		return "", err
	}
	return resp.String, nil
}

// Clear removes a binding from the kernel namespace.
func (s *Session) Clear(ctx context.Context, name string) error {
	_, err := s.call(ctx, "clear", map[string]interface{}{"name": name})
	return err
}
