// Package kernel is the symbolic and numeric engine that sits behind a
// solver session. It keeps a namespace of named numerical solutions and
// answers tool calls: ndsolve binds a solution to a name, apply evaluates it,
// and the symbolic tools simplify, differentiate and integrate expressions.
package kernel

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/njchilds90/srpoc/internal/expr"
	"github.com/njchilds90/srpoc/internal/ode"
)

// DefaultName is the namespace entry used when ndsolve gets no name.
const DefaultName = "function"

// ============================================================
// Tool Interface
// ============================================================

type Request struct {
	ID     string                 `json:"id,omitempty"`
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type Response struct {
	ID     string      `json:"id,omitempty"`
	Result interface{} `json:"result,omitempty"`
	LaTeX  string      `json:"latex,omitempty"`
	String string      `json:"string,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Kernel owns one namespace of bound solutions. It is safe for concurrent
// use; a later ndsolve with the same name replaces the earlier binding.
type Kernel struct {
	mu     sync.RWMutex
	funcs  map[string]*binding
	logger *zap.Logger
}

type binding struct {
	rhs string
	sol *ode.Solution
}

// New creates an empty kernel. A nil logger discards logs.
func New(logger *zap.Logger) *Kernel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kernel{funcs: make(map[string]*binding), logger: logger}
}

// Names lists the bound functions in sorted order.
func (k *Kernel) Names() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.funcs))
	for n := range k.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Handle executes one tool call. Failures are reported in Response.Error;
// Handle itself never panics.
func (k *Kernel) Handle(ctx context.Context, req Request) (resp Response) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			k.logger.Error("panic in tool call",
				zap.String("tool", req.Tool),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			resp = Response{Error: fmt.Sprintf("internal error: %v", rec)}
		}
		resp.ID = req.ID
		k.logger.Debug("tool call",
			zap.String("id", req.ID),
			zap.String("tool", req.Tool),
			zap.Duration("elapsed", time.Since(start)),
			zap.Bool("ok", resp.Error == ""))
	}()
	return k.dispatch(ctx, req)
}

func (k *Kernel) dispatch(ctx context.Context, req Request) Response {
	p := params(req.Params)
	fail := func(err error) Response { return Response{Error: err.Error()} }
	respond := func(e expr.Expr) Response {
		return Response{Result: expr.Tree(e), LaTeX: expr.LaTeX(e), String: expr.String(e)}
	}

	switch req.Tool {
	case "ping":
		return Response{Result: "pong", String: "pong"}

	case "ndsolve":
		return k.ndsolve(ctx, p)

	case "apply":
		name := p.stringOr("name", DefaultName)
		xs, err := p.getNumbers("points")
		if err != nil {
			return fail(err)
		}
		ys, err := k.apply(name, xs)
		if err != nil {
			return fail(err)
		}
		return Response{Result: ys, String: fmt.Sprintf("%d values", len(ys))}

	case "clear":
		name := p.stringOr("name", DefaultName)
		k.mu.Lock()
		_, existed := k.funcs[name]
		delete(k.funcs, name)
		k.mu.Unlock()
		return Response{Result: existed, String: name}

	case "dsolve":
		return k.dsolve(p)

	case "simplify":
		e, err := p.getExpr("expr")
		if err != nil {
			return fail(err)
		}
		return respond(expr.Simplify(e))

	case "diff":
		e, err := p.getExpr("expr")
		if err != nil {
			return fail(err)
		}
		return respond(expr.Diff(e, p.stringOr("var", "x")))

	case "integrate":
		e, err := p.getExpr("expr")
		if err != nil {
			return fail(err)
		}
		v := p.stringOr("var", "x")
		r, ok := expr.Integrate(e, v)
		if !ok {
			return Response{Error: fmt.Sprintf("no antiderivative rule for %s", e)}
		}
		return respond(r)

	case "spec":
		return Response{Result: ToolSpec(), String: "kernel tool specification"}
	}

	return Response{Error: fmt.Sprintf("unknown tool: %s", req.Tool)}
}

// ndsolve solves y'(var) = rhs(var, func) with func(x0) = y0 over
// [start, end] and binds the dense solution to name.
func (k *Kernel) ndsolve(ctx context.Context, p params) Response {
	name := p.stringOr("name", DefaultName)
	v := p.stringOr("var", "x")
	fn := p.stringOr("func", "y")
	if v == fn {
		return Response{Error: fmt.Sprintf("independent and dependent variable are both %q", v)}
	}
	rhs, err := p.getString("rhs")
	if err != nil {
		return Response{Error: err.Error()}
	}
	e, err := expr.Parse(rhs)
	if err != nil {
		return Response{Error: fmt.Sprintf("rhs: %v", err)}
	}
	eval, err := expr.Compile(e, v, fn)
	if err != nil {
		return Response{Error: fmt.Sprintf("rhs: %v", err)}
	}

	prob := ode.Problem{
		F: func(x, y float64) float64 { return eval([]float64{x, y}) },
	}
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"x0", &prob.X0}, {"y0", &prob.Y0}, {"start", &prob.Start}, {"end", &prob.End}, {"step", &prob.Step},
	} {
		if *f.dst, err = p.getNumber(f.key); err != nil {
			return Response{Error: err.Error()}
		}
	}

	sol, err := ode.Solve(ctx, prob)
	if err != nil {
		return Response{Error: err.Error()}
	}

	k.mu.Lock()
	_, replaced := k.funcs[name]
	k.funcs[name] = &binding{rhs: rhs, sol: sol}
	k.mu.Unlock()

	k.logger.Info("solution bound",
		zap.String("name", name),
		zap.String("rhs", e.String()),
		zap.Float64("start", prob.Start),
		zap.Float64("end", prob.End),
		zap.Int("steps", sol.Stats.StepCount),
		zap.Bool("replaced", replaced))

	start, end := sol.Domain()
	return Response{
		Result: map[string]interface{}{
			"name":  name,
			"start": start,
			"end":   end,
			"steps": sol.Stats.StepCount,
		},
		String: fmt.Sprintf("%s[%s] on [%g, %g]", name, v, start, end),
	}
}

func (k *Kernel) apply(name string, xs []float64) ([]float64, error) {
	k.mu.RLock()
	b, ok := k.funcs[name]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		y, err := b.sol.At(x)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		ys[i] = y
	}
	return ys, nil
}

// dsolve returns the closed-form solution of y' = rhs(var) with y(x0) = y0
// when rhs does not involve y and has an antiderivative rule.
func (k *Kernel) dsolve(p params) Response {
	v := p.stringOr("var", "x")
	fn := p.stringOr("func", "y")
	e, err := p.getExpr("rhs")
	if err != nil {
		return Response{Error: err.Error()}
	}
	for _, s := range expr.FreeSymbols(e) {
		if s == fn {
			return Response{Error: fmt.Sprintf("rhs depends on %s; no closed form", fn)}
		}
	}
	x0, err := p.getNumber("x0")
	if err != nil {
		return Response{Error: err.Error()}
	}
	y0, err := p.getNumber("y0")
	if err != nil {
		return Response{Error: err.Error()}
	}
	if math.IsNaN(x0) || math.IsInf(x0, 0) || math.IsNaN(y0) || math.IsInf(y0, 0) {
		return Response{Error: "boundary condition must be finite"}
	}
	anti, ok := expr.Integrate(e, v)
	if !ok {
		return Response{Error: fmt.Sprintf("no antiderivative rule for %s", e)}
	}
	at0 := expr.Sub(anti, v, expr.NFloat(x0))
	sol := expr.AddOf(anti, expr.MulOf(expr.N(-1), at0), expr.NFloat(y0))
	return Response{Result: expr.Tree(sol), LaTeX: expr.LaTeX(sol), String: expr.String(sol)}
}

// ============================================================
// Parameter access
// ============================================================

type params map[string]interface{}

func (p params) getString(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("missing param: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %s must be a string", key)
	}
	return s, nil
}

func (p params) stringOr(key, def string) string {
	if s, err := p.getString(key); err == nil && strings.TrimSpace(s) != "" {
		return s
	}
	return def
}

func (p params) getNumber(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("missing param: %s", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("param %s must be a number", key)
}

func (p params) getNumbers(key string) ([]float64, error) {
	v, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("missing param: %s", key)
	}
	switch raw := v.(type) {
	case []float64:
		return raw, nil
	case []interface{}:
		out := make([]float64, len(raw))
		for i, r := range raw {
			f, ok := r.(float64)
			if !ok {
				return nil, fmt.Errorf("param %s[%d] must be a number", key, i)
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("param %s must be array", key)
}

func (p params) getExpr(key string) (expr.Expr, error) {
	s, err := p.getString(key)
	if err != nil {
		return nil, err
	}
	e, err := expr.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("param %s: %w", key, err)
	}
	return e, nil
}
