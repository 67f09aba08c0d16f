package expr_test

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/njchilds90/srpoc/internal/expr"
)

// ============================================================
// Num / Sym
// ============================================================

func TestNum_String(t *testing.T) {
	cases := []struct {
		n    *expr.Num
		want string
	}{
		{expr.N(42), "42"},
		{expr.N(-3), "-3"},
		{expr.F(1, 3), "1/3"},
		{expr.F(4, 2), "2"},
	}
	for _, c := range cases {
		if got := c.n.String(); got != c.want {
			t.Errorf("want %s, got %s", c.want, got)
		}
	}
}

func TestNum_LaTeX_Rational(t *testing.T) {
	if got := expr.F(-2, 5).LaTeX(); got != `-\frac{2}{5}` {
		t.Errorf("want -\\frac{2}{5}, got %s", got)
	}
}

func TestSym_SubAndDiff(t *testing.T) {
	x := expr.S("x")
	if got := expr.Sub(x, "x", expr.N(3)).String(); got != "3" {
		t.Errorf("want 3, got %s", got)
	}
	if got := expr.Sub(x, "y", expr.N(3)).String(); got != "x" {
		t.Errorf("want x, got %s", got)
	}
	if got := expr.Diff(x, "x").String(); got != "1" {
		t.Errorf("d/dx(x) should be 1, got %s", got)
	}
	if got := expr.Diff(expr.S("y"), "x").String(); got != "0" {
		t.Errorf("d/dx(y) should be 0, got %s", got)
	}
}

func TestSym_ConstantsEvaluate(t *testing.T) {
	v, ok := expr.S("pi").Eval()
	if !ok || math.Abs(v.Float64()-math.Pi) > 1e-15 {
		t.Errorf("pi should evaluate to math.Pi, got %v", v)
	}
	if _, ok := expr.S("x").Eval(); ok {
		t.Error("free symbol must not evaluate")
	}
}

// ============================================================
// Simplification and rendering
// ============================================================

func TestAdd_CollectsLikeTerms(t *testing.T) {
	x := expr.S("x")
	e := expr.AddOf(expr.MulOf(expr.N(2), x), expr.MulOf(expr.N(3), x), expr.N(1), expr.N(-1))
	if got := e.String(); got != "5*x" {
		t.Errorf("want 5*x, got %s", got)
	}
	if got := expr.AddOf(x, expr.MulOf(expr.N(-1), x)).String(); got != "0" {
		t.Errorf("x - x should be 0, got %s", got)
	}
}

func TestMul_MergesPowers(t *testing.T) {
	x := expr.S("x")
	e := expr.MulOf(x, x, expr.PowOf(x, expr.N(3)))
	if got := e.String(); got != "x^5" {
		t.Errorf("want x^5, got %s", got)
	}
	if got := expr.MulOf(x, expr.PowOf(x, expr.N(-1))).String(); got != "1" {
		t.Errorf("x/x should be 1, got %s", got)
	}
}

func TestRender_SubtractionAndDivision(t *testing.T) {
	cases := map[string]string{
		"3*x^2 - 7*x + 3": "3*x^2 - 7*x + 3",
		"x^3 + 3*x":       "x^3 + 3*x",
		"-x + 2":          "-x + 2",
		"x/(2*y)":         "x/(2*y)",
		"(x+1)^2":         "(x + 1)^2",
		"2^(1/2)":         "2^(1/2)",
		"-(x+1)*y":        "-(x + 1)*y",
	}
	for src, want := range cases {
		e, err := expr.Parse(src)
		if err != nil {
			t.Fatalf("Parse(%q): %v", src, err)
		}
		if got := e.String(); got != want {
			t.Errorf("Parse(%q).String() = %q, want %q", src, got, want)
		}
	}
}

func TestRender_RoundTrip(t *testing.T) {
	for _, src := range []string{
		"3*x^2 - 7*x + 3",
		"x^3 - 7/2*x^2 + 3*x",
		"sin(2*x)/x - exp(-x)",
		"(x + 1)^(-1) + x^(1/2)",
	} {
		first := expr.MustParse(src)
		second, err := expr.Parse(first.String())
		if err != nil {
			t.Fatalf("re-parse of %q: %v", first.String(), err)
		}
		if !first.Equal(second) {
			t.Errorf("round trip changed %q into %q", first.String(), second.String())
		}
	}
}

func TestDeterminism(t *testing.T) {
	want := expr.MustParse("z + a*m + 1").String()
	for i := 0; i < 10; i++ {
		if got := expr.MustParse("z + a*m + 1").String(); got != want {
			t.Errorf("non-deterministic output on iteration %d: %s != %s", i, got, want)
		}
	}
}

// ============================================================
// Parsing
// ============================================================

func TestParse_Syntax(t *testing.T) {
	x := 1.5
	cases := map[string]float64{
		"3*x^2 - 7*x + 3": 3*x*x - 7*x + 3,
		"3x^2":            3 * x * x,
		"2 x":             2 * x,
		"x(x+1)":          x * (x + 1),
		"x**3 + 3*x":      x*x*x + 3*x,
		"-x^2":            -(x * x),
		"2^-1":            0.5,
		"2^3^2":           512,
		"Sin[x] + cos(x)": math.Sin(x) + math.Cos(x),
		"Log[E]":          1,
		"sqrt(x)":         math.Sqrt(x),
		"1.25e2":          125,
		".5*x":            0.5 * x,
		"pi":              math.Pi,
	}
	for src, want := range cases {
		e, err := expr.Parse(src)
		if err != nil {
			t.Errorf("Parse(%q): %v", src, err)
			continue
		}
		f, err := expr.Compile(e, "x")
		if err != nil {
			t.Errorf("Compile(%q): %v", src, err)
			continue
		}
		if got := f([]float64{x}); math.Abs(got-want) > 1e-12*math.Max(1, math.Abs(want)) {
			t.Errorf("%q at x=%v: got %v, want %v", src, x, got, want)
		}
	}
}

func TestParse_DecimalsAreExact(t *testing.T) {
	e := expr.MustParse("0.1 + 0.2")
	if got := e.String(); got != "3/10" {
		t.Errorf("want 3/10, got %s", got)
	}
}

func TestParse_Errors(t *testing.T) {
	for _, src := range []string{
		"",
		"   ",
		"3*",
		"(x + 1",
		"sin[x)",
		"x $ 2",
		"foo(x)",
		"1/0",
		"x)",
	} {
		_, err := expr.Parse(src)
		if err == nil {
			t.Errorf("Parse(%q) should fail", src)
			continue
		}
		var pe *expr.ParseError
		if !errors.As(err, &pe) {
			t.Errorf("Parse(%q) error should be *ParseError, got %T", src, err)
		}
	}
}

// ============================================================
// Compile
// ============================================================

func TestCompile_TwoVariables(t *testing.T) {
	f, err := expr.Compile(expr.MustParse("x*y + y^2"), "x", "y")
	if err != nil {
		t.Fatal(err)
	}
	if got := f([]float64{2, 3}); got != 15 {
		t.Errorf("want 15, got %v", got)
	}
}

func TestCompile_UnboundSymbol(t *testing.T) {
	_, err := expr.Compile(expr.MustParse("x + z"), "x")
	if err == nil || !strings.Contains(err.Error(), `"z"`) {
		t.Errorf("expected unbound symbol error naming z, got %v", err)
	}
}

// ============================================================
// Differentiation and integration
// ============================================================

func TestDiff_Polynomial(t *testing.T) {
	d := expr.Diff(expr.MustParse("x^3 - 7/2*x^2 + 3*x"), "x")
	if got := d.String(); got != "3*x^2 - 7*x + 3" {
		t.Errorf("want 3*x^2 - 7*x + 3, got %s", got)
	}
}

func TestDiff_ChainRule(t *testing.T) {
	d := expr.Diff(expr.MustParse("sin(x^2)"), "x")
	want := expr.MustParse("2*x*cos(x^2)")
	if !d.Equal(want) {
		t.Errorf("want %s, got %s", want, d)
	}
}

func TestIntegrate_Polynomial(t *testing.T) {
	r, ok := expr.Integrate(expr.MustParse("3*x^2 - 7*x + 3"), "x")
	if !ok {
		t.Fatal("polynomial should integrate")
	}
	if got := r.String(); got != "x^3 - 7/2*x^2 + 3*x" {
		t.Errorf("want x^3 - 7/2*x^2 + 3*x, got %s", got)
	}
}

func TestIntegrate_InvertsDiff(t *testing.T) {
	for _, src := range []string{"cos(3*x)", "exp(2*x + 1)", "x^(1/2)", "5", "2^x"} {
		f := expr.MustParse(src)
		r, ok := expr.Integrate(f, "x")
		if !ok {
			t.Errorf("Integrate(%s) failed", src)
			continue
		}
		back, err := expr.Compile(expr.Diff(r, "x"), "x")
		if err != nil {
			t.Fatal(err)
		}
		orig, _ := expr.Compile(f, "x")
		for _, x := range []float64{0.3, 1.1, 2.7} {
			args := []float64{x}
			if math.Abs(back(args)-orig(args)) > 1e-9 {
				t.Errorf("d/dx ∫%s at %v: got %v, want %v", src, x, back(args), orig(args))
			}
		}
	}
}

func TestIntegrate_Unsupported(t *testing.T) {
	if _, ok := expr.Integrate(expr.MustParse("sin(x^2)"), "x"); ok {
		t.Error("sin(x^2) has no rule and should report false")
	}
}

// ============================================================
// JSON
// ============================================================

func TestToJSON(t *testing.T) {
	s, err := expr.ToJSON(expr.MustParse("x^2"))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if m["type"] != "pow" {
		t.Errorf("want type pow, got %v", m["type"])
	}
}

func TestFreeSymbols(t *testing.T) {
	got := expr.FreeSymbols(expr.MustParse("b*sin(a) + pi*c"))
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("want a,b,c, got %v", got)
	}
}
