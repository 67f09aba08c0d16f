package function_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/srpoc/internal/function"
)

func TestNew_DefaultPrototype(t *testing.T) {
	f := function.New("3*x^2 - 7*x + 3", "")
	assert.Equal(t, "f(x)", f.Prototype())
	assert.Equal(t, "f(x) = 3*x^2 - 7*x + 3", f.String())
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"", "x^3 + 3*x", "not even math ((", "Sin[x]"} {
		t.Run(s, func(t *testing.T) {
			f := function.New(s, "g(t)")
			assert.Equal(t, "g(t) = "+s, f.String())
			assert.Equal(t, s, f.RHS())

			f.SetString("t + 1")
			assert.Equal(t, "g(t) = t + 1", f.String())
		})
	}
}

func TestExpr(t *testing.T) {
	f := function.New("x^3 + 3x", "")
	e, err := f.Expr()
	require.NoError(t, err)
	assert.Equal(t, "x^3 + 3*x", e.String())

	f.SetString("")
	_, err = f.Expr()
	assert.Error(t, err)
}

func TestSignature(t *testing.T) {
	tests := []struct {
		proto    string
		name     string
		arg      string
		wantFail bool
	}{
		{proto: "f(x)", name: "f", arg: "x"},
		{proto: " cube ( t ) ", name: "cube", arg: "t"},
		{proto: "g", name: "g", arg: "x"},
		{proto: "f(x, y)", wantFail: true},
		{proto: "f(x", wantFail: true},
		{proto: "(x)", wantFail: true},
	}
	for _, tt := range tests {
		t.Run(tt.proto, func(t *testing.T) {
			name, arg, err := function.New("x", tt.proto).Signature()
			if tt.wantFail {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.arg, arg)
		})
	}
}
