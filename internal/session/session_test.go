package session_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/njchilds90/srpoc/internal/function"
	"github.com/njchilds90/srpoc/internal/kernel"
	"github.com/njchilds90/srpoc/internal/session"
)

const helperEnv = "SRPOC_SESSION_HELPER"

// TestMain doubles as the kernel executable: when re-invoked with helperEnv
// set, the test binary serves the kernel protocol on stdin/stdout.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "kernel":
		if err := kernel.New(nil).Serve(context.Background(), os.Stdin, os.Stdout); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	case "exit":
		os.Exit(3)
	}
	goleak.VerifyTestMain(m)
}

func helperOpen(t *testing.T, mode string) (*session.Session, error) {
	t.Helper()
	return session.Open(context.Background(), os.Args[0],
		session.WithArgs("-test.run=^$"),
		session.WithEnv(helperEnv+"="+mode),
		session.WithLogger(zaptest.NewLogger(t)),
		session.WithStartTimeout(10*time.Second),
		session.WithCloseTimeout(5*time.Second),
	)
}

func pipeSession(t *testing.T) *session.Session {
	t.Helper()
	client, server := net.Pipe()
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = kernel.New(nil).Serve(context.Background(), server, server)
		_ = server.Close()
	}()
	s, err := session.New(context.Background(), client, session.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		<-served
	})
	return s
}

func endToEnd() session.ODE {
	return session.ODE{ConstraintX: 0, ConstraintY: 0, StartX: 0, EndX: 100, Step: 0.01}
}

func TestOpen_SolveEvalClose(t *testing.T) {
	s, err := helperOpen(t, "kernel")
	require.NoError(t, err)

	fn := function.New("3*x^2 - 7*x + 3", "")
	h, err := s.SolveODE(context.Background(), fn, endToEnd())
	require.NoError(t, err)
	assert.Equal(t, kernel.DefaultName, h.Name())
	start, end := h.Domain()
	assert.Equal(t, 0.0, start)
	assert.Equal(t, 100.0, end)

	y, err := h.Eval(context.Background(), 10)
	require.NoError(t, err)
	assert.InEpsilon(t, 680.0, y, 1e-9)

	ys, err := h.EvalMany(context.Background(), []float64{1, 2, 3})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0, 4.5}, ys, 1e-9)

	closed, err := s.ClosedForm(context.Background(), fn, endToEnd())
	require.NoError(t, err)
	assert.Equal(t, "x^3 - 7/2*x^2 + 3*x", closed)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = h.Eval(context.Background(), 1)
	assert.ErrorIs(t, err, session.ErrSessionClosed)
}

func TestOpen_Failures(t *testing.T) {
	_, err := session.Open(context.Background(), "")
	assert.ErrorIs(t, err, session.ErrNoEngine)

	_, err = session.Open(context.Background(), "/nonexistent/srpoc-kernel")
	assert.Error(t, err)

	_, err = helperOpen(t, "exit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kernel handshake")
}

func TestSolveODE_KernelErrors(t *testing.T) {
	s := pipeSession(t)
	tests := []struct {
		name string
		rhs  string
		ode  session.ODE
		want string
	}{
		{"empty rhs", "", session.DefaultODE(), "empty expression"},
		{"degenerate interval", "x", session.ODE{StartX: 1, EndX: 1, ConstraintX: 1, Step: 0.1}, "interval"},
		{"zero step", "x", session.ODE{EndX: 1}, "step"},
		{"boundary outside", "x", session.ODE{ConstraintX: 5, EndX: 1, Step: 0.1}, "boundary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SolveODE(context.Background(), function.New(tt.rhs, ""), tt.ode)
			var kerr *session.KernelError
			require.True(t, errors.As(err, &kerr), "got %v", err)
			assert.Equal(t, "ndsolve", kerr.Tool)
			assert.Contains(t, kerr.Msg, tt.want)
		})
	}
}

func TestSolveODE_LastWriteWins(t *testing.T) {
	s := pipeSession(t)
	ctx := context.Background()

	first, err := s.SolveODE(ctx, function.New("1", ""), session.DefaultODE())
	require.NoError(t, err)
	_, err = s.SolveODE(ctx, function.New("3", ""), session.DefaultODE())
	require.NoError(t, err)

	y, err := first.Eval(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, y, 1e-9)

	require.NoError(t, s.Clear(ctx, first.Name()))
	_, err = first.Eval(ctx, 1)
	assert.Error(t, err)
}

func TestHandle_OutOfDomain(t *testing.T) {
	s := pipeSession(t)
	h, err := s.SolveODE(context.Background(), function.New("x", "g(x)"), session.DefaultODE())
	require.NoError(t, err)

	_, err = h.EvalMany(context.Background(), []float64{0.5, 2})
	var kerr *session.KernelError
	require.True(t, errors.As(err, &kerr))
	assert.Contains(t, kerr.Msg, "outside the solved interval")
}

func TestSolveODE_PrototypeVariable(t *testing.T) {
	s := pipeSession(t)
	h, err := s.SolveODE(context.Background(), function.New("2*t", "f(t)"), session.DefaultODE())
	require.NoError(t, err)
	y, err := h.Eval(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, y, 1e-9)
}

// silentKernel answers the handshake and then ignores or drops requests.
func silentKernel(t *testing.T, hangUp bool) *session.Session {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		sc := bufio.NewScanner(server)
		for sc.Scan() {
			var req kernel.Request
			if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
				return
			}
			if req.Tool == "ping" {
				_ = json.NewEncoder(server).Encode(kernel.Response{ID: req.ID, Result: "pong"})
				continue
			}
			if hangUp {
				return
			}
		}
	}()
	s, err := session.New(context.Background(), client)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		<-done
	})
	return s
}

func TestCall_ContextDeadline(t *testing.T) {
	s := silentKernel(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.SolveODE(ctx, function.New("x", ""), session.DefaultODE())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCall_KernelHangsUp(t *testing.T) {
	s := silentKernel(t, true)
	_, err := s.SolveODE(context.Background(), function.New("x", ""), session.DefaultODE())
	assert.ErrorIs(t, err, session.ErrSessionClosed)
}
