// Package session is the client side of the kernel protocol. A Session owns
// one kernel connection (usually a child process speaking line-delimited JSON
// on stdin/stdout), multiplexes calls over it by request id, and hands out
// Handles to solutions bound in the kernel's namespace.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/njchilds90/srpoc/internal/kernel"
)

var (
	// ErrSessionClosed is returned by calls on a closed session, including
	// evaluations through Handles obtained from it.
	ErrSessionClosed = errors.New("session: closed")

	// ErrNoEngine means Open was given an empty executable path.
	ErrNoEngine = errors.New("session: no kernel executable configured")
)

// KernelError is a failure reported by the kernel for one tool call.
type KernelError struct {
	Tool string
	Msg  string
}

func (e *KernelError) Error() string { return fmt.Sprintf("kernel %s: %s", e.Tool, e.Msg) }

type options struct {
	args         []string
	env          []string
	logger       *zap.Logger
	startTimeout time.Duration
	callTimeout  time.Duration
	closeTimeout time.Duration
}

// Option configures Open and New.
type Option func(*options)

func WithArgs(args ...string) Option          { return func(o *options) { o.args = args } }
func WithEnv(env ...string) Option            { return func(o *options) { o.env = env } }
func WithLogger(l *zap.Logger) Option         { return func(o *options) { o.logger = l } }
func WithStartTimeout(d time.Duration) Option { return func(o *options) { o.startTimeout = d } }

// WithCallTimeout bounds every call in addition to its context. Zero means no
// extra bound.
func WithCallTimeout(d time.Duration) Option { return func(o *options) { o.callTimeout = d } }

// WithCloseTimeout is how long Close waits for the kernel to exit on its own
// before killing it.
func WithCloseTimeout(d time.Duration) Option { return func(o *options) { o.closeTimeout = d } }

func defaults() options {
	return options{
		logger:       zap.NewNop(),
		startTimeout: 30 * time.Second,
		closeTimeout: 5 * time.Second,
	}
}

// Session is a live kernel connection. Calls may be made concurrently.
type Session struct {
	mu      sync.Mutex
	pending map[string]chan *response
	closed  bool

	writeMu sync.Mutex
	w       io.WriteCloser
	release func()

	cmd  *exec.Cmd
	done chan struct{} // closed when the reader exits
	wg   sync.WaitGroup

	opts   options
	logger *zap.Logger
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	LaTeX  string          `json:"latex,omitempty"`
	String string          `json:"string,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Open starts the kernel executable at path and completes a ping handshake
// within the start timeout. On any failure the process is released before
// Open returns.
func Open(ctx context.Context, path string, opts ...Option) (*Session, error) {
	o := defaults()
	for _, opt := range opts {
		opt(&o)
	}
	if path == "" {
		return nil, ErrNoEngine
	}

	cmd := exec.Command(path, o.args...)
	if len(o.env) > 0 {
		cmd.Env = append(os.Environ(), o.env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start kernel %s: %w", path, err)
	}

	s := newSession(stdin, stdout, o)
	s.cmd = cmd
	s.logger = s.logger.With(zap.String("kernel", path), zap.Int("pid", cmd.Process.Pid))

	s.wg.Add(1)
	go s.readStderr(stderr)

	if err := s.handshake(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.logger.Info("kernel session opened")
	return s, nil
}

// New runs a session over an already connected duplex stream, such as one end
// of net.Pipe or a socket. Close closes conn.
func New(ctx context.Context, conn io.ReadWriteCloser, opts ...Option) (*Session, error) {
	o := defaults()
	for _, opt := range opts {
		opt(&o)
	}
	s := newSession(conn, conn, o)
	if err := s.handshake(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func newSession(w io.WriteCloser, r io.Reader, o options) *Session {
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	s := &Session{
		pending: make(map[string]chan *response),
		w:       w,
		done:    make(chan struct{}),
		opts:    o,
		logger:  o.logger,
	}
	s.release = func() { _ = w.Close() }
	s.wg.Add(1)
	go s.readLoop(r)
	return s
}

func (s *Session) handshake(ctx context.Context) error {
	if s.opts.startTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.startTimeout)
		defer cancel()
	}
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("kernel handshake: %w", err)
	}
	return nil
}

// Ping checks that the kernel answers.
func (s *Session) Ping(ctx context.Context) error {
	resp, err := s.call(ctx, "ping", nil)
	if err != nil {
		return err
	}
	var pong string
	if err := json.Unmarshal(resp.Result, &pong); err != nil || pong != "pong" {
		return fmt.Errorf("unexpected ping reply %q", string(resp.Result))
	}
	return nil
}

// readLoop dispatches response lines to pending calls by id.
func (s *Session) readLoop(r io.Reader) {
	defer s.wg.Done()
	defer close(s.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), kernel.MaxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			s.logger.Warn("failed to parse kernel output", zap.Error(err))
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
			ch <- &resp
		}
		s.mu.Unlock()
		if !ok {
			s.logger.Warn("response for unknown request", zap.String("id", resp.ID))
		}
	}

	s.mu.Lock()
	closed := s.closed
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if err := scanner.Err(); err != nil && !closed {
		s.logger.Error("kernel read failed", zap.Error(err))
	}
}

func (s *Session) readStderr(r io.Reader) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.logger.Debug("kernel stderr", zap.String("line", scanner.Text()))
	}
}

// call sends one request and waits for its response.
func (s *Session) call(ctx context.Context, tool string, params map[string]interface{}) (*response, error) {
	if s.opts.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.callTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	data, err := json.Marshal(kernel.Request{ID: id, Tool: tool, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ch := make(chan *response, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.pending[id] = ch
	s.mu.Unlock()

	s.writeMu.Lock()
	_, err = s.w.Write(append(data, '\n'))
	s.writeMu.Unlock()
	if err != nil {
		s.forget(id)
		if s.isClosed() {
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: %w", tool, ErrSessionClosed)
		}
		if resp.Error != "" {
			return nil, &KernelError{Tool: tool, Msg: resp.Error}
		}
		return resp, nil
	case <-ctx.Done():
		s.forget(id)
		return nil, ctx.Err()
	}
}

func (s *Session) forget(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the kernel: it closes the request stream, waits for the
// kernel to exit, and kills it if it does not exit within the close timeout.
// Close is idempotent; only the first call does any work.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.release()

	killed := false
	select {
	case <-s.done:
	case <-time.After(s.opts.closeTimeout):
		if s.cmd != nil && s.cmd.Process != nil {
			s.logger.Warn("kernel did not exit; killing")
			_ = s.cmd.Process.Kill()
			killed = true
		}
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(1 * time.Second):
		s.logger.Warn("timeout waiting for session goroutines to exit")
	}

	var err error
	if s.cmd != nil {
		if werr := s.cmd.Wait(); werr != nil && !killed {
			err = fmt.Errorf("kernel exit: %w", werr)
		}
	}
	s.logger.Info("kernel session closed")
	return err
}
