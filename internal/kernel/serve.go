package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// MaxLineBytes bounds a single request line on the stream transport.
const MaxLineBytes = 16 << 20

// Serve answers line-delimited JSON requests from r, writing one response line
// per request to w, until r reaches EOF or ctx is canceled. Malformed lines get
// an error response and do not stop the loop.
//
// Cancellation returns ctx.Err() without waiting for r; the reading goroutine
// exits once r yields a line, EOF or an error.
func (k *Kernel) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)
	lines, readErr := readLines(ctx, r)

	k.logger.Info("kernel serving")
	for {
		var line []byte
		select {
		case <-ctx.Done():
			k.logger.Info("kernel stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				if err := *readErr; err != nil && !errors.Is(err, io.ErrClosedPipe) {
					return fmt.Errorf("read request: %w", err)
				}
				k.logger.Info("kernel input closed")
				return nil
			}
			line = l
		}
		if len(line) == 0 {
			continue
		}

		var req Request
		var resp Response
		if err := json.Unmarshal(line, &req); err != nil {
			k.logger.Warn("malformed request", zap.Error(err))
			resp = Response{Error: fmt.Sprintf("invalid request: %v", err)}
		} else {
			resp = k.Handle(ctx, req)
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

// readLines scans r on its own goroutine. The channel is closed after the
// scan ends; *err is set before the close and is safe to read afterwards.
func readLines(ctx context.Context, r io.Reader) (<-chan []byte, *error) {
	lines := make(chan []byte)
	var readErr error
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr = scanner.Err()
	}()
	return lines, &readErr
}
