package ai

import (
	"bufio"
	"context"
	"io"
)

// Stream is one open upstream response body, read line by line on its own
// goroutine. Fragments is closed when the body ends, fails or is cancelled;
// Err is meaningful only after that.
type Stream struct {
	fragments chan string
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

func newStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser) *Stream {
	s := &Stream{
		fragments: make(chan string, 16),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.pump(ctx, body)
	return s
}

func (s *Stream) pump(ctx context.Context, body io.ReadCloser) {
	defer close(s.done)
	defer close(s.fragments)
	defer body.Close()
	// unblocks a Read that is stuck waiting on the peer
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	sc := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	for sc.Scan() {
		select {
		case s.fragments <- sc.Text():
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		}
	}
	if err := sc.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		s.err = err
	}
}

func (s *Stream) Fragments() <-chan string { return s.fragments }

func (s *Stream) Err() error { return s.err }

// Close cancels the upstream request and waits for the reader to exit.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

// NewStreamFromReader wraps any body as a Stream. Used by fake providers.
func NewStreamFromReader(ctx context.Context, body io.ReadCloser) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	return newStream(ctx, cancel, body)
}
