package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// TransportConfig configures one HTTP stream connection.
type TransportConfig struct {
	URL         string        // Full stream URL, query included
	Token       string        // Bearer token for the Authorization header
	IdleTimeout time.Duration // Max time without a line before ErrStreamTimeout (0 = disabled)
	BufferSize  int           // Line channel buffer size
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		IdleTimeout: 30 * time.Second,
		BufferSize:  1024,
	}
}

// maxLineBytes bounds a single stream line; broker pricing payloads are
// well under this.
const maxLineBytes = 1 << 20

// httpTransport implements Transport over an HTTP chunked-transfer body.
type httpTransport struct {
	cfg    TransportConfig
	logger *slog.Logger
	client *http.Client

	lines chan RawLine
	errs  chan error
	done  chan struct{}

	mu         sync.Mutex
	cancel     context.CancelFunc
	body       io.ReadCloser
	closed     bool
	lastLineAt time.Time
}

// NewTransport creates an unconnected HTTP stream transport.
func NewTransport(cfg TransportConfig, logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	return &httpTransport{
		cfg:    cfg,
		logger: logger,
		// No client-level timeout: the response body is long-lived.
		client: &http.Client{},
		lines:  make(chan RawLine, cfg.BufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Connect opens the stream request and starts the read loop.
func (t *httpTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	reqCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		cancel()
		return &TransientError{Op: "request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "identity")
	if t.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.Token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return &TransientError{Op: "connect", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		cancel()
		return &AuthError{StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		resp.Body.Close()
		cancel()
		return &TransientError{Op: "connect", Err: &httpStatusError{resp.StatusCode}}
	}

	t.mu.Lock()
	t.body = resp.Body
	t.lastLineAt = time.Now()
	t.mu.Unlock()

	go t.readLoop(resp.Body)
	if t.cfg.IdleTimeout > 0 {
		go t.watchdog()
	}

	t.logger.Debug("stream connected", "url", t.cfg.URL)
	return nil
}

// Lines returns the raw line channel.
func (t *httpTransport) Lines() <-chan RawLine {
	return t.lines
}

// Errors returns the error channel.
func (t *httpTransport) Errors() <-chan error {
	return t.errs
}

// Close aborts the in-flight read. Idempotent.
func (t *httpTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	if t.cancel != nil {
		t.cancel()
	}
	if t.body != nil {
		t.body.Close()
	}
	return nil
}

// readLoop scans the chunked body line by line.
func (t *httpTransport) readLoop(body io.ReadCloser) {
	defer close(t.lines)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		receivedAt := time.Now()

		data := make([]byte, len(line))
		copy(data, line)

		t.mu.Lock()
		t.lastLineAt = receivedAt
		t.mu.Unlock()

		select {
		case t.lines <- RawLine{Data: data, ReceivedAt: receivedAt}:
		case <-t.done:
			return
		}
	}

	// Scanner stopped: closed locally, broken connection, or clean stream end.
	select {
	case <-t.done:
		return
	default:
	}

	err := scanner.Err()
	if err == nil {
		// A clean stream end is still a disconnect from the consumer's view.
		err = io.EOF
	}
	t.fail(&TransientError{Op: "read", Err: err})
}

// watchdog surfaces ErrStreamTimeout when no line arrives within IdleTimeout.
func (t *httpTransport) watchdog() {
	interval := t.cfg.IdleTimeout / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.Lock()
			stale := time.Since(t.lastLineAt) > t.cfg.IdleTimeout
			cancel := t.cancel
			t.mu.Unlock()

			if stale {
				t.logger.Warn("stream stale, no lines within idle timeout",
					"idle_timeout", t.cfg.IdleTimeout,
				)
				t.fail(ErrStreamTimeout)
				if cancel != nil {
					cancel() // Unblock the read loop
				}
				return
			}
		}
	}
}

// fail delivers the terminal error without blocking; only the first wins.
func (t *httpTransport) fail(err error) {
	select {
	case t.errs <- err:
	default:
	}
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.status, http.StatusText(e.status))
}
